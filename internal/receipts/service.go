package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

// PlaceholderName labels the single item returned when extraction fails.
const PlaceholderName = "Error parsing receipt. Please try again."

const defaultMaxImageBytes = 10 << 20

var (
	errEmptyImage       = errors.New("receipts: empty image")
	errImageTooLarge    = errors.New("receipts: image exceeds upload limit")
	errUnsupportedImage = errors.New("receipts: unsupported image type")
)

// Extractor reads line items off a receipt image.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) ([]Candidate, error)
}

// NopExtractor finds nothing. It stands in when no model is configured.
type NopExtractor struct{}

func (NopExtractor) Extract(context.Context, []byte, string) ([]Candidate, error) {
	return nil, nil
}

type ServiceConfig struct {
	Extractor     Extractor
	MaxImageBytes int64
	Logger        *zap.Logger
	NewItemID     func() string
}

// Outcome reports how a parse ended, for metrics.
type Outcome string

const (
	OutcomeParsed   Outcome = "parsed"
	OutcomeEmpty    Outcome = "empty"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Service converts receipt images into normalized items.
type Service struct {
	extractor     Extractor
	maxImageBytes int64
	logger        *zap.Logger
	newItemID     func() string
}

func NewService(cfg ServiceConfig) *Service {
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = NopExtractor{}
	}
	maxImageBytes := cfg.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newItemID := cfg.NewItemID
	if newItemID == nil {
		newItemID = bill.NewItemID
	}
	return &Service{
		extractor:     extractor,
		maxImageBytes: maxImageBytes,
		logger:        logger,
		newItemID:     newItemID,
	}
}

// MaxImageBytes is the largest accepted upload.
func (s *Service) MaxImageBytes() int64 {
	return s.maxImageBytes
}

// Parse never fails. Any problem with the image or the extractor yields the
// single placeholder item so the caller can show that something went wrong.
func (s *Service) Parse(ctx context.Context, image []byte) ([]bill.Item, Outcome) {
	mimeType, err := s.check(image)
	if err != nil {
		s.logger.Warn("receipt rejected", zap.Error(err), zap.Int("bytes", len(image)))
		return s.placeholder(), OutcomeRejected
	}

	candidates, err := s.extractor.Extract(ctx, image, mimeType)
	if err != nil {
		s.logger.Error("receipt extraction failed", zap.Error(err), zap.String("mime_type", mimeType))
		return s.placeholder(), OutcomeFailed
	}

	items := make([]bill.Item, 0, len(candidates))
	for _, candidate := range candidates {
		name := strings.TrimSpace(candidate.Name)
		if name == "" {
			continue
		}
		items = append(items, bill.Item{
			ID:       s.newItemID(),
			Name:     name,
			Price:    candidate.price(),
			Quantity: candidate.quantity(),
		})
	}
	items = bill.NormalizeItems(items)
	if len(items) == 0 {
		return items, OutcomeEmpty
	}
	s.logger.Info("receipt parsed", zap.Int("items", len(items)))
	return items, OutcomeParsed
}

func (s *Service) check(image []byte) (string, error) {
	if len(image) == 0 {
		return "", errEmptyImage
	}
	if int64(len(image)) > s.maxImageBytes {
		return "", fmt.Errorf("%w: %d bytes", errImageTooLarge, len(image))
	}
	detected := mimetype.Detect(image)
	for current := detected; current != nil; current = current.Parent() {
		if strings.HasPrefix(current.String(), "image/") {
			return current.String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", errUnsupportedImage, detected.String())
}

func (s *Service) placeholder() []bill.Item {
	return bill.NormalizeItems([]bill.Item{{
		ID:       s.newItemID(),
		Name:     PlaceholderName,
		Price:    0,
		Quantity: 1,
	}})
}
