package sessions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

var noOpLogger = zap.NewNop()

const (
	opServiceNew   = "sessions.service.new"
	opCreate       = "sessions.create"
	opGet          = "sessions.get"
	opVerifySecret = "sessions.verify_secret"
	opApplyUpdate  = "sessions.apply_update"
)

type ServiceConfig struct {
	Store      Store
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the canonical session documents.
type Service struct {
	store      Store
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a fresh empty session guarded by the admin secret.
func (s *Service) Create(ctx context.Context, adminSecret string) (bill.Session, error) {
	if err := bill.ValidateAdminSecret(adminSecret); err != nil {
		return bill.Session{}, newServiceError(opCreate, "invalid_secret", err)
	}

	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return bill.Session{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	session := bill.Session{
		ID:          rawID,
		AdminSecret: adminSecret,
		Items:       []bill.Item{},
		Guests:      []bill.Guest{},
		CreatedAt:   now,
	}
	if err := s.save(ctx, opCreate, session, now); err != nil {
		return bill.Session{}, err
	}

	s.logger.Info("session created", zap.String("session_id", rawID))
	return session, nil
}

// Get loads the session and normalizes its items.
func (s *Service) Get(ctx context.Context, rawID string) (bill.Session, error) {
	sessionID, err := NewSessionID(rawID)
	if err != nil {
		return bill.Session{}, newServiceError(opGet, "invalid_session_id", err)
	}
	session, found, err := s.load(ctx, opGet, sessionID)
	if err != nil {
		return bill.Session{}, err
	}
	if !found {
		return bill.Session{}, newServiceError(opGet, "not_found", ErrSessionNotFound)
	}
	return session, nil
}

// VerifySecret reports whether candidate matches the stored admin secret.
// A session without a stored secret never verifies.
func (s *Service) VerifySecret(ctx context.Context, rawID, candidate string) (bool, error) {
	sessionID, err := NewSessionID(rawID)
	if err != nil {
		return false, newServiceError(opVerifySecret, "invalid_session_id", err)
	}
	session, found, err := s.load(ctx, opVerifySecret, sessionID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, newServiceError(opVerifySecret, "not_found", ErrSessionNotFound)
	}
	if session.AdminSecret == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(session.AdminSecret), []byte(candidate)) == 1, nil
}

// ApplyUpdate overwrites every field present in the patch and persists the
// result. A missing session is created on the fly without an admin secret.
func (s *Service) ApplyUpdate(ctx context.Context, rawID string, patch bill.Patch) (bill.Session, error) {
	sessionID, err := NewSessionID(rawID)
	if err != nil {
		return bill.Session{}, newServiceError(opApplyUpdate, "invalid_session_id", err)
	}
	if err := patch.Validate(); err != nil {
		return bill.Session{}, newServiceError(opApplyUpdate, "invalid_patch", err)
	}

	session, found, err := s.load(ctx, opApplyUpdate, sessionID)
	if err != nil {
		return bill.Session{}, err
	}
	now := s.clock().UTC()
	if !found {
		s.logger.Info("session not found, creating",
			zap.String("session_id", sessionID.String()))
		session = bill.Session{
			ID:        sessionID.String(),
			Items:     []bill.Item{},
			Guests:    []bill.Guest{},
			CreatedAt: now,
		}
	}

	patch.ApplyTo(&session)
	if err := s.save(ctx, opApplyUpdate, session, now); err != nil {
		return bill.Session{}, err
	}
	return session, nil
}

func (s *Service) load(ctx context.Context, operation string, sessionID SessionID) (bill.Session, bool, error) {
	document, err := s.store.Get(ctx, sessionID.String())
	if errors.Is(err, ErrDocumentNotFound) {
		return bill.Session{}, false, nil
	}
	if err != nil {
		s.logError(operation, "load_failed", err, zap.String("session_id", sessionID.String()))
		return bill.Session{}, false, newServiceError(operation, "load_failed", err)
	}
	session, err := document.Session()
	if err != nil {
		s.logError(operation, "decode_failed", err, zap.String("session_id", sessionID.String()))
		return bill.Session{}, false, newServiceError(operation, "decode_failed", err)
	}
	return session, true, nil
}

func (s *Service) save(ctx context.Context, operation string, session bill.Session, updatedAt time.Time) error {
	document, err := NewDocument(session, updatedAt)
	if err != nil {
		s.logError(operation, "encode_failed", err, zap.String("session_id", session.ID))
		return newServiceError(operation, "encode_failed", err)
	}
	if err := s.store.Upsert(ctx, document); err != nil {
		s.logError(operation, "save_failed", err, zap.String("session_id", session.ID))
		return newServiceError(operation, "save_failed", fmt.Errorf("upsert %s: %w", session.ID, err))
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sessions service error", attrs...)
}
