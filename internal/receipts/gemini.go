package receipts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const receiptPrompt = `You are a generic receipt parser. Your goal is to extract a list of purchased items from the image.

CRITICAL RULES FOR PRICING:
1. Line Alignment: The price for an item is almost always on the same line (or immediately following) the item name.
2. Do NOT Shift: Do not assign the price of Item B to Item A.
3. Stop at Subtotal: The moment you see "Subtotal", "Tax", or "Total", STOP parsing items. Do NOT use the Subtotal value as a price for the last item.

Extraction Rules:
- name: string (The item description. Include modifiers/add-ons like "Add Chicken" in parentheses).
- price: number (The final price for this line item. If there are add-on costs involved, sum them up if they aren't separate line items).
- quantity: number (Look for a leading number like "2 Ramen". Default to 1).

Return ONLY a raw JSON array of {"name","price","quantity"} objects. No markdown.`

var errMissingAPIKey = errors.New("receipts: gemini api key is required")

type GeminiConfig struct {
	APIKey string
	Model  string
	Logger *zap.Logger
}

// GeminiExtractor asks a Gemini model to read the receipt.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiExtractor(ctx context.Context, cfg GeminiConfig) (*GeminiExtractor, error) {
	if cfg.APIKey == "" {
		return nil, errMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("receipts: create gemini client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiExtractor{client: client, model: cfg.Model, logger: logger}, nil
}

func (e *GeminiExtractor) Extract(ctx context.Context, image []byte, mimeType string) ([]Candidate, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(receiptPrompt),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	response, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("receipts: generate content: %w", err)
	}
	reply := response.Text()
	e.logger.Debug("gemini reply received", zap.String("model", e.model), zap.Int("length", len(reply)))
	return ParseCandidates(reply)
}
