// Package receipts turns a photographed receipt into bill items.
package receipts

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

// ErrNoJSONArray indicates that the extractor reply holds no JSON array.
var ErrNoJSONArray = errors.New("receipts: reply holds no json array")

// Candidate is one line item read off a receipt.
type Candidate struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// ParseCandidates decodes an extractor reply, tolerating markdown code fences
// around the JSON array.
func ParseCandidates(reply string) ([]Candidate, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if !strings.HasPrefix(text, "[") {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, ErrNoJSONArray
		}
		text = text[start : end+1]
	}

	var candidates []Candidate
	if err := json.Unmarshal([]byte(text), &candidates); err != nil {
		return nil, fmt.Errorf("receipts: decode reply: %w", err)
	}
	return candidates, nil
}

func (c Candidate) quantity() int {
	if math.IsNaN(c.Quantity) || c.Quantity < 1 {
		return 1
	}
	if c.Quantity > bill.MaxQuantity {
		return bill.MaxQuantity
	}
	return int(math.Round(c.Quantity))
}

func (c Candidate) price() float64 {
	if math.IsNaN(c.Price) || math.IsInf(c.Price, 0) || c.Price < 0 {
		return 0
	}
	return c.Price
}
