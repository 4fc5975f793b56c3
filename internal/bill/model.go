package bill

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	minSecretLength = 4
	maxSecretLength = 6
)

// MaxQuantity bounds the units of one item. Every count that sizes an
// allocation is checked against it.
const MaxQuantity = 1000

var (
	// ErrItemNotFound indicates that no item carries the requested identifier.
	ErrItemNotFound = errors.New("bill: item not found")
	// ErrGuestNotFound indicates that no guest carries the requested identifier.
	ErrGuestNotFound = errors.New("bill: guest not found")
	// ErrInvalidUnit indicates that a unit index falls outside the item's quantity.
	ErrInvalidUnit = errors.New("bill: invalid unit index")
	// ErrInvalidName indicates an empty display label.
	ErrInvalidName = errors.New("bill: name must not be empty")
	// ErrInvalidPrice indicates a negative or non-finite unit price.
	ErrInvalidPrice = errors.New("bill: invalid price")
	// ErrInvalidQuantity indicates a quantity below one or above MaxQuantity.
	ErrInvalidQuantity = errors.New("bill: invalid quantity")
	// ErrInvalidAmount indicates a negative or non-finite payment amount.
	ErrInvalidAmount = errors.New("bill: invalid amount")
	// ErrInvalidRate indicates a negative or non-finite tax or tip percentage.
	ErrInvalidRate = errors.New("bill: invalid rate")
	// ErrInvalidSecret indicates an admin secret that is not 4 to 6 digits.
	ErrInvalidSecret = errors.New("bill: admin secret must be 4-6 digits")
	// ErrInvalidAssignments indicates an assignedTo value of an unknown shape.
	ErrInvalidAssignments = errors.New("bill: invalid assignment shape")
)

// Palette holds the guest colors, handed out by insertion index.
var Palette = []string{
	"#3b82f6",
	"#ef4444",
	"#10b981",
	"#f59e0b",
	"#8b5cf6",
	"#ec4899",
	"#14b8a6",
	"#f97316",
}

// ColorForIndex returns the palette color for the guest inserted at index.
func ColorForIndex(index int) string {
	if index < 0 {
		index = -index
	}
	return Palette[index%len(Palette)]
}

// Item is one line of the bill. AssignedTo holds one Unit per unit of Quantity.
type Item struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Price      float64     `json:"price"`
	Quantity   int         `json:"quantity"`
	AssignedTo Assignments `json:"assignedTo"`
}

// Guest is a participant of the session.
type Guest struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	PaidAmount float64 `json:"paidAmount"`
}

// Session is the canonical state shared by every member of a session.
type Session struct {
	ID          string
	AdminSecret string
	Items       []Item
	Guests      []Guest
	TaxRate     float64
	TipRate     float64
	CreatedAt   time.Time
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	clone := s
	clone.Items = CloneItems(s.Items)
	clone.Guests = CloneGuests(s.Guests)
	return clone
}

// CloneItems deep-copies items including every assignment unit.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for index, item := range items {
		out[index] = item
		out[index].AssignedTo = item.AssignedTo.clone()
	}
	return out
}

// CloneGuests copies the guest slice.
func CloneGuests(guests []Guest) []Guest {
	if guests == nil {
		return nil
	}
	out := make([]Guest, len(guests))
	copy(out, guests)
	return out
}

// ValidateAdminSecret checks that the secret is 4 to 6 ASCII digits.
func ValidateAdminSecret(secret string) error {
	if len(secret) < minSecretLength || len(secret) > maxSecretLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSecret, len(secret))
	}
	for index := 0; index < len(secret); index++ {
		if secret[index] < '0' || secret[index] > '9' {
			return fmt.Errorf("%w: non-digit character", ErrInvalidSecret)
		}
	}
	return nil
}

// ValidateRate checks a tax or tip percentage.
func ValidateRate(rate float64) error {
	if !isFiniteNonNegative(rate) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	return nil
}

func isFiniteNonNegative(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && value >= 0
}

func cleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrInvalidName
	}
	return trimmed, nil
}
