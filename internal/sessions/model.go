package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSessionID indicates that a session identifier is empty or exceeds storage bounds.
	ErrInvalidSessionID = errors.New("sessions: invalid session id")
	// ErrDocumentNotFound is returned by a Store when no document exists for the identifier.
	ErrDocumentNotFound = errors.New("sessions: document not found")
)

// SessionID represents a validated session identifier.
type SessionID string

// NewSessionID validates raw input and returns a SessionID.
func NewSessionID(rawInput string) (SessionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSessionID, maxIdentifierLength)
	}
	return SessionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SessionID) String() string {
	return string(id)
}

// Document is the persisted form of a session. Items and guests are stored as
// JSON text and normalized whenever they are read back.
type Document struct {
	SessionID        string  `gorm:"column:session_id;primaryKey;size:190;not null" json:"sessionId"`
	AdminSecret      string  `gorm:"column:admin_secret;size:16;not null;default:''" json:"adminSecret"`
	ItemsJSON        string  `gorm:"column:items_json;type:text;not null" json:"items"`
	GuestsJSON       string  `gorm:"column:guests_json;type:text;not null" json:"guests"`
	Tax              float64 `gorm:"column:tax;not null;default:0" json:"tax"`
	Tip              float64 `gorm:"column:tip;not null;default:0" json:"tip"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "session_documents"
}

// Session decodes the document into a normalized session.
func (d Document) Session() (bill.Session, error) {
	items, err := bill.DecodeItems([]byte(d.ItemsJSON))
	if err != nil {
		return bill.Session{}, err
	}
	guests, err := bill.DecodeGuests([]byte(d.GuestsJSON))
	if err != nil {
		return bill.Session{}, err
	}
	return bill.Session{
		ID:          d.SessionID,
		AdminSecret: d.AdminSecret,
		Items:       items,
		Guests:      guests,
		TaxRate:     d.Tax,
		TipRate:     d.Tip,
		CreatedAt:   time.Unix(d.CreatedAtSeconds, 0).UTC(),
	}, nil
}

// NewDocument encodes a session for storage.
func NewDocument(session bill.Session, updatedAt time.Time) (Document, error) {
	items := session.Items
	if items == nil {
		items = []bill.Item{}
	}
	guests := session.Guests
	if guests == nil {
		guests = []bill.Guest{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return Document{}, fmt.Errorf("sessions: encode items: %w", err)
	}
	guestsJSON, err := json.Marshal(guests)
	if err != nil {
		return Document{}, fmt.Errorf("sessions: encode guests: %w", err)
	}
	return Document{
		SessionID:        session.ID,
		AdminSecret:      session.AdminSecret,
		ItemsJSON:        string(itemsJSON),
		GuestsJSON:       string(guestsJSON),
		Tax:              session.TaxRate,
		Tip:              session.TipRate,
		CreatedAtSeconds: session.CreatedAt.Unix(),
		UpdatedAtSeconds: updatedAt.Unix(),
	}, nil
}
