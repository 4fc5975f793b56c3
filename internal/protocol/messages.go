// Package protocol defines the messages exchanged over the session channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

const (
	TypeJoinSession    = "join-session"
	TypeUpdateSession  = "update-session"
	TypeSessionUpdated = "session-updated"
)

var (
	// ErrUnknownType indicates an envelope whose type is not part of the protocol.
	ErrUnknownType = errors.New("protocol: unknown message type")
	// ErrMissingSessionID indicates a client message without a session identifier.
	ErrMissingSessionID = errors.New("protocol: session id is required")
)

// Envelope is the frame carried by every channel message.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionPayload is the full canonical state pushed to peers and served on fetch.
type SessionPayload struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionId"`
	Items     []bill.Item  `json:"items"`
	Guests    []bill.Guest `json:"guests"`
	Tax       float64      `json:"tax"`
	Tip       float64      `json:"tip"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewSessionPayload copies a session into its wire form. The admin secret
// never leaves the server.
func NewSessionPayload(session bill.Session) SessionPayload {
	items := bill.CloneItems(session.Items)
	if items == nil {
		items = []bill.Item{}
	}
	guests := bill.CloneGuests(session.Guests)
	if guests == nil {
		guests = []bill.Guest{}
	}
	return SessionPayload{
		ID:        session.ID,
		SessionID: session.ID,
		Items:     items,
		Guests:    guests,
		Tax:       session.TaxRate,
		Tip:       session.TipRate,
		CreatedAt: session.CreatedAt,
	}
}

// Session converts the payload back into a normalized session.
func (p SessionPayload) Session() bill.Session {
	id := p.ID
	if id == "" {
		id = p.SessionID
	}
	guests := bill.CloneGuests(p.Guests)
	if guests == nil {
		guests = []bill.Guest{}
	}
	return bill.Session{
		ID:        id,
		Items:     bill.NormalizeItems(p.Items),
		Guests:    guests,
		TaxRate:   p.Tax,
		TipRate:   p.Tip,
		CreatedAt: p.CreatedAt,
	}
}

// EncodeJoin builds a join-session frame.
func EncodeJoin(sessionID string) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeJoinSession, SessionID: sessionID})
}

// EncodeUpdate builds an update-session frame carrying the patch.
func EncodeUpdate(sessionID string, patch bill.Patch) ([]byte, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode patch: %w", err)
	}
	return json.Marshal(Envelope{Type: TypeUpdateSession, SessionID: sessionID, Data: data})
}

// EncodeSessionUpdated builds a session-updated frame.
func EncodeSessionUpdated(session bill.Session) ([]byte, error) {
	payload, err := json.Marshal(NewSessionPayload(session))
	if err != nil {
		return nil, fmt.Errorf("protocol: encode session: %w", err)
	}
	return json.Marshal(Envelope{Type: TypeSessionUpdated, Payload: payload})
}

// Decode parses a frame and checks that client frames name a session.
func Decode(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	switch envelope.Type {
	case TypeJoinSession, TypeUpdateSession:
		if envelope.SessionID == "" {
			return Envelope{}, ErrMissingSessionID
		}
	case TypeSessionUpdated:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	return envelope, nil
}

// DecodePatch parses the data of an update-session frame. The patch is
// validated before items are normalized; absent or null fields stay absent.
func (e Envelope) DecodePatch() (bill.Patch, error) {
	var patch bill.Patch
	if len(e.Data) == 0 {
		return patch, nil
	}
	if err := json.Unmarshal(e.Data, &patch); err != nil {
		return bill.Patch{}, fmt.Errorf("protocol: decode patch: %w", err)
	}
	if err := patch.Validate(); err != nil {
		return bill.Patch{}, fmt.Errorf("protocol: invalid patch: %w", err)
	}
	if patch.Items != nil {
		normalized := bill.NormalizeItems(*patch.Items)
		patch.Items = &normalized
	}
	return patch, nil
}

// DecodeSession parses the payload of a session-updated frame.
func (e Envelope) DecodeSession() (bill.Session, error) {
	var payload SessionPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return bill.Session{}, fmt.Errorf("protocol: decode session: %w", err)
	}
	return payload.Session(), nil
}
