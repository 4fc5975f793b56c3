package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

func TestEncodeUpdateCarriesOnlyPresentFields(t *testing.T) {
	emptyItems := []bill.Item{}
	tip := 0.0

	frame, err := EncodeUpdate("s1", bill.Patch{Items: &emptyItems, Tip: &tip})
	require.NoError(t, err)

	assert.JSONEq(t, `{"type":"update-session","sessionId":"s1","data":{"items":[],"tip":0}}`, string(frame))
}

func TestDecodePatchNormalizesLegacyItems(t *testing.T) {
	frame := []byte(`{"type":"update-session","sessionId":"s1","data":{"items":[{"id":"i1","name":"Fries","price":4,"quantity":2,"assignedTo":["g1"]}],"guests":null}}`)

	envelope, err := Decode(frame)
	require.NoError(t, err)
	patch, err := envelope.DecodePatch()
	require.NoError(t, err)

	require.NotNil(t, patch.Items)
	assert.Nil(t, patch.Guests, "null must read as absent")
	assert.Nil(t, patch.Tax)
	assert.Equal(t, bill.Assignments{{"g1"}, {}}, (*patch.Items)[0].AssignedTo)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `{`},
		{name: "unknown type", frame: `{"type":"leave-session","sessionId":"s1"}`},
		{name: "join without session", frame: `{"type":"join-session"}`},
		{name: "update without session", frame: `{"type":"update-session","data":{}}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Decode([]byte(testCase.frame))
			assert.Error(t, err)
		})
	}
}

func TestSessionUpdatedOmitsSecret(t *testing.T) {
	session := bill.Session{
		ID:          "s1",
		AdminSecret: "1234",
		Items:       []bill.Item{{ID: "i1", Name: "Soda", Price: 2, Quantity: 1, AssignedTo: bill.Assignments{{}}}},
		TaxRate:     8,
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
	}

	frame, err := EncodeSessionUpdated(session)
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "1234")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.JSONEq(t, `"session-updated"`, string(raw["type"]))

	envelope, err := Decode(frame)
	require.NoError(t, err)
	decoded, err := envelope.DecodeSession()
	require.NoError(t, err)
	assert.Equal(t, "s1", decoded.ID)
	assert.Equal(t, 8.0, decoded.TaxRate)
	assert.Empty(t, decoded.AdminSecret)
	assert.NotNil(t, decoded.Guests)
	assert.True(t, decoded.CreatedAt.Equal(session.CreatedAt))
}

func TestDecodePatchRejectsOversizedQuantity(t *testing.T) {
	frame := []byte(`{"type":"update-session","sessionId":"s1","data":{"items":[{"id":"i1","name":"x","price":1,"quantity":20000000}]}}`)

	envelope, err := Decode(frame)
	require.NoError(t, err)
	_, err = envelope.DecodePatch()
	assert.ErrorIs(t, err, bill.ErrInvalidQuantity)
}

func TestDecodeSessionClampsOversizedQuantity(t *testing.T) {
	frame := []byte(`{"type":"session-updated","payload":{"id":"s1","items":[{"id":"i1","name":"x","price":1,"quantity":1099511627776}],"guests":[]}}`)

	envelope, err := Decode(frame)
	require.NoError(t, err)
	session, err := envelope.DecodeSession()
	require.NoError(t, err)

	require.Len(t, session.Items, 1)
	assert.Equal(t, bill.MaxQuantity, session.Items[0].Quantity)
	assert.Len(t, session.Items[0].AssignedTo, bill.MaxQuantity)
}
