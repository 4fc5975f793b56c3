package receipts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

var pngImage = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type stubExtractor struct {
	candidates []Candidate
	err        error
	mimeType   string
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte, mimeType string) ([]Candidate, error) {
	s.mimeType = mimeType
	return s.candidates, s.err
}

func sequentialIDs() func() string {
	next := 0
	return func() string {
		next++
		return fmt.Sprintf("item-%d", next)
	}
}

func TestParseCandidatesStripsFences(t *testing.T) {
	testCases := []struct {
		name  string
		reply string
	}{
		{name: "raw", reply: `[{"name":"Sm Ramen","price":15,"quantity":1}]`},
		{name: "json fence", reply: "```json\n[{\"name\":\"Sm Ramen\",\"price\":15,\"quantity\":1}]\n```"},
		{name: "bare fence", reply: "```\n[{\"name\":\"Sm Ramen\",\"price\":15,\"quantity\":1}]```"},
		{name: "chatter", reply: "Here you go:\n[{\"name\":\"Sm Ramen\",\"price\":15,\"quantity\":1}]\nEnjoy"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			candidates, err := ParseCandidates(testCase.reply)
			require.NoError(t, err)
			require.Len(t, candidates, 1)
			assert.Equal(t, "Sm Ramen", candidates[0].Name)
			assert.Equal(t, 15.0, candidates[0].Price)
		})
	}
}

func TestParseCandidatesRejectsProse(t *testing.T) {
	_, err := ParseCandidates("I could not read this receipt.")
	assert.ErrorIs(t, err, ErrNoJSONArray)
}

func TestServiceParseBuildsNormalizedItems(t *testing.T) {
	extractor := &stubExtractor{candidates: []Candidate{
		{Name: "Sm Ramen (Chicken, #3)", Price: 15, Quantity: 1},
		{Name: "Gyoza", Price: 6.5, Quantity: 2},
		{Name: "  ", Price: 1, Quantity: 1},
		{Name: "Mystery", Price: -3, Quantity: 0},
	}}
	service := NewService(ServiceConfig{Extractor: extractor, NewItemID: sequentialIDs()})

	items, outcome := service.Parse(context.Background(), pngImage)

	assert.Equal(t, OutcomeParsed, outcome)
	assert.Equal(t, "image/png", extractor.mimeType)
	require.Len(t, items, 3)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Equal(t, 2, items[1].Quantity)
	assert.Equal(t, bill.Assignments{{}, {}}, items[1].AssignedTo)
	assert.Equal(t, 0.0, items[2].Price)
	assert.Equal(t, 1, items[2].Quantity)
}

func TestServiceParseFallsBackToPlaceholder(t *testing.T) {
	testCases := []struct {
		name      string
		image     []byte
		extractor Extractor
		limit     int64
		want      Outcome
	}{
		{name: "extractor error", image: pngImage, extractor: &stubExtractor{err: errors.New("quota")}, want: OutcomeFailed},
		{name: "not an image", image: []byte("hello world"), extractor: &stubExtractor{}, want: OutcomeRejected},
		{name: "empty upload", image: nil, extractor: &stubExtractor{}, want: OutcomeRejected},
		{name: "too large", image: pngImage, extractor: &stubExtractor{}, limit: 8, want: OutcomeRejected},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			service := NewService(ServiceConfig{Extractor: testCase.extractor, MaxImageBytes: testCase.limit})

			items, outcome := service.Parse(context.Background(), testCase.image)

			assert.Equal(t, testCase.want, outcome)
			require.Len(t, items, 1)
			assert.Equal(t, PlaceholderName, items[0].Name)
			assert.Equal(t, 0.0, items[0].Price)
			assert.Equal(t, bill.Assignments{{}}, items[0].AssignedTo)
		})
	}
}

func TestServiceParseWithoutExtractorReturnsEmpty(t *testing.T) {
	service := NewService(ServiceConfig{})

	items, outcome := service.Parse(context.Background(), pngImage)

	assert.Equal(t, OutcomeEmpty, outcome)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestServiceParseClampsOversizedQuantity(t *testing.T) {
	candidates, err := ParseCandidates(`[{"name":"Rice","price":2,"quantity":1e12},{"name":"Tea","price":1,"quantity":1e308}]`)
	require.NoError(t, err)

	service := NewService(ServiceConfig{Extractor: &stubExtractor{candidates: candidates}})
	items, outcome := service.Parse(context.Background(), pngImage)

	assert.Equal(t, OutcomeParsed, outcome)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, bill.MaxQuantity, item.Quantity)
		assert.Len(t, item.AssignedTo, bill.MaxQuantity)
	}
}
