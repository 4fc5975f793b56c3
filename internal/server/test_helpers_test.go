package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/receipts"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/sessions"
)

type sequenceIDs struct {
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("session-%d", s.next), nil
}

type stubReceiptParser struct {
	items   []bill.Item
	outcome receipts.Outcome
	limit   int64
	images  [][]byte
}

func (s *stubReceiptParser) Parse(_ context.Context, image []byte) ([]bill.Item, receipts.Outcome) {
	s.images = append(s.images, image)
	return s.items, s.outcome
}

func (s *stubReceiptParser) MaxImageBytes() int64 {
	if s.limit == 0 {
		return 1 << 20
	}
	return s.limit
}

type testStack struct {
	handler  http.Handler
	sessions *sessions.Service
	hub      *Hub
	receipts *stubReceiptParser
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:tabsplit_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sessions.Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := sessions.NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Store:      store,
		IDProvider: &sequenceIDs{},
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct sessions service: %v", err)
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	hub := NewHub(HubConfig{Metrics: metrics})
	parser := &stubReceiptParser{outcome: receipts.OutcomeEmpty}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:       sessionService,
		Receipts:       parser,
		Hub:            hub,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return testStack{handler: handler, sessions: sessionService, hub: hub, receipts: parser}
}
