package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type failingStore struct {
	documents map[string]Document
	upsertErr error
}

func (s *failingStore) Get(_ context.Context, sessionID string) (Document, error) {
	document, ok := s.documents[sessionID]
	if !ok {
		return Document{}, ErrDocumentNotFound
	}
	return document, nil
}

func (s *failingStore) Upsert(context.Context, Document) error {
	return s.upsertErr
}

func TestServiceCreateStoresEmptySession(t *testing.T) {
	service, db := newTestService(t, []string{"session-1"})

	session, err := service.Create(context.Background(), "1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "session-1" {
		t.Fatalf("unexpected session id %s", session.ID)
	}

	var stored Document
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("failed to load stored document: %v", err)
	}
	if stored.AdminSecret != "1234" {
		t.Fatalf("expected secret to persist, got %q", stored.AdminSecret)
	}
	if stored.ItemsJSON != "[]" || stored.GuestsJSON != "[]" {
		t.Fatalf("expected empty lists, got items=%s guests=%s", stored.ItemsJSON, stored.GuestsJSON)
	}
	if stored.CreatedAtSeconds != 1700000600 {
		t.Fatalf("unexpected created at %d", stored.CreatedAtSeconds)
	}
}

func TestServiceCreateRejectsMalformedSecret(t *testing.T) {
	service, db := newTestService(t, []string{"session-1"})

	for _, secret := range []string{"", "123", "1234567", "12ab"} {
		_, err := service.Create(context.Background(), secret)
		if !errors.Is(err, ErrInvalidSecret) {
			t.Fatalf("expected invalid secret for %q, got %v", secret, err)
		}
		if Classify(err) != KindInvalidInput {
			t.Fatalf("expected invalid input classification for %q", secret)
		}
	}

	var count int64
	if err := db.Model(&Document{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count documents: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no documents, got %d", count)
	}
}

func TestServiceGetReportsNotFound(t *testing.T) {
	service, _ := newTestService(t, nil)

	_, err := service.Get(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if Classify(err) != KindNotFound {
		t.Fatalf("expected not found classification, got %s", Classify(err))
	}

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "sessions.get.not_found" {
		t.Fatalf("unexpected error code: %v", err)
	}
}

func TestServiceGetNormalizesLegacyItems(t *testing.T) {
	service, db := newTestService(t, nil)
	legacy := Document{
		SessionID:        "legacy",
		AdminSecret:      "9999",
		ItemsJSON:        `[{"id":"i1","name":"Fries","price":4,"quantity":2,"assignedTo":["g1"]}]`,
		GuestsJSON:       `[{"id":"g1","name":"Ann","color":"#3b82f6","paidAmount":0}]`,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: 1700000000,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	session, err := service.Get(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(session.Items))
	}
	units := session.Items[0].AssignedTo
	if len(units) != 2 || len(units[0]) != 1 || units[0][0] != "g1" || len(units[1]) != 0 {
		t.Fatalf("unexpected normalized assignments %#v", units)
	}
}

func TestServiceVerifySecret(t *testing.T) {
	service, db := newTestService(t, []string{"session-1"})
	if _, err := service.Create(context.Background(), "4321"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	unguarded := Document{SessionID: "unguarded", ItemsJSON: "[]", GuestsJSON: "[]", CreatedAtSeconds: 1, UpdatedAtSeconds: 1}
	if err := db.Create(&unguarded).Error; err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	testCases := []struct {
		name      string
		sessionID string
		candidate string
		want      bool
		wantKind  *Kind
	}{
		{name: "match", sessionID: "session-1", candidate: "4321", want: true},
		{name: "mismatch", sessionID: "session-1", candidate: "1234"},
		{name: "empty candidate", sessionID: "session-1", candidate: ""},
		{name: "no stored secret", sessionID: "unguarded", candidate: ""},
		{name: "missing session", sessionID: "nope", candidate: "4321", wantKind: kindPtr(KindNotFound)},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ok, err := service.VerifySecret(context.Background(), testCase.sessionID, testCase.candidate)
			if testCase.wantKind != nil {
				if Classify(err) != *testCase.wantKind {
					t.Fatalf("expected %s, got %v", *testCase.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != testCase.want {
				t.Fatalf("expected %v, got %v", testCase.want, ok)
			}
		})
	}
}

func TestServiceApplyUpdateOverwritesPresentFields(t *testing.T) {
	service, _ := newTestService(t, []string{"session-1"})
	ctx := context.Background()
	if _, err := service.Create(ctx, "1234"); err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	guests := []bill.Guest{{ID: "g1", Name: "Ann", Color: bill.Palette[0]}}
	tax := 8.5
	if _, err := service.ApplyUpdate(ctx, "session-1", bill.Patch{Guests: &guests, Tax: &tax}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	items := []bill.Item{{ID: "i1", Name: "Tacos", Price: 3, Quantity: 2, AssignedTo: bill.Assignments{{"g1"}}}}
	updated, err := service.ApplyUpdate(ctx, "session-1", bill.Patch{Items: &items})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if len(updated.Guests) != 1 || updated.TaxRate != 8.5 {
		t.Fatalf("expected absent fields to survive, got %#v", updated)
	}
	if len(updated.Items[0].AssignedTo) != 2 {
		t.Fatalf("expected items to be normalized on write")
	}

	stored, err := service.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.AdminSecret != "1234" {
		t.Fatalf("expected update to keep admin secret")
	}
	if len(stored.Items) != 1 || stored.Items[0].Name != "Tacos" {
		t.Fatalf("unexpected stored items %#v", stored.Items)
	}

	empty := []bill.Item{}
	cleared, err := service.ApplyUpdate(ctx, "session-1", bill.Patch{Items: &empty})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if len(cleared.Items) != 0 {
		t.Fatalf("expected explicit empty list to clear items")
	}
}

func TestServiceApplyUpdateCreatesMissingSession(t *testing.T) {
	service, _ := newTestService(t, nil)
	tip := 18.0

	session, err := service.ApplyUpdate(context.Background(), "fresh", bill.Patch{Tip: &tip})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.TipRate != 18 || session.AdminSecret != "" {
		t.Fatalf("unexpected session %#v", session)
	}

	ok, err := service.VerifySecret(context.Background(), "fresh", "")
	if err != nil || ok {
		t.Fatalf("expected implicit session never to verify, got ok=%v err=%v", ok, err)
	}
}

func TestServiceApplyUpdateRejectsNegativeRate(t *testing.T) {
	service, _ := newTestService(t, nil)
	tax := -1.0

	_, err := service.ApplyUpdate(context.Background(), "s", bill.Patch{Tax: &tax})
	if Classify(err) != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestServiceApplyUpdateRejectsOversizedQuantity(t *testing.T) {
	service, _ := newTestService(t, nil)
	items := []bill.Item{{ID: "i1", Name: "Rice", Price: 1, Quantity: bill.MaxQuantity + 1}}

	_, err := service.ApplyUpdate(context.Background(), "s", bill.Patch{Items: &items})
	if Classify(err) != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := service.Get(context.Background(), "s"); Classify(err) != KindNotFound {
		t.Fatalf("expected rejected update to leave no session, got %v", err)
	}
}

func TestServiceApplyUpdateSurfacesSaveFailure(t *testing.T) {
	store := &failingStore{upsertErr: errors.New("disk full")}
	service, err := NewService(ServiceConfig{Store: store, IDProvider: &staticIDGenerator{}})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	tip := 10.0
	_, err = service.ApplyUpdate(context.Background(), "s", bill.Patch{Tip: &tip})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "sessions.apply_update.save_failed" {
		t.Fatalf("expected save failure, got %v", err)
	}
	if Classify(err) != KindInternal {
		t.Fatalf("expected internal classification")
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &staticIDGenerator{}}); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := NewService(ServiceConfig{Store: &failingStore{}}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
}

func kindPtr(kind Kind) *Kind {
	return &kind
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:tabsplit_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000600, 0).UTC() }
	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      clock,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct sessions service: %v", err)
	}
	return service, db
}
