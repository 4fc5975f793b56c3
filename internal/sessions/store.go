package sessions

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists session documents. Upsert replaces the whole document.
type Store interface {
	Get(ctx context.Context, sessionID string) (Document, error)
	Upsert(ctx context.Context, document Document) error
}

var errMissingDatabase = errors.New("database handle is required")

// GormStore keeps documents in a relational table through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore binds a store to an open database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, sessionID string) (Document, error) {
	var document Document
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return document, nil
}

func (s *GormStore) Upsert(ctx context.Context, document Document) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&document).Error
}
