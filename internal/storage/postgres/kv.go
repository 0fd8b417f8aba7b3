package postgres

import (
	"context"
	"errors"

	sessionDatamodel "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/session"
	"github.com/frahmantamala/restaurant-pos/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyValueRepository implements storage.Backend on the session_kv table.
// The same repository serves the SQLite file of a desktop install and a
// shared PostgreSQL database.
type KeyValueRepository struct {
	db *gorm.DB
}

func NewKeyValueRepository(db *gorm.DB) storage.Backend {
	return &KeyValueRepository{db: db}
}

func (r *KeyValueRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var entry sessionDatamodel.Entry
	err := r.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.Value, true, nil
}

func (r *KeyValueRepository) SetMany(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([]sessionDatamodel.Entry, 0, len(entries))
	for k, v := range entries {
		if k == "" {
			return storage.ErrEmptyKey
		}
		rows = append(rows, sessionDatamodel.Entry{Key: k, Value: v})
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"entry_value", "updated_at"}),
		}).Create(&rows).Error
	})
}

func (r *KeyValueRepository) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("entry_key IN ?", keys).
		Delete(&sessionDatamodel.Entry{}).Error
}

// AutoMigrate creates the session_kv table. Used for SQLite installs; the
// PostgreSQL schema is owned by the goose migrations.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionDatamodel.Entry{})
}
