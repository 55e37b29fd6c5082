package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the Credential Store: the authoritative view of every
// credential across restarts. Writes are durable before the call
// returns; concurrent upserts of the same identity serialize through
// GORM's underlying *sql.DB connection, last-writer-wins on fields.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the SQLite database at databaseURL and runs migrations.
func Open(databaseURL string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(databaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", databaseURL, err)
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Upsert replaces the row identified by (provider, identity) atomically.
// It is the only write path ingestion and the refresher use to persist
// a credential.
func (s *Store) Upsert(c *Credential) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing Credential
		err := tx.Where("provider = ? AND identity = ?", c.Provider, c.Identity).First(&existing).Error
		switch {
		case err == nil:
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
			return tx.Model(&existing).Select("*").Updates(c).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(c).Error
		default:
			return err
		}
	})
}

// LoadAllEnabled returns every credential with Status == Enabled, used
// once at startup to rebuild the in-memory queues.
func (s *Store) LoadAllEnabled() ([]Credential, error) {
	var rows []Credential
	if err := s.db.Where("status = ?", StatusEnabled).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load enabled: %w", err)
	}
	return rows, nil
}

// Get returns the credential identified by (provider, identity), if any.
func (s *Store) Get(provider Provider, identity string) (*Credential, error) {
	var row Credential
	err := s.db.Where("provider = ? AND identity = ?", provider, identity).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByID returns the credential identified by its surrogate ID.
func (s *Store) GetByID(id string) (*Credential, error) {
	var row Credential
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SetStatus updates a credential's status and optional diagnostic.
func (s *Store) SetStatus(id string, status Status, lastError string) error {
	return s.db.Model(&Credential{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_error": lastError}).Error
}

// SetToken updates the access token and its expiry for a credential.
func (s *Store) SetToken(id string, accessToken string, expiresAt time.Time) error {
	return s.db.Model(&Credential{}).Where("id = ?", id).
		Updates(map[string]any{"access_token": accessToken, "access_token_expires_at": expiresAt}).Error
}

// ListAll returns every credential regardless of status, for admin/debug use.
func (s *Store) ListAll() ([]Credential, error) {
	var rows []Credential
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
