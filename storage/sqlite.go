package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"svcpanel/models"
)

// SQLiteSettingsStore keeps the settings record in a single-row table
type SQLiteSettingsStore struct {
	db *sql.DB
}

// NewSQLiteSettingsStore opens svcpanel.sqlite under dataDir and creates the schema
func NewSQLiteSettingsStore(dataDir string) (*SQLiteSettingsStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "svcpanel.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLITE_BUSY away from concurrent toggles.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			appointment BOOLEAN NOT NULL DEFAULT 0,
			pickup BOOLEAN NOT NULL DEFAULT 0,
			speak_to_human BOOLEAN NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings table: %w", err)
	}

	return &SQLiteSettingsStore{db: db}, nil
}

// Load returns the stored record or an all-false one
func (s *SQLiteSettingsStore) Load(ctx context.Context) (models.StoredSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT appointment, pickup, speak_to_human, updated_at
		FROM settings
		WHERE id = 1`)

	var stored models.StoredSettings
	var updated int64
	err := row.Scan(&stored.Appointment, &stored.Pickup, &stored.SpeakToHuman, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredSettings{}, nil
	}
	if err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	stored.UpdatedAt = time.Unix(0, updated).UTC()
	return stored, nil
}

// Save replaces the record
func (s *SQLiteSettingsStore) Save(ctx context.Context, settings models.Settings) (models.StoredSettings, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, appointment, pickup, speak_to_human, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			appointment = excluded.appointment,
			pickup = excluded.pickup,
			speak_to_human = excluded.speak_to_human,
			updated_at = excluded.updated_at`,
		settings.Appointment, settings.Pickup, settings.SpeakToHuman, now.UnixNano())
	if err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to save settings: %w", err)
	}

	return models.StoredSettings{Settings: settings, UpdatedAt: now}, nil
}

func (s *SQLiteSettingsStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteSettingsStore) Close() error {
	return s.db.Close()
}
