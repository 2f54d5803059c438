package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"svcpanel/models"
)

const (
	settingsBucket = "settings"
	settingsKey    = "global"
)

// BoltSettingsStore keeps the settings record in a BoltDB file
type BoltSettingsStore struct {
	db *bbolt.DB
}

// NewBoltSettingsStore opens (or creates) svcpanel.db under dataDir
func NewBoltSettingsStore(dataDir string) (*BoltSettingsStore, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	dbPath := filepath.Join(dataDir, "svcpanel.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(settingsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %v", err)
	}

	return &BoltSettingsStore{db: db}, nil
}

// Load returns the stored record or an all-false one
func (s *BoltSettingsStore) Load(ctx context.Context) (models.StoredSettings, error) {
	var stored models.StoredSettings
	if err := ctx.Err(); err != nil {
		return stored, err
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(settingsBucket)).Get([]byte(settingsKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &stored)
	})
	if err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to load settings: %v", err)
	}
	return stored, nil
}

// Save replaces the record
func (s *BoltSettingsStore) Save(ctx context.Context, settings models.Settings) (models.StoredSettings, error) {
	stored := models.StoredSettings{Settings: settings, UpdatedAt: time.Now().UTC()}
	if err := ctx.Err(); err != nil {
		return models.StoredSettings{}, err
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to marshal settings: %v", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(settingsKey), data)
	})
	if err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to save settings: %v", err)
	}
	return stored, nil
}

// Ping checks the database file is still usable
func (s *BoltSettingsStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(settingsBucket)) == nil {
			return fmt.Errorf("bucket %s missing", settingsBucket)
		}
		return nil
	})
}

// Close closes the database connection
func (s *BoltSettingsStore) Close() error {
	return s.db.Close()
}
