package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"svcpanel/models"
)

// RedisSettingsStore keeps the settings record as a JSON string under one key,
// so several settings service replicas can share it.
type RedisSettingsStore struct {
	client *redis.Client
	key    string
}

// NewRedisSettingsStore connects to url (redis://...) and verifies the connection
func NewRedisSettingsStore(url, key string) (*RedisSettingsStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisSettingsStoreFromClient(client, key), nil
}

// NewRedisSettingsStoreFromClient wraps an existing client
func NewRedisSettingsStoreFromClient(client *redis.Client, key string) *RedisSettingsStore {
	if key == "" {
		key = "svcpanel:settings"
	}
	return &RedisSettingsStore{client: client, key: key}
}

// Load returns the stored record or an all-false one
func (s *RedisSettingsStore) Load(ctx context.Context) (models.StoredSettings, error) {
	var stored models.StoredSettings

	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return stored, nil
	}
	if err != nil {
		return stored, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	return stored, nil
}

// Save replaces the record
func (s *RedisSettingsStore) Save(ctx context.Context, settings models.Settings) (models.StoredSettings, error) {
	stored := models.StoredSettings{Settings: settings, UpdatedAt: time.Now().UTC()}

	data, err := json.Marshal(stored)
	if err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return models.StoredSettings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return stored, nil
}

func (s *RedisSettingsStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSettingsStore) Close() error {
	return s.client.Close()
}
