// Package cache provides Redis-based caching of the hot per-patient data
// the dashboard polls for: the latest reading and the latest risk
// prediction. Caching is optional; without Redis every call is a no-op.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savegress/vitalsense/pkg/models"
)

// Default TTLs
const (
	TTLLatestReading = 2 * time.Minute
	TTLLatestRisk    = 5 * time.Minute
)

// Cache provides Redis-based caching operations
type Cache struct {
	client    *redis.Client
	keyPrefix string
	enabled   bool
}

// New creates a Cache over an existing Redis client. A nil client
// disables caching.
func New(client *redis.Client, keyPrefix string) *Cache {
	if client == nil {
		return &Cache{enabled: false}
	}
	if keyPrefix == "" {
		keyPrefix = "vitalsense"
	}
	return &Cache{client: client, keyPrefix: keyPrefix, enabled: true}
}

// IsEnabled returns whether caching is enabled
func (c *Cache) IsEnabled() bool {
	return c.enabled
}

func (c *Cache) key(parts ...string) string {
	key := c.keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// SetLatestReading caches a patient's most recent reading
func (c *Cache) SetLatestReading(ctx context.Context, reading *models.Reading) error {
	return c.set(ctx, c.key("reading", reading.PatientID), reading, TTLLatestReading)
}

// LatestReading returns a patient's cached most recent reading, or
// redis.Nil when absent
func (c *Cache) LatestReading(ctx context.Context, patientID string) (*models.Reading, error) {
	var reading models.Reading
	if err := c.get(ctx, c.key("reading", patientID), &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// SetLatestRisk caches a patient's most recent risk prediction
func (c *Cache) SetLatestRisk(ctx context.Context, pred *models.RiskPrediction) error {
	return c.set(ctx, c.key("risk", pred.PatientID), pred, TTLLatestRisk)
}

// LatestRisk returns a patient's cached risk prediction, or redis.Nil
// when absent
func (c *Cache) LatestRisk(ctx context.Context, patientID string) (*models.RiskPrediction, error) {
	var pred models.RiskPrediction
	if err := c.get(ctx, c.key("risk", patientID), &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) get(ctx context.Context, key string, dest interface{}) error {
	if !c.enabled {
		return redis.Nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}
