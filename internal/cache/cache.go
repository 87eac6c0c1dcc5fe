package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/framereel/internal/progress"
	"github.com/therealutkarshpriyadarshi/framereel/pkg/models"
)

// Cache provides shared job state using Redis so that any replica can answer a
// progress poll
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Job Cache Operations

// SetJob caches job metadata
func (c *Cache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	return c.setJSON(ctx, jobKey(job.ID), job, ttl)
}

// GetJob retrieves job metadata from cache. A miss returns nil, nil.
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	found, err := c.getJSON(ctx, jobKey(jobID), &job)
	if err != nil || !found {
		return nil, err
	}
	return &job, nil
}

// Progress Cache Operations

// SetJobProgress caches job progress for quick retrieval
func (c *Cache) SetJobProgress(ctx context.Context, jobID string, snap progress.Snapshot, ttl time.Duration) error {
	return c.setJSON(ctx, progressKey(jobID), snap, ttl)
}

// GetJobProgress retrieves job progress from cache. A miss returns nil, nil.
func (c *Cache) GetJobProgress(ctx context.Context, jobID string) (*progress.Snapshot, error) {
	var snap progress.Snapshot
	found, err := c.getJSON(ctx, progressKey(jobID), &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

// ProgressMirror returns a progress.MirrorFunc writing every update to Redis.
// Write failures go to onError; they never fail the job.
func (c *Cache) ProgressMirror(ttl time.Duration, onError func(jobID string, err error)) progress.MirrorFunc {
	return func(jobID string, snap progress.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := c.SetJobProgress(ctx, jobID, snap, ttl); err != nil && onError != nil {
			onError(jobID, err)
		}
	}
}

func (c *Cache) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get %s from cache: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func progressKey(jobID string) string {
	return fmt.Sprintf("job:progress:%s", jobID)
}
