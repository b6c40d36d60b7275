package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/repoanalyst/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache holds presentable reports of finished jobs. Terminal jobs never
// change, so an entry stays valid until its TTL runs out.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetReport(ctx context.Context, report *models.Report, ttl time.Duration) error
	GetReport(ctx context.Context, jobID models.JobID) (*models.Report, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetReport(ctx context.Context, report *models.Report, ttl time.Duration) error {
	return setReport(ctx, c, report, ttl)
}

func (c *RedisCache) GetReport(ctx context.Context, jobID models.JobID) (*models.Report, bool, error) {
	return getReport(ctx, c, jobID)
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func setReport(ctx context.Context, c Cache, report *models.Report, ttl time.Duration) error {
	if !report.Status.IsTerminal() {
		return fmt.Errorf("caching report for job %s: status %s is not terminal", report.JobID, report.Status)
	}
	b, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return c.Set(ctx, ReportKey(report.JobID), b, ttl)
}

func getReport(ctx context.Context, c Cache, jobID models.JobID) (*models.Report, bool, error) {
	b, found, err := c.Get(ctx, ReportKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	var r models.Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, false, fmt.Errorf("decoding cached report: %w", err)
	}
	return &r, true, nil
}

// NopCache stores nothing. It is used when no Redis URL is configured; its
// counters always read zero, so rate limits never trip.
type NopCache struct{}

func (NopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NopCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (NopCache) Delete(context.Context, string) error                     { return nil }
func (NopCache) Ping(context.Context) error                               { return nil }
func (NopCache) Close() error                                             { return nil }
func (NopCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}
func (NopCache) SetReport(context.Context, *models.Report, time.Duration) error {
	return nil
}
func (NopCache) GetReport(context.Context, models.JobID) (*models.Report, bool, error) {
	return nil, false, nil
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = NopCache{}
)
