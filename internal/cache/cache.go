// Package cache memoizes classification results in Redis. Results depend only
// on the text and the loaded checkpoint, so keys combine the checkpoint
// fingerprint with a hash of the text.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crimson-sun/bertserve/internal/config"
	"github.com/crimson-sun/bertserve/internal/metrics"
	"github.com/crimson-sun/bertserve/pkg/sentiment"
)

// Classifier is the classification backend being cached.
type Classifier interface {
	Classify(ctx context.Context, text string) (sentiment.Result, error)
}

// Options configures a Cache.
type Options struct {
	TTL         time.Duration
	Fingerprint string // model fingerprint (weights, max length, labels); isolates keys between models
	Logger      *zap.Logger
	Metrics     *metrics.Metrics // optional
}

// Cache is a read-through Redis cache in front of a Classifier. Redis
// failures are logged and never fail a classification.
type Cache struct {
	next    Classifier
	rdb     *redis.Client
	ttl     time.Duration
	prefix  string
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a Redis client from config. It does not connect; use Ping
// to check reachability.
func NewClient(cfg config.CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// New wraps next with a Redis-backed cache.
func New(next Classifier, rdb *redis.Client, opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		next:    next,
		rdb:     rdb,
		ttl:     opts.TTL,
		prefix:  "bertserve:" + opts.Fingerprint + ":",
		log:     log,
		metrics: opts.Metrics,
	}
}

// Classify returns the cached result for text, or classifies and stores it.
func (c *Cache) Classify(ctx context.Context, text string) (sentiment.Result, error) {
	if strings.TrimSpace(text) == "" {
		return c.next.Classify(ctx, text)
	}

	key := c.key(text)
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var res sentiment.Result
		if jerr := json.Unmarshal(data, &res); jerr == nil {
			c.observe("hit")
			return res, nil
		}
		c.log.Warn("Discarding corrupt cache entry", zap.String("key", key))
		c.observe("miss")
	case errors.Is(err, redis.Nil):
		c.observe("miss")
	default:
		c.log.Warn("Cache lookup failed", zap.Error(err))
		c.observe("error")
	}

	res, err := c.next.Classify(ctx, text)
	if err != nil {
		return sentiment.Result{}, err
	}

	if data, err := json.Marshal(res); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn("Cache store failed", zap.Error(err))
		}
	}
	return res, nil
}

// Ping checks that Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *Cache) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(outcome).Inc()
	}
}
