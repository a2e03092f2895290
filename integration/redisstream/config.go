package redisstream

import (
	"fmt"
	"os"
	"time"
)

// Config holds the Redis Streams transport configuration. Designed for
// environment-based configuration using env struct tags.
type Config struct {
	// Stream and consumer group
	Topic        string `env:"SODA_EVENT_REDIS_TOPIC" envDefault:"soda-events"`
	GroupName    string `env:"SODA_EVENT_REDIS_STREAM_GROUP_NAME" envDefault:"soda-events-group"`
	ConsumerName string `env:"SODA_EVENT_REDIS_STREAM_CONSUMER_NAME"`
	MaxLen       int64  `env:"SODA_EVENT_REDIS_STREAM_MAXLEN" envDefault:"10000"`

	// Polling
	PollTimeout time.Duration `env:"SODA_EVENT_REDIS_STREAM_POLL_TIMEOUT" envDefault:"1s"`
	BatchSize   int64         `env:"SODA_EVENT_REDIS_STREAM_BATCH_SIZE" envDefault:"16"`
	Concurrency int           `env:"SODA_EVENT_REDIS_STREAM_CONCURRENCY" envDefault:"1"`

	// Retry and dead-lettering
	MaxRetries         int           `env:"SODA_EVENT_REDIS_STREAM_MAX_RETRIES" envDefault:"3"`
	InitialRetryDelay  time.Duration `env:"SODA_EVENT_REDIS_STREAM_INITIAL_RETRY_DELAY" envDefault:"1s"`
	ExponentialBackoff bool          `env:"SODA_EVENT_REDIS_STREAM_EXPONENTIAL_BACKOFF" envDefault:"true"`
	DeadLetterStream   string        `env:"SODA_EVENT_REDIS_STREAM_DEAD_LETTER_STREAM" envDefault:"soda-events-dead-letter"`

	// Idempotency tracking
	IdempotencyEnabled    bool          `env:"SODA_EVENT_REDIS_STREAM_IDEMPOTENCY_ENABLED" envDefault:"false"`
	IdempotencyKeyPrefix  string        `env:"SODA_EVENT_REDIS_STREAM_IDEMPOTENCY_KEY_PREFIX" envDefault:"soda-events-idempotency"`
	IdempotencyExpireTime time.Duration `env:"SODA_EVENT_REDIS_STREAM_IDEMPOTENCY_EXPIRE_TIME" envDefault:"24h"`
	CleanupInterval       time.Duration `env:"SODA_EVENT_REDIS_STREAM_CLEANUP_INTERVAL" envDefault:"1h"`
}

// DefaultConfig returns sensible defaults for production use. The consumer
// name is unique per process so group members never collide.
func DefaultConfig() Config {
	return Config{
		Topic:                 "soda-events",
		GroupName:             "soda-events-group",
		ConsumerName:          defaultConsumerName(),
		MaxLen:                10000,
		PollTimeout:           time.Second,
		BatchSize:             16,
		Concurrency:           1,
		MaxRetries:            3,
		InitialRetryDelay:     time.Second,
		ExponentialBackoff:    true,
		DeadLetterStream:      "soda-events-dead-letter",
		IdempotencyKeyPrefix:  "soda-events-idempotency",
		IdempotencyExpireTime: 24 * time.Hour,
		CleanupInterval:       time.Hour,
	}
}

// normalize fills required fields the environment left empty.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Topic == "" {
		c.Topic = d.Topic
	}
	if c.GroupName == "" {
		c.GroupName = d.GroupName
	}
	if c.ConsumerName == "" {
		c.ConsumerName = defaultConsumerName()
	}
	if c.MaxLen <= 0 {
		c.MaxLen = d.MaxLen
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = d.InitialRetryDelay
	}
	if c.DeadLetterStream == "" {
		c.DeadLetterStream = d.DeadLetterStream
	}
	if c.IdempotencyKeyPrefix == "" {
		c.IdempotencyKeyPrefix = d.IdempotencyKeyPrefix
	}
	if c.IdempotencyExpireTime <= 0 {
		c.IdempotencyExpireTime = d.IdempotencyExpireTime
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	return c
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("soda-events-consumer-%s-%d", host, os.Getpid())
}
