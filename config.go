package soda

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// BusType selects the event transport.
type BusType string

const (
	// BusTypeSimple dispatches events in-process, synchronously.
	BusTypeSimple BusType = "simple"

	// BusTypeChannel dispatches events in-process through a buffered channel.
	BusTypeChannel BusType = "channel"

	// BusTypeRedis publishes events to a Redis Stream consumed by a group.
	BusTypeRedis BusType = "redis"
)

// Config holds the facade configuration. Designed for environment-based
// configuration; stream transport settings live in
// integration/redisstream.Config.
type Config struct {
	BusType BusType `env:"SODA_EVENT_BUS_TYPE" envDefault:"simple"`

	MaxSyncDepth int `env:"SODA_EVENT_MAX_SYNC_DEPTH" envDefault:"10"`
	MaxHops      int `env:"SODA_EVENT_MAX_ASYNC_HOPS" envDefault:"20"`

	// Async command pool
	AsyncWorkers   int `env:"SODA_EVENT_ASYNC_POOL_SIZE" envDefault:"8"`
	AsyncQueueSize int `env:"SODA_EVENT_ASYNC_QUEUE_CAPACITY" envDefault:"100"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		BusType:        BusTypeSimple,
		MaxSyncDepth:   DefaultMaxSyncDepth,
		MaxHops:        20,
		AsyncWorkers:   DefaultAsyncWorkers,
		AsyncQueueSize: DefaultAsyncQueueSize,
	}
}

// LoadConfig reads configuration from the environment, honoring a local .env
// file when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse soda config: %w", err)
	}
	return cfg, nil
}

// NewFromConfig creates a Facade from configuration. Additional options
// override config values.
//
// BusType selects the transport: "channel" wraps the configured in-process
// bus in a buffered channel dispatcher, "redis" puts the facade in stream
// mode so event publication is deferred to the repository decorator (the
// stream bus itself is attached with WithEventPublisher), and "simple"
// dispatches in-process synchronously.
func NewFromConfig(cfg Config, opts ...Option) *Facade {
	allOpts := []Option{
		WithMaxSyncDepth(cfg.MaxSyncDepth),
		WithMaxHops(cfg.MaxHops),
		WithAsyncPool(cfg.AsyncWorkers, cfg.AsyncQueueSize),
	}

	switch cfg.BusType {
	case BusTypeChannel:
		allOpts = append(allOpts, WithChannelTransport())
	case BusTypeRedis:
		allOpts = append(allOpts, WithStreamTransport())
	}

	return New(append(allOpts, opts...)...)
}
