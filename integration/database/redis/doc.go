// Package redis provides Redis client initialization with retry logic and
// health checking. The stream event transport and the Redis-backed idempotency
// store both run on clients created here.
//
// Connect validates the connection URL, dials with exponential backoff, and
// verifies connectivity with a ping before returning the client:
//
//	cfg := redis.Config{ConnectionURL: "redis://localhost:6379/0"}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// Configuration maps to environment variables through env struct tags:
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
//	}
//
// Both redis:// and rediss:// (TLS) URL schemes are accepted.
//
// Healthcheck returns a probe function for readiness endpoints:
//
//	check := redis.Healthcheck(client)
//	if err := check(ctx); err != nil {
//	    // report unhealthy
//	}
//
// Errors are stable sentinels checkable with errors.Is:
// ErrFailedToParseRedisConnString, ErrRedisNotReady, ErrEmptyConnectionURL,
// ErrHealthcheckFailed.
package redis
