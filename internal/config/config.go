// loads up the .env files and environment variables to be used internally by Shipper.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds every tunable of the realtime server.
type Config struct {
	Env     string
	Version string
	SrvAddr string
	SrvPort string

	CORSOrigin string
	JWTSecret  string
	// InternalToken guards the internal publish API, an empty value disables it.
	InternalToken string

	// RedisURL selects backbone mode, an empty value means local-only delivery.
	RedisURL          string
	RedisTxMaxRetries int
	RedisPingAttempts uint
	RedisMinBackoff   time.Duration
	RedisMaxBackoff   time.Duration

	HeartbeatInterval time.Duration
	ClientQueueSize   int

	FileBufferSize  int
	FileBufferTTL   time.Duration
	FileBufferSweep time.Duration

	ChunkFlushInterval time.Duration

	PublishTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	ShutdownTimeout time.Duration
}

// IsDev reports whether Shipper runs in the DEV environment.
func (c Config) IsDev() bool {
	return c.Env == "DEV"
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return c.SrvAddr + ":" + c.SrvPort
}

// uses go package: godotenv to load up enviroment variables from a file.
// Variables already present in the environment win over the file.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "couldn't load env file %s", path)
	}
	return nil
}

// Load reads Config from the process environment, applying defaults for unset variables.
func Load() (Config, error) {
	p := parser{}
	pingAttempts := p.integer("REDIS_PING_ATTEMPTS", 3)
	cfg := Config{
		Env:        p.str("ENV", "PROD"),
		Version:    p.str("VERSION", "1.0.0"),
		SrvAddr:    p.str("SRV_ADDR", ""),
		SrvPort:    p.str("SRV_PORT", "8080"),
		CORSOrigin: p.str("CORS_ORIGIN", "*"),
		JWTSecret:  p.str("JWT_SECRET", ""),

		InternalToken: p.str("INTERNAL_API_TOKEN", ""),

		RedisURL:          p.str("REDIS_URL", ""),
		RedisTxMaxRetries: p.integer("REDIS_TX_MAX_RETRIES", 5),
		RedisPingAttempts: uint(max(pingAttempts, 0)),
		RedisMinBackoff:   p.duration("REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
		RedisMaxBackoff:   p.duration("REDIS_MAX_RETRY_BACKOFF", 2*time.Second),

		HeartbeatInterval: p.duration("SSE_HEARTBEAT_INTERVAL", 30*time.Second),
		ClientQueueSize:   p.integer("SSE_CLIENT_QUEUE", 256),

		FileBufferSize:  p.integer("FILE_BUFFER_SIZE", 50),
		FileBufferTTL:   p.duration("FILE_BUFFER_TTL", 60*time.Second),
		FileBufferSweep: p.duration("FILE_BUFFER_SWEEP", 30*time.Second),

		ChunkFlushInterval: p.duration("CHUNK_FLUSH_INTERVAL", 100*time.Millisecond),

		PublishTimeout:   p.duration("BACKBONE_PUBLISH_TIMEOUT", 2*time.Second),
		BreakerThreshold: p.integer("BACKBONE_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  p.duration("BACKBONE_BREAKER_COOLDOWN", 30*time.Second),

		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if cfg.FileBufferSize <= 0 || cfg.ClientQueueSize <= 0 || pingAttempts <= 0 {
		return Config{}, errors.New("FILE_BUFFER_SIZE, SSE_CLIENT_QUEUE and REDIS_PING_ATTEMPTS must be positive")
	}
	return cfg, nil
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, prserr := strconv.Atoi(v)
	if prserr != nil && p.err == nil {
		// Couldn't convert to int
		p.err = errors.Wrapf(prserr, "couldn't parse ENV: %s", key)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, prserr := time.ParseDuration(v)
	if prserr != nil && p.err == nil {
		p.err = errors.Wrapf(prserr, "couldn't parse ENV: %s", key)
	}
	return d
}
