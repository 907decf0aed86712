package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Tier determines feature availability
	Tier Tier `koanf:"tier"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`

	// Access control
	Auth AuthConfig `koanf:"auth"`

	// Identity service calls
	Identity IdentityConfig `koanf:"identity"`

	// Pattern learning
	Patterns PatternConfig `koanf:"patterns"`

	// Per-principal throttling
	RateLimit RateLimitConfig `koanf:"rate_limit"`

	// Validation attempt velocity
	Velocity VelocityConfig `koanf:"velocity"`

	// Async validation workers
	Worker WorkerConfig `koanf:"worker"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	ReadTimeout  int    `koanf:"read_timeout"`  // seconds
	WriteTimeout int    `koanf:"write_timeout"` // seconds
}

// AuthConfig identifies trusted principals and how tokens are verified.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`

	// CollaboratorPrincipal is the identity service allowed to request validations.
	CollaboratorPrincipal string `koanf:"collaborator_principal"`

	// BootstrapAdmin seeds the admin set at startup.
	BootstrapAdmin string `koanf:"bootstrap_admin"`
}

// PatternConfig controls the fraud pattern matcher.
type PatternConfig struct {
	// SynthesisThreshold is the fraud probability above which a pattern is learned.
	SynthesisThreshold float64 `koanf:"synthesis_threshold"`

	// TrackOccurrences bumps occurrence counts of matched patterns.
	TrackOccurrences bool `koanf:"track_occurrences"`
}

// RateLimitConfig is a token bucket per principal.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// VelocityConfig bounds validation attempts per identity.
type VelocityConfig struct {
	Window    time.Duration `koanf:"window"`
	Threshold int64         `koanf:"threshold"` // 0 disables the check
}

// WorkerConfig holds async validation worker settings.
type WorkerConfig struct {
	Enabled     bool `koanf:"enabled"`
	Concurrency int  `koanf:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	ExporterType string `koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `koanf:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ModelTTL:     time.Minute,
			StatusTTL:    24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			RequestTimeout:    5 * time.Second,
			PublishTimeout:    2 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:                "kestrel",
			CollaboratorPrincipal: "identity-service",
		},
		Identity: IdentityConfig{
			FetchTimeout: 5 * time.Second,
		},
		Patterns: PatternConfig{
			SynthesisThreshold: 0.8,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Velocity: VelocityConfig{
			Window:    time.Hour,
			Threshold: 10,
		},
		Worker: WorkerConfig{
			Enabled:     true,
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
		ModelTTL:       time.Minute,
		StatusTTL:      24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		RequestTimeout:    5 * time.Second,
		PublishTimeout:    2 * time.Second,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
