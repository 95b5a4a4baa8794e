package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Store backends for cached records, facilities and consents.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	StoreBackend     string   `mapstructure:"STORE_BACKEND"`
	RedisURL         string   `mapstructure:"REDIS_URL"`
	RedisKeyPrefix   string   `mapstructure:"REDIS_KEY_PREFIX"`
	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaEventTopic  string   `mapstructure:"KAFKA_EVENT_TOPIC"`
	CredentialScheme string   `mapstructure:"CREDENTIAL_SCHEME"`
	UpgradeOnLogin   bool     `mapstructure:"CREDENTIAL_UPGRADE_ON_LOGIN"`
	MigrationsDir    string   `mapstructure:"MIGRATIONS_DIR"`
	TraceSampleRate  float64  `mapstructure:"TRACE_SAMPLE_RATE"`
}

var keys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"STORE_BACKEND",
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	"KAFKA_BROKERS",
	"KAFKA_EVENT_TOPIC",
	"CREDENTIAL_SCHEME",
	"CREDENTIAL_UPGRADE_ON_LOGIN",
	"MIGRATIONS_DIR",
	"TRACE_SAMPLE_RATE",
}

// Load reads configuration from the environment and an optional .env file
// in the working directory. It does not validate; call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("REDIS_KEY_PREFIX", "integrator")
	v.SetDefault("KAFKA_EVENT_TOPIC", "integrator.events")
	v.SetDefault("CREDENTIAL_SCHEME", "bcrypt")
	v.SetDefault("CREDENTIAL_UPGRADE_ON_LOGIN", false)
	v.SetDefault("MIGRATIONS_DIR", "")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma list from the environment arrives as one element.
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.CredentialScheme = strings.ToLower(strings.TrimSpace(cfg.CredentialScheme))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// KafkaEnabled reports whether events are also published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks that the configuration can start the server.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_BACKEND=%s", BackendPostgres)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for STORE_BACKEND=%s", BackendRedis)
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for facilities and consents with STORE_BACKEND=%s", BackendRedis)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q, or %q, got %q",
			BackendPostgres, BackendRedis, BackendMemory, c.StoreBackend)
	}

	switch c.CredentialScheme {
	case "bcrypt", "sha1":
	default:
		return fmt.Errorf("CREDENTIAL_SCHEME must be \"bcrypt\" or \"sha1\", got %q", c.CredentialScheme)
	}

	if c.KafkaEnabled() && c.KafkaEventTopic == "" {
		return fmt.Errorf("KAFKA_EVENT_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1, got %v", c.TraceSampleRate)
	}
	return nil
}
