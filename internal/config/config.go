package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Board struct {
		TTL string `yaml:"ttl"`
		// Seed is a YAML file with games to load into the backend on start.
		Seed string `yaml:"seed"`
	} `yaml:"board"`
	Broadcast struct {
		// Transport is one of memory, redis or nats.
		Transport     string `yaml:"transport"`
		NatsURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"broadcast"`
	Ledger struct {
		// Backend is one of memory, redis or postgres.
		Backend         string `yaml:"backend"`
		MaxRetries      uint64 `yaml:"max_retries"`
		InitialInterval string `yaml:"initial_interval"`
		MaxInterval     string `yaml:"max_interval"`
		DedupeTTL       string `yaml:"dedupe_ttl"`
		PersistTimeout  string `yaml:"persist_timeout"`
	} `yaml:"ledger"`
	Wager struct {
		Policy   string `yaml:"policy"`
		Floor    int    `yaml:"floor"`
		Cap      int    `yaml:"cap"`
		BoardMax int    `yaml:"board_max"`
	} `yaml:"wager"`
	Buzz struct {
		TimestampSource string `yaml:"timestamp_source"`
	} `yaml:"buzz"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`
	Join struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"join"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path. Secrets may also come from the environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Broadcast.NatsURL = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
