package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // "" disables the gRPC monitor

	// Storage
	Env    string `yaml:"env"`     // "dev" | "prod"
	Store  string `yaml:"store"`   // "sqlite" | "memory"
	DBPath string `yaml:"db_path"` // e.g. "./data/argus.db"

	// Auth
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`

	// Flag policy
	TabSwitchThreshold int `yaml:"tab_switch_threshold"`

	// HTTP surface
	RateLimitRPS   float64  `yaml:"rate_limit_rps"` // 0 disables
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"` // websocket origins; empty allows any

	// Relay
	RelayBuffer  int    `yaml:"relay_buffer"`
	RedisAddr    string `yaml:"redis_addr"` // "" keeps fan-out in-process
	RedisChannel string `yaml:"redis_channel"`

	// Idempotency key retention
	IdempotencyRetentionDays int `yaml:"idempotency_retention_days"` // 0 = keep forever
	PruneIntervalHours       int `yaml:"prune_interval_hours"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:                 ":8080",
		GRPCAddr:                 ":9090",
		Env:                      "dev",
		Store:                    "sqlite",
		DBPath:                   "./data/argus.db",
		TokenTTLHours:            168,
		TabSwitchThreshold:       3,
		RateLimitRPS:             20,
		RateLimitBurst:           40,
		RelayBuffer:              64,
		RedisChannel:             "argus:alerts",
		IdempotencyRetentionDays: 7,
		PruneIntervalHours:       6,
	}
}

// Load reads the optional YAML file named by ARGUS_CONFIG, then applies
// ARGUS_* environment overrides. Environment always wins over the file.
func Load() (Config, error) {
	c := Defaults()
	if path := strings.TrimSpace(os.Getenv("ARGUS_CONFIG")); path != "" {
		if err := loadFile(path, &c); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&c)
	normalize(&c)
	return c, nil
}

// FromEnv builds the config from defaults and environment only.
func FromEnv() Config {
	c := Defaults()
	applyEnv(&c)
	normalize(&c)
	return c
}

func loadFile(path string, c *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config unmarshal %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	envString("ARGUS_HTTP_ADDR", &c.HTTPAddr)
	if v, ok := os.LookupEnv("ARGUS_GRPC_ADDR"); ok {
		// explicitly empty disables gRPC
		c.GRPCAddr = strings.TrimSpace(v)
	}
	envString("ARGUS_ENV", &c.Env)
	envString("ARGUS_STORE", &c.Store)
	envString("ARGUS_DB_PATH", &c.DBPath)
	envString("ARGUS_JWT_SECRET", &c.JWTSecret)
	envInt("ARGUS_TOKEN_TTL_HOURS", &c.TokenTTLHours)
	envInt("ARGUS_TAB_SWITCH_THRESHOLD", &c.TabSwitchThreshold)
	envFloat("ARGUS_RATE_LIMIT_RPS", &c.RateLimitRPS)
	envInt("ARGUS_RATE_LIMIT_BURST", &c.RateLimitBurst)
	if v := splitCSV(os.Getenv("ARGUS_ALLOWED_ORIGINS")); v != nil {
		c.AllowedOrigins = v
	}
	envInt("ARGUS_RELAY_BUFFER", &c.RelayBuffer)
	envString("ARGUS_REDIS_ADDR", &c.RedisAddr)
	envString("ARGUS_REDIS_CHANNEL", &c.RedisChannel)
	envInt("ARGUS_IDEMPOTENCY_RETENTION_DAYS", &c.IdempotencyRetentionDays)
	envInt("ARGUS_PRUNE_INTERVAL_HOURS", &c.PruneIntervalHours)
}

// normalize fails soft: unknown or out-of-range values fall back to defaults.
func normalize(c *Config) {
	d := Defaults()

	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		c.Env = d.Env
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store != "sqlite" && c.Store != "memory" {
		c.Store = d.Store
	}
	if c.TabSwitchThreshold <= 0 {
		c.TabSwitchThreshold = d.TabSwitchThreshold
	}
	if c.RelayBuffer <= 0 {
		c.RelayBuffer = d.RelayBuffer
	}
	if c.RateLimitRPS < 0 {
		c.RateLimitRPS = 0
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = d.RateLimitBurst
	}
	if c.TokenTTLHours < 0 {
		c.TokenTTLHours = d.TokenTTLHours
	}
	if c.IdempotencyRetentionDays < 0 {
		c.IdempotencyRetentionDays = d.IdempotencyRetentionDays
	}
	if c.PruneIntervalHours <= 0 {
		c.PruneIntervalHours = d.PruneIntervalHours
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return
	}
	*dst = f
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
