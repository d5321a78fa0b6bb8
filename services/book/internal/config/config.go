package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`

	ChatBaseURL string `yaml:"chatBaseURL"`
	ChatAPIKey  string `yaml:"chatAPIKey"`
	ChatModel   string `yaml:"chatModel"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	AutosaveDebounce   string `yaml:"autosaveDebounce"`
	SaveTimeout        string `yaml:"saveTimeout"`
	SuggestionsPerHour int    `yaml:"suggestionsPerHour"`
	CleanupWorkers     int    `yaml:"cleanupWorkers"`

	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
	CORSOrigins       []string `yaml:"corsOrigins"`
}

// Load reads config from path (defaults to ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = "inkwell.books"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *FileConfig) {
	strs := []struct {
		key string
		dst *string
	}{
		{"PORT", &cfg.Port},
		{"LOG_LEVEL", &cfg.LogLevel},
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_ADDR", &cfg.RedisAddr},
		{"REDIS_PASSWORD", &cfg.RedisPassword},
		{"MINIO_ENDPOINT", &cfg.MinioEndpoint},
		{"MINIO_ACCESS_KEY", &cfg.MinioAccessKey},
		{"MINIO_SECRET_KEY", &cfg.MinioSecretKey},
		{"MINIO_BUCKET", &cfg.MinioBucket},
		{"MINIO_PUBLIC_BASE_URL", &cfg.MinioPublicBaseURL},
		{"INKWELL_AMQP_URL", &cfg.AMQPURL},
		{"INKWELL_AMQP_EXCHANGE", &cfg.AMQPExchange},
		{"INKWELL_CHAT_BASE_URL", &cfg.ChatBaseURL},
		{"INKWELL_CHAT_API_KEY", &cfg.ChatAPIKey},
		{"INKWELL_CHAT_MODEL", &cfg.ChatModel},
		{"INKWELL_JWT_SECRET", &cfg.JWTSecret},
		{"INKWELL_JWT_ISSUER", &cfg.JWTIssuer},
		{"INKWELL_JWT_AUDIENCE", &cfg.JWTAudience},
		{"INKWELL_JWT_LEEWAY", &cfg.JWTLeeway},
		{"INKWELL_AUTOSAVE_DEBOUNCE", &cfg.AutosaveDebounce},
		{"INKWELL_SAVE_TIMEOUT", &cfg.SaveTimeout},
	}
	for _, s := range strs {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v
		}
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("INKWELL_SUGGESTIONS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SuggestionsPerHour = n
		}
	}
	if v := os.Getenv("INKWELL_CLEANUP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CleanupWorkers = n
		}
	}
	if v := os.Getenv("INKWELL_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("INKWELL_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return errors.New("config: jwtSecret must be at least 32 bytes (set in config.yaml or INKWELL_JWT_SECRET)")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	if cfg.ChatBaseURL != "" && cfg.ChatModel == "" {
		return errors.New("config: chatModel is required when chatBaseURL is set")
	}
	if cfg.SuggestionsPerHour < 0 {
		return errors.New("config: suggestionsPerHour must be >= 0")
	}
	if cfg.CleanupWorkers < 0 {
		return errors.New("config: cleanupWorkers must be >= 0")
	}
	for name, v := range map[string]string{
		"jwtLeeway":        cfg.JWTLeeway,
		"autosaveDebounce": cfg.AutosaveDebounce,
		"saveTimeout":      cfg.SaveTimeout,
	} {
		if _, err := ParseDuration(name, v); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration setting. Empty means zero, which
// callers treat as "use the default".
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}
