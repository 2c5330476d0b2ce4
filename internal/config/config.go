package config

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	SessionPath       string          `yaml:"session_path"`
	DatabasePath      string          `yaml:"database_path"`
	LogLevel          string          `yaml:"log_level"`
	CommandPrefix     string          `yaml:"command_prefix"`
	OwnerJID          string          `yaml:"owner_jid"`
	AllowSelfCommands bool            `yaml:"allow_self_commands"`
	RetentionDays     int             `yaml:"retention_days"`
	Health            HealthConfig    `yaml:"health"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
	Flood             FloodConfig     `yaml:"flood"`
	Spam              SpamConfig      `yaml:"spam"`
	Dispatch          DispatchConfig  `yaml:"dispatch"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ReconnectConfig struct {
	MaxRetries int `yaml:"max_retries"`
	DelayMs    int `yaml:"delay_ms"`
}

type FloodConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	Threshold     int `yaml:"threshold"`
}

type SpamConfig struct {
	SuspiciousConfidence int `yaml:"suspicious_confidence"`
	URLForceConfidence   int `yaml:"url_force_confidence"`
	SpamConfidence       int `yaml:"spam_confidence"`
}

type DispatchConfig struct {
	CooldownMs         int `yaml:"cooldown_ms"`
	ExecTimeoutSeconds int `yaml:"exec_timeout_seconds"`
}

func DefaultConfig() Config {
	return Config{
		SessionPath:       "/data/session.db",
		DatabasePath:      "/data/chatwarden.db",
		LogLevel:          "info",
		CommandPrefix:     ".",
		OwnerJID:          "",
		AllowSelfCommands: false,
		RetentionDays:     14,
		Health:            HealthConfig{Enabled: false, Addr: ":8080"},
		Reconnect:         ReconnectConfig{MaxRetries: 5, DelayMs: 5000},
		Flood:             FloodConfig{WindowSeconds: 60, Threshold: 10},
		Spam:              SpamConfig{SuspiciousConfidence: 50, URLForceConfidence: 60, SpamConfidence: 70},
		Dispatch:          DispatchConfig{CooldownMs: 3000, ExecTimeoutSeconds: 120},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "."
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.SessionPath = envString("SESSION_PATH", cfg.SessionPath)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.CommandPrefix = envString("COMMAND_PREFIX", cfg.CommandPrefix)
	cfg.OwnerJID = envString("OWNER_JID", cfg.OwnerJID)
	cfg.AllowSelfCommands = envBool("ALLOW_SELF_COMMANDS", cfg.AllowSelfCommands)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Reconnect.MaxRetries = envInt("MAX_RECONNECT_ATTEMPTS", cfg.Reconnect.MaxRetries)
	cfg.Reconnect.DelayMs = envInt("RECONNECT_DELAY_MS", cfg.Reconnect.DelayMs)
	cfg.Flood.WindowSeconds = envInt("FLOOD_WINDOW_SECONDS", cfg.Flood.WindowSeconds)
	cfg.Flood.Threshold = envInt("FLOOD_THRESHOLD", cfg.Flood.Threshold)
	cfg.Spam.SuspiciousConfidence = envInt("SPAM_SUSPICIOUS_CONFIDENCE", cfg.Spam.SuspiciousConfidence)
	cfg.Spam.URLForceConfidence = envInt("SPAM_URL_FORCE_CONFIDENCE", cfg.Spam.URLForceConfidence)
	cfg.Spam.SpamConfidence = envInt("SPAM_CONFIDENCE", cfg.Spam.SpamConfidence)
	cfg.Dispatch.CooldownMs = envInt("COMMAND_COOLDOWN_MS", cfg.Dispatch.CooldownMs)
	cfg.Dispatch.ExecTimeoutSeconds = envInt("COMMAND_TIMEOUT_SECONDS", cfg.Dispatch.ExecTimeoutSeconds)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
