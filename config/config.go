// Package config loads runtime settings from the environment, after reading
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"agendahub/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr    string
	LogLevel    string
	DatabaseDSN string
	JWTSecret   string
	AdminRoles  []string

	ReconcileInterval time.Duration
	MutationTimeout   time.Duration
	NotifyAttempts    int
	NotifyBackoff     time.Duration

	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3AccessKey      string
	S3SecretKey      string
	AttachmentURLTTL time.Duration

	// Used by the watch client.
	APIURL   string
	WSURL    string
	APIToken string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("ADMIN_ROLES", "admin")
	v.SetDefault("RECONCILE_INTERVAL", "30s")
	v.SetDefault("MUTATION_TIMEOUT", "15s")
	v.SetDefault("NOTIFY_ATTEMPTS", 3)
	v.SetDefault("NOTIFY_BACKOFF", "200ms")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("ATTACHMENT_URL_TTL", "15m")
	v.SetDefault("API_URL", "http://localhost:8080")
	v.SetDefault("WS_URL", "ws://localhost:8080/ws")

	cfg := &Config{
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		DatabaseDSN:       v.GetString("DATABASE_URL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		AdminRoles:        splitList(v.GetString("ADMIN_ROLES")),
		ReconcileInterval: v.GetDuration("RECONCILE_INTERVAL"),
		MutationTimeout:   v.GetDuration("MUTATION_TIMEOUT"),
		NotifyAttempts:    v.GetInt("NOTIFY_ATTEMPTS"),
		NotifyBackoff:     v.GetDuration("NOTIFY_BACKOFF"),
		S3Bucket:          v.GetString("S3_BUCKET"),
		S3Region:          v.GetString("S3_REGION"),
		S3Endpoint:        v.GetString("S3_ENDPOINT"),
		S3AccessKey:       v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:       v.GetString("S3_SECRET_KEY"),
		AttachmentURLTTL:  v.GetDuration("ATTACHMENT_URL_TTL"),
		APIURL:            strings.TrimRight(v.GetString("API_URL"), "/"),
		WSURL:             v.GetString("WS_URL"),
		APIToken:          v.GetString("API_TOKEN"),
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = strings.TrimSpace(os.Getenv("SUPABASE_JWT_SECRET"))
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = legacyDSN(v.GetString("DB_SSLMODE"))
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL must be positive, got %s", cfg.ReconcileInterval)
	}
	return cfg, nil
}

// legacyDSN builds the connection string from the lowercase user/password/
// host/port/dbname variables older deployments set.
func legacyDSN(sslmode string) string {
	dbUser := strings.TrimSpace(os.Getenv("user"))
	dbPass := strings.TrimSpace(os.Getenv("password"))
	dbHost := strings.TrimSpace(os.Getenv("host"))
	dbPort := strings.TrimSpace(os.Getenv("port"))
	dbName := strings.TrimSpace(os.Getenv("dbname"))
	if dbHost == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", dbUser, dbPass, dbHost, dbPort, dbName, sslmode)
}

// S3Enabled reports whether attachment presigning is configured.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
