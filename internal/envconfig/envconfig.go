// Package envconfig loads process-level pipeline settings from the
// environment: object store credentials, the SQL DSN, and the queue URL.
// Per-source/stream/signal settings live in internal/registry instead.
package envconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig reads prefixed environment variables with typed defaults.
type EnvConfig struct {
	prefix string
}

// New creates an environment configuration loader with the given prefix
// (e.g. "PIPELINE").
func New(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GetString retrieves a string value with a default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

// MustGetString retrieves a required string value or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	v := os.Getenv(fullKey)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return v
}

// GetInt retrieves an integer value with a default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value with a default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value with a default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated value with a default.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ObjectStoreConfig configures the S3-compatible object store client.
type ObjectStoreConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UsePathStyle bool
}

// LoadObjectStoreConfig loads object store settings from the environment.
func LoadObjectStoreConfig(prefix string) ObjectStoreConfig {
	env := New(prefix)
	return ObjectStoreConfig{
		Endpoint:     env.GetString("OBJECT_STORE_ENDPOINT", ""),
		Region:       env.GetString("OBJECT_STORE_REGION", "us-east-1"),
		Bucket:       env.GetString("OBJECT_STORE_BUCKET", "telemetry-raw"),
		AccessKey:    env.GetString("OBJECT_STORE_ACCESS_KEY", ""),
		SecretKey:    env.GetString("OBJECT_STORE_SECRET_KEY", ""),
		UsePathStyle: env.GetBool("OBJECT_STORE_PATH_STYLE", true),
	}
}

// DatabaseConfig configures the relational store connection.
type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// LoadDatabaseConfig loads SQL settings from the environment.
func LoadDatabaseConfig(prefix string) DatabaseConfig {
	env := New(prefix)
	return DatabaseConfig{
		DSN:             env.GetString("DATABASE_DSN", "host=localhost user=pipeline dbname=pipeline sslmode=disable"),
		MaxIdleConns:    env.GetInt("DATABASE_MAX_IDLE_CONNS", 10),
		MaxOpenConns:    env.GetInt("DATABASE_MAX_OPEN_CONNS", 100),
		ConnMaxLifetime: env.GetDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
	}
}

// QueueConfig configures the Redis-backed task queue.
type QueueConfig struct {
	RedisURL  string
	KeyPrefix string
}

// LoadQueueConfig loads queue settings from the environment.
func LoadQueueConfig(prefix string) QueueConfig {
	env := New(prefix)
	return QueueConfig{
		RedisURL:  env.GetString("QUEUE_REDIS_URL", "redis://localhost:6379/0"),
		KeyPrefix: env.GetString("QUEUE_KEY_PREFIX", "pipeline:"),
	}
}

// ServiceConfig identifies this process for logging/tracing/metrics.
type ServiceConfig struct {
	Name           string
	Environment    string
	LogLevel       string
	OTLPEndpoint   string
	TracingEnabled bool
	RegistryPath   string
	Timezone       string
	HTTPAddr       string
	AMQPURL        string
	AuditQueueName string
}

// LoadServiceConfig loads service identity settings from the environment.
func LoadServiceConfig(prefix string) ServiceConfig {
	env := New(prefix)
	return ServiceConfig{
		Name:           env.GetString("NAME", "telemetry-pipeline"),
		Environment:    env.GetString("ENVIRONMENT", "development"),
		LogLevel:       env.GetString("LOG_LEVEL", "info"),
		OTLPEndpoint:   env.GetString("OTLP_ENDPOINT", ""),
		TracingEnabled: env.GetBool("TRACING_ENABLED", false),
		RegistryPath:   env.GetString("REGISTRY_PATH", "./registry"),
		Timezone:       env.GetString("TIMEZONE", "UTC"),
		HTTPAddr:       env.GetString("HTTP_ADDR", ":8080"),
		AMQPURL:        env.GetString("AMQP_URL", ""),
		AuditQueueName: env.GetString("AUDIT_QUEUE_NAME", "pipeline.events"),
	}
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

// NewValidator creates a configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that a field is positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid reports whether no validation errors were recorded.
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Validate returns an error summarizing all validation failures.
func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// AllConfig aggregates every process-level configuration section.
type AllConfig struct {
	ObjectStore ObjectStoreConfig
	Database    DatabaseConfig
	Queue       QueueConfig
	Service     ServiceConfig
}

// LoadAll loads and validates all process-level configuration.
func LoadAll(prefix string) (*AllConfig, error) {
	cfg := &AllConfig{
		ObjectStore: LoadObjectStoreConfig(prefix),
		Database:    LoadDatabaseConfig(prefix),
		Queue:       LoadQueueConfig(prefix),
		Service:     LoadServiceConfig(prefix),
	}

	v := NewValidator()
	v.RequireString("Service.Name", cfg.Service.Name)
	v.RequireOneOf("Service.Environment", cfg.Service.Environment,
		[]string{"development", "staging", "production"})
	v.RequireOneOf("Service.LogLevel", cfg.Service.LogLevel,
		[]string{"debug", "info", "warn", "error"})
	v.RequireString("ObjectStore.Bucket", cfg.ObjectStore.Bucket)

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
