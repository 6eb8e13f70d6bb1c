// Package config carga la configuración del servidor: YAML opcional y
// variables de entorno encima (env gana).
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	AuthModeDev  = "dev"
	AuthModeJWT  = "jwt"
	AuthModeOdin = "odin"

	ContentMemory = "memory"
	ContentS3     = "s3"
)

type Config struct {
	Port    int    `koanf:"port"`
	Env     string `koanf:"env"`
	AppName string `koanf:"app_name"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Vacío => storage in-memory.
	DatabaseURL string `koanf:"database_url"`
	// Vacío => idempotency store in-memory.
	RedisURL string `koanf:"redis_url"`

	AuthMode    string `koanf:"auth_mode"`
	JWTSecret   string `koanf:"jwt_secret"`
	JWTIssuer   string `koanf:"jwt_issuer"`
	OdinBaseURL string `koanf:"odin_base_url"`
	OdinAPIKey  string `koanf:"odin_api_key"`

	// Seed CSV para el directorio in-memory. Vacío => directorio abierto.
	Principals []string `koanf:"principals"`

	ContentBackend       string `koanf:"content_backend"`
	S3Bucket             string `koanf:"s3_bucket"`
	S3Prefix             string `koanf:"s3_prefix"`
	S3Endpoint           string `koanf:"s3_endpoint"`
	S3Region             string `koanf:"s3_region"`
	S3AccessKeyID        string `koanf:"s3_access_key_id"`
	S3SecretAccessKey    string `koanf:"s3_secret_access_key"`
	ContentEncryptionKey string `koanf:"content_encryption_key"`
	MaxUploadBytes       int64  `koanf:"max_upload_bytes"`

	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	RequestTimeout time.Duration `koanf:"request_timeout"`
}

var (
	ErrInvalidPort         = errors.New("PORT must be a valid port number")
	ErrInvalidAuthMode     = errors.New("AUTH_MODE must be dev, jwt or odin")
	ErrMissingJWTSecret    = errors.New("JWT_SECRET is required when AUTH_MODE=jwt")
	ErrMissingOdinConfig   = errors.New("ODIN_BASE_URL and ODIN_API_KEY are required when AUTH_MODE=odin")
	ErrDevAuthInProduction = errors.New("AUTH_MODE=dev is not allowed when ENV=production")
	ErrInvalidContent      = errors.New("CONTENT_BACKEND must be memory or s3")
	ErrMissingS3Bucket     = errors.New("S3_BUCKET is required when CONTENT_BACKEND=s3")
	ErrInvalidEncryption   = errors.New("CONTENT_ENCRYPTION_KEY must be 64 hex characters")
	ErrInvalidSampleRate   = errors.New("TRACING_SAMPLE_RATE must be within [0,1]")
)

const (
	DefaultPort           = 8080
	DefaultEnv            = "development"
	DefaultAppName        = "health-access-ledger"
	DefaultMaxUploadBytes = 10 << 20
	DefaultRequestTimeout = 15 * time.Second
	DefaultSampleRate     = 1.0
)

// Load lee el archivo (si path != "") y luego env. Devuelve todos los
// errores de validación juntos; un archivo ilegible es el único error fatal.
func Load(path string) (*Config, []error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	port, err := envInt("PORT", k, "port", DefaultPort)
	collect(err)
	maxUpload, err := envInt64("MAX_UPLOAD_BYTES", k, "max_upload_bytes", DefaultMaxUploadBytes)
	collect(err)
	tracingOn, err := envBool("TRACING_ENABLED", k, "tracing_enabled")
	collect(err)
	sample, err := envFloat("TRACING_SAMPLE_RATE", k, "tracing_sample_rate", DefaultSampleRate)
	collect(err)
	timeout, err := envDuration("REQUEST_TIMEOUT", k, "request_timeout", DefaultRequestTimeout)
	collect(err)

	cfg := &Config{
		Port:                 port,
		Env:                  envOr("ENV", k, "env", DefaultEnv),
		AppName:              envOr("APP_NAME", k, "app_name", DefaultAppName),
		LogLevel:             envOr("LOG_LEVEL", k, "log_level", "info"),
		LogFormat:            envOr("LOG_FORMAT", k, "log_format", "text"),
		DatabaseURL:          envOr("DATABASE_URL", k, "database_url", ""),
		RedisURL:             envOr("REDIS_URL", k, "redis_url", ""),
		AuthMode:             strings.ToLower(envOr("AUTH_MODE", k, "auth_mode", AuthModeDev)),
		JWTSecret:            envOr("JWT_SECRET", k, "jwt_secret", ""),
		JWTIssuer:            envOr("JWT_ISSUER", k, "jwt_issuer", ""),
		OdinBaseURL:          envOr("ODIN_BASE_URL", k, "odin_base_url", ""),
		OdinAPIKey:           envOr("ODIN_API_KEY", k, "odin_api_key", ""),
		Principals:           envList("PRINCIPALS", k, "principals"),
		ContentBackend:       strings.ToLower(envOr("CONTENT_BACKEND", k, "content_backend", ContentMemory)),
		S3Bucket:             envOr("S3_BUCKET", k, "s3_bucket", ""),
		S3Prefix:             envOr("S3_PREFIX", k, "s3_prefix", ""),
		S3Endpoint:           envOr("S3_ENDPOINT", k, "s3_endpoint", ""),
		S3Region:             envOr("S3_REGION", k, "s3_region", "us-east-1"),
		S3AccessKeyID:        envOr("S3_ACCESS_KEY_ID", k, "s3_access_key_id", ""),
		S3SecretAccessKey:    envOr("S3_SECRET_ACCESS_KEY", k, "s3_secret_access_key", ""),
		ContentEncryptionKey: envOr("CONTENT_ENCRYPTION_KEY", k, "content_encryption_key", ""),
		MaxUploadBytes:       maxUpload,
		TracingEnabled:       tracingOn,
		TracingExporter:      envOr("TRACING_EXPORTER", k, "tracing_exporter", "otlp-http"),
		OTLPEndpoint:         envOr("OTLP_ENDPOINT", k, "otlp_endpoint", ""),
		TracingSampleRate:    sample,
		RequestTimeout:       timeout,
	}

	return cfg, append(errs, cfg.Validate()...)
}

func (c *Config) Validate() []error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}

	switch c.AuthMode {
	case AuthModeDev:
		if c.IsProduction() {
			errs = append(errs, ErrDevAuthInProduction)
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			errs = append(errs, ErrMissingJWTSecret)
		}
	case AuthModeOdin:
		if c.OdinBaseURL == "" || c.OdinAPIKey == "" {
			errs = append(errs, ErrMissingOdinConfig)
		}
	default:
		errs = append(errs, ErrInvalidAuthMode)
	}

	switch c.ContentBackend {
	case ContentMemory:
	case ContentS3:
		if c.S3Bucket == "" {
			errs = append(errs, ErrMissingS3Bucket)
		}
	default:
		errs = append(errs, ErrInvalidContent)
	}

	if c.ContentEncryptionKey != "" {
		if b, err := hex.DecodeString(c.ContentEncryptionKey); err != nil || len(b) != 32 {
			errs = append(errs, ErrInvalidEncryption)
		}
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	return errs
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func envOr(envKey string, k *koanf.Koanf, key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	if v := strings.TrimSpace(k.String(key)); v != "" {
		return v
	}
	return def
}

func envList(envKey string, k *koanf.Koanf, key string) []string {
	var raw []string
	if v := os.Getenv(envKey); strings.TrimSpace(v) != "" {
		raw = strings.Split(v, ",")
	} else {
		raw = k.Strings(key)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envInt(envKey string, k *koanf.Koanf, key string, def int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, fmt.Errorf("%s: %w", envKey, ErrInvalidPort)
		}
		return n, nil
	}
	if k.Exists(key) {
		return k.Int(key), nil
	}
	return def, nil
}

func envInt64(envKey string, k *koanf.Koanf, key string, def int64) (int64, error) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return def, fmt.Errorf("%s must be a positive integer", envKey)
		}
		return n, nil
	}
	if k.Exists(key) {
		return k.Int64(key), nil
	}
	return def, nil
}

func envBool(envKey string, k *koanf.Koanf, key string) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean", envKey)
		}
		return b, nil
	}
	return k.Bool(key), nil
}

func envFloat(envKey string, k *koanf.Koanf, key string, def float64) (float64, error) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def, fmt.Errorf("%s must be a number", envKey)
		}
		return f, nil
	}
	if k.Exists(key) {
		return k.Float64(key), nil
	}
	return def, nil
}

func envDuration(envKey string, k *koanf.Koanf, key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		raw = strings.TrimSpace(k.String(key))
	}
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("%s must be a positive duration", envKey)
	}
	return d, nil
}
