package router

import (
	"context"
	"database/sql"
	"fmt"

	"health-access-ledger/internal/adapters/auth/jwtauth"
	"health-access-ledger/internal/adapters/auth/odin"
	"health-access-ledger/internal/adapters/content/memory"
	"health-access-ledger/internal/adapters/content/s3"
	"health-access-ledger/internal/adapters/content/sealed"
	pmem "health-access-ledger/internal/adapters/principals/memory"
	pg "health-access-ledger/internal/adapters/storage/postgres"
	"health-access-ledger/internal/config"
	"health-access-ledger/internal/idempotency"
	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/ports/content"

	"github.com/redis/go-redis/v9"
)

// FromConfig abre las conexiones externas y arma Options. cleanup libera lo
// que se haya abierto, también cuando se devuelve error.
func FromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (opts Options, cleanup func(), err error) {
	if log == nil {
		log = logger.Nop()
	}
	var closers []func()
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts = Options{
		Logger:         log,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
	}
	opts.Metrics, opts.Registry = NewMetrics()

	if cfg.DatabaseURL != "" {
		var db *sql.DB
		db, err = pg.Open(cfg.DatabaseURL)
		if err != nil {
			return opts, cleanup, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		if err = db.PingContext(ctx); err != nil {
			return opts, cleanup, fmt.Errorf("ping database: %w", err)
		}
		opts.DB = db
		log.Info("storage: postgres", nil)
	} else {
		log.Warn("storage: in-memory (DATABASE_URL not set)", nil)
	}

	if cfg.RedisURL != "" {
		var rdb *redis.Client
		rdb, err = idempotency.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return opts, cleanup, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		opts.Redis = rdb
		opts.Idempotency = idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
	}

	switch cfg.AuthMode {
	case config.AuthModeJWT:
		var v *jwtauth.Verifier
		v, err = jwtauth.NewVerifier(cfg.JWTSecret, jwtauth.WithIssuer(cfg.JWTIssuer))
		if err != nil {
			return opts, cleanup, err
		}
		opts.AuthVerifier = v
	case config.AuthModeOdin:
		var c *odin.Client
		c, err = odin.NewClient(odin.Config{BaseURL: cfg.OdinBaseURL, APIKey: cfg.OdinAPIKey})
		if err != nil {
			return opts, cleanup, err
		}
		opts.AuthVerifier = odin.NewVerifier(c)
		opts.Principals = odin.NewDirectory(c)
	default:
		log.Warn("auth: dev mode, X-Debug-User-ID is trusted", nil)
	}

	// Sin DB ni Odin, el seed de PRINCIPALS restringe el directorio in-memory.
	if opts.Principals == nil && opts.DB == nil && len(cfg.Principals) > 0 {
		opts.Principals = pmem.NewDirectory(cfg.Principals...)
	}

	var store content.Store
	switch cfg.ContentBackend {
	case config.ContentS3:
		store, err = s3.New(s3.Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return opts, cleanup, fmt.Errorf("content store: %w", err)
		}
	default:
		store = memory.NewStore()
	}
	if cfg.ContentEncryptionKey != "" {
		var key []byte
		key, err = sealed.ParseKey(cfg.ContentEncryptionKey)
		if err != nil {
			return opts, cleanup, err
		}
		store, err = sealed.New(store, key)
		if err != nil {
			return opts, cleanup, err
		}
	}
	opts.Content = store

	return opts, cleanup, nil
}
