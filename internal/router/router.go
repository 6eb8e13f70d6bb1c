package router

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"health-access-ledger/internal/adapters/content/memory"
	pmem "health-access-ledger/internal/adapters/principals/memory"
	ppg "health-access-ledger/internal/adapters/principals/postgres"
	mem "health-access-ledger/internal/adapters/storage/memory"
	pg "health-access-ledger/internal/adapters/storage/postgres"
	"health-access-ledger/internal/domain/access"
	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/domain/records"
	"health-access-ledger/internal/idempotency"
	"health-access-ledger/internal/middleware"
	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/platform/metrics"
	"health-access-ledger/internal/ports/auth"
	"health-access-ledger/internal/ports/content"
	"health-access-ledger/internal/ports/principals"

	_ "health-access-ledger/internal/docs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si viene, usa Postgres. Si no, in-memory.
	DB *sql.DB
	// Opcional: idempotency store en Redis y readiness check.
	Redis *redis.Client

	// Si es nil: directorio Postgres con DB, abierto sin DB.
	Principals principals.Directory
	// Si es nil: content store in-memory.
	Content     content.Store
	Idempotency idempotency.Store

	Logger logger.Logger
	// Si Metrics es nil se crean collectors con un registry propio.
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	MaxUploadBytes int64
	RequestTimeout time.Duration
	Clock          func() time.Time
}

// storageClock redondea a microsegundos en UTC, la precisión de timestamptz,
// para que lo devuelto al crear coincida con lo que se lee después.
func storageClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	m, reg := opts.Metrics, opts.Registry
	if m == nil {
		m, reg = NewMetrics()
	}
	now := opts.Clock
	if now == nil {
		now = storageClock
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recoverer(log))
	r.Use(middleware.RequestLog(log))
	r.Use(middleware.Metrics(m))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "ledger.http",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})

	r.Use(middleware.AuthContext(opts.AuthVerifier, log.With(map[string]any{"module": "auth"})))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/health/ready", readyHandler(opts.DB, opts.Redis))
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	var (
		recordRepo records.Repository
		grantsRepo accessgrants.Repository
		auditRepo  audit.Repository
	)
	if opts.DB != nil {
		recordRepo = pg.NewRecordsRepo(opts.DB)
		grantsRepo = pg.NewAccessGrantsRepo(opts.DB)
		auditRepo = pg.NewAuditRepo(opts.DB)
	} else {
		ar := mem.NewAuditRepo()
		recordRepo = mem.NewRecordsRepo()
		grantsRepo = mem.NewAccessGrantsRepo(ar)
		auditRepo = ar
	}

	dir := opts.Principals
	if dir == nil {
		if opts.DB != nil {
			dir = ppg.NewDirectory(opts.DB)
		} else {
			dir = pmem.NewOpenDirectory()
		}
	}
	store := opts.Content
	if store == nil {
		store = memory.NewStore()
	}
	idem := opts.Idempotency
	if idem == nil {
		idem = idempotency.NewMemoryStore(idempotency.DefaultTTL)
	}

	// Services por módulo
	auditLog := audit.NewLog(auditRepo,
		audit.WithLogger(log.With(map[string]any{"module": "audit"})),
		audit.WithMetrics(m),
		audit.WithClock(now),
	)
	grantsSvc := accessgrants.NewService(grantsRepo, auditLog,
		accessgrants.WithDirectory(dir),
		accessgrants.WithLogger(log.With(map[string]any{"module": "accessgrants"})),
		accessgrants.WithMetrics(m),
		accessgrants.WithClock(now),
	)
	recordsSvc := records.NewService(recordRepo,
		records.WithContentStore(store),
		records.WithDirectory(dir),
		records.WithLogger(log.With(map[string]any{"module": "records"})),
		records.WithClock(now),
	)
	engine := access.NewEngine(grantsSvc, recordsSvc, auditLog,
		access.WithLogger(log.With(map[string]any{"module": "access"})),
		access.WithMetrics(m),
		access.WithClock(now),
	)
	recordsSvc.SetAuthorizer(engine)

	// Rutas por módulo (con timeout; /health y /metrics quedan fuera)
	r.Group(func(api chi.Router) {
		if opts.RequestTimeout > 0 {
			api.Use(chimw.Timeout(opts.RequestTimeout))
		}
		records.RegisterRoutes(api, recordsSvc, records.RouteOptions{
			MaxUploadBytes: opts.MaxUploadBytes,
			CreateMiddlewares: []func(http.Handler) http.Handler{
				middleware.Idempotency(middleware.IdempotencyOptions{
					Store:   idem,
					Metrics: m,
					Logger:  log,
				}),
			},
		})
		accessgrants.RegisterRoutes(api, grantsSvc)
		access.RegisterRoutes(api, engine)
		audit.RegisterRoutes(api, auditLog)
	})

	return r
}

// NewMetrics crea los collectors del ledger más los de runtime en un
// registry nuevo.
func NewMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		panic(err)
	}
	return m, reg
}

func readyHandler(db *sql.DB, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
