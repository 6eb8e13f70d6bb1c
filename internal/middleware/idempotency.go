package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"health-access-ledger/internal/idempotency"
	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/platform/metrics"

	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"

	maxIdempotentBody = 1 << 20
)

type IdempotencyOptions struct {
	Store   idempotency.Store
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// Idempotency reproduce la respuesta guardada cuando el mismo principal repite
// un Idempotency-Key con el mismo body. Mismo key con otro body => 422.
// El key se reserva antes de correr el handler: un duplicado concurrente
// recibe 409 con Retry-After. Sin header o sin claims el request pasa tal cual.
func Idempotency(opts IdempotencyOptions) func(http.Handler) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		if opts.Store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			claims, ok := GetClaims(r.Context())
			if raw == "" || !ok || strings.TrimSpace(claims.UserID) == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > 255 {
				http.Error(w, "idempotency key too long", http.StatusBadRequest)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			if len(body) > maxIdempotentBody {
				http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
				return
			}
			_ = r.Body.Close()

			key := idempotency.Key(claims.UserID, raw)
			fp := idempotency.Fingerprint(r.Method, r.URL.Path, body)

			stored, found, err := opts.Store.Get(r.Context(), key)
			if err != nil {
				storeUnavailable(w, log, "get", err)
				return
			}
			if !found {
				reserved, err := opts.Store.Reserve(r.Context(), key, fp)
				if err != nil {
					storeUnavailable(w, log, "reserve", err)
					return
				}
				if !reserved {
					// otro request tomó el key entre Get y Reserve
					stored, found, err = opts.Store.Get(r.Context(), key)
					if err != nil {
						storeUnavailable(w, log, "get", err)
						return
					}
					if !found {
						stored = idempotency.Response{Fingerprint: fp, Pending: true}
					}
					found = true
				}
			}
			if found {
				switch {
				case stored.Fingerprint != fp:
					http.Error(w, "idempotency key reused with a different request", http.StatusUnprocessableEntity)
				case stored.Pending:
					w.Header().Set("Retry-After", "1")
					http.Error(w, "a request with this idempotency key is in progress", http.StatusConflict)
				default:
					opts.Metrics.IncIdempotentReplay()
					replay(w, stored)
				}
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			var buf bytes.Buffer
			ww.Tee(&buf)

			// La reserva se resuelve aunque el contexto del request ya esté cancelado.
			sctx := context.WithoutCancel(r.Context())
			saved := false
			defer func() {
				if saved {
					return
				}
				if err := opts.Store.Release(sctx, key); err != nil {
					log.Warn("idempotency store release failed", map[string]any{"error": err})
				}
			}()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// 5xx y 409 retryable no se guardan: el cliente debe poder reintentar.
			if status >= 500 || status == http.StatusConflict {
				return
			}
			err = opts.Store.Put(sctx, key, idempotency.Response{
				Fingerprint: fp,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			})
			if err != nil && !errors.Is(err, idempotency.ErrExists) {
				log.Warn("idempotency store put failed", map[string]any{"error": err})
				return
			}
			saved = true
		})
	}
}

func storeUnavailable(w http.ResponseWriter, log logger.Logger, op string, err error) {
	log.Error("idempotency store "+op+" failed", map[string]any{"error": err})
	w.Header().Set("Retry-After", "1")
	http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
}

func replay(w http.ResponseWriter, s idempotency.Response) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}
