package middleware

import (
	"context"
	"net/http"
	"strings"

	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/ports/auth"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DebugUserHeader identifica al principal en modo dev (sin verifier).
const DebugUserHeader = "X-Debug-User-ID"

type ctxKey string

const (
	claimsKey ctxKey = "claims"
	slotKey   ctxKey = "principal-slot"
)

// principalSlot lo crea RequestLog para enterarse del principal resuelto
// más abajo en la cadena.
type principalSlot struct {
	claims auth.Claims
}

// AuthContext resuelve el principal del request:
//   - verifier nil (dev): se confía en DebugUserHeader.
//   - con verifier: sólo Bearer token; el header de debug se ignora.
//
// Sin principal el request sigue; cada handler responde 401.
func AuthContext(verifier auth.AuthVerifier, log logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims auth.Claims

			if verifier == nil {
				if uid := strings.TrimSpace(r.Header.Get(DebugUserHeader)); uid != "" {
					claims = auth.Claims{UserID: uid, Method: auth.MethodDev}
				}
			} else if token := bearerToken(r.Header.Get("Authorization")); token != "" {
				c, err := verifier.Verify(r.Context(), token)
				if err != nil {
					log.Warn("bearer token rejected", map[string]any{
						"request_id": chimw.GetReqID(r.Context()),
						"error":      err,
					})
				} else {
					c.UserID = strings.TrimSpace(c.UserID)
					c.Method = auth.MethodBearer
					claims = c
				}
			}

			if !claims.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			if slot, ok := r.Context().Value(slotKey).(*principalSlot); ok {
				slot.claims = claims
			}
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("enduser.id", claims.UserID),
			)
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims adjunta claims al contexto (usado también por tests de handlers).
func WithClaims(ctx context.Context, c auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func GetClaims(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(auth.Claims)
	if !ok || !c.Authenticated() {
		return auth.Claims{}, false
	}
	return c, true
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
