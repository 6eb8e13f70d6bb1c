package access

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, e *Engine) {
	r.Get("/access-check", checkAccessHandler(e))
}

type decisionResponse struct {
	Allowed      bool      `json:"allowed"`
	Reason       Reason    `json:"reason"`
	GrantID      string    `json:"grant_id,omitempty"`
	AuditEntryID string    `json:"audit_entry_id"`
	CheckedAt    time.Time `json:"checked_at"`
}

// checkAccessHandler godoc
// @Summary Verificar acceso a un registro
// @Description Evalúa si el usuario autenticado puede leer o escribir un registro del owner. Toda consulta (allow o deny) queda en el audit log.
// @Tags access
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param owner_id query string true "Owner del registro"
// @Param record_id query string true "ID del registro"
// @Param permission query string false "read | write (default read)"
// @Success 200 {object} decisionResponse
// @Failure 400 {string} string "invalid input"
// @Failure 401 {string} string "unauthorized"
// @Failure 503 {string} string "audit log unavailable"
// @Router /access-check [get]
func checkAccessHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		perm := accessgrants.Permission(strings.ToLower(strings.TrimSpace(q.Get("permission"))))
		if perm == "" {
			perm = accessgrants.PermissionRead
		}

		d, err := e.CheckAccess(r.Context(), claims.UserID, q.Get("owner_id"), q.Get("record_id"), perm)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidInput):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, audit.ErrUnavailable), accessgrants.IsRetryable(err):
				w.Header().Set("Retry-After", "1")
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		out := decisionResponse{
			Allowed:      d.Allowed,
			Reason:       d.Reason,
			AuditEntryID: d.AuditEntryID,
			CheckedAt:    d.CheckedAt,
		}
		if d.Grant != nil {
			out.GrantID = d.Grant.ID
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
