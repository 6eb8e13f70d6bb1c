package accessgrants

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/middleware"
	"health-access-ledger/internal/ports/principals"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	// Acciones del owner
	r.Route("/grants", func(gr chi.Router) {
		gr.Post("/", createGrantHandler(svc))
		gr.Get("/", listGrantsHandler(svc))
		gr.Get("/{grantID}", getGrantHandler(svc))
		gr.Delete("/{grantID}", revokeGrantHandler(svc))
	})

	// Profesional: grants compartidos conmigo
	r.Route("/me/grants", func(mr chi.Router) {
		mr.Get("/", listMyGrantsHandler(svc))
	})
}

type createGrantRequest struct {
	GranteeID    string     `json:"grantee_id"`
	Scope        Scope      `json:"scope"`
	RecordFilter string     `json:"record_filter"` // all | category:<tipo> | record:<id>
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

type grantResponse struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	GranteeID       string     `json:"grantee_id"`
	Scope           Scope      `json:"scope"`
	RecordFilter    string     `json:"record_filter"`
	ValidFrom       time.Time  `json:"valid_from"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	Status          Status     `json:"status"`
	EffectiveStatus Status     `json:"effective_status"`
	CreatedAt       time.Time  `json:"created_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	Version         int64      `json:"version"`
}

// createGrantHandler godoc
// @Summary Otorgar acceso a un profesional
// @Description El usuario autenticado (owner) delega lectura o escritura sobre sus registros. Si ya existía un grant activo para la misma combinación (grantee, scope, filtro) queda revocado.
// @Tags grants
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param body body createGrantRequest true "Datos del grant"
// @Success 201 {object} grantResponse
// @Failure 400 {string} string "invalid input / self grant / invalid window"
// @Failure 401 {string} string "unauthorized"
// @Failure 422 {string} string "owner o grantee desconocido"
// @Failure 503 {string} string "storage no disponible"
// @Router /grants [post]
func createGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createGrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.GranteeID) == "" {
			http.Error(w, "grantee_id required", http.StatusBadRequest)
			return
		}
		filter, err := ParseRecordFilter(req.RecordFilter)
		if err != nil {
			http.Error(w, "invalid record_filter", http.StatusBadRequest)
			return
		}

		in := GrantInput{
			OwnerID:    claims.UserID,
			GranteeID:  strings.TrimSpace(req.GranteeID),
			Scope:      Scope(strings.ToLower(strings.TrimSpace(string(req.Scope)))),
			Filter:     filter,
			ValidUntil: req.ValidUntil,
		}
		if req.ValidFrom != nil {
			in.ValidFrom = *req.ValidFrom
		}

		g, err := svc.Grant(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toGrantResponse(g, svc.Now()))
	}
}

// listGrantsHandler godoc
// @Summary Listar grants del owner
// @Description Devuelve los grants otorgados por el usuario autenticado, más recientes primero. Los revocados sólo aparecen con include_revoked=true.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param include_revoked query bool false "Incluir revocados"
// @Success 200 {array} grantResponse
// @Failure 401 {string} string "unauthorized"
// @Router /grants [get]
func listGrantsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListGrants(r.Context(), claims.UserID, parseBool(r.URL.Query().Get("include_revoked")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponses(items, svc.Now()))
	}
}

// getGrantHandler godoc
// @Summary Ver un grant
// @Description Visible para el owner o el grantee.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param grantID path string true "ID del grant"
// @Success 200 {object} grantResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /grants/{grantID} [get]
func getGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.GetGrant(r.Context(), claims.UserID, chi.URLParam(r, "grantID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponse(g, svc.Now()))
	}
}

// revokeGrantHandler godoc
// @Summary Revocar un grant
// @Description Sólo el owner puede revocar. Revocar un grant ya revocado devuelve 409.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param grantID path string true "ID del grant"
// @Success 200 {object} grantResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "not owner"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "already revoked / concurrent modification"
// @Router /grants/{grantID} [delete]
func revokeGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		g, err := svc.Revoke(r.Context(), claims.UserID, chi.URLParam(r, "grantID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponse(g, svc.Now()))
	}
}

// listMyGrantsHandler godoc
// @Summary Grants compartidos conmigo
// @Description Grants donde el usuario autenticado es grantee.
// @Tags grants
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param include_revoked query bool false "Incluir revocados"
// @Success 200 {array} grantResponse
// @Failure 401 {string} string "unauthorized"
// @Router /me/grants [get]
func listMyGrantsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListGrantsForGrantee(r.Context(), claims.UserID, parseBool(r.URL.Query().Get("include_revoked")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantResponses(items, svc.Now()))
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrSelfGrant), errors.Is(err, ErrInvalidWindow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidOwner), errors.Is(err, ErrInvalidGrantee):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrAlreadyRevoked):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrConcurrentModification):
		w.Header().Set("Retry-After", "0")
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, principals.ErrUnavailable), errors.Is(err, audit.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toGrantResponses(items []Grant, now time.Time) []grantResponse {
	out := make([]grantResponse, 0, len(items))
	for _, g := range items {
		out = append(out, toGrantResponse(g, now))
	}
	return out
}

func toGrantResponse(g Grant, now time.Time) grantResponse {
	return grantResponse{
		ID:              g.ID,
		OwnerID:         g.OwnerID,
		GranteeID:       g.GranteeID,
		Scope:           g.Scope,
		RecordFilter:    g.Filter.String(),
		ValidFrom:       g.ValidFrom,
		ValidUntil:      g.ValidUntil,
		Status:          g.Status,
		EffectiveStatus: EffectiveStatus(g, now),
		CreatedAt:       g.CreatedAt,
		RevokedAt:       g.RevokedAt,
		Version:         g.Version,
	}
}

func parseBool(raw string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && b
}

// writeJSON: cada módulo de dominio tiene su propia copia.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
