package audit

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"health-access-ledger/internal/middleware"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, l *Log) {
	r.Get("/audit", queryAuditHandler(l))
}

// entryResponse representa una entrada del audit log devuelta por la API.
type entryResponse struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	ActorID          string    `json:"actor_id"`
	Action           Action    `json:"action"`
	SubjectOwnerID   string    `json:"subject_owner_id"`
	SubjectGranteeID string    `json:"subject_grantee_id,omitempty"`
	GrantID          string    `json:"grant_id,omitempty"`
	RecordID         string    `json:"record_id,omitempty"`
	Permission       string    `json:"permission,omitempty"`
	Result           Result    `json:"result"`
	Reason           string    `json:"reason,omitempty"`
}

type pageResponse struct {
	Items      []entryResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// queryAuditHandler godoc
// @Summary Consultar audit log del owner
// @Description Devuelve las entradas de auditoría (grant, revoke, access_check) donde el usuario autenticado es el owner, en orden ascendente. Paginado por cursor; con `Accept: application/x-ndjson` se transmite la secuencia completa.
// @Tags audit
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param from query string false "Desde (RFC3339, inclusivo)"
// @Param to query string false "Hasta (RFC3339, exclusivo)"
// @Param after query string false "Cursor devuelto en next_cursor"
// @Param limit query int false "Máximo de entradas por página (1-100)"
// @Success 200 {object} pageResponse
// @Failure 400 {string} string "parámetros inválidos"
// @Failure 401 {string} string "unauthorized"
// @Failure 503 {string} string "audit log unavailable"
// @Router /audit [get]
func queryAuditHandler(l *Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q, err := parseQuery(r, claims.UserID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "application/x-ndjson") {
			streamNDJSON(w, r, l, q)
			return
		}

		items, next, err := l.Page(r.Context(), q)
		if err != nil {
			writeError(w, err)
			return
		}

		out := pageResponse{Items: make([]entryResponse, 0, len(items))}
		for _, e := range items {
			out.Items = append(out.Items, toEntryResponse(e))
		}
		if next != nil {
			out.NextCursor = EncodeCursor(*next)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func streamNDJSON(w http.ResponseWriter, r *http.Request, l *Log, q Query) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	wrote := false
	for e, err := range l.Scan(r.Context(), q) {
		if err != nil {
			// Si todavía no escribimos nada, devolvemos error HTTP; si no, cortamos el stream.
			if !wrote {
				writeError(w, err)
			}
			return
		}
		if !wrote {
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		_ = enc.Encode(toEntryResponse(e))
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !wrote {
		w.WriteHeader(http.StatusOK)
	}
}

func parseQuery(r *http.Request, ownerID string) (Query, error) {
	v := r.URL.Query()
	q := Query{OwnerID: ownerID}

	if s := strings.TrimSpace(v.Get("from")); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Query{}, errors.New("from must be RFC3339")
		}
		q.From = t
	}
	if s := strings.TrimSpace(v.Get("to")); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Query{}, errors.New("to must be RFC3339")
		}
		q.To = t
	}
	if s := strings.TrimSpace(v.Get("after")); s != "" {
		p, err := DecodeCursor(s)
		if err != nil {
			return Query{}, err
		}
		q.After = &p
	}
	if s := strings.TrimSpace(v.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > DefaultPageSize {
			return Query{}, errors.New("limit must be between 1 and 100")
		}
		q.Limit = n
	}
	return q, nil
}

// EncodeCursor serializa una Position como token opaco.
func EncodeCursor(p Position) string {
	raw := p.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + p.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Position, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Position{}, errors.New("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(b), "|")
	if !ok || id == "" {
		return Position{}, errors.New("invalid cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Position{}, errors.New("invalid cursor")
	}
	return Position{Timestamp: t, ID: id}, nil
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:               e.ID,
		Timestamp:        e.Timestamp,
		ActorID:          e.ActorID,
		Action:           e.Action,
		SubjectOwnerID:   e.SubjectOwnerID,
		SubjectGranteeID: e.SubjectGranteeID,
		GrantID:          e.GrantID,
		RecordID:         e.RecordID,
		Permission:       e.Permission,
		Result:           e.Result,
		Reason:           e.Reason,
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "audit log unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
