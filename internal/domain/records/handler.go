package records

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/middleware"
	"health-access-ledger/internal/ports/content"
	"health-access-ledger/internal/ports/principals"

	"github.com/go-chi/chi/v5"
)

const DefaultMaxUploadBytes int64 = 10 << 20

type RouteOptions struct {
	MaxUploadBytes int64
	// CreateMiddlewares se aplican sólo a POST /records (p. ej. Idempotency-Key).
	CreateMiddlewares []func(http.Handler) http.Handler
}

func RegisterRoutes(r chi.Router, svc *Service, opts RouteOptions) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	r.Route("/records", func(rr chi.Router) {
		rr.With(opts.CreateMiddlewares...).Post("/", createRecordHandler(svc))
		rr.Post("/content", uploadRecordHandler(svc, opts.MaxUploadBytes))

		// Owner o profesional con grant de lectura
		rr.Get("/{recordID}", getRecordHandler(svc))
		rr.Get("/{recordID}/content", getRecordContentHandler(svc))

		// Owner o profesional con grant de escritura
		rr.Post("/{recordID}/amend", amendRecordHandler(svc))
	})

	r.Get("/owners/{ownerID}/records", listOwnerRecordsHandler(svc))
}

type createRecordRequest struct {
	OwnerID    string `json:"owner_id"`
	RecordType string `json:"record_type"`
	ContentRef string `json:"content_ref"`
}

type amendRecordRequest struct {
	ContentRef string `json:"content_ref"`
}

type recordResponse struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	AuthorID     string    `json:"author_id,omitempty"`
	RecordType   string    `json:"record_type"`
	ContentRef   string    `json:"content_ref"`
	SupersedesID string    `json:"supersedes_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type recordPageResponse struct {
	Items      []recordResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// createRecordHandler godoc
// @Summary Crear referencia a un registro clínico
// @Description Registra un documento ya almacenado (content_ref). Si el usuario autenticado no es el owner necesita un grant de escritura sobre la categoría. Acepta Idempotency-Key.
// @Tags records
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param Idempotency-Key header string false "Clave para reintentos seguros"
// @Param body body createRecordRequest true "Datos del registro"
// @Success 201 {object} recordResponse
// @Failure 400 {string} string "invalid input"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 422 {string} string "owner desconocido"
// @Router /records [post]
func createRecordHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req createRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		ownerID := strings.TrimSpace(req.OwnerID)
		if ownerID == "" {
			// Sin owner_id el paciente sube a su propia historia.
			ownerID = claims.UserID
		}

		rec, err := svc.Submit(r.Context(), claims.UserID, CreateInput{
			OwnerID:    ownerID,
			Type:       RecordType(req.RecordType),
			ContentRef: req.ContentRef,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRecordResponse(rec))
	}
}

// uploadRecordHandler godoc
// @Summary Subir contenido y crear registro
// @Description El cuerpo son los bytes del documento. Se guardan en el content store y se crea el registro que los referencia.
// @Tags records
// @Accept octet-stream
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param owner_id query string false "Owner (default: usuario autenticado)"
// @Param record_type query string true "consultation | lab-result | imaging | prescription | other"
// @Success 201 {object} recordResponse
// @Failure 400 {string} string "invalid input"
// @Failure 403 {string} string "forbidden"
// @Failure 413 {string} string "payload too large"
// @Failure 503 {string} string "content store unavailable"
// @Router /records/content [post]
func uploadRecordHandler(svc *Service, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		ownerID := strings.TrimSpace(q.Get("owner_id"))
		if ownerID == "" {
			ownerID = claims.UserID
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		rec, err := svc.Upload(r.Context(), claims.UserID, CreateInput{
			OwnerID: ownerID,
			Type:    RecordType(q.Get("record_type")),
		}, data)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRecordResponse(rec))
	}
}

// getRecordHandler godoc
// @Summary Ver metadata de un registro
// @Tags records
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param recordID path string true "ID del registro"
// @Success 200 {object} recordResponse
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "record not found"
// @Router /records/{recordID} [get]
func getRecordHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rec, err := svc.ReadRecord(r.Context(), claims.UserID, chi.URLParam(r, "recordID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

// getRecordContentHandler godoc
// @Summary Descargar contenido de un registro
// @Tags records
// @Produce octet-stream
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param recordID path string true "ID del registro"
// @Success 200 {file} binary
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 503 {string} string "content store unavailable"
// @Router /records/{recordID}/content [get]
func getRecordContentHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rec, data, err := svc.ReadContent(r.Context(), claims.UserID, chi.URLParam(r, "recordID"))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("ETag", strconv.Quote(rec.ContentRef))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// amendRecordHandler godoc
// @Summary Enmendar un registro
// @Description Crea un registro nuevo que reemplaza al indicado; el original no se modifica.
// @Tags records
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param recordID path string true "ID del registro a enmendar"
// @Param body body amendRecordRequest true "Nuevo contenido"
// @Success 201 {object} recordResponse
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "record not found"
// @Router /records/{recordID}/amend [post]
func amendRecordHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req amendRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		rec, err := svc.Amend(r.Context(), claims.UserID, chi.URLParam(r, "recordID"), req.ContentRef)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRecordResponse(rec))
	}
}

// listOwnerRecordsHandler godoc
// @Summary Listar registros de un owner
// @Description Newest-first, paginado por cursor. Sólo el propio owner puede listar.
// @Tags records
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param ownerID path string true "ID del owner"
// @Param before query string false "Cursor devuelto en next_cursor"
// @Param limit query int false "Tamaño de página (1-200)"
// @Success 200 {object} recordPageResponse
// @Failure 403 {string} string "forbidden"
// @Router /owners/{ownerID}/records [get]
func listOwnerRecordsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ownerID := chi.URLParam(r, "ownerID")
		if ownerID != claims.UserID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		q := r.URL.Query()
		var before *Cursor
		if raw := strings.TrimSpace(q.Get("before")); raw != "" {
			c, err := DecodeCursor(raw)
			if err != nil {
				http.Error(w, "invalid cursor", http.StatusBadRequest)
				return
			}
			before = &c
		}
		limit := 0
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > MaxPageSize {
				http.Error(w, "limit must be between 1 and 200", http.StatusBadRequest)
				return
			}
			limit = n
		}

		items, next, err := svc.ListRecordsForOwner(r.Context(), ownerID, before, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		out := recordPageResponse{Items: make([]recordResponse, 0, len(items))}
		for _, rec := range items {
			out.Items = append(out.Items, toRecordResponse(rec))
		}
		if next != nil {
			out.NextCursor = EncodeCursor(*next)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func EncodeCursor(c Cursor) string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidInput
	}
	ts, id, ok := strings.Cut(string(b), "|")
	if !ok || id == "" {
		return Cursor{}, ErrInvalidInput
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, ErrInvalidInput
	}
	return Cursor{CreatedAt: t, ID: id}, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrInvalidOwner):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "record not found", http.StatusNotFound)
	case errors.Is(err, content.ErrNotFound):
		http.Error(w, "content not found", http.StatusNotFound)
	case errors.Is(err, content.ErrStoreUnavailable), errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, principals.ErrUnavailable), errors.Is(err, audit.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toRecordResponse(rec Record) recordResponse {
	return recordResponse{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		AuthorID:     rec.AuthorID,
		RecordType:   string(rec.Type),
		ContentRef:   rec.ContentRef,
		SupersedesID: rec.SupersedesID,
		CreatedAt:    rec.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
