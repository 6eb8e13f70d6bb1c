package records

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/ports/content"
	"health-access-ledger/internal/ports/principals"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidType  = errors.New("invalid record type")
	ErrInvalidOwner = errors.New("unknown owner")
	ErrNotFound     = errors.New("record not found")
	ErrForbidden    = errors.New("forbidden")
	// ErrStoreUnavailable lo devuelven los adapters ante fallas de storage.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Authorizer decide accesos de terceros sobre registros.
// Evita importar el paquete access (rompe ciclos).
type Authorizer interface {
	AuthorizeRecord(ctx context.Context, requesterID string, rec Record, write bool) (bool, error)
	AuthorizeNewRecord(ctx context.Context, requesterID, ownerID string, t RecordType) (bool, error)
}

type Service struct {
	repo       Repository
	content    content.Store
	principals principals.Directory
	authz      Authorizer
	now        func() time.Time
	log        logger.Logger
}

type Option func(*Service)

func WithContentStore(c content.Store) Option     { return func(s *Service) { s.content = c } }
func WithDirectory(d principals.Directory) Option { return func(s *Service) { s.principals = d } }
func WithLogger(l logger.Logger) Option           { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		log:  logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAuthorizer se llama desde el router una vez construido el engine
// (el engine a su vez depende de este service).
func (s *Service) SetAuthorizer(a Authorizer) {
	s.authz = a
}

type CreateInput struct {
	OwnerID    string
	AuthorID   string
	Type       RecordType
	ContentRef string
}

// CreateRecord persiste un Record nuevo. Llamadas duplicadas crean registros
// distintos; la deduplicación es responsabilidad del caller (Idempotency-Key).
func (s *Service) CreateRecord(ctx context.Context, in CreateInput) (Record, error) {
	return s.create(ctx, in, true)
}

// create persiste el Record; verifyOwner=false cuando el caller ya consultó
// el directorio de principals.
func (s *Service) create(ctx context.Context, in CreateInput, verifyOwner bool) (Record, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	contentRef := strings.TrimSpace(in.ContentRef)
	if ownerID == "" || contentRef == "" {
		return Record{}, ErrInvalidInput
	}
	t, err := ParseRecordType(string(in.Type))
	if err != nil {
		return Record{}, err
	}
	if verifyOwner {
		if err := s.checkOwner(ctx, ownerID); err != nil {
			return Record{}, err
		}
	}

	rec := Record{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		AuthorID:   strings.TrimSpace(in.AuthorID),
		Type:       t,
		ContentRef: contentRef,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}

	s.log.Info("record created", map[string]any{
		"record_id": rec.ID,
		"owner_id":  rec.OwnerID,
		"author_id": rec.AuthorID,
		"type":      string(rec.Type),
	})
	return rec, nil
}

// Submit crea un registro en nombre de requesterID. Si no es el owner,
// necesita permiso de escritura sobre la categoría.
func (s *Service) Submit(ctx context.Context, requesterID string, in CreateInput) (Record, error) {
	in, err := s.authorizeNew(ctx, requesterID, in)
	if err != nil {
		return Record{}, err
	}
	return s.CreateRecord(ctx, in)
}

// Upload guarda los bytes en el content store y crea el Record que los referencia.
func (s *Service) Upload(ctx context.Context, requesterID string, in CreateInput, data []byte) (Record, error) {
	if s.content == nil {
		return Record{}, content.ErrStoreUnavailable
	}
	if len(data) == 0 {
		return Record{}, ErrInvalidInput
	}
	// ContentRef lo asigna el store.
	in.ContentRef = "pending"
	in, err := s.authorizeNew(ctx, requesterID, in)
	if err != nil {
		return Record{}, err
	}
	// El owner se valida antes de subir contenido para no dejar blobs huérfanos.
	if err := s.checkOwner(ctx, in.OwnerID); err != nil {
		return Record{}, err
	}

	ref, err := s.content.Put(ctx, data)
	if err != nil {
		return Record{}, err
	}
	in.ContentRef = ref
	return s.create(ctx, in, false)
}

func (s *Service) GetRecord(ctx context.Context, recordID string) (Record, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return Record{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, recordID)
}

// ReadRecord devuelve el registro si requesterID tiene lectura.
func (s *Service) ReadRecord(ctx context.Context, requesterID, recordID string) (Record, error) {
	rec, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return Record{}, err
	}
	if err := s.authorize(ctx, requesterID, rec, false); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) ReadContent(ctx context.Context, requesterID, recordID string) (Record, []byte, error) {
	if s.content == nil {
		return Record{}, nil, content.ErrStoreUnavailable
	}
	rec, err := s.ReadRecord(ctx, requesterID, recordID)
	if err != nil {
		return Record{}, nil, err
	}
	data, err := s.content.Get(ctx, rec.ContentRef)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, data, nil
}

// Amend crea un Record nuevo que reemplaza a priorID. El anterior no se toca.
func (s *Service) Amend(ctx context.Context, requesterID, priorID, contentRef string) (Record, error) {
	contentRef = strings.TrimSpace(contentRef)
	if contentRef == "" {
		return Record{}, ErrInvalidInput
	}
	prior, err := s.GetRecord(ctx, priorID)
	if err != nil {
		return Record{}, err
	}
	if err := s.authorize(ctx, requesterID, prior, true); err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:           uuid.NewString(),
		OwnerID:      prior.OwnerID,
		AuthorID:     authorFor(requesterID, prior.OwnerID),
		Type:         prior.Type,
		ContentRef:   contentRef,
		SupersedesID: prior.ID,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}

	s.log.Info("record amended", map[string]any{
		"record_id":  rec.ID,
		"supersedes": prior.ID,
		"owner_id":   rec.OwnerID,
	})
	return rec, nil
}

// ListRecordsForOwner devuelve una página newest-first y el cursor para
// continuar (nil si no hay más).
func (s *Service) ListRecordsForOwner(ctx context.Context, ownerID string, before *Cursor, limit int) ([]Record, *Cursor, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	items, err := s.repo.ListByOwner(ctx, ownerID, before, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(items) < limit {
		return items, nil, nil
	}
	next := items[len(items)-1].Cursor()
	return items, &next, nil
}

// AllForOwner recorre todos los registros del owner, newest-first, paginando
// de forma lazy contra el repo.
func (s *Service) AllForOwner(ctx context.Context, ownerID string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		var before *Cursor
		for {
			items, next, err := s.ListRecordsForOwner(ctx, ownerID, before, MaxPageSize)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, r := range items {
				if !yield(r, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			before = next
		}
	}
}

// OwnerOf expone el ownerID de un registro.
func (s *Service) OwnerOf(ctx context.Context, recordID string) (string, error) {
	rec, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return "", err
	}
	return rec.OwnerID, nil
}

func (s *Service) authorizeNew(ctx context.Context, requesterID string, in CreateInput) (CreateInput, error) {
	requesterID = strings.TrimSpace(requesterID)
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	if requesterID == "" || in.OwnerID == "" || strings.TrimSpace(in.ContentRef) == "" {
		return in, ErrInvalidInput
	}
	t, err := ParseRecordType(string(in.Type))
	if err != nil {
		return in, err
	}
	in.Type = t
	in.AuthorID = authorFor(requesterID, in.OwnerID)

	if requesterID == in.OwnerID {
		return in, nil
	}
	if s.authz == nil {
		return in, ErrForbidden
	}
	ok, err := s.authz.AuthorizeNewRecord(ctx, requesterID, in.OwnerID, t)
	if err != nil {
		return in, err
	}
	if !ok {
		return in, ErrForbidden
	}
	return in, nil
}

func (s *Service) authorize(ctx context.Context, requesterID string, rec Record, write bool) error {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return ErrInvalidInput
	}
	if s.authz == nil {
		if requesterID == rec.OwnerID {
			return nil
		}
		return ErrForbidden
	}
	ok, err := s.authz.AuthorizeRecord(ctx, requesterID, rec, write)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *Service) checkOwner(ctx context.Context, ownerID string) error {
	if s.principals == nil {
		return nil
	}
	ok, err := s.principals.Exists(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", principals.ErrUnavailable, err)
	}
	if !ok {
		return ErrInvalidOwner
	}
	return nil
}

func authorFor(requesterID, ownerID string) string {
	if requesterID == ownerID {
		return ""
	}
	return requesterID
}
