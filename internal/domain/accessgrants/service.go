package accessgrants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/domain/records"
	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/platform/metrics"
	"health-access-ledger/internal/ports/principals"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrSelfGrant              = errors.New("cannot grant access to self")
	ErrInvalidWindow          = errors.New("valid_until must be after valid_from")
	ErrInvalidOwner           = errors.New("unknown owner")
	ErrInvalidGrantee         = errors.New("unknown grantee")
	ErrNotOwner               = errors.New("caller is not the grant owner")
	ErrAlreadyRevoked         = errors.New("grant already revoked")
	ErrConcurrentModification = errors.New("grant modified concurrently")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	// ErrStoreUnavailable lo devuelven los adapters ante fallas de storage.
	ErrStoreUnavailable = errors.New("grant store unavailable")
)

// IsRetryable reporta errores que el caller puede reintentar con la misma semántica.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, principals.ErrUnavailable) ||
		errors.Is(err, audit.ErrUnavailable)
}

// grantAttempts acota los reintentos internos de Grant cuando un revoke
// concurrente cambia la versión de un grant que íbamos a reemplazar.
const grantAttempts = 3

type Service struct {
	repo       Repository
	principals principals.Directory
	audit      *audit.Log
	now        func() time.Time
	log        logger.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithDirectory(d principals.Directory) Option { return func(s *Service) { s.principals = d } }
func WithLogger(l logger.Logger) Option           { return func(s *Service) { s.log = l } }
func WithMetrics(m *metrics.Metrics) Option       { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }

func NewService(repo Repository, auditLog *audit.Log, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		audit: auditLog,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type GrantInput struct {
	OwnerID   string
	GranteeID string
	Scope     Scope
	Filter    RecordFilter

	// ValidFrom cero = ahora.
	ValidFrom  time.Time
	ValidUntil *time.Time
}

// Grant crea un grant activo. Si ya había uno activo para la misma key lo
// revoca en la misma unidad atómica (gana el más reciente).
func (s *Service) Grant(ctx context.Context, in GrantInput) (Grant, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	granteeID := strings.TrimSpace(in.GranteeID)

	if ownerID == "" || granteeID == "" || !in.Scope.Valid() {
		return Grant{}, ErrInvalidInput
	}
	filter, err := normalizeFilter(in.Filter)
	if err != nil {
		return Grant{}, err
	}

	now := s.now()
	validFrom := in.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	validFrom = validFrom.UTC().Truncate(time.Microsecond)

	var validUntil *time.Time
	if in.ValidUntil != nil {
		vu := in.ValidUntil.UTC().Truncate(time.Microsecond)
		validUntil = &vu
	}

	failure := audit.Entry{
		ActorID:          ownerID,
		Action:           audit.ActionGrant,
		SubjectOwnerID:   ownerID,
		SubjectGranteeID: granteeID,
		Permission:       string(in.Scope),
		Result:           audit.ResultFailure,
	}

	if ownerID == granteeID {
		return Grant{}, s.fail(ctx, "grant", failure, ErrSelfGrant)
	}
	if validUntil != nil && !validUntil.After(validFrom) {
		return Grant{}, s.fail(ctx, "grant", failure, ErrInvalidWindow)
	}
	if err := s.checkPrincipals(ctx, ownerID, granteeID); err != nil {
		return Grant{}, s.fail(ctx, "grant", failure, err)
	}

	g := Grant{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		GranteeID:  granteeID,
		Scope:      in.Scope,
		Filter:     filter,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
		Status:     StatusActive,
		CreatedAt:  now,
		Version:    1,
	}

	var superseded []string
	for attempt := 1; ; attempt++ {
		superseded, err = s.insertReplacing(ctx, g)
		if err == nil || !errors.Is(err, ErrConcurrentModification) || attempt == grantAttempts {
			break
		}
	}
	if err != nil {
		s.metrics.ObserveLedgerOp("grant", "error")
		if errors.Is(err, audit.ErrUnavailable) {
			s.audit.ReportFailure(audit.Entry{Action: audit.ActionGrant, ActorID: ownerID, SubjectOwnerID: ownerID}, err)
		}
		return Grant{}, err
	}

	s.metrics.ObserveLedgerOp("grant", "success")
	fields := map[string]any{
		"grant_id":   g.ID,
		"owner_id":   g.OwnerID,
		"grantee_id": g.GranteeID,
		"scope":      string(g.Scope),
		"filter":     g.Filter.String(),
	}
	if len(superseded) > 0 {
		fields["superseded"] = superseded
	}
	s.log.Info("grant created", fields)
	return g, nil
}

func (s *Service) insertReplacing(ctx context.Context, g Grant) ([]string, error) {
	var superseded []string
	err := s.repo.WithinKey(ctx, g.Key(), func(tx Tx) error {
		superseded = superseded[:0]

		active, err := tx.ActiveByKey(ctx, g.Key())
		if err != nil {
			return err
		}
		for _, prev := range active {
			if _, err := tx.MarkRevoked(ctx, prev, g.CreatedAt); err != nil {
				return err
			}
			superseded = append(superseded, prev.ID)
		}

		if err := tx.Insert(ctx, g); err != nil {
			return err
		}

		reason := "filter=" + g.Filter.String()
		if len(superseded) > 0 {
			reason += " superseded=" + strings.Join(superseded, ",")
		}
		return tx.AppendAudit(ctx, s.audit.Prepare(audit.Entry{
			ActorID:          g.OwnerID,
			Action:           audit.ActionGrant,
			SubjectOwnerID:   g.OwnerID,
			SubjectGranteeID: g.GranteeID,
			GrantID:          g.ID,
			Permission:       string(g.Scope),
			Result:           audit.ResultSuccess,
			Reason:           reason,
		}))
	})
	return superseded, err
}

// Revoke revoca un grant activo. Sólo el owner puede revocar; revocar dos
// veces devuelve ErrAlreadyRevoked.
func (s *Service) Revoke(ctx context.Context, ownerID, grantID string) (Grant, error) {
	ownerID = strings.TrimSpace(ownerID)
	grantID = strings.TrimSpace(grantID)
	if ownerID == "" || grantID == "" {
		return Grant{}, ErrInvalidInput
	}

	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		s.metrics.ObserveLedgerOp("revoke", "error")
		return Grant{}, err
	}

	failure := audit.Entry{
		ActorID:          ownerID,
		Action:           audit.ActionRevoke,
		SubjectOwnerID:   g.OwnerID,
		SubjectGranteeID: g.GranteeID,
		GrantID:          g.ID,
		Permission:       string(g.Scope),
		Result:           audit.ResultFailure,
	}

	if g.OwnerID != ownerID {
		return Grant{}, s.fail(ctx, "revoke", failure, ErrNotOwner)
	}
	// Un grant vencido sigue almacenado como activo y se puede revocar.
	if g.Status != StatusActive {
		return Grant{}, s.fail(ctx, "revoke", failure, ErrAlreadyRevoked)
	}

	now := s.now()
	var revoked Grant
	err = s.repo.Within(ctx, func(tx Tx) error {
		out, err := tx.MarkRevoked(ctx, g, now)
		if err != nil {
			return err
		}
		revoked = out
		return tx.AppendAudit(ctx, s.audit.Prepare(audit.Entry{
			ActorID:          ownerID,
			Action:           audit.ActionRevoke,
			SubjectOwnerID:   g.OwnerID,
			SubjectGranteeID: g.GranteeID,
			GrantID:          g.ID,
			Permission:       string(g.Scope),
			Result:           audit.ResultSuccess,
		}))
	})
	if err != nil {
		s.metrics.ObserveLedgerOp("revoke", "error")
		if errors.Is(err, audit.ErrUnavailable) {
			s.audit.ReportFailure(audit.Entry{Action: audit.ActionRevoke, ActorID: ownerID, SubjectOwnerID: g.OwnerID}, err)
		}
		return Grant{}, err
	}

	s.metrics.ObserveLedgerOp("revoke", "success")
	s.log.Info("grant revoked", map[string]any{
		"grant_id":   revoked.ID,
		"owner_id":   revoked.OwnerID,
		"grantee_id": revoked.GranteeID,
	})
	return revoked, nil
}

// ListGrants devuelve los grants del owner, createdAt descendente. Sin
// includeRevoked se omiten los revocados; los vencidos se listan igual.
func (s *Service) ListGrants(ctx context.Context, ownerID string, includeRevoked bool) ([]Grant, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(items))
	for _, g := range items {
		if !includeRevoked && g.Status == StatusRevoked {
			continue
		}
		out = append(out, g)
	}
	SortNewestFirst(out)
	return out, nil
}

// ListGrantsForGrantee es la vista "compartido conmigo".
func (s *Service) ListGrantsForGrantee(ctx context.Context, granteeID string, includeRevoked bool) ([]Grant, error) {
	granteeID = strings.TrimSpace(granteeID)
	if granteeID == "" {
		return nil, ErrInvalidInput
	}
	items, err := s.repo.ListByGrantee(ctx, granteeID)
	if err != nil {
		return nil, err
	}
	out := make([]Grant, 0, len(items))
	for _, g := range items {
		if !includeRevoked && g.Status == StatusRevoked {
			continue
		}
		out = append(out, g)
	}
	SortNewestFirst(out)
	return out, nil
}

// GetGrant sólo es visible para owner o grantee.
func (s *Service) GetGrant(ctx context.Context, callerID, grantID string) (Grant, error) {
	callerID = strings.TrimSpace(callerID)
	grantID = strings.TrimSpace(grantID)
	if callerID == "" || grantID == "" {
		return Grant{}, ErrInvalidInput
	}
	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return Grant{}, err
	}
	if g.OwnerID != callerID && g.GranteeID != callerID {
		return Grant{}, ErrForbidden
	}
	return g, nil
}

// EffectiveStatus evalúa el estado con el reloj del service.
func (s *Service) EffectiveStatus(g Grant) Status {
	return EffectiveStatus(g, s.now())
}

func (s *Service) Now() time.Time {
	return s.now()
}

// SortNewestFirst ordena por createdAt descendente y desempata por id.
func SortNewestFirst(items []Grant) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func (s *Service) checkPrincipals(ctx context.Context, ownerID, granteeID string) error {
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
	ok, err = s.principals.Exists(ctx, granteeID)
	if err != nil {
		return fmt.Errorf("%w: %v", principals.ErrUnavailable, err)
	}
	if !ok {
		return ErrInvalidGrantee
	}
	return nil
}

// fail deja una entrada de auditoría con el rechazo. Es best-effort: si el
// append falla se reporta y se devuelve igual el error original.
func (s *Service) fail(ctx context.Context, op string, e audit.Entry, cause error) error {
	s.metrics.ObserveLedgerOp(op, "rejected")
	e.Reason = cause.Error()
	if _, err := s.audit.Append(ctx, e); err != nil {
		s.log.Warn("failure audit not recorded", map[string]any{
			"operation": op,
			"cause":     cause,
			"error":     err,
		})
	}
	s.log.Debug(op+" rejected", map[string]any{
		"owner_id": e.SubjectOwnerID,
		"actor_id": e.ActorID,
		"reason":   cause.Error(),
	})
	return cause
}

func normalizeFilter(f RecordFilter) (RecordFilter, error) {
	value := strings.TrimSpace(f.Value)
	switch f.Kind {
	case "", FilterAll:
		if value != "" {
			return RecordFilter{}, ErrInvalidInput
		}
		return FilterAllRecords, nil
	case FilterRecord:
		if value == "" {
			return RecordFilter{}, ErrInvalidInput
		}
		return RecordFilter{Kind: FilterRecord, Value: value}, nil
	case FilterCategory:
		t, err := records.ParseRecordType(value)
		if err != nil {
			return RecordFilter{}, ErrInvalidInput
		}
		return RecordFilter{Kind: FilterCategory, Value: string(t)}, nil
	default:
		return RecordFilter{}, ErrInvalidInput
	}
}
