package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
	"health-access-ledger/internal/domain/records"
	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/platform/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidInput = errors.New("invalid input")

// GrantLister es el subconjunto del ledger que usa el engine.
type GrantLister interface {
	ListGrants(ctx context.Context, ownerID string, includeRevoked bool) ([]accessgrants.Grant, error)
}

type RecordLookup interface {
	GetRecord(ctx context.Context, recordID string) (records.Record, error)
}

// Engine decide Allow/Deny. Es read-only contra ledger y records; su único
// efecto es la entrada de auditoría de cada check.
type Engine struct {
	grants  GrantLister
	records RecordLookup
	audit   *audit.Log

	now     func() time.Time
	log     logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option     { return func(e *Engine) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithTracer(t trace.Tracer) Option      { return func(e *Engine) { e.tracer = t } }

func NewEngine(grants GrantLister, recs RecordLookup, auditLog *audit.Log, opts ...Option) *Engine {
	e := &Engine{
		grants:  grants,
		records: recs,
		audit:   auditLog,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		log:     logger.Nop(),
		tracer:  otel.Tracer("health-access-ledger/access"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CheckAccess evalúa si requesterID puede ejercer perm sobre recordID del owner.
// Si el audit append falla no hay decisión: se devuelve el error.
func (e *Engine) CheckAccess(ctx context.Context, requesterID, ownerID, recordID string, perm accessgrants.Permission) (Decision, error) {
	requesterID = strings.TrimSpace(requesterID)
	ownerID = strings.TrimSpace(ownerID)
	recordID = strings.TrimSpace(recordID)
	if requesterID == "" || ownerID == "" || recordID == "" || !perm.Valid() {
		return Decision{}, ErrInvalidInput
	}

	t := target{RecordID: recordID}
	mismatch := false
	if requesterID != ownerID && e.records != nil {
		rec, err := e.records.GetRecord(ctx, recordID)
		switch {
		case err == nil:
			t.Type = string(rec.Type)
			mismatch = rec.OwnerID != ownerID
		case errors.Is(err, records.ErrNotFound):
			// Registro desconocido: sólo filtros all/record pueden matchear.
		default:
			return Decision{}, err
		}
	}

	return e.decide(ctx, requesterID, ownerID, t, perm, mismatch)
}

// CheckNewRecord evalúa si requesterID puede crear un registro de tipo t en
// la historia del owner. Un filtro por record nunca cubre un registro nuevo.
func (e *Engine) CheckNewRecord(ctx context.Context, requesterID, ownerID string, t records.RecordType) (Decision, error) {
	requesterID = strings.TrimSpace(requesterID)
	ownerID = strings.TrimSpace(ownerID)
	if requesterID == "" || ownerID == "" || t == "" {
		return Decision{}, ErrInvalidInput
	}
	return e.decide(ctx, requesterID, ownerID, target{Type: string(t)}, accessgrants.PermissionWrite, false)
}

// AuthorizeRecord implementa records.Authorizer.
func (e *Engine) AuthorizeRecord(ctx context.Context, requesterID string, rec records.Record, write bool) (bool, error) {
	perm := accessgrants.PermissionRead
	if write {
		perm = accessgrants.PermissionWrite
	}
	d, err := e.decide(ctx, strings.TrimSpace(requesterID), rec.OwnerID, target{RecordID: rec.ID, Type: string(rec.Type)}, perm, false)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// AuthorizeNewRecord implementa records.Authorizer.
func (e *Engine) AuthorizeNewRecord(ctx context.Context, requesterID, ownerID string, t records.RecordType) (bool, error) {
	d, err := e.CheckNewRecord(ctx, requesterID, ownerID, t)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func (e *Engine) decide(ctx context.Context, requesterID, ownerID string, t target, perm accessgrants.Permission, mismatch bool) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "access.check", trace.WithAttributes(
		attribute.String("ledger.owner_id", ownerID),
		attribute.String("ledger.record_id", t.RecordID),
		attribute.String("ledger.permission", string(perm)),
	))
	defer span.End()

	now := e.now()
	d := Decision{CheckedAt: now}

	switch {
	case requesterID == ownerID:
		d.Allowed = true
		d.Reason = ReasonOwnerSelfAccess
	case mismatch:
		d.Reason = ReasonRecordOwnerMismatch
	default:
		items, err := e.grants.ListGrants(ctx, ownerID, false)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list grants")
			return Decision{}, err
		}
		if g, ok := bestMatch(items, requesterID, t, perm, now); ok {
			d.Allowed = true
			d.Reason = ReasonGrantMatch
			d.Grant = &g
		} else {
			d.Reason = ReasonNoMatchingGrant
		}
	}

	entry := audit.Entry{
		Timestamp:        now,
		ActorID:          requesterID,
		Action:           audit.ActionAccessCheck,
		SubjectOwnerID:   ownerID,
		SubjectGranteeID: requesterID,
		RecordID:         t.RecordID,
		Permission:       string(perm),
		Result:           audit.ResultDeny,
		Reason:           string(d.Reason),
	}
	if d.Allowed {
		entry.Result = audit.ResultAllow
	}
	if d.Grant != nil {
		entry.GrantID = d.Grant.ID
	}

	id, err := e.audit.Append(ctx, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit append")
		return Decision{}, err
	}
	d.AuditEntryID = id

	e.metrics.ObserveDecision(d.result(), string(d.Reason))
	span.SetAttributes(
		attribute.Bool("ledger.allowed", d.Allowed),
		attribute.String("ledger.reason", string(d.Reason)),
	)
	if !d.Allowed {
		e.log.Debug("access denied", map[string]any{
			"requester_id": requesterID,
			"owner_id":     ownerID,
			"record_id":    t.RecordID,
			"permission":   string(perm),
			"reason":       string(d.Reason),
		})
	}
	return d, nil
}

// bestMatch filtra los grants aplicables y elige el de filtro más específico
// (record > category > all); a igual especificidad gana el más reciente.
func bestMatch(items []accessgrants.Grant, requesterID string, t target, perm accessgrants.Permission, now time.Time) (accessgrants.Grant, bool) {
	var best accessgrants.Grant
	found := false

	for _, g := range items {
		if g.GranteeID != requesterID {
			continue
		}
		if accessgrants.EffectiveStatus(g, now) != accessgrants.StatusActive {
			continue
		}
		if !g.InWindow(now) {
			continue
		}
		if !g.Filter.Matches(t.RecordID, t.Type) {
			continue
		}
		if !g.Scope.Covers(perm) {
			continue
		}

		if !found || moreSpecific(g, best) {
			best = g
			found = true
		}
	}
	return best, found
}

func moreSpecific(a, b accessgrants.Grant) bool {
	sa, sb := a.Filter.Specificity(), b.Filter.Specificity()
	if sa != sb {
		return sa > sb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
