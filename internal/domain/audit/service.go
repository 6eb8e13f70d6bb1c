package audit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"health-access-ledger/internal/platform/logger"
	"health-access-ledger/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable envuelve fallas del storage; es fatal para la operación que audita.
	ErrUnavailable = errors.New("audit log unavailable")
)

const DefaultPageSize = 100

type Log struct {
	repo     Repository
	now      func() time.Time
	log      logger.Logger
	metrics  *metrics.Metrics
	pageSize int
}

type Option func(*Log)

func WithLogger(l logger.Logger) Option     { return func(a *Log) { a.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(a *Log) { a.metrics = m } }
func WithClock(now func() time.Time) Option { return func(a *Log) { a.now = now } }
func WithPageSize(n int) Option {
	return func(a *Log) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

func NewLog(repo Repository, opts ...Option) *Log {
	l := &Log{
		repo:     repo,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		log:      logger.Nop(),
		pageSize: DefaultPageSize,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Prepare asigna id y timestamp. Lo usan los services que appendean
// dentro de su propia transacción (ledger) en vez de llamar Append.
func (l *Log) Prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = newEntryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	return e
}

// Append persiste una entrada. Nunca descarta en silencio: cualquier falla
// del storage vuelve como ErrUnavailable.
func (l *Log) Append(ctx context.Context, e Entry) (string, error) {
	if strings.TrimSpace(e.SubjectOwnerID) == "" || e.Action == "" {
		return "", ErrInvalidInput
	}

	e = l.Prepare(e)
	if err := l.repo.Append(ctx, e); err != nil {
		l.ReportFailure(e, err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return e.ID, nil
}

// ReportFailure deja rastro de un append fallido (log + métrica).
func (l *Log) ReportFailure(e Entry, err error) {
	l.metrics.IncAuditAppendFailure()
	l.log.Error("audit append failed", map[string]any{
		"action":   string(e.Action),
		"owner_id": e.SubjectOwnerID,
		"actor_id": e.ActorID,
		"error":    err,
	})
}

// Page devuelve hasta q.Limit entradas y la posición para continuar (nil si no hay más).
func (l *Log) Page(ctx context.Context, q Query) ([]Entry, *Position, error) {
	q.OwnerID = strings.TrimSpace(q.OwnerID)
	if q.OwnerID == "" {
		return nil, nil, ErrInvalidInput
	}
	if q.Limit <= 0 || q.Limit > l.pageSize {
		q.Limit = l.pageSize
	}

	items, err := l.repo.QueryByOwner(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(items) < q.Limit {
		return items, nil, nil
	}
	next := items[len(items)-1].Position()
	return items, &next, nil
}

// QueryByOwner es una secuencia lazy en orden ascendente que pagina contra el repo.
// Para reanudar, usar Scan con After = última posición consumida.
func (l *Log) QueryByOwner(ctx context.Context, ownerID string, from, to time.Time) iter.Seq2[Entry, error] {
	return l.Scan(ctx, Query{OwnerID: ownerID, From: from, To: to})
}

func (l *Log) Scan(ctx context.Context, q Query) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for {
			items, next, err := l.Page(ctx, q)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range items {
				if !yield(e, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			q.After = next
		}
	}
}

func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
