package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"health-access-ledger/internal/domain/accessgrants"
	"health-access-ledger/internal/domain/audit"
)

type AccessGrantsRepo struct {
	db *sql.DB
}

func NewAccessGrantsRepo(db *sql.DB) *AccessGrantsRepo {
	return &AccessGrantsRepo{db: db}
}

const grantColumns = `
	id, owner_id, grantee_id, scope, filter_kind, filter_value,
	valid_from, valid_until, status, created_at, revoked_at, version`

func (r *AccessGrantsRepo) GetByID(ctx context.Context, id string) (accessgrants.Grant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return accessgrants.Grant{}, accessgrants.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM access_grants WHERE id = $1`, id)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accessgrants.Grant{}, accessgrants.ErrNotFound
		}
		return accessgrants.Grant{}, unavailable(accessgrants.ErrStoreUnavailable, err)
	}
	return g, nil
}

func (r *AccessGrantsRepo) ListByOwner(ctx context.Context, ownerID string) ([]accessgrants.Grant, error) {
	return r.list(ctx, `SELECT `+grantColumns+` FROM access_grants
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC`, strings.TrimSpace(ownerID))
}

func (r *AccessGrantsRepo) ListByGrantee(ctx context.Context, granteeID string) ([]accessgrants.Grant, error) {
	return r.list(ctx, `SELECT `+grantColumns+` FROM access_grants
		WHERE grantee_id = $1
		ORDER BY created_at DESC, id DESC`, strings.TrimSpace(granteeID))
}

func (r *AccessGrantsRepo) list(ctx context.Context, query string, arg string) ([]accessgrants.Grant, error) {
	if arg == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, unavailable(accessgrants.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]accessgrants.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, unavailable(accessgrants.ErrStoreUnavailable, err)
		}
		out = append(out, g)
	}
	return out, unavailable(accessgrants.ErrStoreUnavailable, rows.Err())
}

// WithinKey serializa por key con un advisory lock de transacción; se libera
// solo al commit o rollback.
func (r *AccessGrantsRepo) WithinKey(ctx context.Context, key accessgrants.Key, fn func(tx accessgrants.Tx) error) error {
	return r.run(ctx, key.String(), fn)
}

func (r *AccessGrantsRepo) Within(ctx context.Context, fn func(tx accessgrants.Tx) error) error {
	return r.run(ctx, "", fn)
}

func (r *AccessGrantsRepo) run(ctx context.Context, lockKey string, fn func(tx accessgrants.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(accessgrants.ErrStoreUnavailable, err)
	}

	if lockKey != "" {
		if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			_ = sqlTx.Rollback()
			return unavailable(accessgrants.ErrStoreUnavailable, err)
		}
	}

	if err := fn(&grantTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

type grantTx struct {
	tx *sql.Tx
}

func (t *grantTx) ActiveByKey(ctx context.Context, key accessgrants.Key) ([]accessgrants.Grant, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+grantColumns+` FROM access_grants
		WHERE owner_id = $1 AND grantee_id = $2 AND scope = $3
		  AND filter_kind = $4 AND filter_value = $5
		  AND status = 'active'
		FOR UPDATE`,
		key.OwnerID, key.GranteeID, string(key.Scope), string(key.Filter.Kind), key.Filter.Value,
	)
	if err != nil {
		return nil, unavailable(accessgrants.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]accessgrants.Grant, 0, 1)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, unavailable(accessgrants.ErrStoreUnavailable, err)
		}
		out = append(out, g)
	}
	return out, unavailable(accessgrants.ErrStoreUnavailable, rows.Err())
}

func (t *grantTx) Insert(ctx context.Context, g accessgrants.Grant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO access_grants (`+grantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		g.ID,
		g.OwnerID,
		g.GranteeID,
		string(g.Scope),
		string(g.Filter.Kind),
		g.Filter.Value,
		g.ValidFrom,
		toNullTime(g.ValidUntil),
		string(g.Status),
		g.CreatedAt,
		toNullTime(g.RevokedAt),
		g.Version,
	)
	return mapWriteErr(err)
}

// MarkRevoked es un compare-and-swap sobre version: si otra escritura ganó,
// no se actualiza ninguna fila.
func (t *grantTx) MarkRevoked(ctx context.Context, g accessgrants.Grant, revokedAt time.Time) (accessgrants.Grant, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE access_grants
		SET status = 'revoked', revoked_at = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'active'
		RETURNING `+grantColumns,
		g.ID, g.Version, revokedAt,
	)
	out, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accessgrants.Grant{}, accessgrants.ErrConcurrentModification
		}
		return accessgrants.Grant{}, mapWriteErr(err)
	}
	return out, nil
}

func (t *grantTx) AppendAudit(ctx context.Context, e audit.Entry) error {
	if err := insertAudit(ctx, t.tx, e); err != nil {
		return fmt.Errorf("%w: %v", audit.ErrUnavailable, err)
	}
	return nil
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case pgUniqueViolation, pgSerialization, pgDeadlock:
		return accessgrants.ErrConcurrentModification
	}
	return unavailable(accessgrants.ErrStoreUnavailable, err)
}

func scanGrant(s rowScanner) (accessgrants.Grant, error) {
	var g accessgrants.Grant
	var scope, kind, status string
	var validUntil, revokedAt sql.NullTime

	if err := s.Scan(
		&g.ID,
		&g.OwnerID,
		&g.GranteeID,
		&scope,
		&kind,
		&g.Filter.Value,
		&g.ValidFrom,
		&validUntil,
		&status,
		&g.CreatedAt,
		&revokedAt,
		&g.Version,
	); err != nil {
		return accessgrants.Grant{}, err
	}

	g.Scope = accessgrants.Scope(scope)
	g.Filter.Kind = accessgrants.FilterKind(kind)
	g.Status = accessgrants.Status(status)
	g.ValidFrom = g.ValidFrom.UTC()
	g.CreatedAt = g.CreatedAt.UTC()
	g.ValidUntil = fromNullTime(validUntil)
	g.RevokedAt = fromNullTime(revokedAt)
	return g, nil
}
