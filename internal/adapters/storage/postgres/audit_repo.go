package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"health-access-ledger/internal/domain/audit"
)

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// execer lo cumplen *sql.DB y *sql.Tx; el ledger inserta auditoría dentro
// de su propia transacción.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, e audit.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, ts, actor_id, action,
			subject_owner_id, subject_grantee_id,
			grant_id, record_id, permission,
			result, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		e.ID,
		e.Timestamp,
		e.ActorID,
		string(e.Action),
		e.SubjectOwnerID,
		e.SubjectGranteeID,
		e.GrantID,
		e.RecordID,
		e.Permission,
		string(e.Result),
		e.Reason,
	)
	return err
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	return insertAudit(ctx, r.db, e)
}

func (r *AuditRepo) QueryByOwner(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	ownerID := strings.TrimSpace(q.OwnerID)
	if ownerID == "" {
		return nil, nil
	}

	where := []string{"subject_owner_id = $1"}
	args := []any{ownerID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !q.From.IsZero() {
		where = append(where, "ts >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "ts < "+arg(q.To))
	}
	if q.After != nil {
		ts := arg(q.After.Timestamp)
		where = append(where, "(ts, id) > ("+ts+", "+arg(q.After.ID)+")")
	}

	query := `
		SELECT id, ts, actor_id, action, subject_owner_id, subject_grantee_id,
		       grant_id, record_id, permission, result, reason
		FROM audit_entries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ts ASC, id ASC`
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var action, result string
		if err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&e.ActorID,
			&action,
			&e.SubjectOwnerID,
			&e.SubjectGranteeID,
			&e.GrantID,
			&e.RecordID,
			&e.Permission,
			&result,
			&e.Reason,
		); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		e.Action = audit.Action(action)
		e.Result = audit.Result(result)
		out = append(out, e)
	}
	return out, rows.Err()
}
