package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"health-access-ledger/internal/domain/records"
)

type RecordsRepo struct {
	db *sql.DB
}

func NewRecordsRepo(db *sql.DB) *RecordsRepo {
	return &RecordsRepo{db: db}
}

func (r *RecordsRepo) Create(ctx context.Context, rec records.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (
			id, owner_id, author_id, record_type,
			content_ref, supersedes_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		rec.ID,
		rec.OwnerID,
		toNullString(rec.AuthorID),
		string(rec.Type),
		rec.ContentRef,
		toNullString(rec.SupersedesID),
		rec.CreatedAt,
	)
	return unavailable(records.ErrStoreUnavailable, err)
}

func (r *RecordsRepo) GetByID(ctx context.Context, id string) (records.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return records.Record{}, records.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, author_id, record_type, content_ref, supersedes_id, created_at
		FROM records
		WHERE id = $1
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return records.Record{}, records.ErrNotFound
		}
		return records.Record{}, unavailable(records.ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (r *RecordsRepo) ListByOwner(ctx context.Context, ownerID string, before *records.Cursor, limit int) ([]records.Record, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = records.DefaultPageSize
	}

	var (
		rows *sql.Rows
		err  error
	)
	if before == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, owner_id, author_id, record_type, content_ref, supersedes_id, created_at
			FROM records
			WHERE owner_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, ownerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, owner_id, author_id, record_type, content_ref, supersedes_id, created_at
			FROM records
			WHERE owner_id = $1
			  AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, ownerID, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, unavailable(records.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := make([]records.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(records.ErrStoreUnavailable, err)
		}
		out = append(out, rec)
	}
	return out, unavailable(records.ErrStoreUnavailable, rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (records.Record, error) {
	var rec records.Record
	var recordType string
	var authorID, supersedesID sql.NullString

	if err := s.Scan(
		&rec.ID,
		&rec.OwnerID,
		&authorID,
		&recordType,
		&rec.ContentRef,
		&supersedesID,
		&rec.CreatedAt,
	); err != nil {
		return records.Record{}, err
	}

	rec.AuthorID = authorID.String
	rec.SupersedesID = supersedesID.String
	rec.Type = records.RecordType(recordType)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
