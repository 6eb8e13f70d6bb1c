package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"health-access-ledger/internal/ports/principals"
)

// Directory resuelve principals contra la tabla principals.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Exists(ctx context.Context, principalID string) (bool, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return false, nil
	}
	var ok bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM principals WHERE id = $1)`, principalID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: %v", principals.ErrUnavailable, err)
	}
	return ok, nil
}

// Add registra un principal; es idempotente.
func (d *Directory) Add(ctx context.Context, principalID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO principals (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		strings.TrimSpace(principalID),
	)
	return err
}
