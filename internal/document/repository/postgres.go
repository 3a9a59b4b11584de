package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elshodweb/diploma-backend/internal/document"
	"github.com/elshodweb/diploma-backend/pkg/apperrors"
)

const documentColumns = "id, title, description, content_hash, size, status, owner_id, created_at, updated_at"

// PostgresRepo stores document rows in the documents table created by
// database.RunMigrations.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

func (p *PostgresRepo) Save(ctx context.Context, d *document.Document) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.Title, d.Description, d.ContentHash, d.Size, string(d.Status), d.OwnerID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("save document %s: already exists: %w", d.ID, apperrors.ErrInvalidInput)
		}
		return fmt.Errorf("save document %s: %w", d.ID, err)
	}
	return nil
}

func (p *PostgresRepo) LoadByID(ctx context.Context, id string) (*document.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanOne(row, id)
}

func (p *PostgresRepo) ListByOwner(ctx context.Context, ownerID string) ([]*document.Document, error) {
	return p.query(ctx, `SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (p *PostgresRepo) ListAll(ctx context.Context) ([]*document.Document, error) {
	return p.query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at, id`)
}

func (p *PostgresRepo) query(ctx context.Context, sql string, args ...any) ([]*document.Document, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	out := []*document.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) Delete(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresRepo) CASUpdateStatus(ctx context.Context, id string, expected, next document.Status, at time.Time) (*document.Document, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE documents SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2 RETURNING `+documentColumns,
		id, string(expected), string(next), at,
	)
	d, err := scanOne(row, id)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if _, lerr := p.LoadByID(ctx, id); lerr != nil {
		return nil, lerr
	}
	return nil, fmt.Errorf("document %s: %w", id, ErrStatusConflict)
}

func (p *PostgresRepo) UpdateMetadata(ctx context.Context, id string, title, description *string, at time.Time) (*document.Document, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE documents SET title = COALESCE($2, title), description = COALESCE($3, description), updated_at = $4
		 WHERE id = $1 RETURNING `+documentColumns,
		id, title, description, at,
	)
	return scanOne(row, id)
}

func scanOne(row pgx.Row, id string) (*document.Document, error) {
	d, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return d, nil
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var d document.Document
	var status string
	if err := row.Scan(&d.ID, &d.Title, &d.Description, &d.ContentHash, &d.Size, &status, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = document.Status(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
