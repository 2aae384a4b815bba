package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"tryon/internal/domain"
	"tryon/internal/infra"
	"tryon/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository on PostgreSQL.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGenerationRepository constructs the repository.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Insert stores record and returns a copy carrying the store-assigned id and
// creation time.
func (r *GenerationRepositoryPG) Insert(ctx context.Context, record *domain.GenerationRecord) (*domain.GenerationRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: record is required", domain.ErrInvalidArgument)
	}
	out := *record
	if strings.TrimSpace(out.ID) == "" {
		out.ID = uuid.NewString()
	}
	var createdAt time.Time
	err := r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		out.ID,
		out.UserID,
		out.ModelImagePath,
		out.GarmentImagePath,
		out.ResultImagePath,
		string(out.Category),
		string(out.Mode),
		out.ProcessingTime,
		out.ModelImageSize,
		out.GarmentImageSize,
		out.ResultImageSize,
	).Scan(&createdAt)
	if err != nil {
		return nil, mapPGError("insert generation", err)
	}
	out.CreatedAt = createdAt
	return &out, nil
}

// ListByUser returns the user's generations, newest first.
func (r *GenerationRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.GenerationRecord, error) {
	limit, offset = domain.ClampPage(limit, offset)
	rows, err := r.sql.Query(ctx, sqlinline.QListGenerationsByUser, userID, limit, offset)
	if err != nil {
		return nil, mapPGError("list generations", err)
	}
	defer rows.Close()

	records := make([]domain.GenerationRecord, 0, limit)
	for rows.Next() {
		var rec domain.GenerationRecord
		if err := scanGeneration(rows, &rec); err != nil {
			return nil, mapPGError("scan generation", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPGError("list generations", err)
	}
	return records, nil
}

// Get returns the record only to its owner. A row owned by another user is
// reported as ErrUnauthorized without its contents.
func (r *GenerationRepositoryPG) Get(ctx context.Context, id, userID string) (*domain.GenerationRecord, error) {
	var rec domain.GenerationRecord
	var owned bool
	if err := scanGeneration(r.sql.QueryRow(ctx, sqlinline.QSelectGeneration, id, userID), &rec, &owned); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, mapPGError("get generation", err)
	}
	if !owned {
		return nil, domain.ErrUnauthorized
	}
	return &rec, nil
}

// Delete removes the row only when it belongs to userID.
func (r *GenerationRepositoryPG) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteGeneration, id, userID)
	if err != nil {
		return mapPGError("delete generation", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanGeneration reads the shared column list; extra receives any trailing
// query-specific columns.
func scanGeneration(row scanner, rec *domain.GenerationRecord, extra ...any) error {
	var category, mode string
	dest := []any{
		&rec.ID,
		&rec.UserID,
		&rec.ModelImagePath,
		&rec.GarmentImagePath,
		&rec.ResultImagePath,
		&category,
		&mode,
		&rec.CreatedAt,
		&rec.ProcessingTime,
		&rec.ModelImageSize,
		&rec.GarmentImageSize,
		&rec.ResultImageSize,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	rec.Category = domain.Category(category)
	rec.Mode = domain.Mode(mode)
	return nil
}

// mapPGError translates constraint and cast failures into domain errors.
func mapPGError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02":
			return fmt.Errorf("repo: %s: %w: %s", op, domain.ErrInvalidArgument, pgErr.Message)
		case "23503", "23514":
			return fmt.Errorf("repo: %s: %w: %s", op, domain.ErrInvalidArgument, pgErr.Message)
		}
	}
	return fmt.Errorf("repo: %s: %w", op, err)
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
