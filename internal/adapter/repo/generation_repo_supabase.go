package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"

	"tryon/internal/domain"
	"tryon/internal/identity"
)

const generationsTable = "generations"

// GenerationRepositorySupabase implements domain.GenerationRepository through
// the Supabase REST API. Each call is issued with the project's anon key and
// the caller's own access token, so the table's row level security policies
// apply on top of the explicit user filters used here.
type GenerationRepositorySupabase struct {
	restURL string
	anonKey string
	table   string
}

// SupabaseRepoOptions configures GenerationRepositorySupabase.
type SupabaseRepoOptions struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL     string
	AnonKey string
}

// NewGenerationRepositorySupabase constructs the repository. It never uses the
// service role key: that role bypasses row level security.
func NewGenerationRepositorySupabase(opts SupabaseRepoOptions) (*GenerationRepositorySupabase, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if base == "" || strings.TrimSpace(opts.AnonKey) == "" {
		return nil, errors.New("repo: supabase url and anon key are required")
	}
	return &GenerationRepositorySupabase{restURL: base + "/rest/v1", anonKey: opts.AnonKey, table: generationsTable}, nil
}

// from opens a query on the generations table as the calling user.
func (r *GenerationRepositorySupabase) from(ctx context.Context) (*postgrest.QueryBuilder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token := identity.AccessTokenFromContext(ctx)
	if token == "" {
		return nil, fmt.Errorf("repo: %w: no caller access token", domain.ErrUnauthorized)
	}
	client := postgrest.NewClient(r.restURL, "", map[string]string{
		"apikey":        r.anonKey,
		"Authorization": "Bearer " + token,
	})
	if client.ClientError != nil {
		return nil, fmt.Errorf("repo: supabase client: %w", client.ClientError)
	}
	return client.From(r.table), nil
}

type generationInsert struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	ModelImagePath   string `json:"model_image_path"`
	GarmentImagePath string `json:"garment_image_path"`
	ResultImagePath  string `json:"result_image_path"`
	Category         string `json:"category"`
	Mode             string `json:"mode"`
	ProcessingTime   string `json:"processing_time,omitempty"`
	ModelImageSize   int64  `json:"model_image_size,omitempty"`
	GarmentImageSize int64  `json:"garment_image_size,omitempty"`
	ResultImageSize  int64  `json:"result_image_size,omitempty"`
}

func (r *GenerationRepositorySupabase) Insert(ctx context.Context, record *domain.GenerationRecord) (*domain.GenerationRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: record is required", domain.ErrInvalidArgument)
	}
	q, err := r.from(ctx)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	row := generationInsert{
		ID:               id,
		UserID:           record.UserID,
		ModelImagePath:   record.ModelImagePath,
		GarmentImagePath: record.GarmentImagePath,
		ResultImagePath:  record.ResultImagePath,
		Category:         string(record.Category),
		Mode:             string(record.Mode),
		ProcessingTime:   record.ProcessingTime,
		ModelImageSize:   record.ModelImageSize,
		GarmentImageSize: record.GarmentImageSize,
		ResultImageSize:  record.ResultImageSize,
	}
	data, _, err := q.Insert(row, false, "", "representation", "").Execute()
	if err != nil {
		return nil, mapRESTError("insert generation", err)
	}
	records, err := decodeGenerations(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("repo: insert generation: no row returned")
	}
	return &records[0], nil
}

func (r *GenerationRepositorySupabase) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.GenerationRecord, error) {
	q, err := r.from(ctx)
	if err != nil {
		return nil, err
	}
	limit, offset = domain.ClampPage(limit, offset)
	data, _, err := q.
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(offset, offset+limit-1, "").
		Execute()
	if err != nil {
		return nil, mapRESTError("list generations", err)
	}
	return decodeGenerations(data)
}

// Get returns the record when it belongs to userID. Row level security hides
// other users' rows, so those surface as ErrNotFound.
func (r *GenerationRepositorySupabase) Get(ctx context.Context, id, userID string) (*domain.GenerationRecord, error) {
	q, err := r.from(ctx)
	if err != nil {
		return nil, err
	}
	data, _, err := q.
		Select("*", "", false).
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, mapRESTError("get generation", err)
	}
	records, err := decodeGenerations(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrNotFound
	}
	return &records[0], nil
}

func (r *GenerationRepositorySupabase) Delete(ctx context.Context, id, userID string) error {
	q, err := r.from(ctx)
	if err != nil {
		return err
	}
	data, _, err := q.
		Delete("representation", "").
		Eq("id", id).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return mapRESTError("delete generation", err)
	}
	records, err := decodeGenerations(data)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var restCodePattern = regexp.MustCompile(`\(([0-9A-Z]{5}|PGRST[0-9]+)\)`)

// mapRESTError translates PostgREST error codes the same way mapPGError
// handles the direct Postgres ones.
func mapRESTError(op string, err error) error {
	m := restCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return fmt.Errorf("repo: %s: %w", op, err)
	}
	switch m[1] {
	case "22P02", "23503", "23514", "PGRST100", "PGRST102":
		return fmt.Errorf("repo: %s: %w: %v", op, domain.ErrInvalidArgument, err)
	case "42501", "PGRST301", "PGRST302":
		return fmt.Errorf("repo: %s: %w: %v", op, domain.ErrUnauthorized, err)
	case "PGRST116":
		return fmt.Errorf("repo: %s: %w: %v", op, domain.ErrNotFound, err)
	}
	return fmt.Errorf("repo: %s: %w", op, err)
}

func decodeGenerations(data []byte) ([]domain.GenerationRecord, error) {
	var records []domain.GenerationRecord
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("repo: decode generations: %w", err)
	}
	return records, nil
}

var _ domain.GenerationRepository = (*GenerationRepositorySupabase)(nil)
