// Package tryon orchestrates generation and history operations for UI callers.
package tryon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tryon/internal/domain"
	"tryon/internal/identity"
	"tryon/internal/imagegen"
	"tryon/internal/infra"
	"tryon/internal/persistence"
	"tryon/internal/storage"
	"tryon/pkg/zip"
)

// Generator runs one provider job to completion.
type Generator interface {
	SubmitAndAwait(ctx context.Context, req imagegen.Request, onStatus imagegen.StatusFunc) (*imagegen.Job, error)
}

// Persister stores a finished generation.
type Persister interface {
	PersistGeneration(ctx context.Context, req persistence.PersistRequest) (*domain.GenerationRecord, error)
}

// Options wires the service collaborators.
type Options struct {
	Generator Generator
	Persister Persister
	Identity  identity.Provider
	Store     storage.Store
	Repo      domain.GenerationRepository
	Buckets   domain.Buckets
	Logger    *infra.Logger
}

type Service struct {
	generator Generator
	persister Persister
	identity  identity.Provider
	store     storage.Store
	repo      domain.GenerationRepository
	buckets   domain.Buckets
	logger    *infra.Logger
	validate  *validator.Validate
}

// GenerateRequest is the caller input of GenerateTryOn.
type GenerateRequest struct {
	UserID       string `validate:"required"`
	ModelImage   domain.Image
	GarmentImage domain.Image
	Category     domain.Category `validate:"required"`
	Mode         domain.Mode     `validate:"required"`
	NumSamples   int             `validate:"gte=0,lte=4"`
}

// Result reports generation and persistence separately. A non-nil
// PersistenceErr means the images were generated but not saved to history.
type Result struct {
	JobID          string
	OutputURLs     []string
	ProcessingTime time.Duration
	Record         *domain.GenerationRecord
	PersistenceErr error
}

// Saved reports whether the generation was recorded in the user's history.
func (r *Result) Saved() bool {
	return r != nil && r.Record != nil && r.PersistenceErr == nil
}

// Page selects a window of the history, newest first.
type Page struct {
	Limit  int
	Offset int
}

// GenerationView is a history entry with resolvable image URLs.
type GenerationView struct {
	domain.GenerationRecord
	ModelImageURL   string `json:"model_image_url"`
	GarmentImageURL string `json:"garment_image_url"`
	ResultImageURL  string `json:"result_image_url"`
}

func NewService(opts Options) (*Service, error) {
	if opts.Generator == nil || opts.Persister == nil {
		return nil, errors.New("tryon: generator and persister are required")
	}
	if opts.Store == nil || opts.Repo == nil {
		return nil, errors.New("tryon: store and repository are required")
	}
	s := &Service{
		generator: opts.Generator,
		persister: opts.Persister,
		identity:  opts.Identity,
		store:     opts.Store,
		repo:      opts.Repo,
		buckets:   opts.Buckets,
		logger:    opts.Logger,
		validate:  validator.New(),
	}
	if s.identity == nil {
		s.identity = identity.ContextProvider{}
	}
	if s.buckets == (domain.Buckets{}) {
		s.buckets = domain.DefaultBuckets()
	}
	if s.logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		s.logger = &l
	}
	return s, nil
}

// GenerateTryOn is the single entry point for a generation: it runs the job
// and then persists its first output for the caller.
func (s *Service) GenerateTryOn(ctx context.Context, req GenerateRequest, onStatus imagegen.StatusFunc) (*Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := identity.Require(ctx, s.identity, req.UserID); err != nil {
		return nil, err
	}

	job, err := s.generator.SubmitAndAwait(ctx, imagegen.Request{
		ModelImage:   req.ModelImage,
		GarmentImage: req.GarmentImage,
		Category:     req.Category,
		Mode:         req.Mode,
		NumSamples:   req.NumSamples,
	}, onStatus)
	if err != nil {
		return nil, err
	}

	result := &Result{
		JobID:          job.ID,
		OutputURLs:     job.OutputURLs,
		ProcessingTime: job.Elapsed,
	}
	record, err := s.persister.PersistGeneration(ctx, persistence.PersistRequest{
		UserID:         req.UserID,
		ModelImage:     req.ModelImage,
		GarmentImage:   req.GarmentImage,
		OutputURL:      job.OutputURLs[0],
		Category:       req.Category,
		Mode:           req.Mode,
		ProcessingTime: job.Elapsed,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("user_id", req.UserID).
			Msg("tryon: generated but not saved")
		result.PersistenceErr = err
		return result, nil
	}
	result.Record = record
	return result, nil
}

// ListGenerations returns the user's history with public image URLs.
func (s *Service) ListGenerations(ctx context.Context, userID string, page Page) ([]GenerationView, error) {
	if err := identity.Require(ctx, s.identity, userID); err != nil {
		return nil, err
	}
	records, err := s.repo.ListByUser(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	views := make([]GenerationView, 0, len(records))
	for _, rec := range records {
		views = append(views, s.view(rec))
	}
	return views, nil
}

// DeleteGeneration removes the record and then its three artifacts. Once the
// row is gone the generation is deleted from the caller's point of view; blob
// deletions are best effort and failures are logged as orphans.
func (s *Service) DeleteGeneration(ctx context.Context, id, userID string) error {
	rec, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id, userID); err != nil {
		return err
	}

	bctx := context.WithoutCancel(ctx)
	var g errgroup.Group
	errs := make([]error, len(domain.ArtifactRoles))
	for i, role := range domain.ArtifactRoles {
		i, role := i, role
		path := rec.Path(role)
		if path == "" {
			continue
		}
		bucket := s.buckets.For(role)
		g.Go(func() error {
			if err := s.store.Delete(bctx, bucket, path); err != nil {
				errs[i] = fmt.Errorf("%s %s/%s: %w", role, bucket, path, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		s.logger.Warn().Err(err).Str("generation_id", id).Msg("tryon: orphaned artifacts after delete")
	}
	s.logger.Info().Str("generation_id", id).Str("user_id", userID).Msg("tryon: generation deleted")
	return nil
}

// ArchiveGeneration bundles the three artifacts of a generation into a zip.
func (s *Service) ArchiveGeneration(ctx context.Context, id, userID string) ([]byte, string, error) {
	rec, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, "", err
	}

	assets := make([]zip.Asset, len(domain.ArtifactRoles))
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range domain.ArtifactRoles {
		i, role := i, role
		path := rec.Path(role)
		bucket := s.buckets.For(role)
		g.Go(func() error {
			data, err := s.store.Download(gctx, bucket, path)
			if err != nil {
				return fmt.Errorf("tryon: download %s: %w", role, err)
			}
			assets[i] = zip.Asset{Filename: path, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	data, err := zip.ArchiveAssets(assets, rec.CreatedAt)
	if err != nil {
		return nil, "", err
	}
	return data, "tryon-" + rec.ID + ".zip", nil
}

func (s *Service) owned(ctx context.Context, id, userID string) (*domain.GenerationRecord, error) {
	if err := identity.Require(ctx, s.identity, userID); err != nil {
		return nil, err
	}
	rec, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	return rec, nil
}

func (s *Service) view(rec domain.GenerationRecord) GenerationView {
	return GenerationView{
		GenerationRecord: rec,
		ModelImageURL:    s.store.PublicURL(s.buckets.Model, rec.ModelImagePath),
		GarmentImageURL:  s.store.PublicURL(s.buckets.Garment, rec.GarmentImagePath),
		ResultImageURL:   s.store.PublicURL(s.buckets.Result, rec.ResultImagePath),
	}
}
