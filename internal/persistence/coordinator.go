// Package persistence re-hosts generation artifacts and records their metadata.
package persistence

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tryon/internal/domain"
	"tryon/internal/identity"
	"tryon/internal/imagegen"
	"tryon/internal/infra"
	"tryon/internal/metrics"
	"tryon/internal/storage"
)

const rollbackTimeout = 30 * time.Second

// Fetcher downloads a provider-hosted output.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

// Options configures the coordinator.
type Options struct {
	Buckets domain.Buckets
	Logger  *infra.Logger
	Metrics metrics.Recorder
	// Stamp returns the per-generation path prefix. Defaults to
	// "<unix-millis>-<8 hex>".
	Stamp func() string
}

// PersistRequest carries a finished generation.
type PersistRequest struct {
	UserID         string
	ModelImage     domain.Image
	GarmentImage   domain.Image
	OutputURL      string
	Category       domain.Category
	Mode           domain.Mode
	ProcessingTime time.Duration
}

// Coordinator uploads the three artifacts of a generation and inserts its
// record once all of them are stored. Failed attempts are rolled back.
type Coordinator struct {
	store    storage.Store
	repo     domain.GenerationRepository
	identity identity.Provider
	fetcher  Fetcher
	buckets  domain.Buckets
	logger   *infra.Logger
	metrics  metrics.Recorder
	stamp    func() string
}

func NewCoordinator(store storage.Store, repo domain.GenerationRepository, ident identity.Provider, fetcher Fetcher, opts Options) (*Coordinator, error) {
	if store == nil || repo == nil || ident == nil || fetcher == nil {
		return nil, errors.New("persistence: store, repository, identity and fetcher are required")
	}
	c := &Coordinator{
		store:    store,
		repo:     repo,
		identity: ident,
		fetcher:  fetcher,
		buckets:  opts.Buckets,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		stamp:    opts.Stamp,
	}
	defaults := domain.DefaultBuckets()
	if c.buckets.Model == "" {
		c.buckets.Model = defaults.Model
	}
	if c.buckets.Garment == "" {
		c.buckets.Garment = defaults.Garment
	}
	if c.buckets.Result == "" {
		c.buckets.Result = defaults.Result
	}
	if c.logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		c.logger = &l
	}
	if c.metrics == nil {
		c.metrics = metrics.Noop{}
	}
	if c.stamp == nil {
		c.stamp = defaultStamp
	}
	return c, nil
}

// Buckets returns the bucket layout in use.
func (c *Coordinator) Buckets() domain.Buckets {
	return c.buckets
}

type artifact struct {
	role        domain.ArtifactRole
	bucket      string
	path        string
	data        []byte
	contentType string
}

// PersistGeneration stores the model, garment and result images for
// req.UserID and inserts the record that references them.
func (c *Coordinator) PersistGeneration(ctx context.Context, req PersistRequest) (*domain.GenerationRecord, error) {
	if err := identity.Require(ctx, c.identity, req.UserID); err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}
	if strings.TrimSpace(req.OutputURL) == "" {
		return nil, fmt.Errorf("persistence: %w: output url is required", domain.ErrInvalidArgument)
	}
	started := time.Now()
	log := c.logger.With().Str("user_id", req.UserID).Logger()

	if err := ctx.Err(); err != nil {
		c.metrics.RecordPersistence("cancelled", time.Since(started))
		return nil, &domain.PersistenceError{Stage: domain.PersistStageCancelled, Err: err}
	}

	resultData, resultType, err := c.fetcher.Download(ctx, req.OutputURL)
	if err != nil {
		c.metrics.RecordPersistence("fetch_failed", time.Since(started))
		log.Error().Err(err).Str("url", req.OutputURL).Msg("persistence: fetch output failed")
		return nil, &domain.PersistenceError{
			Stage:  domain.PersistStageFetch,
			Failed: []domain.ArtifactRole{domain.ArtifactResult},
			Err:    err,
		}
	}

	stamp := c.stamp()
	artifacts := []artifact{
		c.newArtifact(req.UserID, stamp, domain.ArtifactModel, req.ModelImage.Data, req.ModelImage.MIMEType),
		c.newArtifact(req.UserID, stamp, domain.ArtifactGarment, req.GarmentImage.Data, req.GarmentImage.MIMEType),
		c.newArtifact(req.UserID, stamp, domain.ArtifactResult, resultData, resultType),
	}

	written, failed, uploadErr := c.uploadAll(ctx, artifacts)
	if uploadErr != nil {
		orphaned := c.rollback(ctx, &log, written)
		c.metrics.RecordPersistence("upload_failed", time.Since(started))
		log.Error().Err(uploadErr).Int("orphaned", len(orphaned)).Msg("persistence: upload failed")
		return nil, &domain.PersistenceError{Stage: domain.PersistStageUpload, Failed: failed, Orphaned: orphaned, Err: uploadErr}
	}
	if err := ctx.Err(); err != nil {
		orphaned := c.rollback(ctx, &log, written)
		c.metrics.RecordPersistence("cancelled", time.Since(started))
		return nil, &domain.PersistenceError{Stage: domain.PersistStageCancelled, Orphaned: orphaned, Err: err}
	}

	record := &domain.GenerationRecord{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		ModelImagePath:   artifacts[0].path,
		GarmentImagePath: artifacts[1].path,
		ResultImagePath:  artifacts[2].path,
		Category:         req.Category,
		Mode:             req.Mode,
		ModelImageSize:   int64(len(artifacts[0].data)),
		GarmentImageSize: int64(len(artifacts[1].data)),
		ResultImageSize:  int64(len(artifacts[2].data)),
	}
	if req.ProcessingTime > 0 {
		record.ProcessingTime = FormatProcessingTime(req.ProcessingTime)
	}
	saved, err := c.repo.Insert(ctx, record)
	if err != nil {
		return c.insertFailed(ctx, &log, record, written, err, started)
	}

	c.metrics.RecordPersistence("saved", time.Since(started))
	log.Info().Str("generation_id", saved.ID).Str("stamp", stamp).Msg("persistence: generation saved")
	return saved, nil
}

// insertFailed settles an Insert error. The row may have been committed even
// though the call reported failure, so it is looked up by its preset ID before
// any blob is deleted. Blobs are only removed when the row is known absent.
func (c *Coordinator) insertFailed(ctx context.Context, log *zerolog.Logger, record *domain.GenerationRecord, written []domain.StoredObject, insertErr error, started time.Time) (*domain.GenerationRecord, error) {
	stage := domain.PersistStageInsert
	if ctx.Err() != nil {
		stage = domain.PersistStageCancelled
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	existing, lookupErr := c.repo.Get(lctx, record.ID, record.UserID)
	switch {
	case lookupErr == nil:
		c.metrics.RecordPersistence("saved", time.Since(started))
		log.Warn().Err(insertErr).Str("generation_id", existing.ID).Msg("persistence: insert reported failure but row is committed")
		return existing, nil
	case errors.Is(lookupErr, domain.ErrNotFound):
		orphaned := c.rollback(ctx, log, written)
		c.metrics.RecordPersistence("insert_failed", time.Since(started))
		log.Error().Err(insertErr).Int("orphaned", len(orphaned)).Msg("persistence: insert record failed")
		return nil, &domain.PersistenceError{Stage: stage, Orphaned: orphaned, Err: insertErr}
	default:
		c.metrics.RecordPersistence("insert_unknown", time.Since(started))
		log.Error().Err(insertErr).AnErr("lookup_err", lookupErr).Str("generation_id", record.ID).
			Int("orphaned", len(written)).Msg("persistence: insert outcome unknown, keeping artifacts")
		return nil, &domain.PersistenceError{
			Stage:    stage,
			Orphaned: written,
			Err:      multierror.Append(insertErr, lookupErr).ErrorOrNil(),
		}
	}
}

func (c *Coordinator) newArtifact(userID, stamp string, role domain.ArtifactRole, data []byte, declared string) artifact {
	mime, ext, ok := imagegen.DetectImage(data, declared)
	if !ok {
		mime, ext = "application/octet-stream", ".bin"
	}
	return artifact{
		role:        role,
		bucket:      c.buckets.For(role),
		path:        ArtifactPath(userID, stamp, role, ext),
		data:        data,
		contentType: mime,
	}
}

// uploadAll issues every upload concurrently and waits for all of them. The
// uploads run detached from ctx cancellation so none is left half written.
func (c *Coordinator) uploadAll(ctx context.Context, artifacts []artifact) ([]domain.StoredObject, []domain.ArtifactRole, error) {
	detached := context.WithoutCancel(ctx)
	errs := make([]error, len(artifacts))
	var g errgroup.Group
	for i := range artifacts {
		i := i
		a := artifacts[i]
		g.Go(func() error {
			if len(a.data) == 0 {
				errs[i] = fmt.Errorf("%s: empty payload", a.role)
				return errs[i]
			}
			if err := c.store.Upload(detached, a.bucket, a.path, a.data, a.contentType); err != nil {
				errs[i] = fmt.Errorf("%s: %w", a.role, err)
				return errs[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		written []domain.StoredObject
		failed  []domain.ArtifactRole
		merr    *multierror.Error
	)
	for i, a := range artifacts {
		if errs[i] != nil {
			failed = append(failed, a.role)
			merr = multierror.Append(merr, errs[i])
			continue
		}
		written = append(written, domain.StoredObject{Bucket: a.bucket, Path: a.path})
	}
	return written, failed, merr.ErrorOrNil()
}

// rollback deletes objects written by this attempt and returns the ones that
// could not be removed.
func (c *Coordinator) rollback(ctx context.Context, log *zerolog.Logger, objects []domain.StoredObject) []domain.StoredObject {
	if len(objects) == 0 {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	errs := make([]error, len(objects))
	var g errgroup.Group
	for i := range objects {
		i := i
		obj := objects[i]
		g.Go(func() error {
			errs[i] = c.store.Delete(rctx, obj.Bucket, obj.Path)
			return errs[i]
		})
	}
	_ = g.Wait()

	var orphaned []domain.StoredObject
	var merr *multierror.Error
	for i, obj := range objects {
		if errs[i] != nil {
			orphaned = append(orphaned, obj)
			merr = multierror.Append(merr, fmt.Errorf("%s/%s: %w", obj.Bucket, obj.Path, errs[i]))
		}
	}
	c.metrics.RecordRollback(len(objects)-len(orphaned), len(orphaned))
	if err := merr.ErrorOrNil(); err != nil {
		log.Error().Err(err).Int("orphaned", len(orphaned)).Msg("persistence: rollback incomplete")
	} else {
		log.Warn().Int("deleted", len(objects)).Msg("persistence: rolled back uploaded artifacts")
	}
	return orphaned
}

// ArtifactPath builds "<userID>/<stamp>_<role><ext>".
func ArtifactPath(userID, stamp string, role domain.ArtifactRole, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return userID + "/" + stamp + "_" + string(role) + ext
}

// FormatProcessingTime renders d as seconds with one decimal, e.g. "12.3s".
func FormatProcessingTime(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func defaultStamp() string {
	id := uuid.New()
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(id[:4]))
}
