package tryon

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon/internal/domain"
	"tryon/internal/identity"
	"tryon/internal/imagegen"
	"tryon/internal/persistence"
)

type generatorFunc func(ctx context.Context, req imagegen.Request, onStatus imagegen.StatusFunc) (*imagegen.Job, error)

func (f generatorFunc) SubmitAndAwait(ctx context.Context, req imagegen.Request, onStatus imagegen.StatusFunc) (*imagegen.Job, error) {
	return f(ctx, req, onStatus)
}

type persisterFunc func(ctx context.Context, req persistence.PersistRequest) (*domain.GenerationRecord, error)

func (f persisterFunc) PersistGeneration(ctx context.Context, req persistence.PersistRequest) (*domain.GenerationRecord, error) {
	return f(ctx, req)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	ops     []string
	failOn  string
}

func (m *memStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+path] = data
	return nil
}

func (m *memStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+path]
	if !ok {
		return nil, errors.New("missing object")
	}
	return data, nil
}

func (m *memStore) Delete(ctx context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "blob:"+path)
	if path == m.failOn {
		return errors.New("storage unavailable")
	}
	delete(m.objects, bucket+"/"+path)
	return nil
}

func (m *memStore) PublicURL(bucket, path string) string {
	return "https://cdn.test/" + bucket + "/" + path
}

type memRepo struct {
	records map[string]domain.GenerationRecord
	store   *memStore
}

func (r *memRepo) Insert(ctx context.Context, rec *domain.GenerationRecord) (*domain.GenerationRecord, error) {
	r.records[rec.ID] = *rec
	return rec, nil
}

func (r *memRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.GenerationRecord, error) {
	var out []domain.GenerationRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRepo) Get(ctx context.Context, id, userID string) (*domain.GenerationRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if rec.UserID != userID {
		return nil, domain.ErrUnauthorized
	}
	return &rec, nil
}

func (r *memRepo) Delete(ctx context.Context, id, userID string) error {
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID {
		return domain.ErrNotFound
	}
	r.store.mu.Lock()
	r.store.ops = append(r.store.ops, "row:"+id)
	r.store.mu.Unlock()
	delete(r.records, id)
	return nil
}

var seeded = domain.GenerationRecord{
	ID:               "gen-1",
	UserID:           "user-1",
	ModelImagePath:   "user-1/1_model.png",
	GarmentImagePath: "user-1/1_garment.png",
	ResultImagePath:  "user-1/1_result.png",
	Category:         domain.CategoryTops,
	Mode:             domain.ModeBalanced,
	CreatedAt:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
}

func newService(t *testing.T, gen Generator, per Persister) (*Service, *memStore, *memRepo) {
	t.Helper()
	store := &memStore{objects: map[string][]byte{
		"generations-model-images/user-1/1_model.png":     []byte("m"),
		"generations-garment-images/user-1/1_garment.png": []byte("g"),
		"generations-result-images/user-1/1_result.png":   []byte("r"),
	}}
	repo := &memRepo{records: map[string]domain.GenerationRecord{"gen-1": seeded}, store: store}
	if gen == nil {
		gen = generatorFunc(func(context.Context, imagegen.Request, imagegen.StatusFunc) (*imagegen.Job, error) {
			return nil, errors.New("unexpected generation")
		})
	}
	if per == nil {
		per = persisterFunc(func(context.Context, persistence.PersistRequest) (*domain.GenerationRecord, error) {
			return nil, errors.New("unexpected persistence")
		})
	}
	svc, err := NewService(Options{Generator: gen, Persister: per, Store: store, Repo: repo})
	require.NoError(t, err)
	return svc, store, repo
}

func userCtx(id string) context.Context {
	return identity.WithUserID(context.Background(), id)
}

func generateRequest() GenerateRequest {
	return GenerateRequest{
		UserID:       "user-1",
		ModelImage:   domain.Image{Data: []byte("model")},
		GarmentImage: domain.Image{Data: []byte("garment")},
		Category:     domain.CategoryTops,
		Mode:         domain.ModeQuality,
	}
}

func TestGenerateTryOnSavesFirstOutput(t *testing.T) {
	var persisted persistence.PersistRequest
	gen := generatorFunc(func(ctx context.Context, req imagegen.Request, onStatus imagegen.StatusFunc) (*imagegen.Job, error) {
		assert.Equal(t, domain.ModeQuality, req.Mode)
		onStatus(imagegen.PhaseQueued)
		onStatus(imagegen.PhaseCompleted)
		return &imagegen.Job{ID: "job-1", OutputURLs: []string{"https://x/1.png", "https://x/2.png"}, Elapsed: 3 * time.Second}, nil
	})
	per := persisterFunc(func(ctx context.Context, req persistence.PersistRequest) (*domain.GenerationRecord, error) {
		persisted = req
		return &domain.GenerationRecord{ID: "gen-2", UserID: req.UserID}, nil
	})
	svc, _, _ := newService(t, gen, per)

	var phases []imagegen.Phase
	res, err := svc.GenerateTryOn(userCtx("user-1"), generateRequest(), func(p imagegen.Phase) { phases = append(phases, p) })
	require.NoError(t, err)
	assert.True(t, res.Saved())
	assert.Equal(t, "gen-2", res.Record.ID)
	assert.Equal(t, []string{"https://x/1.png", "https://x/2.png"}, res.OutputURLs)
	assert.Equal(t, "https://x/1.png", persisted.OutputURL)
	assert.Equal(t, 3*time.Second, persisted.ProcessingTime)
	assert.Equal(t, []imagegen.Phase{imagegen.PhaseQueued, imagegen.PhaseCompleted}, phases)
}

func TestGenerateTryOnReportsPersistenceFailureSeparately(t *testing.T) {
	gen := generatorFunc(func(context.Context, imagegen.Request, imagegen.StatusFunc) (*imagegen.Job, error) {
		return &imagegen.Job{ID: "job-1", OutputURLs: []string{"https://x/1.png"}}, nil
	})
	per := persisterFunc(func(context.Context, persistence.PersistRequest) (*domain.GenerationRecord, error) {
		return nil, &domain.PersistenceError{Stage: domain.PersistStageInsert, Err: errors.New("db down")}
	})
	svc, _, _ := newService(t, gen, per)

	res, err := svc.GenerateTryOn(userCtx("user-1"), generateRequest(), nil)
	require.NoError(t, err)
	assert.False(t, res.Saved())
	assert.Equal(t, []string{"https://x/1.png"}, res.OutputURLs)
	assert.ErrorIs(t, res.PersistenceErr, domain.ErrPersistence)
}

func TestGenerateTryOnPropagatesGenerationErrors(t *testing.T) {
	gen := generatorFunc(func(context.Context, imagegen.Request, imagegen.StatusFunc) (*imagegen.Job, error) {
		return nil, &domain.GenerationError{Kind: domain.ErrTimeout, JobID: "job-1"}
	})
	svc, _, _ := newService(t, gen, nil)

	_, err := svc.GenerateTryOn(userCtx("user-1"), generateRequest(), nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestGenerateTryOnChecksInputAndIdentity(t *testing.T) {
	svc, _, _ := newService(t, nil, nil)

	req := generateRequest()
	req.UserID = ""
	_, err := svc.GenerateTryOn(userCtx("user-1"), req, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.GenerateTryOn(userCtx("user-2"), generateRequest(), nil)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestListGenerationsDecoratesURLs(t *testing.T) {
	svc, _, _ := newService(t, nil, nil)

	views, err := svc.ListGenerations(userCtx("user-1"), "user-1", Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "https://cdn.test/generations-result-images/user-1/1_result.png", views[0].ResultImageURL)
	assert.Equal(t, "https://cdn.test/generations-model-images/user-1/1_model.png", views[0].ModelImageURL)

	_, err = svc.ListGenerations(userCtx("user-2"), "user-1", Page{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestDeleteGenerationRemovesRowBeforeBlobs(t *testing.T) {
	svc, store, repo := newService(t, nil, nil)

	require.NoError(t, svc.DeleteGeneration(userCtx("user-1"), "gen-1", "user-1"))
	require.Len(t, store.ops, 4)
	assert.Equal(t, "row:gen-1", store.ops[0])
	assert.Empty(t, store.objects)
	assert.Empty(t, repo.records)
}

func TestDeleteGenerationPartialBlobFailure(t *testing.T) {
	svc, store, repo := newService(t, nil, nil)
	store.failOn = "user-1/1_garment.png"

	require.NoError(t, svc.DeleteGeneration(userCtx("user-1"), "gen-1", "user-1"))
	assert.Empty(t, repo.records)
	assert.Len(t, store.objects, 1)
	assert.Contains(t, store.objects, "generations-garment-images/user-1/1_garment.png")

	_, _, err := svc.ArchiveGeneration(userCtx("user-1"), "gen-1", "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteGenerationOwnership(t *testing.T) {
	svc, store, _ := newService(t, nil, nil)

	err := svc.DeleteGeneration(userCtx("user-2"), "gen-1", "user-2")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, store.ops)

	err = svc.DeleteGeneration(userCtx("user-1"), "missing", "user-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveGeneration(t *testing.T) {
	svc, _, _ := newService(t, nil, nil)

	data, name, err := svc.ArchiveGeneration(userCtx("user-1"), "gen-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "tryon-gen-1.zip", name)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"1_model.png", "1_garment.png", "1_result.png"}, names)
}
