package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon/internal/domain"
	"tryon/internal/http/handlers"
	"tryon/internal/imagegen"
	"tryon/internal/infra"
	"tryon/internal/metrics"
	"tryon/internal/middleware"
	"tryon/internal/persistence"
	"tryon/internal/storage"
	"tryon/internal/tryon"
)

type noopGenerator struct{}

func (noopGenerator) SubmitAndAwait(context.Context, imagegen.Request, imagegen.StatusFunc) (*imagegen.Job, error) {
	return nil, domain.ErrTimeout
}

type noopPersister struct{}

func (noopPersister) PersistGeneration(context.Context, persistence.PersistRequest) (*domain.GenerationRecord, error) {
	return nil, domain.ErrPersistence
}

type emptyRepo struct{}

func (emptyRepo) Insert(_ context.Context, rec *domain.GenerationRecord) (*domain.GenerationRecord, error) {
	return rec, nil
}

func (emptyRepo) ListByUser(context.Context, string, int, int) ([]domain.GenerationRecord, error) {
	return nil, nil
}

func (emptyRepo) Get(context.Context, string, string) (*domain.GenerationRecord, error) {
	return nil, domain.ErrNotFound
}

func (emptyRepo) Delete(context.Context, string, string) error { return domain.ErrNotFound }

func newTestRouter(t *testing.T) (http.Handler, *infra.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &infra.Config{
		JWTSecret:       "secret",
		JWTAudience:     "authenticated",
		StorageBackend:  infra.StorageBackendFilesystem,
		StoragePath:     dir,
		AllowedOrigins:  []string{"http://localhost:3000"},
		DefaultLocale:   "en",
		RateLimitPerMin: 10,
	}
	store, err := storage.NewFileStore(dir, "http://localhost/static")
	require.NoError(t, err)
	svc, err := tryon.NewService(tryon.Options{
		Generator: noopGenerator{},
		Persister: noopPersister{},
		Store:     store,
		Repo:      emptyRepo{},
	})
	require.NoError(t, err)
	rec := metrics.NewPrometheusRecorder()
	rec.RecordSubmission("accepted")
	return NewRouter(cfg, handlers.NewApp(svc, nil, rec.Handler(), 1<<20)), cfg
}

func bearer(t *testing.T, secret string) string {
	t.Helper()
	tok, err := middleware.SignJWT(secret, middleware.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestRouterPublicRoutes(t *testing.T) {
	router, cfg := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tryon_")

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.StoragePath, "bucket", "user-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StoragePath, "bucket", "user-1", "a.png"), []byte("png"), 0o644))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/bucket/user-1/a.png", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())
}

func TestRouterRequiresToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/generations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/generations", nil)
	req.Header.Set("Authorization", bearer(t, "other-secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/generations", nil)
	req.Header.Set("Authorization", bearer(t, "secret"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"limit":20,"offset":0}`, rec.Body.String())
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/tryon", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}
