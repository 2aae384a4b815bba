package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	storage_go "github.com/supabase-community/storage-go"

	"tryon/internal/infra"
)

// objectAPI is the subset of the Supabase Storage client used here.
type objectAPI interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	DownloadFile(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	RemoveFile(bucketID string, paths []string) ([]storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// SupabaseStore keeps artifacts in Supabase Storage buckets.
type SupabaseStore struct {
	api          objectAPI
	cacheControl string
	logger       *infra.Logger
}

// SupabaseOptions configures SupabaseStore.
type SupabaseOptions struct {
	CacheControl string
	Logger       *infra.Logger
}

// NewSupabaseStore wraps a storage client, usually supabase.Client.Storage.
func NewSupabaseStore(client *storage_go.Client, opts SupabaseOptions) (*SupabaseStore, error) {
	if client == nil {
		return nil, errors.New("storage: supabase storage client is required")
	}
	return newSupabaseStore(client, opts), nil
}

func newSupabaseStore(api objectAPI, opts SupabaseOptions) *SupabaseStore {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	cache := strings.TrimSpace(opts.CacheControl)
	if cache == "" {
		cache = "3600"
	}
	return &SupabaseStore{api: api, cacheControl: cache, logger: logger}
}

// Upload stores data without upsert so an existing object is never replaced.
// The storage client does not take a context, so ctx is only checked up front.
func (s *SupabaseStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := sanitizeKey(path)
	if err != nil {
		return err
	}
	upsert := false
	opts := storage_go.FileOptions{
		ContentType:  &contentType,
		CacheControl: &s.cacheControl,
		Upsert:       &upsert,
	}
	if _, err := s.api.UploadFile(bucket, key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("storage: supabase upload %s/%s: %w", bucket, key, err)
	}
	s.logger.Debug().Str("bucket", bucket).Str("path", key).Int("bytes", len(data)).Msg("storage: uploaded object")
	return nil
}

func (s *SupabaseStore) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := sanitizeKey(path)
	if err != nil {
		return nil, err
	}
	data, err := s.api.DownloadFile(bucket, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: supabase download %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, bucket, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := sanitizeKey(path)
	if err != nil {
		return err
	}
	if _, err := s.api.RemoveFile(bucket, []string{key}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("storage: supabase remove %s/%s: %w", bucket, key, err)
	}
	s.logger.Debug().Str("bucket", bucket).Str("path", key).Msg("storage: removed object")
	return nil
}

func (s *SupabaseStore) PublicURL(bucket, path string) string {
	key, err := sanitizeKey(path)
	if err != nil {
		return ""
	}
	return s.api.GetPublicUrl(bucket, key).SignedURL
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

var _ Store = (*SupabaseStore)(nil)
