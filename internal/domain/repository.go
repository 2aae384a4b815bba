package domain

import "context"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage applies the history page defaults and bounds.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// GenerationRepository persists generation records. Every read and delete is
// scoped to the owning user at the store: a record owned by someone else is
// never returned. Implementations report it as ErrUnauthorized when the store
// can tell, ErrNotFound when its access policy hides the row entirely.
type GenerationRepository interface {
	Insert(ctx context.Context, record *GenerationRecord) (*GenerationRecord, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]GenerationRecord, error)
	Get(ctx context.Context, id, userID string) (*GenerationRecord, error)
	Delete(ctx context.Context, id, userID string) error
}
