package credentials

import (
	"context"
	"strings"

	"tryon/internal/infra"
	"tryon/internal/sqlinline"
)

const (
	ProviderFashn = "fashn"
)

// Store reads provider API tokens kept in the integration_tokens table.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) FashnAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderFashn)
}

// Token returns the stored token for provider, or "" when none is configured.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}
