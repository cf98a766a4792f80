package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
	now  func() time.Time
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// InsertBulk adds tokens in one batch. Existing ids are left untouched.
func (s *TokenStore) InsertBulk(ctx context.Context, tokens []*domain.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	query := `
		INSERT INTO tokens (
			token_id, name, decimals, description, token_type, emission_amount, icon_url, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id) DO NOTHING
	`

	fetchedAt := s.now().UnixMilli()
	batch := &pgx.Batch{}
	for _, t := range tokens {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
		batch.Queue(query,
			t.ID,
			t.Name,
			t.Decimals,
			t.Description,
			t.Type,
			t.EmissionAmount,
			t.IconURL,
			fetchedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range tokens {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert tokens: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a token by id. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	query := `
		SELECT token_id, name, decimals, description, token_type, emission_amount, icon_url, fetched_at
		FROM tokens
		WHERE token_id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	t, err := scanToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by id: %w", err)
	}
	return t, nil
}

// GetByIDs retrieves all known tokens among ids. Unknown ids are omitted.
func (s *TokenStore) GetByIDs(ctx context.Context, ids []string) ([]*domain.Token, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT token_id, name, decimals, description, token_type, emission_amount, icon_url, fetched_at
		FROM tokens
		WHERE token_id = ANY($1)
		ORDER BY token_id
	`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query tokens by ids: %w", err)
	}
	defer rows.Close()

	var result []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return result, nil
}

// scanToken scans a single row into Token.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Decimals,
		&t.Description,
		&t.Type,
		&t.EmissionAmount,
		&t.IconURL,
		&t.FetchedAt,
	)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
