package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ergo-live/internal/domain"
	"ergo-live/internal/storage"
)

func TestTokenStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenStore(pool)
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }

	token := &domain.Token{
		ID:             "03faf2cb329f2e90d6d23b58d91bbb6c046aa143261cc21f52fbe2824bfcbf04",
		Name:           "SigUSD",
		Decimals:       2,
		Description:    "SigmaUSD stable coin",
		Type:           "EIP-004",
		EmissionAmount: "10000000000001",
	}

	require.NoError(t, store.InsertBulk(ctx, []*domain.Token{token}))

	retrieved, err := store.GetByID(ctx, token.ID)
	require.NoError(t, err)

	assert.Equal(t, token.ID, retrieved.ID)
	assert.Equal(t, token.Name, retrieved.Name)
	assert.Equal(t, token.Decimals, retrieved.Decimals)
	assert.Equal(t, token.Description, retrieved.Description)
	assert.Equal(t, token.Type, retrieved.Type)
	assert.Equal(t, token.EmissionAmount, retrieved.EmissionAmount)
	assert.Equal(t, int64(1700000000000), retrieved.FetchedAt)
}

func TestTokenStore_InsertExistingIsIgnored(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Token{{ID: "t1", Name: "first"}}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.Token{{ID: "t1", Name: "second"}, {ID: "t2", Name: "other"}}))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)

	got, err = store.GetByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "other", got.Name)
}

func TestTokenStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTokenStore(pool)

	_, err := store.GetByID(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTokenStore_GetByIDs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenStore(pool)

	require.NoError(t, store.InsertBulk(ctx, []*domain.Token{
		{ID: "a", Decimals: 1},
		{ID: "b", Decimals: 2},
		{ID: "c", Decimals: 3},
	}))

	tokens, err := store.GetByIDs(ctx, []string{"c", "a", "missing"})
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "a", tokens[0].ID)
	assert.Equal(t, "c", tokens[1].ID)

	none, err := store.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}
