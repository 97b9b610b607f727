package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_SharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	a, err := OpenSQLite(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	require.NoError(t, a.Put(ctx, &Entry{
		ID:            "id-1",
		Type:          Documentation,
		Payload:       []byte("doc"),
		Effectiveness: 0.7,
		AccessCount:   2,
		LastAccess:    now,
		ExpiresAt:     now.Add(time.Hour),
	}))

	got, err := b.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("doc"), got.Payload)
	assert.Equal(t, TierCold, got.Tier)
	assert.Equal(t, 2, got.AccessCount)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))

	require.NoError(t, b.Put(ctx, &Entry{ID: "id-1", Type: Documentation, Payload: []byte("v2"), LastAccess: now, ExpiresAt: now}))
	got, err = a.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Payload)

	n, err := a.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteStore_Miss(t *testing.T) {
	s := newColdStore(t)
	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(context.Background(), "absent"))
}

func TestSQLiteStore_CorruptRowDeleted(t *testing.T) {
	s := newColdStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &Entry{ID: "x", Type: Pattern, Payload: []byte("ok"), LastAccess: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}))

	_, err := s.db.Exec(`UPDATE cold_entries SET checksum = 'bad' WHERE id = 'x'`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrCorruptEntry)
	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
