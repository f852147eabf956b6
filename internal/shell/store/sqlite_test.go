package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/nucleus/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	reg, err := NewSQLiteRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		reg.Close()
	})
	return reg
}

func response(tag string) domain.ServiceResponse {
	return domain.ServiceResponse{
		URL:         "https://" + tag + ".example.com",
		ExternalURL: "https://" + tag + ".example.com",
		InternalURL: "http://" + tag + ":8080",
	}
}

// =============================================================================
// Upsert Tests
// =============================================================================

func TestUpsert_Create(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	rec, err := reg.Upsert(ctx, "web", domain.StateRunning, response("a"))
	require.NoError(t, err)

	assert.Equal(t, "web", rec.Name)
	assert.Equal(t, domain.StateRunning, rec.State)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, response("a"), rec.Response)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestUpsert_IncrementsVersion(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "web", domain.StateRunning, response("a"))
	require.NoError(t, err)
	rec, err := reg.Upsert(ctx, "web", domain.StateRunning, response("b"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, response("b"), rec.Response)
}

func TestUpsert_ClearsLastError(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "web", domain.StateRunning, response("a"))
	require.NoError(t, err)
	require.NoError(t, reg.MarkFailed(ctx, "web", "build: exit 1"))

	rec, err := reg.Upsert(ctx, "web", domain.StateRunning, response("b"))
	require.NoError(t, err)
	assert.Empty(t, rec.LastError)
}

func TestUpsert_ConcurrentSameName(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Upsert(ctx, "web", domain.StateRunning, response(fmt.Sprintf("v%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := reg.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, int64(n), rec.Version)

	// Every field comes from a single upsert.
	for i := 0; i < n; i++ {
		if rec.Response.URL == response(fmt.Sprintf("v%d", i)).URL {
			assert.Equal(t, response(fmt.Sprintf("v%d", i)), rec.Response)
			return
		}
	}
	t.Fatalf("response %+v matches no upsert", rec.Response)
}

// =============================================================================
// Get / List Tests
// =============================================================================

func TestGet_NotFound(t *testing.T) {
	reg := setupTestRegistry(t)

	_, err := reg.Get(context.Background(), "missing")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestList_InsertionOrder(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := reg.Upsert(ctx, name, domain.StateRunning, response(name))
		require.NoError(t, err)
	}
	// Redeploying keeps the original position.
	_, err := reg.Upsert(ctx, "zeta", domain.StateRunning, response("zeta2"))
	require.NoError(t, err)

	names, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestList_Empty(t *testing.T) {
	reg := setupTestRegistry(t)

	names, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

// =============================================================================
// MarkFailed Tests
// =============================================================================

func TestMarkFailed_KeepsRunningRecord(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Upsert(ctx, "web", domain.StateRunning, response("a"))
	require.NoError(t, err)
	require.NoError(t, reg.MarkFailed(ctx, "web", "provisioning: no capacity"))

	rec, err := reg.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, rec.State)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, response("a"), rec.Response)
	assert.Equal(t, "provisioning: no capacity", rec.LastError)
}

func TestMarkFailed_UnknownName(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.MarkFailed(ctx, "ghost", "boom"))

	_, err := reg.Get(ctx, "ghost")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestPing(t *testing.T) {
	r := setupTestRegistry(t)
	assert.NoError(t, r.Ping(context.Background()))
}
