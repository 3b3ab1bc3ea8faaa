package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memtier/internal/domain"
)

// mockVault mimics the markdown vault adapter: it stamps sync state on
// writes and rejects updates when the remote copy drifted.
type mockVault struct {
	mu       sync.Mutex
	notes    map[string]*domain.Memory
	failNext bool
}

func newMockVault() *mockVault {
	return &mockVault{notes: make(map[string]*domain.Memory)}
}

func (v *mockVault) stamp(m *domain.Memory) {
	if m.Sync == nil {
		m.Sync = &domain.SyncState{}
	}
	m.Sync.Version++
	m.Sync.ContentHash = domain.ContentHash(m.Content)
	m.Sync.LastSyncedAt = time.Now().UTC()
	m.Sync.PendingSync = false
}

func (v *mockVault) Create(_ context.Context, m *domain.Memory) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failNext {
		v.failNext = false
		return domain.NewDomainError("mockVault.Create", domain.ErrSyncFailed, "write failed")
	}
	v.stamp(m)
	v.notes[m.ID] = m.Clone()
	return nil
}

func (v *mockVault) Update(_ context.Context, m *domain.Memory) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	remote, ok := v.notes[m.ID]
	if ok && m.Sync != nil && domain.ContentHash(remote.Content) != m.Sync.ContentHash {
		m.Sync.PendingSync = true
		return domain.NewDomainError("mockVault.Update", domain.ErrConflict, m.ID)
	}
	v.stamp(m)
	v.notes[m.ID] = m.Clone()
	return nil
}

func (v *mockVault) List(_ context.Context, t domain.MemoryType) ([]*domain.Memory, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []*domain.Memory
	for _, m := range v.notes {
		if t == "" || m.Type == t {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

// editExternally simulates a human editing a note behind the store's back.
func (v *mockVault) editExternally(id, content string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notes[id].Content = content
}

func newTestSyncer(t *testing.T) (*testTiers, *mockVault, *Syncer) {
	t.Helper()
	tt := newTestStore(t)
	vault := newMockVault()
	sy := NewSyncer(tt.store, vault, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return tt, vault, sy
}

func TestSyncPushesNewRecords(t *testing.T) {
	tt, vault, sy := newTestSyncer(t)
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "this has never been synced", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)

	result, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Conflicts)

	note := vault.notes[m.ID]
	require.NotNil(t, note)
	assert.Equal(t, 1, note.Sync.Version)

	// The stamped sync state must survive in the store.
	stored, err := tt.store.Get(ctx, m.ID, false)
	require.NoError(t, err)
	require.NotNil(t, stored.Sync)
	assert.False(t, stored.Sync.PendingSync)
	assert.Equal(t, domain.ContentHash(m.Content), stored.Sync.ContentHash)
}

func TestSyncIsIdempotentWhenClean(t *testing.T) {
	tt, _, sy := newTestSyncer(t)
	ctx := context.Background()

	_, err := tt.store.Create(ctx, "already clean", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)

	_, err = sy.Sync(ctx)
	require.NoError(t, err)
	second, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Pushed)
	assert.Zero(t, second.Pulled)
}

func TestSyncPushesPendingEdits(t *testing.T) {
	tt, vault, sy := newTestSyncer(t)
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "first version", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)
	_, err = sy.Sync(ctx)
	require.NoError(t, err)

	edited := "second version"
	_, err = tt.store.Update(ctx, m.ID, Patch{Content: &edited})
	require.NoError(t, err)

	result, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, "second version", vault.notes[m.ID].Content)
	assert.Equal(t, 2, vault.notes[m.ID].Sync.Version)
}

func TestSyncConflictLeavesNotePristine(t *testing.T) {
	tt, vault, sy := newTestSyncer(t)
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "base version", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)
	_, err = sy.Sync(ctx)
	require.NoError(t, err)

	// Both sides change before the next pass.
	edited := "local edit"
	_, err = tt.store.Update(ctx, m.ID, Patch{Content: &edited})
	require.NoError(t, err)
	vault.editExternally(m.ID, "external edit")

	result, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts, "one conflicted record counts once per pass")
	assert.Equal(t, "external edit", vault.notes[m.ID].Content, "conflict must never overwrite the note")

	stored, err := tt.store.Get(ctx, m.ID, false)
	require.NoError(t, err)
	assert.True(t, stored.Sync.PendingSync, "conflicted record stays pending")
	assert.Equal(t, "local edit", stored.Content)
}

func TestSyncPullsExternallyAuthoredNotes(t *testing.T) {
	tt, vault, sy := newTestSyncer(t)
	ctx := context.Background()

	human := domain.NewMemory("a note typed by hand", domain.TypeSemantic)
	vault.stamp(human)
	vault.notes[human.ID] = human

	result, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	stored, err := tt.store.Get(ctx, human.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "a note typed by hand", stored.Content)
}

func TestSyncPullsExternalEdits(t *testing.T) {
	tt, vault, sy := newTestSyncer(t)
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "original wording", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)
	_, err = sy.Sync(ctx)
	require.NoError(t, err)

	vault.editExternally(m.ID, "reworded by a human")

	result, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	stored, err := tt.store.Get(ctx, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "reworded by a human", stored.Content)
	assert.Equal(t, domain.ContentHash("reworded by a human"), stored.Sync.ContentHash)
}

func TestSyncCountsPushFailures(t *testing.T) {
	tt, vault, sy := newTestSyncer(t)
	ctx := context.Background()

	_, err := tt.store.Create(ctx, "unlucky record", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)
	vault.failNext = true

	result, err := sy.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Pushed)
}
