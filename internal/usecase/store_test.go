package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memtier/internal/domain"
)

var errBackendDown = errors.New("backend down")

// fakeBackend is an in-memory Backend with switchable failure modes.
type fakeBackend struct {
	name string
	tier domain.Tier

	mu       sync.Mutex
	records  map[string]*domain.Memory
	failPut  bool
	failGet  bool
	failPing bool
}

func newFakeBackend(name string, tier domain.Tier) *fakeBackend {
	return &fakeBackend{name: name, tier: tier, records: make(map[string]*domain.Memory)}
}

func (f *fakeBackend) Name() string      { return f.name }
func (f *fakeBackend) Tier() domain.Tier { return f.tier }

func (f *fakeBackend) Put(_ context.Context, m *domain.Memory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return domain.NewDomainError("fake.Put", domain.ErrTransport, errBackendDown.Error())
	}
	f.records[m.ID] = m.Clone()
	return nil
}

func (f *fakeBackend) Get(_ context.Context, id string) (*domain.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, domain.NewDomainError("fake.Get", domain.ErrTransport, errBackendDown.Error())
	}
	m, ok := f.records[id]
	if !ok {
		return nil, domain.NewDomainError("fake.Get", domain.ErrNotFound, id)
	}
	return m.Clone(), nil
}

func (f *fakeBackend) List(_ context.Context, t domain.MemoryType) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, domain.NewDomainError("fake.List", domain.ErrTransport, errBackendDown.Error())
	}
	var ids []string
	for id, m := range f.records {
		if t == "" || m.Type == t {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return domain.NewDomainError("fake.Delete", domain.ErrTransport, errBackendDown.Error())
	}
	delete(f.records, id)
	return nil
}

func (f *fakeBackend) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPing {
		return errBackendDown
	}
	return nil
}

func (f *fakeBackend) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok
}

func (f *fakeBackend) stored(id string) *domain.Memory {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.records[id]
	if !ok {
		return nil
	}
	return m.Clone()
}

type testTiers struct {
	hot, warm, cold *fakeBackend
	store           *Store
}

func newTestStore(t *testing.T, opts ...StoreOption) *testTiers {
	t.Helper()
	tt := &testTiers{
		hot:  newFakeBackend("redis", domain.TierHot),
		warm: newFakeBackend("file", domain.TierWarm),
		cold: newFakeBackend("git", domain.TierCold),
	}
	tt.store = NewStore(
		[]domain.Backend{tt.hot, tt.warm, tt.cold},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts...,
	)
	t.Cleanup(tt.store.Close)
	tt.store.Probe(context.Background())
	return tt
}

func TestStoreCreateWritesHotAndMirrorsWarm(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	importance := 0.8
	m, err := tt.store.Create(ctx, "the deploy pipeline uses blue-green", domain.TypeSemantic, CreateOptions{
		Importance: &importance,
		Tags:       []string{"deploy"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TierHot, m.Tier)
	assert.Equal(t, 0.8, m.Importance)
	assert.Equal(t, 1.0, m.Strength)
	assert.Equal(t, domain.StatusActive, m.Status)

	assert.True(t, tt.hot.has(m.ID))
	tt.store.Flush()
	assert.True(t, tt.warm.has(m.ID), "hot write should mirror to warm")
}

func TestStoreCreateFallsBackToWarm(t *testing.T) {
	tt := newTestStore(t)
	tt.hot.failPut = true
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "fallback record", domain.TypeEpisodic, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierWarm, m.Tier)
	assert.False(t, tt.hot.has(m.ID))
	assert.True(t, tt.warm.has(m.ID))
}

func TestStoreCreateSkipsUnavailableHot(t *testing.T) {
	tt := newTestStore(t)
	tt.hot.failPing = true
	ctx := context.Background()
	tt.store.Probe(ctx)

	m, err := tt.store.Create(ctx, "probed out", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierWarm, m.Tier)
	assert.False(t, tt.hot.has(m.ID))
}

func TestStoreCreateFailsWhenWarmIsLastResortAndDown(t *testing.T) {
	tt := newTestStore(t)
	tt.hot.failPing = true
	tt.warm.failPing = true
	ctx := context.Background()
	tt.store.Probe(ctx)

	_, err := tt.store.Create(ctx, "no home", domain.TypeSemantic, CreateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestStoreCreateKeepsExplicitZeroImportance(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	zero := 0.0
	m, err := tt.store.Create(ctx, "deliberately worthless", domain.TypeWorking, CreateOptions{Importance: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Importance)

	m, err = tt.store.Create(ctx, "no opinion given", domain.TypeWorking, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.Importance, "unset importance takes the default")
}

func TestStoreCreateValidates(t *testing.T) {
	tt := newTestStore(t)
	_, err := tt.store.Create(context.Background(), "", domain.TypeSemantic, CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = tt.store.Create(context.Background(), "x", "imaginary", CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStoreGetFallsThroughTiersAndPromotes(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	m := domain.NewMemory("cold only", domain.TypeSemantic)
	m.Tier = domain.TierCold
	require.NoError(t, tt.cold.Put(ctx, m))

	got, err := tt.store.Get(ctx, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "cold only", got.Content)

	tt.store.Flush()
	assert.True(t, tt.hot.has(m.ID), "cold hit should promote to hot")
	assert.True(t, tt.warm.has(m.ID), "cold hit should promote to warm")
}

func TestStoreGetSkipsFailingTier(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	m := domain.NewMemory("behind a flaky tier", domain.TypeSemantic)
	require.NoError(t, tt.warm.Put(ctx, m))
	tt.hot.failGet = true

	got, err := tt.store.Get(ctx, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestStoreGetNotFound(t *testing.T) {
	tt := newTestStore(t)
	_, err := tt.store.Get(context.Background(), "semantic-missing", false)
	assert.True(t, domain.IsNotFound(err))
}

func TestStoreGetRecordsAccess(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "counted", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := tt.store.Get(ctx, m.ID, true)
		require.NoError(t, err)
	}

	stored := tt.hot.stored(m.ID)
	require.NotNil(t, stored)
	assert.Equal(t, 3, stored.AccessCount)
	assert.Greater(t, stored.Strength, 0.0)
}

func TestStoreGetPromotesWithRecordedAccess(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	m := domain.NewMemory("warm only", domain.TypeSemantic)
	require.NoError(t, tt.warm.Put(ctx, m))

	got, err := tt.store.Get(ctx, m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)

	tt.store.Flush()
	promoted := tt.hot.stored(m.ID)
	require.NotNil(t, promoted, "warm hit should promote to hot")
	assert.Equal(t, 1, promoted.AccessCount, "promoted copy must carry the recorded access")

	got, err = tt.store.Get(ctx, m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount, "second read must see the first")
}

func TestStoreUpdatePatchesFields(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	startImportance := 0.4
	m, err := tt.store.Create(ctx, "original", domain.TypeSemantic, CreateOptions{Importance: &startImportance})
	require.NoError(t, err)

	newContent := "edited"
	newImportance := 0.9
	got, err := tt.store.Update(ctx, m.ID, Patch{
		Content:    &newContent,
		Importance: &newImportance,
		Tags:       []string{"edited"},
	})
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, 0.9, got.Importance)
	assert.Equal(t, []string{"edited"}, got.Tags)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.CreatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(m.UpdatedAt) || got.UpdatedAt.Equal(m.UpdatedAt))
}

func TestStoreUpdateMissingRecord(t *testing.T) {
	tt := newTestStore(t)
	c := "x"
	_, err := tt.store.Update(context.Background(), "semantic-nope", Patch{Content: &c})
	assert.True(t, domain.IsNotFound(err))
}

func TestStoreDeleteRemovesFromAllTiers(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	m, err := tt.store.Create(ctx, "doomed", domain.TypeSemantic, CreateOptions{})
	require.NoError(t, err)
	tt.store.Flush()
	require.NoError(t, tt.cold.Put(ctx, m))

	existed, err := tt.store.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, tt.hot.has(m.ID))
	assert.False(t, tt.warm.has(m.ID))
	assert.False(t, tt.cold.has(m.ID))

	existed, err = tt.store.Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreStats(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tt.store.Create(ctx, "active record", domain.TypeSemantic, CreateOptions{})
		require.NoError(t, err)
	}
	archived := domain.NewMemory("old", domain.TypeEpisodic)
	archived.Status = domain.StatusArchived
	require.NoError(t, tt.warm.Put(ctx, archived))

	stats, err := tt.store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.ByStatus[string(domain.StatusActive)])
	assert.Equal(t, 1, stats.ByStatus[string(domain.StatusArchived)])
}

func TestStoreExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, content := range []string{"first", "second", "third"} {
		m, err := src.store.Create(ctx, content, domain.TypeSemantic, CreateOptions{Tags: []string{"t"}})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	snap, err := src.store.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Records, 3)

	dst := newTestStore(t)
	require.NoError(t, dst.store.Import(ctx, snap))

	for _, id := range ids {
		m, err := dst.store.Get(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"t"}, m.Tags)
	}
}

func TestStoreImportSkipsInvalidRecords(t *testing.T) {
	tt := newTestStore(t)
	ctx := context.Background()

	good := domain.NewMemory("good", domain.TypeSemantic)
	bad := domain.NewMemory("bad", domain.TypeSemantic)
	bad.Content = ""

	err := tt.store.Import(ctx, &Snapshot{Records: []*domain.Memory{bad, good}})
	require.NoError(t, err)
	assert.True(t, tt.hot.has(good.ID))
	assert.False(t, tt.hot.has(bad.ID))
}

func TestStoreMaintenanceSingleFlight(t *testing.T) {
	tt := newTestStore(t)
	tt.store.maintInFlight.Store(true)

	_, err := tt.store.RunMaintenance(context.Background())
	assert.ErrorIs(t, err, domain.ErrMaintenanceRunning)
}
