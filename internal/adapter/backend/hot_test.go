package backend

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"memtier/internal/domain"
)

// mockRedis is an in-memory RedisClient for tests.
type mockRedis struct {
	mu     sync.Mutex
	data   map[string]string
	failed bool // when true, every call returns a transport error
}

func newMockRedis() *mockRedis {
	return &mockRedis{data: make(map[string]string)}
}

var errMockDown = errors.New("connection refused")

func (m *mockRedis) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errMockDown
	}
	m.data[key] = value
	return nil
}

func (m *mockRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return "", errMockDown
	}
	v, ok := m.data[key]
	if !ok {
		return "", errKeyMissing
	}
	return v, nil
}

func (m *mockRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errMockDown
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mockRedis) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return nil, errMockDown
	}
	var out []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockRedis) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failed {
		return errMockDown
	}
	return nil
}

func (m *mockRedis) Close() error { return nil }

func TestHotBackend_PutGet(t *testing.T) {
	h := NewHotBackend(newMockRedis(), 0)
	ctx := context.Background()

	m := domain.NewMemory("hot content", domain.TypeEpisodic)
	if err := h.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := h.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "hot content" || got.Type != domain.TypeEpisodic {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestHotBackend_AbsentVsFailure(t *testing.T) {
	mock := newMockRedis()
	h := NewHotBackend(mock, 0)
	ctx := context.Background()

	// Absent: ErrNotFound.
	_, err := h.Get(ctx, "episodic-MISSING")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Failure: transport error, never conflated with absence.
	mock.failed = true
	_, err = h.Get(ctx, "episodic-MISSING")
	if domain.IsNotFound(err) {
		t.Fatal("transport failure reported as not-found")
	}
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestHotBackend_ListByType(t *testing.T) {
	h := NewHotBackend(newMockRedis(), 0)
	ctx := context.Background()

	e := domain.NewMemory("a", domain.TypeEpisodic)
	s := domain.NewMemory("b", domain.TypeSemantic)
	for _, m := range []*domain.Memory{e, s} {
		if err := h.Put(ctx, m); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	ids, err := h.List(ctx, domain.TypeSemantic)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != s.ID {
		t.Errorf("semantic list = %v, want [%s]", ids, s.ID)
	}

	all, err := h.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full list = %v", all)
	}
}

func TestHotBackend_Delete(t *testing.T) {
	h := NewHotBackend(newMockRedis(), 0)
	ctx := context.Background()

	m := domain.NewMemory("gone soon", domain.TypeWorking)
	if err := h.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := h.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.Get(ctx, m.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestHotBackend_PingDown(t *testing.T) {
	mock := newMockRedis()
	mock.failed = true
	h := NewHotBackend(mock, 0)

	err := h.Ping(context.Background())
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
