package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"memtier/internal/domain"
)

// lockRetryDelay is the poll interval while waiting on the advisory lock.
const lockRetryDelay = 10 * time.Millisecond

// WarmBackend stores all records in a single local JSON file guarded by an
// exclusive advisory lock. The critical section covers the whole
// read-modify-write, so concurrent writers never interleave partial writes
// and readers never observe a half-written file. Being local, Warm is the
// backend of last resort: its write failures are fatal for the operation.
type WarmBackend struct {
	path string
	lock *flock.Flock
}

// NewWarmBackend creates a file-backed warm tier at path. The parent
// directory is created if missing.
func NewWarmBackend(path string) (*WarmBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create warm dir: %w", err)
	}
	return &WarmBackend{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

func (w *WarmBackend) Name() string      { return "warm" }
func (w *WarmBackend) Tier() domain.Tier { return domain.TierWarm }

func (w *WarmBackend) Put(ctx context.Context, m *domain.Memory) error {
	err := w.withLock(ctx, func(records map[string]*domain.Memory) (bool, error) {
		records[m.ID] = m.Clone()
		return true, nil
	})
	return domain.WrapOp("WarmBackend.Put", err)
}

func (w *WarmBackend) Get(ctx context.Context, id string) (*domain.Memory, error) {
	var found *domain.Memory
	err := w.withLock(ctx, func(records map[string]*domain.Memory) (bool, error) {
		if m, ok := records[id]; ok {
			found = m.Clone()
		}
		return false, nil
	})
	if err != nil {
		return nil, domain.WrapOp("WarmBackend.Get", err)
	}
	if found == nil {
		return nil, domain.NewDomainError("WarmBackend.Get", domain.ErrNotFound, id)
	}
	return found, nil
}

func (w *WarmBackend) List(ctx context.Context, t domain.MemoryType) ([]string, error) {
	var ids []string
	err := w.withLock(ctx, func(records map[string]*domain.Memory) (bool, error) {
		for id, m := range records {
			if t == "" || m.Type == t {
				ids = append(ids, id)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, domain.WrapOp("WarmBackend.List", err)
	}
	return ids, nil
}

func (w *WarmBackend) Delete(ctx context.Context, id string) error {
	err := w.withLock(ctx, func(records map[string]*domain.Memory) (bool, error) {
		if _, ok := records[id]; !ok {
			return false, nil
		}
		delete(records, id)
		return true, nil
	})
	return domain.WrapOp("WarmBackend.Delete", err)
}

func (w *WarmBackend) Ping(ctx context.Context) error {
	// Warm is available when its directory is writable.
	probe := filepath.Join(filepath.Dir(w.path), ".memtier-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return domain.NewDomainError("WarmBackend.Ping", domain.ErrBackendUnavailable, err.Error())
	}
	os.Remove(probe)
	return nil
}

// withLock runs fn over the decoded record map under the exclusive file
// lock. When fn reports dirty, the map is written back atomically
// (temp file + rename) before the lock is released.
func (w *WarmBackend) withLock(ctx context.Context, fn func(map[string]*domain.Memory) (bool, error)) error {
	locked, err := w.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return domain.NewDomainError("warm lock", domain.ErrBackendWrite, err.Error())
	}
	if !locked {
		return domain.NewDomainError("warm lock", domain.ErrBackendWrite, "lock not acquired")
	}
	defer w.lock.Unlock()

	records, err := w.load()
	if err != nil {
		return err
	}

	dirty, err := fn(records)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return w.save(records)
}

func (w *WarmBackend) load() (map[string]*domain.Memory, error) {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return make(map[string]*domain.Memory), nil
	}
	if err != nil {
		return nil, domain.NewDomainError("warm load", domain.ErrBackendRead, err.Error())
	}
	records := make(map[string]*domain.Memory)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, domain.NewDomainError("warm load", domain.ErrBackendRead, err.Error())
		}
	}
	return records, nil
}

func (w *WarmBackend) save(records map[string]*domain.Memory) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return domain.NewDomainError("warm save", domain.ErrBackendWrite, err.Error())
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "warm-*.json.tmp")
	if err != nil {
		return domain.NewDomainError("warm save", domain.ErrBackendWrite, err.Error())
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return domain.NewDomainError("warm save", domain.ErrBackendWrite, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.NewDomainError("warm save", domain.ErrBackendWrite, err.Error())
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return domain.NewDomainError("warm save", domain.ErrBackendWrite, err.Error())
	}
	return nil
}
