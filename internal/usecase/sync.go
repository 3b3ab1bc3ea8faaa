package usecase

import (
	"context"
	"errors"
	"log/slog"

	"memtier/internal/domain"
	"memtier/internal/infra/tracer"
)

// NoteVault is the slice of the markdown vault adapter the syncer needs.
type NoteVault interface {
	Create(ctx context.Context, m *domain.Memory) error
	Update(ctx context.Context, m *domain.Memory) error
	List(ctx context.Context, t domain.MemoryType) ([]*domain.Memory, error)
}

// SyncResult summarizes one bidirectional sync pass.
type SyncResult struct {
	Pushed    int `json:"pushed"`
	Pulled    int `json:"pulled"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

// Syncer keeps the store and the markdown vault converged. Push sends
// never-synced and pending records out; pull imports externally created
// or edited notes back in.
type Syncer struct {
	store  *Store
	vault  NoteVault
	logger *slog.Logger
}

func NewSyncer(store *Store, vault NoteVault, logger *slog.Logger) *Syncer {
	return &Syncer{store: store, vault: vault, logger: logger}
}

// Sync runs one full pass: push, then pull. Per-record failures are
// counted, logged and skipped so one bad note never stalls the rest.
func (sy *Syncer) Sync(ctx context.Context) (*SyncResult, error) {
	ctx, span := tracer.StartSpan(ctx, "syncer.sync")
	defer span.End()

	result := &SyncResult{}
	conflicted, err := sy.push(ctx, result)
	if err != nil {
		tracer.RecordError(span, err)
		return result, err
	}
	if err := sy.pull(ctx, result, conflicted); err != nil {
		tracer.RecordError(span, err)
		return result, err
	}

	sy.logger.Info("sync pass complete",
		"pushed", result.Pushed,
		"pulled", result.Pulled,
		"conflicts", result.Conflicts,
		"errors", result.Errors,
	)
	return result, nil
}

// push writes out every record that was never synced or is marked pending.
// A conflict leaves the record pending; the returned id set lets the pull
// half of the same pass skip re-counting it.
func (sy *Syncer) push(ctx context.Context, result *SyncResult) (map[string]bool, error) {
	conflicted := make(map[string]bool)
	records, err := sy.store.allRecords(ctx)
	if err != nil {
		return conflicted, domain.WrapOp("Syncer.push", err)
	}

	for _, m := range records {
		if m.Status != domain.StatusActive {
			continue
		}

		var err error
		switch {
		case m.Sync == nil:
			err = sy.vault.Create(ctx, m)
		case m.Sync.PendingSync:
			err = sy.vault.Update(ctx, m)
		default:
			continue
		}

		if errors.Is(err, domain.ErrConflict) {
			result.Conflicts++
			conflicted[m.ID] = true
			sy.logger.Warn("sync conflict, note edited externally", "id", m.ID)
			// PendingSync was set by the adapter; persist so the flag
			// survives restarts.
			if werr := sy.store.writeThrough(ctx, m); werr != nil {
				result.Errors++
			}
			continue
		}
		if err != nil {
			result.Errors++
			sy.logger.Warn("push failed", "id", m.ID, "error", err)
			continue
		}

		// Adapter stamped the sync state; persist it.
		if err := sy.store.writeThrough(ctx, m); err != nil {
			result.Errors++
			sy.logger.Warn("sync state persist failed", "id", m.ID, "error", err)
			continue
		}
		result.Pushed++
	}
	return conflicted, nil
}

// pull imports notes the store has never seen and external edits to notes
// it has. A note that changed while its record is still pending is a
// conflict and is left alone for the operator.
func (sy *Syncer) pull(ctx context.Context, result *SyncResult, conflicted map[string]bool) error {
	notes, err := sy.vault.List(ctx, "")
	if err != nil {
		return domain.WrapOp("Syncer.pull", err)
	}
	records, err := sy.store.allRecords(ctx)
	if err != nil {
		return domain.WrapOp("Syncer.pull", err)
	}

	for _, note := range notes {
		existing, ok := records[note.ID]
		if !ok {
			// Externally authored note: import as a new record.
			imported := note.Clone()
			imported.Tier = domain.TierWarm
			if err := imported.Validate(); err != nil {
				result.Errors++
				sy.logger.Warn("skipping unparseable note", "id", note.ID, "error", err)
				continue
			}
			if err := sy.store.writeThrough(ctx, imported); err != nil {
				result.Errors++
				continue
			}
			result.Pulled++
			continue
		}

		if existing.Sync == nil {
			continue
		}
		noteHash := domain.ContentHash(note.Content)
		if noteHash == existing.Sync.ContentHash {
			continue
		}
		if existing.Sync.PendingSync {
			// Both sides changed since the last sync point. Already
			// counted if push hit the same conflict this pass.
			if !conflicted[existing.ID] {
				result.Conflicts++
				sy.logger.Warn("pull conflict, record and note both edited", "id", existing.ID)
			}
			continue
		}

		// Note changed, record did not: the external edit wins.
		existing.Content = note.Content
		existing.Tags = note.Tags
		existing.Categories = note.Categories
		existing.Sync.ContentHash = noteHash
		existing.Touch()
		if err := sy.store.writeThrough(ctx, existing); err != nil {
			result.Errors++
			continue
		}
		result.Pulled++
	}
	return nil
}
