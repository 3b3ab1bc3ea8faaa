package notes

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"memtier/internal/domain"
)

// backendName is how this adapter identifies itself in sync.availableIn.
const backendName = "markdown"

// VaultAdapter mirrors memory records into a note vault, one note per
// record under a per-type subfolder of the configured root. The vault is a
// secondary surface: read/list/search failures degrade to empty results,
// write failures surface to the caller.
type VaultAdapter struct {
	client NoteClient
	root   string // vault-relative folder, e.g. "memories"
	logger *slog.Logger
}

// NewVaultAdapter creates a markdown sync adapter rooted at root.
func NewVaultAdapter(client NoteClient, root string, logger *slog.Logger) *VaultAdapter {
	if root == "" {
		root = "memories"
	}
	return &VaultAdapter{
		client: client,
		root:   strings.Trim(root, "/"),
		logger: logger,
	}
}

// notePath derives the vault path for a record.
func (v *VaultAdapter) notePath(t domain.MemoryType, id string) string {
	return path.Join(v.root, string(t), id+".md")
}

// Create writes a new note for the record and stamps its sync state.
// Write failures are surfaced: data loss must not be silent.
func (v *VaultAdapter) Create(ctx context.Context, m *domain.Memory) error {
	stamped := stampSync(m)
	if err := v.client.WriteNote(ctx, v.notePath(m.Type, m.ID), ToMarkdown(stamped)); err != nil {
		return domain.NewDomainError("VaultAdapter.Create", domain.ErrSyncFailed, err.Error())
	}
	*m = *stamped
	return nil
}

// Get reads a record by id, checking the type-indicated subfolder first and
// then scanning the other type subfolders, so records whose type changed or
// is unknown are still found. Transport failures degrade to absence.
func (v *VaultAdapter) Get(ctx context.Context, id string) (*domain.Memory, error) {
	t := domain.TypeOfID(id)

	paths := make([]string, 0, len(domain.MemoryTypes))
	if t != "" {
		paths = append(paths, v.notePath(t, id))
	}
	for _, mt := range domain.MemoryTypes {
		if mt != t {
			paths = append(paths, v.notePath(mt, id))
		}
	}

	for _, p := range paths {
		note, err := v.client.ReadNote(ctx, p)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			v.logger.Warn("vault read degraded", "path", p, "error", err)
			return nil, domain.NewDomainError("VaultAdapter.Get", domain.ErrNotFound, id)
		}
		m, err := FromMarkdown([]byte(note.Content))
		if err != nil {
			v.logger.Warn("skipping malformed note", "path", p, "error", err)
			continue
		}
		return m, nil
	}
	return nil, domain.NewDomainError("VaultAdapter.Get", domain.ErrNotFound, id)
}

// Update re-syncs a record to its note, refusing to overwrite external
// edits: when the remote content no longer matches the hash recorded at
// last sync, ErrConflict is returned and nothing is written.
func (v *VaultAdapter) Update(ctx context.Context, m *domain.Memory) error {
	notePath := v.notePath(m.Type, m.ID)

	if m.Sync != nil && m.Sync.ContentHash != "" {
		note, err := v.client.ReadNote(ctx, notePath)
		if err != nil && !domain.IsNotFound(err) {
			return domain.NewDomainError("VaultAdapter.Update", domain.ErrSyncFailed, err.Error())
		}
		if err == nil {
			remote, perr := FromMarkdown([]byte(note.Content))
			if perr == nil && domain.ContentHash(remote.Content) != m.Sync.ContentHash {
				m.Sync.PendingSync = true
				return domain.NewDomainError("VaultAdapter.Update", domain.ErrConflict,
					fmt.Sprintf("note %s edited externally since last sync", notePath))
			}
		}
	}

	stamped := stampSync(m)
	if err := v.client.WriteNote(ctx, notePath, ToMarkdown(stamped)); err != nil {
		return domain.NewDomainError("VaultAdapter.Update", domain.ErrSyncFailed, err.Error())
	}
	*m = *stamped
	return nil
}

// Delete tombstones the record's note. The vault API has no delete verb,
// so the note is replaced with a minimal deleted marker and left for
// vault-side cleanup.
func (v *VaultAdapter) Delete(ctx context.Context, m *domain.Memory) error {
	p := v.notePath(m.Type, m.ID)
	tombstone := fmt.Sprintf("---\nid: %s\ndeleted: true\ndeletedAt: %s\n---\n", m.ID, time.Now().UTC().Format(time.RFC3339))
	if err := v.client.WriteNote(ctx, p, tombstone); err != nil {
		return domain.NewDomainError("VaultAdapter.Delete", domain.ErrSyncFailed, err.Error())
	}
	return nil
}

// Search delegates the free-text query to the vault's search endpoint,
// filters hits to the memory root, parses each note, and returns at most
// limit records in the vault's relevance order. Failures degrade to empty.
func (v *VaultAdapter) Search(ctx context.Context, query string, limit int) ([]*domain.Memory, error) {
	matches, err := v.client.SearchNotes(ctx, query)
	if err != nil {
		v.logger.Warn("vault search degraded", "query", query, "error", err)
		return nil, nil
	}

	var out []*domain.Memory
	for _, match := range matches {
		if !strings.HasPrefix(match.Path, v.root+"/") {
			continue
		}
		note, err := v.client.ReadNote(ctx, match.Path)
		if err != nil {
			v.logger.Warn("skipping unreadable search hit", "path", match.Path, "error", err)
			continue
		}
		m, err := FromMarkdown([]byte(note.Content))
		if err != nil {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// List enumerates notes per type subfolder (all subfolders when t is
// empty), parses each, and returns records sorted by importance
// descending. Failures degrade to empty.
func (v *VaultAdapter) List(ctx context.Context, t domain.MemoryType) ([]*domain.Memory, error) {
	types := domain.MemoryTypes
	if t != "" {
		types = []domain.MemoryType{t}
	}

	var out []*domain.Memory
	for _, mt := range types {
		folder := path.Join(v.root, string(mt))
		files, err := v.client.ListNotes(ctx, folder)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			v.logger.Warn("vault list degraded", "folder", folder, "error", err)
			return nil, nil
		}
		for _, f := range files {
			if !strings.HasSuffix(f, ".md") {
				continue
			}
			note, err := v.client.ReadNote(ctx, path.Join(folder, f))
			if err != nil {
				continue
			}
			m, err := FromMarkdown([]byte(note.Content))
			if err != nil {
				v.logger.Warn("skipping malformed note", "path", f, "error", err)
				continue
			}
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Importance > out[j].Importance
	})
	return out, nil
}

// Status probes the vault.
func (v *VaultAdapter) Status(ctx context.Context) (*VaultStatus, error) {
	return v.client.Status(ctx)
}

// stampSync returns a copy of m with sync state advanced for a successful
// write: version bumped, content hash recomputed, pending flag cleared.
func stampSync(m *domain.Memory) *domain.Memory {
	c := m.Clone()
	if c.Sync == nil {
		c.Sync = &domain.SyncState{}
	}
	c.Sync.Version++
	c.Sync.ContentHash = domain.ContentHash(c.Content)
	c.Sync.LastSyncedAt = time.Now().UTC()
	c.Sync.PendingSync = false
	if !contains(c.Sync.AvailableIn, backendName) {
		c.Sync.AvailableIn = append(c.Sync.AvailableIn, backendName)
	}
	return c
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
