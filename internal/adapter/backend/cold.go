package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"memtier/internal/domain"
)

// ContentClient is the interface for a version-controlled remote content
// store (a git contents API). Every write is a commit; reads return the
// blob sha needed for a subsequent update.
type ContentClient interface {
	// GetFile returns the file's contents and blob sha, or ErrNotFound.
	GetFile(ctx context.Context, filePath string) (data []byte, sha string, err error)

	// PutFile creates or updates a file. sha must be the current blob sha
	// for updates and empty for creates. Returns the commit reference.
	PutFile(ctx context.Context, filePath string, data []byte, sha, message string) (commitRef string, err error)

	// DeleteFile removes a file at its current blob sha.
	DeleteFile(ctx context.Context, filePath string, sha, message string) error

	// ListDir enumerates file names directly under dirPath.
	ListDir(ctx context.Context, dirPath string) ([]string, error)

	// Ping verifies reachability and credentials.
	Ping(ctx context.Context) error
}

// ColdBackend persists records as JSON blobs in a remote content store,
// one file per record under a type-scoped path. Durable and slow; the
// remote service provides its own concurrency control.
type ColdBackend struct {
	client ContentClient
	root   string // repository-relative root, e.g. "memories"
}

// NewColdBackend creates a cold tier rooted at root within the content store.
func NewColdBackend(client ContentClient, root string) *ColdBackend {
	if root == "" {
		root = "memories"
	}
	return &ColdBackend{client: client, root: strings.Trim(root, "/")}
}

func (c *ColdBackend) Name() string      { return "cold" }
func (c *ColdBackend) Tier() domain.Tier { return domain.TierCold }

// recordPath derives the storage path from type and id.
func (c *ColdBackend) recordPath(t domain.MemoryType, id string) string {
	return path.Join(c.root, string(t), id+".json")
}

func (c *ColdBackend) Put(ctx context.Context, m *domain.Memory) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return domain.NewDomainError("ColdBackend.Put", domain.ErrBackendWrite, err.Error())
	}

	filePath := c.recordPath(m.Type, m.ID)

	// Updates need the current blob sha; absence means this is a create.
	_, sha, err := c.client.GetFile(ctx, filePath)
	if err != nil && !domain.IsNotFound(err) {
		return domain.NewDomainError("ColdBackend.Put", domain.ErrTransport, err.Error())
	}

	msg := fmt.Sprintf("memtier: put %s", m.ID)
	if _, err := c.client.PutFile(ctx, filePath, data, sha, msg); err != nil {
		return domain.NewDomainError("ColdBackend.Put", domain.ErrBackendWrite, err.Error())
	}
	return nil
}

func (c *ColdBackend) Get(ctx context.Context, id string) (*domain.Memory, error) {
	t := domain.TypeOfID(id)

	// Check the type-indicated path first, then the remaining type dirs so
	// records with a changed or unknown type prefix are still found.
	paths := make([]string, 0, len(domain.MemoryTypes))
	if t != "" {
		paths = append(paths, c.recordPath(t, id))
	}
	for _, mt := range domain.MemoryTypes {
		if mt != t {
			paths = append(paths, c.recordPath(mt, id))
		}
	}

	for _, p := range paths {
		data, _, err := c.client.GetFile(ctx, p)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, domain.NewDomainError("ColdBackend.Get", domain.ErrTransport, err.Error())
		}
		var m domain.Memory
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, domain.NewDomainError("ColdBackend.Get", domain.ErrBackendRead, err.Error())
		}
		return &m, nil
	}
	return nil, domain.NewDomainError("ColdBackend.Get", domain.ErrNotFound, id)
}

func (c *ColdBackend) List(ctx context.Context, t domain.MemoryType) ([]string, error) {
	types := domain.MemoryTypes
	if t != "" {
		types = []domain.MemoryType{t}
	}

	var ids []string
	for _, mt := range types {
		names, err := c.client.ListDir(ctx, path.Join(c.root, string(mt)))
		if domain.IsNotFound(err) {
			continue // type dir not created yet
		}
		if err != nil {
			return nil, domain.NewDomainError("ColdBackend.List", domain.ErrTransport, err.Error())
		}
		for _, name := range names {
			if strings.HasSuffix(name, ".json") {
				ids = append(ids, strings.TrimSuffix(name, ".json"))
			}
		}
	}
	return ids, nil
}

func (c *ColdBackend) Delete(ctx context.Context, id string) error {
	t := domain.TypeOfID(id)
	types := domain.MemoryTypes
	if t != "" {
		// Most deletes hit the type-indicated dir on the first try.
		types = append([]domain.MemoryType{t}, without(domain.MemoryTypes, t)...)
	}

	for _, mt := range types {
		filePath := c.recordPath(mt, id)
		_, sha, err := c.client.GetFile(ctx, filePath)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return domain.NewDomainError("ColdBackend.Delete", domain.ErrTransport, err.Error())
		}
		msg := fmt.Sprintf("memtier: delete %s", id)
		if err := c.client.DeleteFile(ctx, filePath, sha, msg); err != nil {
			return domain.NewDomainError("ColdBackend.Delete", domain.ErrBackendWrite, err.Error())
		}
		return nil
	}
	return nil // absent is not an error
}

func (c *ColdBackend) Ping(ctx context.Context) error {
	if c.client == nil {
		return domain.NewDomainError("ColdBackend.Ping", domain.ErrBackendUnavailable, "no client configured")
	}
	if err := c.client.Ping(ctx); err != nil {
		return domain.NewDomainError("ColdBackend.Ping", domain.ErrBackendUnavailable, err.Error())
	}
	return nil
}

func without(ts []domain.MemoryType, skip domain.MemoryType) []domain.MemoryType {
	out := make([]domain.MemoryType, 0, len(ts))
	for _, t := range ts {
		if t != skip {
			out = append(out, t)
		}
	}
	return out
}
