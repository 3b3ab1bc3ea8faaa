package domain

import "context"

// Backend is the minimal read/write/list contract every storage tier
// implements. Absence is reported as ErrNotFound; transport and medium
// faults use the other sentinels, so the router can tell "not there" from
// "could not ask".
type Backend interface {
	// Name identifies the backend in logs and availability maps.
	Name() string

	// Tier reports which latency class this backend serves.
	Tier() Tier

	// Put stores or overwrites a record. Success is only reported on an
	// explicit acknowledgment from the medium.
	Put(ctx context.Context, m *Memory) error

	// Get retrieves a record by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Memory, error)

	// List returns record IDs, optionally filtered by type ("" = all).
	List(ctx context.Context, t MemoryType) ([]string, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id string) error

	// Ping probes reachability and credentials. Used by the router's
	// availability map, not by the per-call path.
	Ping(ctx context.Context) error
}
