package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryType classifies a memory record. Fixed at creation.
type MemoryType string

const (
	TypeEpisodic   MemoryType = "episodic"
	TypeSemantic   MemoryType = "semantic"
	TypeProcedural MemoryType = "procedural"
	TypeWorking    MemoryType = "working"
)

// MemoryTypes lists every valid memory type in a stable order.
var MemoryTypes = []MemoryType{TypeEpisodic, TypeSemantic, TypeProcedural, TypeWorking}

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	return slices.Contains(MemoryTypes, t)
}

// MemoryStatus is the lifecycle state of a record.
type MemoryStatus string

const (
	StatusActive   MemoryStatus = "active"
	StatusArchived MemoryStatus = "archived"
)

// Tier identifies a storage backend by latency/durability class.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Source records where a memory came from.
type Source struct {
	Surface   string `json:"surface,omitempty"`
	Backend   string `json:"backend,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SyncState tracks participation in markdown synchronization. Present only
// for records that have been mirrored to the note vault at least once.
type SyncState struct {
	Version      int       `json:"version"`
	ContentHash  string    `json:"content_hash"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	PendingSync  bool      `json:"pending_sync"`
	AvailableIn  []string  `json:"available_in,omitempty"`
}

// Memory is the canonical record stored across tiers.
type Memory struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"`
	Summary        string       `json:"summary,omitempty"`
	Type           MemoryType   `json:"type"`
	Importance     float64      `json:"importance"`
	Strength       float64      `json:"strength"`
	Status         MemoryStatus `json:"status"`
	AccessCount    int          `json:"access_count"`
	Tags           []string     `json:"tags,omitempty"`
	Categories     []string     `json:"categories,omitempty"`
	Tier           Tier         `json:"tier"`
	Source         *Source      `json:"source,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastAccessedAt time.Time    `json:"last_accessed_at"`
	Sync           *SyncState   `json:"sync,omitempty"`
}

// NewMemoryID returns an ID of the form "<type>-<ULID>". The ULID component
// sorts by creation time.
func NewMemoryID(t MemoryType) string {
	now := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return fmt.Sprintf("%s-%s", t, ulid.MustNew(ulid.Timestamp(now), entropy))
}

// SyntheticID derives a deterministic ID from content, used when importing
// human-authored notes that carry no id of their own.
func SyntheticID(t MemoryType, content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s-%s", t, strings.ToUpper(hex.EncodeToString(h[:13])))
}

// TypeOfID extracts the type prefix from a record ID. Returns "" when the
// prefix is not a known type.
func TypeOfID(id string) MemoryType {
	i := strings.IndexByte(id, '-')
	if i < 0 {
		return ""
	}
	t := MemoryType(id[:i])
	if !t.Valid() {
		return ""
	}
	return t
}

// NewMemory builds an active record with full strength.
func NewMemory(content string, t MemoryType) *Memory {
	now := time.Now().UTC()
	return &Memory{
		ID:             NewMemoryID(t),
		Content:        content,
		Type:           t,
		Importance:     0.5,
		Strength:       1.0,
		Status:         StatusActive,
		Tier:           TierWarm,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
}

// Validate checks structural invariants before any backend call.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return NewDomainError("Memory.Validate", ErrInvalidInput, "content is required")
	}
	if !m.Type.Valid() {
		return NewDomainError("Memory.Validate", ErrInvalidInput,
			fmt.Sprintf("unknown memory type %q", m.Type))
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewDomainError("Memory.Validate", ErrInvalidInput,
			fmt.Sprintf("importance %v outside [0,1]", m.Importance))
	}
	return nil
}

// Touch bumps UpdatedAt, preserving CreatedAt <= UpdatedAt.
func (m *Memory) Touch() {
	now := time.Now().UTC()
	if now.Before(m.CreatedAt) {
		now = m.CreatedAt
	}
	m.UpdatedAt = now
}

// RecordAccess registers a recorded read: access count and timestamp always
// move forward, and strength gets a small clamped boost. Archived records
// keep their counters but receive no boost until explicitly reactivated.
func (m *Memory) RecordAccess(boost float64) {
	m.AccessCount++
	m.LastAccessedAt = time.Now().UTC()
	if m.Status == StatusArchived {
		return
	}
	m.Strength = clamp01(m.Strength + boost)
}

// Reactivate returns an archived record to active. This is the only path
// back from archived; maintenance never does it.
func (m *Memory) Reactivate() {
	if m.Status != StatusArchived {
		return
	}
	m.Status = StatusActive
	m.Touch()
}

// HasTag reports whether the record carries tag (literal match).
func (m *Memory) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// MergeFrom absorbs another record's tags and categories into m, keeping
// set semantics. Used by consolidation; content is not merged.
func (m *Memory) MergeFrom(other *Memory) {
	m.Tags = unionStrings(m.Tags, other.Tags)
	m.Categories = unionStrings(m.Categories, other.Categories)
	if other.AccessCount > 0 {
		m.AccessCount += other.AccessCount
	}
	m.Touch()
}

// Clone returns a deep copy, so callers can mutate without aliasing the
// store's view of the record.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Tags = slices.Clone(m.Tags)
	c.Categories = slices.Clone(m.Categories)
	if m.Source != nil {
		s := *m.Source
		c.Source = &s
	}
	if m.Sync != nil {
		sy := *m.Sync
		sy.AvailableIn = slices.Clone(m.Sync.AvailableIn)
		c.Sync = &sy
	}
	return &c
}

// ContentHash fingerprints content alone (never the surrounding note), so
// external edits to a synced note body are detectable between syncs.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
