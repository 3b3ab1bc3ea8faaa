// Package usecase contains the tiered router and the decay & maintenance
// engine that together present one memory store over the Hot/Warm/Cold
// backends.
package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"memtier/internal/domain"
	"memtier/internal/infra/tracer"
)

// defaultAccessBoost is the strength increment applied by a recording read.
const defaultAccessBoost = 0.02

// promoteQueueSize bounds the background promotion queue; overflow drops
// the oldest pending promotion (promotions are an optimization, not data).
const promoteQueueSize = 128

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithAccessBoost overrides the per-read strength boost.
func WithAccessBoost(boost float64) StoreOption {
	return func(s *Store) { s.accessBoost = boost }
}

// WithMaintenance sets the maintenance engine configuration.
func WithMaintenance(cfg MaintenanceConfig) StoreOption {
	return func(s *Store) { s.maintCfg = cfg }
}

// Store is the tiered router: one CRUD+search surface over a priority list
// of backends. Backend topology is hidden from callers; fallback, health
// tracking and promotion happen here.
type Store struct {
	backends    []domain.Backend // priority order: hot, warm, cold
	logger      *slog.Logger
	accessBoost float64
	maintCfg    MaintenanceConfig

	mu    sync.RWMutex
	avail map[string]bool

	maintInFlight atomic.Bool
	maintState    *maintenanceState

	promoteCh chan promotion
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// promotion is a scheduled copy-up of a record to faster tiers.
type promotion struct {
	record *domain.Memory
	onto   []domain.Backend
}

// NewStore creates a router over backends, given in priority order
// (fastest first). Call Probe before use and Close when done.
func NewStore(backends []domain.Backend, logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		backends:    backends,
		logger:      logger,
		accessBoost: defaultAccessBoost,
		maintCfg:    DefaultMaintenanceConfig(),
		avail:       make(map[string]bool),
		maintState:  newMaintenanceState(),
		promoteCh:   make(chan promotion, promoteQueueSize),
		stopCh:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.promoteWorker()
	return s
}

// Close stops the background promotion worker.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Probe pings every backend once and records availability. Unavailable
// backends are skipped by subsequent calls, not retried per-call; rerun
// Probe (or a maintenance cycle) to refresh.
func (s *Store) Probe(ctx context.Context) map[string]bool {
	result := make(map[string]bool, len(s.backends))
	for _, b := range s.backends {
		err := b.Ping(ctx)
		result[b.Name()] = err == nil
		if err != nil {
			s.logger.Warn("backend unavailable", "backend", b.Name(), "error", err)
		}
	}

	s.mu.Lock()
	s.avail = result
	s.mu.Unlock()
	return result
}

// Available reports the last probed availability of a backend.
func (s *Store) Available(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avail[name]
}

// available returns the backends that passed the last probe, in priority order.
func (s *Store) availableBackends() []domain.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Backend, 0, len(s.backends))
	for _, b := range s.backends {
		if s.avail[b.Name()] {
			out = append(out, b)
		}
	}
	return out
}

// CreateOptions carries the caller-supplied fields of a new record.
// Importance is a pointer so an explicit 0.0 is distinct from "unset".
type CreateOptions struct {
	Importance *float64 // nil means default 0.5
	Tags       []string
	Categories []string
	Summary    string
	Source     *domain.Source
}

// Create validates and persists a new record. The write goes to Hot when
// available, falling back to Warm; Warm is the backend of last resort and
// its failure fails the create. A Hot write is mirrored down to Warm
// asynchronously, since Warm is authoritative-by-default and Hot a cache.
func (s *Store) Create(ctx context.Context, content string, t domain.MemoryType, opts CreateOptions) (*domain.Memory, error) {
	ctx, span := tracer.StartSpan(ctx, "store.create")
	defer span.End()

	m := domain.NewMemory(content, t)
	if opts.Importance != nil {
		m.Importance = *opts.Importance
	}
	m.Tags = opts.Tags
	m.Categories = opts.Categories
	m.Summary = opts.Summary
	m.Source = opts.Source

	if err := m.Validate(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := s.writeThrough(ctx, m); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(tracer.MemoryIDAttr(m.ID), tracer.TierAttr(string(m.Tier)))
	s.logger.Info("memory created", "id", m.ID, "type", m.Type, "tier", m.Tier)
	return m.Clone(), nil
}

// writeThrough writes m to the fastest available write tier (Hot, then
// Warm). A Warm failure always surfaces; success on Hot schedules an async
// mirror to Warm.
func (s *Store) writeThrough(ctx context.Context, m *domain.Memory) error {
	var hot, warm domain.Backend
	for _, b := range s.availableBackends() {
		switch b.Tier() {
		case domain.TierHot:
			hot = b
		case domain.TierWarm:
			warm = b
		}
	}

	if hot != nil {
		if err := hot.Put(ctx, m); err == nil {
			m.Tier = domain.TierHot
			if warm != nil {
				s.schedulePromotion(m, []domain.Backend{warm})
			}
			return nil
		} else {
			s.logger.Warn("hot write failed, falling back to warm", "id", m.ID, "error", err)
		}
	}

	if warm == nil {
		return domain.NewDomainError("Store.write", domain.ErrBackendUnavailable,
			"no writable tier: hot and warm both unavailable")
	}
	if err := warm.Put(ctx, m); err != nil {
		// Warm is last resort; its failure is never swallowed.
		return domain.WrapOp("Store.write", err)
	}
	m.Tier = domain.TierWarm
	return nil
}

// demote persists m to warm and evicts it from hot. Used when maintenance
// moves a record out of the active working set.
func (s *Store) demote(ctx context.Context, m *domain.Memory) error {
	var hot, warm domain.Backend
	for _, b := range s.availableBackends() {
		switch b.Tier() {
		case domain.TierHot:
			hot = b
		case domain.TierWarm:
			warm = b
		}
	}
	if warm == nil {
		return s.writeThrough(ctx, m)
	}
	m.Tier = domain.TierWarm
	if err := warm.Put(ctx, m); err != nil {
		return domain.WrapOp("Store.demote", err)
	}
	if hot != nil {
		if err := hot.Delete(ctx, m.ID); err != nil {
			s.logger.Warn("hot eviction failed", "id", m.ID, "error", err)
		}
	}
	return nil
}

// Get retrieves a record, trying tiers in priority order and returning the
// first hit. Transport failures fall through to the next tier; only
// exhausting every tier surfaces as absence. A hit below the fastest
// available tier schedules a copy-up so later reads get faster.
func (s *Store) Get(ctx context.Context, id string, recordAccess bool) (*domain.Memory, error) {
	ctx, span := tracer.StartSpan(ctx, "store.get")
	defer span.End()
	span.SetAttributes(tracer.MemoryIDAttr(id))

	backends := s.availableBackends()
	var missedFaster []domain.Backend

	for _, b := range backends {
		m, err := b.Get(ctx, id)
		if domain.IsNotFound(err) {
			missedFaster = append(missedFaster, b)
			continue
		}
		if err != nil {
			s.logger.Warn("tier read failed, falling through", "backend", b.Name(), "id", id, "error", err)
			continue
		}

		if recordAccess {
			m.RecordAccess(s.accessBoost)
			if err := b.Put(ctx, m); err != nil {
				// Access metadata is best-effort; the read still succeeds.
				s.logger.Warn("access recording failed", "backend", b.Name(), "id", id, "error", err)
			}
		}

		// Copy up after the access is applied so faster tiers never serve
		// a record with a stale access count.
		if len(missedFaster) > 0 {
			s.schedulePromotion(m, missedFaster)
		}
		span.SetAttributes(tracer.TierAttr(string(b.Tier())))
		return m.Clone(), nil
	}

	return nil, domain.NewDomainError("Store.Get", domain.ErrNotFound, id)
}

// Patch carries optional fields for a partial update. Nil fields are left
// unchanged; ID, Type and CreatedAt are not patchable.
type Patch struct {
	Content    *string
	Summary    *string
	Importance *float64
	Tags       []string
	Categories []string
	Status     *domain.MemoryStatus
}

// Update applies a partial update and persists through the write path.
func (s *Store) Update(ctx context.Context, id string, p Patch) (*domain.Memory, error) {
	ctx, span := tracer.StartSpan(ctx, "store.update")
	defer span.End()
	span.SetAttributes(tracer.MemoryIDAttr(id))

	m, err := s.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if p.Content != nil {
		m.Content = *p.Content
		if m.Sync != nil {
			m.Sync.PendingSync = true
		}
	}
	if p.Summary != nil {
		m.Summary = *p.Summary
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	if p.Tags != nil {
		m.Tags = p.Tags
	}
	if p.Categories != nil {
		m.Categories = p.Categories
	}
	if p.Status != nil {
		if *p.Status == domain.StatusActive {
			m.Reactivate()
		} else {
			m.Status = *p.Status
		}
	}
	m.Touch()

	if err := m.Validate(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if err := s.writeThrough(ctx, m); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	return m.Clone(), nil
}

// Delete removes a record from every tier that holds it. Returns whether
// the record existed anywhere.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.StartSpan(ctx, "store.delete")
	defer span.End()
	span.SetAttributes(tracer.MemoryIDAttr(id))

	existed := false
	var lastErr error
	for _, b := range s.availableBackends() {
		if _, err := b.Get(ctx, id); err == nil {
			existed = true
		}
		if err := b.Delete(ctx, id); err != nil {
			s.logger.Warn("tier delete failed", "backend", b.Name(), "id", id, "error", err)
			lastErr = err
		}
	}
	if existed && lastErr != nil {
		return existed, domain.WrapOp("Store.Delete", lastErr)
	}
	return existed, nil
}

// Stats summarizes the record population for observability.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByTier   map[string]int `json:"by_tier"`
}

// GetStats counts records over the authoritative union of all tiers.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	records, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus: make(map[string]int),
		ByTier:   make(map[string]int),
	}
	for _, m := range records {
		stats.Total++
		stats.ByStatus[string(m.Status)]++
		stats.ByTier[string(m.Tier)]++
	}
	return stats, nil
}

// Snapshot is a full serialized copy of the store, used for backup,
// restore and tests.
type Snapshot struct {
	ExportedAt time.Time        `json:"exported_at"`
	Records    []*domain.Memory `json:"records"`
}

// Export returns a snapshot of every record.
func (s *Store) Export(ctx context.Context) (*Snapshot, error) {
	records, err := s.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{ExportedAt: time.Now().UTC()}
	for _, m := range records {
		snap.Records = append(snap.Records, m.Clone())
	}
	return snap, nil
}

// Import bulk-loads a snapshot through the write path. Records that fail
// validation are skipped and logged, not fatal.
func (s *Store) Import(ctx context.Context, snap *Snapshot) error {
	for _, m := range snap.Records {
		if err := m.Validate(); err != nil {
			s.logger.Warn("skipping invalid record on import", "id", m.ID, "error", err)
			continue
		}
		if err := s.writeThrough(ctx, m.Clone()); err != nil {
			return domain.WrapOp("Store.Import", err)
		}
	}
	return nil
}

// RunMaintenance executes one decay/archival/consolidation pass. Passes
// are single-flight: overlapping runs would race consolidation deletes.
func (s *Store) RunMaintenance(ctx context.Context) (*MaintenanceResult, error) {
	if !s.maintInFlight.CompareAndSwap(false, true) {
		return nil, domain.NewDomainError("Store.RunMaintenance", domain.ErrMaintenanceRunning, "")
	}
	defer s.maintInFlight.Store(false)

	ctx, span := tracer.StartSpan(ctx, "store.maintenance")
	defer span.End()

	// Maintenance doubles as the availability refresh point.
	s.Probe(ctx)

	engine := newEngine(s, s.maintCfg, s.maintState, s.logger)
	result, err := engine.Run(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	s.logger.Info("maintenance pass complete",
		"decayed", result.Decayed,
		"archived", result.Archived,
		"consolidations", result.Consolidations,
	)
	return result, nil
}

// allRecords returns the union of records across available tiers; the
// fastest tier holding a record wins.
func (s *Store) allRecords(ctx context.Context) (map[string]*domain.Memory, error) {
	backends := s.availableBackends()
	if len(backends) == 0 {
		return nil, domain.NewDomainError("Store.allRecords", domain.ErrBackendUnavailable, "no backend available")
	}

	records := make(map[string]*domain.Memory)
	for _, b := range backends {
		ids, err := b.List(ctx, "")
		if err != nil {
			s.logger.Warn("tier list failed, falling through", "backend", b.Name(), "error", err)
			continue
		}
		for _, id := range ids {
			if _, seen := records[id]; seen {
				continue
			}
			m, err := b.Get(ctx, id)
			if err != nil {
				continue
			}
			records[id] = m
		}
	}
	return records, nil
}

// schedulePromotion enqueues a copy-up without blocking the read path.
func (s *Store) schedulePromotion(m *domain.Memory, onto []domain.Backend) {
	p := promotion{record: m.Clone(), onto: onto}
	select {
	case s.promoteCh <- p:
	default:
		// Queue full: drop the oldest, keep the newest.
		select {
		case <-s.promoteCh:
		default:
		}
		select {
		case s.promoteCh <- p:
		default:
			s.logger.Warn("promotion dropped", "id", m.ID)
		}
	}
}

func (s *Store) promoteWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case p := <-s.promoteCh:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			for _, b := range p.onto {
				if err := b.Put(ctx, p.record); err != nil {
					s.logger.Warn("promotion failed", "backend", b.Name(), "id", p.record.ID, "error", err)
				}
			}
			cancel()
		}
	}
}

// Flush waits until the promotion queue drains. Intended for tests and
// shutdown.
func (s *Store) Flush() {
	for len(s.promoteCh) > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	// One more tick so an in-flight promotion finishes its writes.
	time.Sleep(10 * time.Millisecond)
}
