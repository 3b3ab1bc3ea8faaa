package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"memtier/internal/domain"
)

// DecayCurve selects how strength decreases over time.
type DecayCurve string

const (
	DecayExponential DecayCurve = "exponential"
	DecayLinear      DecayCurve = "linear"
)

// MaintenanceConfig tunes the decay/archival/consolidation pass. The curve
// shape and similarity threshold are configuration, not constants; tests
// assert direction, not exact numbers.
type MaintenanceConfig struct {
	HalfLife            time.Duration `yaml:"half_life"`
	Curve               DecayCurve    `yaml:"curve"`
	AccessBoostWeight   float64       `yaml:"access_boost_weight"`
	ImportanceWindow    time.Duration `yaml:"importance_window"`
	ImportanceFloor     float64       `yaml:"importance_floor"`
	ArchiveThreshold    float64       `yaml:"archive_threshold"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
}

// DefaultMaintenanceConfig returns the tuning used when config omits the
// maintenance block.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		HalfLife:            7 * 24 * time.Hour,
		Curve:               DecayExponential,
		AccessBoostWeight:   0.05,
		ImportanceWindow:    30 * 24 * time.Hour,
		ImportanceFloor:     0.1,
		ArchiveThreshold:    0.05,
		SimilarityThreshold: 0.6,
	}
}

// MaintenanceResult reports what a pass changed.
type MaintenanceResult struct {
	Scanned        int `json:"scanned"`
	Decayed        int `json:"decayed"`
	Archived       int `json:"archived"`
	Consolidations int `json:"consolidations"`
}

// maintenanceState carries cross-pass bookkeeping. Access counts only ever
// grow, so the delta since the previous pass is the accrual to reward.
type maintenanceState struct {
	mu              sync.Mutex
	lastAccessCount map[string]int
}

func newMaintenanceState() *maintenanceState {
	return &maintenanceState{lastAccessCount: make(map[string]int)}
}

// accrued returns reads since the previous pass and records the new mark.
// The first pass over a record accrues zero.
func (st *maintenanceState) accrued(id string, count int) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	prev, seen := st.lastAccessCount[id]
	st.lastAccessCount[id] = count
	if !seen || count < prev {
		return 0
	}
	return count - prev
}

func (st *maintenanceState) forget(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.lastAccessCount, id)
}

// engine runs one maintenance pass over the store's record population.
type engine struct {
	store  *Store
	cfg    MaintenanceConfig
	state  *maintenanceState
	logger *slog.Logger
	now    time.Time
}

func newEngine(store *Store, cfg MaintenanceConfig, state *maintenanceState, logger *slog.Logger) *engine {
	return &engine{store: store, cfg: cfg, state: state, logger: logger, now: time.Now().UTC()}
}

// Run executes decay, archival and consolidation in that order and
// persists every changed record through the write path. Freshly archived
// records are demoted out of the hot tier.
func (e *engine) Run(ctx context.Context) (*MaintenanceResult, error) {
	records, err := e.store.allRecords(ctx)
	if err != nil {
		return nil, domain.WrapOp("maintenance", err)
	}

	result := &MaintenanceResult{Scanned: len(records)}

	// Stable iteration order keeps consolidation survivors deterministic.
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		m := records[id]
		if m.Status != domain.StatusActive {
			continue
		}

		changed := e.decay(m)
		if changed {
			result.Decayed++
		}

		archived := false
		if m.Strength <= e.cfg.ArchiveThreshold {
			m.Status = domain.StatusArchived
			m.Touch()
			changed = true
			archived = true
			result.Archived++
		}

		if !changed {
			continue
		}
		if archived {
			// Archived records have no business occupying cache space.
			if err := e.store.demote(ctx, m); err != nil {
				return nil, domain.WrapOp("maintenance.archive", err)
			}
			continue
		}
		if err := e.store.writeThrough(ctx, m); err != nil {
			return nil, domain.WrapOp("maintenance.decay", err)
		}
	}

	merged, err := e.consolidate(ctx, records, ids)
	if err != nil {
		return nil, err
	}
	result.Consolidations = merged

	return result, nil
}

// decay applies one net strength adjustment (time-driven loss offset by
// reads accrued since the previous pass) and eases importance toward the
// floor for records untouched beyond the window. Reports whether the
// record changed.
func (e *engine) decay(m *domain.Memory) bool {
	elapsed := e.now.Sub(m.LastAccessedAt)
	if elapsed <= 0 {
		return false
	}

	halfLife := e.cfg.HalfLife
	// Semantic and procedural knowledge outlives episodes; working
	// memory is scratch space and fades fast.
	switch m.Type {
	case domain.TypeSemantic, domain.TypeProcedural:
		halfLife *= 2
	case domain.TypeWorking:
		halfLife /= 4
	}

	var next float64
	switch e.cfg.Curve {
	case DecayLinear:
		next = m.Strength * (1 - elapsed.Hours()/(2*halfLife.Hours()))
	default:
		next = m.Strength * math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
	}

	if n := e.state.accrued(m.ID, m.AccessCount); n > 0 {
		next += float64(n) * e.cfg.AccessBoostWeight
	}
	next = clampStrength(next)

	changed := math.Abs(next-m.Strength) > 1e-9
	m.Strength = next

	if elapsed > e.cfg.ImportanceWindow && m.Importance > e.cfg.ImportanceFloor {
		eased := m.Importance - 0.1*(m.Importance-e.cfg.ImportanceFloor)
		if eased < e.cfg.ImportanceFloor {
			eased = e.cfg.ImportanceFloor
		}
		m.Importance = eased
		changed = true
	}

	return changed
}

// consolidate merges near-duplicate active records of the same type. For
// each similar pair the higher-importance record survives, absorbs the
// other's tags, categories and access count, and the absorbed record is
// deleted everywhere. Returns the number of merges performed.
func (e *engine) consolidate(ctx context.Context, records map[string]*domain.Memory, ids []string) (int, error) {
	absorbed := make(map[string]bool)
	merges := 0

	for i := 0; i < len(ids); i++ {
		a := records[ids[i]]
		if a.Status != domain.StatusActive || absorbed[a.ID] {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b := records[ids[j]]
			if b.Status != domain.StatusActive || absorbed[b.ID] {
				continue
			}
			if a.Type != b.Type {
				continue
			}
			if similarity(a, b) < e.cfg.SimilarityThreshold {
				continue
			}

			survivor, victim := a, b
			if b.Importance > a.Importance {
				survivor, victim = b, a
			}
			survivor.MergeFrom(victim)

			if err := e.store.writeThrough(ctx, survivor); err != nil {
				return merges, domain.WrapOp("maintenance.consolidate", err)
			}
			if _, err := e.store.Delete(ctx, victim.ID); err != nil {
				return merges, domain.WrapOp("maintenance.consolidate", err)
			}
			e.state.forget(victim.ID)
			absorbed[victim.ID] = true
			merges++

			e.logger.Info("memories consolidated",
				"survivor", survivor.ID, "absorbed", victim.ID)

			if survivor == b {
				// a was absorbed; stop comparing against it.
				break
			}
		}
	}
	return merges, nil
}

// similarity blends token overlap of content with tag overlap, both as
// Jaccard coefficients. Content dominates.
func similarity(a, b *domain.Memory) float64 {
	content := jaccard(tokenize(a.Content), tokenize(b.Content))
	if len(a.Tags) == 0 && len(b.Tags) == 0 {
		return content
	}
	tags := jaccard(lowerSet(a.Tags), lowerSet(b.Tags))
	return 0.7*content + 0.3*tags
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func lowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[normalizeToken(s)] = true
	}
	return set
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
