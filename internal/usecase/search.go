package usecase

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"memtier/internal/domain"
	"memtier/internal/infra/tracer"
)

// SearchQuery filters and ranks records. Zero values mean "no constraint".
type SearchQuery struct {
	Text            string
	Types           []domain.MemoryType
	Tags            []string
	MinImportance   float64
	IncludeArchived bool
	Limit           int
}

const defaultSearchLimit = 20

// recency half-life for scoring; recently touched records rank higher.
const recencyHalfLife = 30 * 24 * time.Hour

// SearchResult pairs a record with its relevance score.
type SearchResult struct {
	Memory *domain.Memory `json:"memory"`
	Score  float64        `json:"score"`
}

// Search scans the union of all tiers, filters, scores and ranks.
// Archived records are excluded unless asked for. An empty Text matches
// everything that passes the filters, ranked by importance and recency.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	ctx, span := tracer.StartSpan(ctx, "store.search")
	defer span.End()

	records, err := s.allRecords(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	terms := tokenize(q.Text)
	wantTags := lowerSet(q.Tags)
	now := time.Now().UTC()

	var results []SearchResult
	for _, m := range records {
		if !q.IncludeArchived && m.Status != domain.StatusActive {
			continue
		}
		if !typeAllowed(m.Type, q.Types) {
			continue
		}
		if m.Importance < q.MinImportance {
			continue
		}
		if !hasAllTags(m, wantTags) {
			continue
		}

		score := scoreRecord(m, terms, now)
		if len(terms) > 0 && score == 0 {
			continue
		}
		results = append(results, SearchResult{Memory: m.Clone(), Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})

	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// scoreRecord blends term matches with importance, strength and recency.
// Title-cased weighting is deliberate: a tag hit outranks a content hit.
func scoreRecord(m *domain.Memory, terms map[string]bool, now time.Time) float64 {
	var matched float64
	if len(terms) > 0 {
		contentTokens := tokenize(m.Content)
		summaryTokens := tokenize(m.Summary)
		tagTokens := lowerSet(m.Tags)
		for t := range terms {
			switch {
			case tagTokens[t]:
				matched += 3
			case summaryTokens[t]:
				matched += 2
			case contentTokens[t]:
				matched += 1
			}
		}
		if matched == 0 {
			return 0
		}
		matched /= float64(len(terms))
	}

	age := now.Sub(m.LastAccessedAt)
	recency := 1.0
	if age > 0 {
		recency = 1 / (1 + age.Hours()/recencyHalfLife.Hours())
	}

	return matched + 0.5*m.Importance + 0.3*m.Strength + 0.2*recency
}

func typeAllowed(mt domain.MemoryType, want []domain.MemoryType) bool {
	if len(want) == 0 {
		return true
	}
	for _, t := range want {
		if mt == t {
			return true
		}
	}
	return false
}

func hasAllTags(m *domain.Memory, want map[string]bool) bool {
	if len(want) == 0 {
		return true
	}
	have := lowerSet(m.Tags)
	for t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

// tokenize splits text into a set of lowercase alphanumeric terms.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		t := normalizeToken(f)
		if len(t) >= 2 {
			tokens[t] = true
		}
	}
	return tokens
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
