package notes

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"memtier/internal/domain"
)

// noteFrontmatter is the YAML structure embedded at the top of each note.
// Field names follow the vault wire format (camelCase).
type noteFrontmatter struct {
	ID             string           `yaml:"id"`
	Type           string           `yaml:"type"`
	Importance     float64          `yaml:"importance"`
	Tags           []string         `yaml:"tags"`
	Categories     []string         `yaml:"categories,omitempty"`
	Source         map[string]any   `yaml:"source,omitempty"`
	CreatedAt      string           `yaml:"createdAt"`
	UpdatedAt      string           `yaml:"updatedAt"`
	LastAccessedAt string           `yaml:"lastAccessedAt"`
	AccessCount    int              `yaml:"accessCount"`
	Tier           string           `yaml:"tier"`
	Strength       float64          `yaml:"strength"`
	Status         string           `yaml:"status"`
	Sync           *syncFrontmatter `yaml:"sync,omitempty"`
}

type syncFrontmatter struct {
	Version      int      `yaml:"version"`
	ContentHash  string   `yaml:"contentHash"`
	LastSyncedAt string   `yaml:"lastSyncedAt"`
	PendingSync  bool     `yaml:"pendingSync"`
	AvailableIn  []string `yaml:"availableIn,omitempty"`
}

// legacyFields maps deprecated front-matter keys to their canonical names.
// A legacy key is honored only when the canonical key is absent.
var legacyFields = map[string]string{
	"importance_score": "importance",
	"memory_type":      "type",
	"created_at":       "createdAt",
	"updated_at":       "updatedAt",
	"last_accessed_at": "lastAccessedAt",
	"access_count":     "accessCount",
}

// ToMarkdown renders a record as a markdown note: YAML front matter with
// every non-derived field, an optional Summary section, and a Content
// section holding the content verbatim.
func ToMarkdown(m *domain.Memory) string {
	fm := noteFrontmatter{
		ID:             m.ID,
		Type:           string(m.Type),
		Importance:     m.Importance,
		Tags:           m.Tags,
		Categories:     m.Categories,
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      m.UpdatedAt.UTC().Format(time.RFC3339),
		LastAccessedAt: m.LastAccessedAt.UTC().Format(time.RFC3339),
		AccessCount:    m.AccessCount,
		Tier:           string(m.Tier),
		Strength:       m.Strength,
		Status:         string(m.Status),
	}
	if fm.Tags == nil {
		fm.Tags = []string{}
	}
	if m.Source != nil {
		fm.Source = map[string]any{}
		if m.Source.Surface != "" {
			fm.Source["surface"] = m.Source.Surface
		}
		if m.Source.Backend != "" {
			fm.Source["backend"] = m.Source.Backend
		}
		if m.Source.UserID != "" {
			fm.Source["userId"] = m.Source.UserID
		}
		if m.Source.SessionID != "" {
			fm.Source["sessionId"] = m.Source.SessionID
		}
	}
	if m.Sync != nil {
		fm.Sync = &syncFrontmatter{
			Version:      m.Sync.Version,
			ContentHash:  m.Sync.ContentHash,
			LastSyncedAt: m.Sync.LastSyncedAt.UTC().Format(time.RFC3339),
			PendingSync:  m.Sync.PendingSync,
			AvailableIn:  m.Sync.AvailableIn,
		}
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	enc.Encode(fm)
	enc.Close()
	buf.WriteString("---\n\n")

	if m.Summary != "" {
		buf.WriteString("## Summary\n\n")
		buf.WriteString(m.Summary)
		buf.WriteString("\n\n")
	}
	buf.WriteString("## Content\n\n")
	buf.WriteString(m.Content)
	buf.WriteByte('\n')

	return buf.String()
}

// FromMarkdown parses a note back into a record. Missing id or type never
// fail: a deterministic synthetic id and a default type are substituted so
// arbitrary human-authored notes import as low-confidence records.
func FromMarkdown(data []byte) (*domain.Memory, error) {
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, domain.NewDomainError("notes.FromMarkdown", domain.ErrInvalidInput, err.Error())
	}

	applyLegacyFields(fm)

	summary, content := splitBody(body)
	if strings.TrimSpace(content) == "" {
		return nil, domain.NewDomainError("notes.FromMarkdown", domain.ErrInvalidInput, "note has no content")
	}

	t := domain.MemoryType(coerceString(fm["type"]))
	if !t.Valid() {
		t = domain.TypeSemantic
	}

	id := coerceString(fm["id"])
	if id == "" {
		id = domain.SyntheticID(t, content)
	}

	importance, ok := coerceFloat(fm["importance"])
	if !ok {
		importance = 0.5
	}
	strength, ok := coerceFloat(fm["strength"])
	if !ok {
		strength = 1.0
	}

	status := domain.MemoryStatus(coerceString(fm["status"]))
	if status != domain.StatusArchived {
		status = domain.StatusActive
	}
	tier := domain.Tier(coerceString(fm["tier"]))
	if tier != domain.TierHot && tier != domain.TierCold {
		tier = domain.TierWarm
	}

	m := &domain.Memory{
		ID:             id,
		Content:        content,
		Summary:        summary,
		Type:           t,
		Importance:     importance,
		Strength:       strength,
		Status:         status,
		AccessCount:    coerceInt(fm["accessCount"]),
		Tags:           coerceStringList(fm["tags"]),
		Categories:     coerceStringList(fm["categories"]),
		Tier:           tier,
		CreatedAt:      coerceTime(fm["createdAt"]),
		UpdatedAt:      coerceTime(fm["updatedAt"]),
		LastAccessedAt: coerceTime(fm["lastAccessedAt"]),
	}

	if src := coerceMap(fm["source"]); src != nil {
		m.Source = &domain.Source{
			Surface:   coerceString(src["surface"]),
			Backend:   coerceString(src["backend"]),
			UserID:    coerceString(src["userId"]),
			SessionID: coerceString(src["sessionId"]),
		}
	}
	if sy := coerceMap(fm["sync"]); sy != nil {
		m.Sync = &domain.SyncState{
			Version:      coerceInt(sy["version"]),
			ContentHash:  coerceString(sy["contentHash"]),
			LastSyncedAt: coerceTime(sy["lastSyncedAt"]),
			PendingSync:  coerceBool(sy["pendingSync"]),
			AvailableIn:  coerceStringList(sy["availableIn"]),
		}
	}

	return m, nil
}

// splitFrontmatter separates the YAML block from the body. Notes without
// front matter parse as an empty mapping with the whole file as body.
func splitFrontmatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return map[string]any{}, content, nil
	}

	rest := content[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return nil, "", fmt.Errorf("missing frontmatter end")
	}

	raw := rest[:idx]
	body := rest[idx+5:]
	body = strings.TrimPrefix(body, "\n")

	fm := map[string]any{}
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, body, nil
}

// splitBody extracts the Summary and Content sections. A body with no
// Content header is treated as all content (human-authored note).
func splitBody(body string) (summary, content string) {
	const (
		summaryHdr = "## Summary\n\n"
		contentHdr = "## Content\n\n"
		contentSep = "\n\n## Content\n\n"
	)

	switch {
	case strings.HasPrefix(body, summaryHdr):
		rest := body[len(summaryHdr):]
		idx := strings.Index(rest, contentSep)
		if idx < 0 {
			return "", strings.TrimSuffix(body, "\n")
		}
		summary = rest[:idx]
		content = rest[idx+len(contentSep):]
	case strings.HasPrefix(body, contentHdr):
		content = body[len(contentHdr):]
	default:
		content = body
	}
	return summary, strings.TrimSuffix(content, "\n")
}

// applyLegacyFields copies legacy keys onto canonical names when the
// canonical key is absent.
func applyLegacyFields(fm map[string]any) {
	for legacy, canonical := range legacyFields {
		if _, ok := fm[canonical]; ok {
			continue
		}
		if v, ok := fm[legacy]; ok {
			fm[canonical] = v
		}
	}
}

// Coercion helpers: front matter written by humans is loosely typed, so
// each field is coerced explicitly rather than decoded into a rigid struct.

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", s)
	default:
		return ""
	}
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		return false
	}
}

func coerceStringList(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []string:
		return list
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}

func coerceMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[coerceString(k)] = val
		}
		return out
	default:
		return nil
	}
}

func coerceTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
