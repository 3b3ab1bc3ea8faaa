package notes

import (
	"strings"
	"testing"
	"time"

	"memtier/internal/domain"
)

func sampleMemory() *domain.Memory {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Memory{
		ID:          "semantic-01JXAMPLE0000000000000000",
		Content:     "The deployment pipeline requires a green canary before promote.",
		Summary:     "Canary gates promotion",
		Type:        domain.TypeSemantic,
		Importance:  0.9,
		Strength:    0.75,
		Status:      domain.StatusActive,
		AccessCount: 4,
		Tags:        []string{"deploy", "pipeline"},
		Categories:  []string{"ops"},
		Tier:        domain.TierWarm,
		Source: &domain.Source{
			Surface:   "cli",
			Backend:   "warm",
			UserID:    "u-1",
			SessionID: "s-9",
		},
		CreatedAt:      created,
		UpdatedAt:      created.Add(time.Hour),
		LastAccessedAt: created.Add(2 * time.Hour),
		Sync: &domain.SyncState{
			Version:      2,
			ContentHash:  domain.ContentHash("The deployment pipeline requires a green canary before promote."),
			LastSyncedAt: created.Add(3 * time.Hour),
			PendingSync:  true,
			AvailableIn:  []string{"warm", "markdown"},
		},
	}
}

func TestRoundTrip_AllFields(t *testing.T) {
	orig := sampleMemory()

	got, err := FromMarkdown([]byte(ToMarkdown(orig)))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}

	if got.ID != orig.ID {
		t.Errorf("id = %q, want %q", got.ID, orig.ID)
	}
	if got.Content != orig.Content {
		t.Errorf("content = %q", got.Content)
	}
	if got.Summary != orig.Summary {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Type != orig.Type || got.Status != orig.Status || got.Tier != orig.Tier {
		t.Errorf("type/status/tier = %s/%s/%s", got.Type, got.Status, got.Tier)
	}
	if got.Importance != orig.Importance || got.Strength != orig.Strength {
		t.Errorf("importance/strength = %v/%v", got.Importance, got.Strength)
	}
	if got.AccessCount != orig.AccessCount {
		t.Errorf("access count = %d", got.AccessCount)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "deploy" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.Categories) != 1 || got.Categories[0] != "ops" {
		t.Errorf("categories = %v", got.Categories)
	}
	if got.Source == nil || *got.Source != *orig.Source {
		t.Errorf("source = %+v", got.Source)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) || !got.UpdatedAt.Equal(orig.UpdatedAt) || !got.LastAccessedAt.Equal(orig.LastAccessedAt) {
		t.Errorf("timestamps = %v/%v/%v", got.CreatedAt, got.UpdatedAt, got.LastAccessedAt)
	}
	if got.Sync == nil {
		t.Fatal("sync block lost")
	}
	if got.Sync.Version != 2 || got.Sync.ContentHash != orig.Sync.ContentHash || !got.Sync.PendingSync {
		t.Errorf("sync = %+v", got.Sync)
	}
	if !got.Sync.LastSyncedAt.Equal(orig.Sync.LastSyncedAt) {
		t.Errorf("lastSyncedAt = %v", got.Sync.LastSyncedAt)
	}
	if len(got.Sync.AvailableIn) != 2 {
		t.Errorf("availableIn = %v", got.Sync.AvailableIn)
	}
}

func TestRoundTrip_MultilineAndSpecialChars(t *testing.T) {
	orig := sampleMemory()
	orig.Summary = ""
	orig.Content = "line one\n\nline two with ## heading-looking text\n* bullets: —dashes— \"quotes\"\nfinal line\n"

	got, err := FromMarkdown([]byte(ToMarkdown(orig)))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if got.Content != orig.Content {
		t.Errorf("content mangled:\n got: %q\nwant: %q", got.Content, orig.Content)
	}
	if got.Summary != "" {
		t.Errorf("summary = %q, want empty", got.Summary)
	}
}

func TestToMarkdown_SummaryOnlyWhenSet(t *testing.T) {
	m := sampleMemory()
	m.Summary = ""
	md := ToMarkdown(m)
	if strings.Contains(md, "## Summary") {
		t.Error("Summary section emitted for empty summary")
	}
	if !strings.Contains(md, "## Content\n\n") {
		t.Error("Content section missing")
	}
}

func TestFromMarkdown_HumanAuthoredNote(t *testing.T) {
	// No front matter at all: should import as a low-confidence semantic record.
	note := "Remember that the staging cluster lives in us-east-2.\n"

	m, err := FromMarkdown([]byte(note))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if m.Type != domain.TypeSemantic {
		t.Errorf("type = %s, want semantic default", m.Type)
	}
	if m.Importance != 0.5 {
		t.Errorf("importance = %v, want 0.5 default", m.Importance)
	}
	if m.ID == "" || domain.TypeOfID(m.ID) != domain.TypeSemantic {
		t.Errorf("synthetic id = %q", m.ID)
	}
	if !strings.Contains(m.Content, "us-east-2") {
		t.Errorf("content = %q", m.Content)
	}

	// Same note, same synthetic id: deterministic import.
	again, err := FromMarkdown([]byte(note))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if again.ID != m.ID {
		t.Errorf("synthetic ids differ: %q vs %q", again.ID, m.ID)
	}
}

func TestFromMarkdown_LegacyImportanceField(t *testing.T) {
	note := "---\nid: semantic-LEGACY\ntype: semantic\nimportance_score: 0.8\n---\n\n## Content\n\nlegacy body\n"

	m, err := FromMarkdown([]byte(note))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if m.Importance != 0.8 {
		t.Errorf("importance = %v, want 0.8 from legacy field", m.Importance)
	}
}

func TestFromMarkdown_CanonicalFieldWinsOverLegacy(t *testing.T) {
	note := "---\nid: semantic-BOTH\ntype: semantic\nimportance: 0.3\nimportance_score: 0.9\n---\n\n## Content\n\nbody\n"

	m, err := FromMarkdown([]byte(note))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if m.Importance != 0.3 {
		t.Errorf("importance = %v, want canonical 0.3", m.Importance)
	}
}

func TestFromMarkdown_LooseTyping(t *testing.T) {
	// Humans write numbers as strings, single tags as scalars, and so on.
	note := "---\n" +
		"id: working-LOOSE\n" +
		"type: working\n" +
		"importance: \"0.7\"\n" +
		"tags: solo-tag\n" +
		"accessCount: \"12\"\n" +
		"sync:\n  version: 1\n  pendingSync: \"true\"\n" +
		"---\n\n## Content\n\nloose\n"

	m, err := FromMarkdown([]byte(note))
	if err != nil {
		t.Fatalf("FromMarkdown: %v", err)
	}
	if m.Importance != 0.7 {
		t.Errorf("importance = %v", m.Importance)
	}
	if len(m.Tags) != 1 || m.Tags[0] != "solo-tag" {
		t.Errorf("tags = %v", m.Tags)
	}
	if m.AccessCount != 12 {
		t.Errorf("access count = %d", m.AccessCount)
	}
	if m.Sync == nil || !m.Sync.PendingSync {
		t.Errorf("sync = %+v", m.Sync)
	}
}

func TestFromMarkdown_EmptyContentRejected(t *testing.T) {
	note := "---\nid: semantic-EMPTY\ntype: semantic\n---\n\n## Content\n\n\n"
	if _, err := FromMarkdown([]byte(note)); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestFromMarkdown_UnterminatedFrontmatter(t *testing.T) {
	if _, err := FromMarkdown([]byte("---\nid: x\nno end")); err == nil {
		t.Fatal("expected error for unterminated frontmatter")
	}
}
