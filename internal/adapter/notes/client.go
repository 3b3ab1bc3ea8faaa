// Package notes converts canonical memory records to and from markdown
// notes with YAML front matter and talks to the remote note vault API.
// The vault is a secondary, eventually-consistent replica: reads degrade,
// writes surface.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"memtier/internal/domain"
)

// VaultStatus reports vault connectivity.
type VaultStatus struct {
	Connected bool   `json:"connected"`
	VaultName string `json:"vault_name,omitempty"`
}

// Note is a raw note as returned by the vault API.
type Note struct {
	Path        string
	Content     string // full file content including front matter
	Frontmatter map[string]any
}

// SearchMatch is one hit from the vault's search endpoint, in the vault's
// own relevance order.
type SearchMatch struct {
	Path    string  `json:"filename"`
	Score   float64 `json:"score"`
	Matches int     `json:"matches"`
}

// NoteClient is the interface for the remote note API.
type NoteClient interface {
	// Status checks connectivity and returns the vault name when connected.
	Status(ctx context.Context) (*VaultStatus, error)

	// ListNotes returns note paths under folder ("" = vault root).
	// Non-note files are filtered out.
	ListNotes(ctx context.Context, folder string) ([]string, error)

	// ReadNote fetches a note by vault-relative path, or ErrNotFound.
	ReadNote(ctx context.Context, path string) (*Note, error)

	// WriteNote creates or replaces a note.
	WriteNote(ctx context.Context, path, content string) error

	// Append appends text to an existing note.
	Append(ctx context.Context, path, text string) error

	// SearchNotes runs the vault's free-text search.
	SearchNotes(ctx context.Context, query string) ([]SearchMatch, error)
}

// Default circuit breaker settings for the vault API.
const (
	defaultVaultTimeout    = 10 * time.Second
	defaultVaultRate       = 20 // requests per second
	defaultCBMaxFailures   = 5
	defaultCBOpenTimeout   = 30 * time.Second
	defaultCBCycleInterval = 60 * time.Second
)

// HTTPNoteOption configures an HTTPNoteClient.
type HTTPNoteOption func(*HTTPNoteClient)

// WithVaultTimeout overrides the per-call timeout.
func WithVaultTimeout(d time.Duration) HTTPNoteOption {
	return func(c *HTTPNoteClient) { c.client.Timeout = d }
}

// WithVaultRateLimit overrides the request rate limit (requests/second).
// Burst never drops below 1 so sub-1 rates still let single calls through.
func WithVaultRateLimit(rps float64) HTTPNoteOption {
	return func(c *HTTPNoteClient) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// HTTPNoteClient implements NoteClient over the vault's local REST API.
// Calls go through a circuit breaker so a dead vault fails fast instead of
// stalling every sync pass, and a rate limiter keeps bulk syncs polite.
type HTTPNoteClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewHTTPNoteClient creates a vault API client.
func NewHTTPNoteClient(baseURL, apiKey string, opts ...HTTPNoteOption) *HTTPNoteClient {
	c := &HTTPNoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultVaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(defaultVaultRate), defaultVaultRate),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "vault",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBCycleInterval,
		Timeout:     defaultCBOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Absence is a valid outcome, not a vault fault.
			return err == nil || domain.IsNotFound(err)
		},
	})
	for _, o := range opts {
		o(c)
	}
	return c
}

// do performs one vault API call through the rate limiter and breaker.
func (c *HTTPNoteClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewDomainError("vault", domain.ErrTransport, err.Error())
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, domain.NewDomainError("vault", domain.ErrTransport, err.Error())
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, domain.NewDomainError("vault", domain.ErrTransport, err.Error())
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewDomainError("vault", domain.ErrTransport, err.Error())
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, domain.NewDomainError("vault", domain.ErrNotFound, path)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, domain.NewDomainError("vault", domain.ErrTransport,
				fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode))
		}
		return data, nil
	})
}

func (c *HTTPNoteClient) Status(ctx context.Context) (*VaultStatus, error) {
	data, err := c.do(ctx, http.MethodGet, "/", nil, "")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Authenticated bool   `json:"authenticated"`
		VaultName     string `json:"vaultName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewDomainError("vault.Status", domain.ErrTransport, err.Error())
	}
	return &VaultStatus{Connected: true, VaultName: raw.VaultName}, nil
}

func (c *HTTPNoteClient) ListNotes(ctx context.Context, folder string) ([]string, error) {
	p := "/vault/"
	if folder != "" {
		p = "/vault/" + escapePath(folder) + "/"
	}
	data, err := c.do(ctx, http.MethodGet, p, nil, "")
	if err != nil {
		return nil, err
	}
	var raw struct {
		Files []string `json:"files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.NewDomainError("vault.ListNotes", domain.ErrTransport, err.Error())
	}
	notes := make([]string, 0, len(raw.Files))
	for _, f := range raw.Files {
		if strings.HasSuffix(f, ".md") || strings.HasSuffix(f, "/") {
			notes = append(notes, f)
		}
	}
	return notes, nil
}

func (c *HTTPNoteClient) ReadNote(ctx context.Context, path string) (*Note, error) {
	data, err := c.do(ctx, http.MethodGet, "/vault/"+escapePath(path), nil, "")
	if err != nil {
		return nil, err
	}
	fm, _, _ := splitFrontmatter(string(data))
	return &Note{Path: path, Content: string(data), Frontmatter: fm}, nil
}

func (c *HTTPNoteClient) WriteNote(ctx context.Context, path, content string) error {
	_, err := c.do(ctx, http.MethodPut, "/vault/"+escapePath(path),
		strings.NewReader(content), "text/markdown")
	return err
}

func (c *HTTPNoteClient) Append(ctx context.Context, path, text string) error {
	_, err := c.do(ctx, http.MethodPost, "/vault/"+escapePath(path),
		strings.NewReader(text), "text/markdown")
	return err
}

func (c *HTTPNoteClient) SearchNotes(ctx context.Context, query string) ([]SearchMatch, error) {
	p := "/search/simple/?query=" + url.QueryEscape(query)
	data, err := c.do(ctx, http.MethodPost, p, nil, "")
	if err != nil {
		return nil, err
	}
	var matches []SearchMatch
	if err := json.Unmarshal(data, &matches); err != nil {
		return nil, domain.NewDomainError("vault.SearchNotes", domain.ErrTransport, err.Error())
	}
	return matches, nil
}

// escapePath escapes each path segment while keeping separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
