package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"memtier/internal/domain"
)

// GitContentOption configures a GitContentClient.
type GitContentOption func(*GitContentClient)

// WithGitTimeout overrides the per-call HTTP timeout.
func WithGitTimeout(d time.Duration) GitContentOption {
	return func(g *GitContentClient) { g.client.Timeout = d }
}

// WithGitBranch targets a branch other than the repository default.
func WithGitBranch(branch string) GitContentOption {
	return func(g *GitContentClient) { g.branch = branch }
}

// GitContentClient implements ContentClient against a git hosting contents
// API (GET/PUT/DELETE on /repos/{owner}/{repo}/contents/{path}).
type GitContentClient struct {
	baseURL string // e.g. "https://api.github.com"
	repo    string // "owner/name"
	token   string
	branch  string
	client  *http.Client
}

// NewGitContentClient creates a contents-API client for the given repo.
func NewGitContentClient(baseURL, repo, token string, opts ...GitContentOption) *GitContentClient {
	g := &GitContentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		repo:    repo,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// contentsFile is the wire shape of a file entry in the contents API.
type contentsFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Type     string `json:"type"` // "file" or "dir"
	Content  string `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

func (g *GitContentClient) contentsURL(filePath string) string {
	u := fmt.Sprintf("%s/repos/%s/contents/%s", g.baseURL, g.repo, url.PathEscape(filePath))
	// PathEscape encodes the path separators we want to keep.
	u = strings.ReplaceAll(u, "%2F", "/")
	if g.branch != "" {
		u += "?ref=" + url.QueryEscape(g.branch)
	}
	return u
}

func (g *GitContentClient) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.client.Do(req)
}

func (g *GitContentClient) GetFile(ctx context.Context, filePath string) ([]byte, string, error) {
	resp, err := g.do(ctx, http.MethodGet, g.contentsURL(filePath), nil)
	if err != nil {
		return nil, "", domain.NewDomainError("GitContentClient.GetFile", domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", domain.NewDomainError("GitContentClient.GetFile", domain.ErrNotFound, filePath)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", domain.NewDomainError("GitContentClient.GetFile", domain.ErrTransport,
			fmt.Sprintf("%s: status %d", filePath, resp.StatusCode))
	}

	var file contentsFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, "", domain.NewDomainError("GitContentClient.GetFile", domain.ErrTransport, err.Error())
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return nil, "", domain.NewDomainError("GitContentClient.GetFile", domain.ErrTransport,
			fmt.Sprintf("decode %s: %v", filePath, err))
	}
	return data, file.SHA, nil
}

func (g *GitContentClient) PutFile(ctx context.Context, filePath string, data []byte, sha, message string) (string, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(data),
	}
	if sha != "" {
		payload["sha"] = sha
	}
	if g.branch != "" {
		payload["branch"] = g.branch
	}

	resp, err := g.do(ctx, http.MethodPut, g.contentsURL(filePath), payload)
	if err != nil {
		return "", domain.NewDomainError("GitContentClient.PutFile", domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", domain.NewDomainError("GitContentClient.PutFile", domain.ErrTransport,
			fmt.Sprintf("%s: status %d", filePath, resp.StatusCode))
	}

	var result struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", domain.NewDomainError("GitContentClient.PutFile", domain.ErrTransport, err.Error())
	}
	return result.Commit.SHA, nil
}

func (g *GitContentClient) DeleteFile(ctx context.Context, filePath, sha, message string) error {
	payload := map[string]any{
		"message": message,
		"sha":     sha,
	}
	if g.branch != "" {
		payload["branch"] = g.branch
	}

	resp, err := g.do(ctx, http.MethodDelete, g.contentsURL(filePath), payload)
	if err != nil {
		return domain.NewDomainError("GitContentClient.DeleteFile", domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewDomainError("GitContentClient.DeleteFile", domain.ErrTransport,
			fmt.Sprintf("%s: status %d", filePath, resp.StatusCode))
	}
	return nil
}

func (g *GitContentClient) ListDir(ctx context.Context, dirPath string) ([]string, error) {
	resp, err := g.do(ctx, http.MethodGet, g.contentsURL(dirPath), nil)
	if err != nil {
		return nil, domain.NewDomainError("GitContentClient.ListDir", domain.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewDomainError("GitContentClient.ListDir", domain.ErrNotFound, dirPath)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("GitContentClient.ListDir", domain.ErrTransport,
			fmt.Sprintf("%s: status %d", dirPath, resp.StatusCode))
	}

	var entries []contentsFile
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, domain.NewDomainError("GitContentClient.ListDir", domain.ErrTransport, err.Error())
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == "file" {
			names = append(names, e.Name)
		}
	}
	return names, nil
}

func (g *GitContentClient) Ping(ctx context.Context) error {
	u := fmt.Sprintf("%s/repos/%s", g.baseURL, g.repo)
	resp, err := g.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repo probe: status %d", resp.StatusCode)
	}
	return nil
}
