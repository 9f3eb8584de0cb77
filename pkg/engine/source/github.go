package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/version"
)

const maxGitHubResponse = 10 * 1024 * 1024

// GitHubFetcher reads repositories through the GitHub REST API. It makes no
// retries; a transient failure fails the run and the target can be re-added.
type GitHubFetcher struct {
	baseURL string
	token   string
	client  *http.Client
	filter  *Filter
	logger  *slog.Logger
}

// NewGitHubFetcher creates a fetcher. baseURL empty means api.github.com.
func NewGitHubFetcher(baseURL, token string, filter *Filter, logger *slog.Logger) *GitHubFetcher {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		filter:  filter,
		logger:  logger,
	}
}

func (g *GitHubFetcher) Platform() artifact.Platform { return artifact.PlatformGitHub }

type repoInfo struct {
	DefaultBranch string    `json:"default_branch"`
	Stars         int       `json:"stargazers_count"`
	CreatedAt     time.Time `json:"created_at"`
	PushedAt      time.Time `json:"pushed_at"`
	License       *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		Size int64  `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
}

func (g *GitHubFetcher) Fetch(ctx context.Context, target artifact.RepositoryTarget) (Snapshot, error) {
	repo := target.Key()
	base := fmt.Sprintf("%s/repos/%s/%s", g.baseURL, url.PathEscape(target.Owner), url.PathEscape(target.Name))

	var info repoInfo
	if err := g.get(ctx, repo, base, &info); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Stars: info.Stars}
	if info.License != nil && info.License.SPDXID != "NOASSERTION" {
		snap.License = info.License.SPDXID
	}

	paths := target.Files
	if len(paths) == 0 {
		var tree treeResponse
		treeURL := fmt.Sprintf("%s/git/trees/%s?recursive=1", base, url.PathEscape(info.DefaultBranch))
		if err := g.get(ctx, repo, treeURL, &tree); err != nil {
			return Snapshot{}, err
		}
		if tree.Truncated {
			g.logger.Warn("Repository tree truncated by GitHub", "repo", repo)
		}
		sizes := make(map[string]int64, len(tree.Tree))
		for _, e := range tree.Tree {
			if e.Type != "blob" {
				continue
			}
			paths = append(paths, e.Path)
			sizes[e.Path] = e.Size
		}
		sort.Strings(paths)
		paths = g.filter.Select(repo, paths, sizes)
	}

	for _, p := range paths {
		var c contentResponse
		contentURL := fmt.Sprintf("%s/contents/%s?ref=%s", base, escapePath(p), url.QueryEscape(info.DefaultBranch))
		if err := g.get(ctx, repo, contentURL, &c); err != nil {
			return Snapshot{}, err
		}
		if c.Type != "file" {
			return Snapshot{}, permanent(repo, fmt.Errorf("%s is a %s, not a file", p, c.Type))
		}
		text, err := decodeContent(c)
		if err != nil {
			return Snapshot{}, permanent(repo, fmt.Errorf("decode %s: %w", p, err))
		}
		snap.Files = append(snap.Files, artifact.SourceFile{
			Path:      p,
			Content:   text,
			Size:      c.Size,
			CreatedAt: info.CreatedAt,
			UpdatedAt: info.PushedAt,
		})
	}
	return snap, nil
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func decodeContent(c contentResponse) (string, error) {
	switch c.Encoding {
	case "base64":
		b, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "", "utf-8":
		return c.Content, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", c.Encoding)
	}
}

func (g *GitHubFetcher) get(ctx context.Context, repo, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return permanent(repo, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", version.UserAgent())
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return transient(repo, fmt.Errorf("GET %s: %w", u, err))
	}
	defer resp.Body.Close()

	if err := checkRateLimit(resp); err != nil {
		return transient(repo, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound(repo, fmt.Errorf("GET %s", u))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transient(repo, fmt.Errorf("GET %s: HTTP %d", u, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return permanent(repo, fmt.Errorf("GET %s: HTTP %d: %s", u, resp.StatusCode, string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGitHubResponse))
	if err != nil {
		return transient(repo, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return permanent(repo, fmt.Errorf("decode %s: %w", u, err))
	}
	return nil
}

var errRateLimited = errors.New("GitHub API rate limit exceeded")

// checkRateLimit turns an exhausted quota into an error carrying the reset
// time.
func checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" || resp.StatusCode == http.StatusOK {
		return nil
	}
	n, err := strconv.Atoi(remaining)
	if err != nil || n > 0 {
		return nil
	}
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		return fmt.Errorf("%w, resets at %s", errRateLimited, time.Unix(reset, 0).UTC().Format(time.RFC3339))
	}
	return errRateLimited
}
