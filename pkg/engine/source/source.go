// Package source fetches repository files from the hosting platform or a
// local mirror.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
	"github.com/bmatcuk/doublestar/v4"
)

// Snapshot is what one fetch returns. License and Stars are filled from the
// platform when it knows them.
type Snapshot struct {
	License string
	Stars   int
	Files   []artifact.SourceFile
}

// Fetcher lists and reads the files of a target. Files come back in a stable
// order: the target's explicit list as given, otherwise sorted by path.
// Errors are *artifact.FetchError.
type Fetcher interface {
	Platform() artifact.Platform
	Fetch(ctx context.Context, target artifact.RepositoryTarget) (Snapshot, error)
}

// Filter applies the include/exclude globs and size limits.
type Filter struct {
	include  []string
	exclude  []string
	maxFiles int
	maxBytes int64
	logger   *slog.Logger
}

// NewFilter validates the glob patterns in cfg.
func NewFilter(cfg config.SourceConfig, logger *slog.Logger) (*Filter, error) {
	for _, p := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, &artifact.ConfigError{Field: "source", Reason: fmt.Sprintf("bad glob %q", p)}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		include:  cfg.Include,
		exclude:  cfg.Exclude,
		maxFiles: cfg.MaxFilesPerRepo,
		maxBytes: cfg.MaxFileBytes,
		logger:   logger,
	}, nil
}

// Match reports whether a repository-relative path should be fetched.
func (f *Filter) Match(p string) bool {
	for _, pat := range f.exclude {
		if ok, _ := doublestar.Match(pat, p); ok {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pat := range f.include {
		if ok, _ := doublestar.Match(pat, p); ok {
			return true
		}
	}
	return false
}

// TooLarge reports whether a file exceeds the byte limit.
func (f *Filter) TooLarge(size int64) bool {
	return f.maxBytes > 0 && size > f.maxBytes
}

// Select filters candidate paths, drops oversized files and applies the
// per-repository cap. sizes may be nil.
func (f *Filter) Select(repo string, paths []string, sizes map[string]int64) []string {
	var out []string
	for _, p := range paths {
		if !f.Match(p) {
			continue
		}
		if f.TooLarge(sizes[p]) {
			f.logger.Debug("Skipping oversized file", "repo", repo, "path", p, "size", sizes[p])
			continue
		}
		if f.maxFiles > 0 && len(out) == f.maxFiles {
			f.logger.Warn("File cap reached, remaining files skipped", "repo", repo, "cap", f.maxFiles)
			break
		}
		out = append(out, p)
	}
	return out
}

func notFound(repo string, err error) error {
	return &artifact.FetchError{Repository: repo, Err: fmt.Errorf("%w: %v", artifact.ErrNotFound, err)}
}

func transient(repo string, err error) error {
	return &artifact.FetchError{Repository: repo, Transient: true, Err: err}
}

func permanent(repo string, err error) error {
	return &artifact.FetchError{Repository: repo, Err: err}
}
