package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// DirFetcher reads targets from <root>/<owner>/<name> on local disk. It
// serves mirrors and tests.
type DirFetcher struct {
	root   string
	filter *Filter
}

// NewDirFetcher creates a fetcher rooted at root.
func NewDirFetcher(root string, filter *Filter) *DirFetcher {
	return &DirFetcher{root: root, filter: filter}
}

func (d *DirFetcher) Platform() artifact.Platform { return artifact.PlatformLocal }

func (d *DirFetcher) Fetch(ctx context.Context, target artifact.RepositoryTarget) (Snapshot, error) {
	repo := target.Key()
	dir := filepath.Join(d.root, target.Owner, target.Name)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Snapshot{}, notFound(repo, err)
	case err != nil:
		return Snapshot{}, transient(repo, err)
	case !info.IsDir():
		return Snapshot{}, permanent(repo, fmt.Errorf("%s is not a directory", dir))
	}

	var snap Snapshot
	paths := target.Files
	if len(paths) == 0 {
		paths, snap.License, err = d.walk(ctx, repo, dir)
		if err != nil {
			return Snapshot{}, err
		}
	} else {
		snap.License = d.readLicense(dir)
	}

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, transient(repo, err)
		}
		rel := path.Clean("/" + filepath.ToSlash(p))[1:]
		full := filepath.Join(dir, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, notFound(repo, fmt.Errorf("file %s", rel))
		}
		if err != nil {
			return Snapshot{}, transient(repo, err)
		}
		mod := info.ModTime()
		if st, err := os.Stat(full); err == nil {
			mod = st.ModTime()
		}
		snap.Files = append(snap.Files, artifact.SourceFile{
			Path:      rel,
			Content:   string(data),
			Size:      int64(len(data)),
			UpdatedAt: mod,
		})
	}
	return snap, nil
}

func (d *DirFetcher) walk(ctx context.Context, repo, dir string) ([]string, string, error) {
	var (
		paths   []string
		sizes   = map[string]int64{}
		license string
	)
	err := filepath.WalkDir(dir, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			if strings.HasPrefix(e.Name(), ".") && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.Contains(rel, "/") && isLicenseFile(rel) {
			if license == "" {
				if b, err := os.ReadFile(p); err == nil {
					license = DetectLicense(string(b))
				}
			}
			return nil
		}
		if info, err := e.Info(); err == nil {
			sizes[rel] = info.Size()
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, "", transient(repo, err)
	}
	return d.filter.Select(repo, paths, sizes), license, nil
}

func (d *DirFetcher) readLicense(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() || !isLicenseFile(e.Name()) {
			continue
		}
		if b, err := os.ReadFile(filepath.Join(dir, e.Name())); err == nil {
			if id := DetectLicense(string(b)); id != "" {
				return id
			}
		}
	}
	return ""
}
