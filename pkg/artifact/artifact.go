// Package artifact defines the data model shared by the vetting, transform and
// ingestion stages.
package artifact

import (
	"path"
	"time"
)

// Platform identifies the hosting service an artifact was fetched from.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformLocal  Platform = "local"
)

// Dependency is one package referenced by an artifact.
type Dependency struct {
	Name       string `json:"name"`
	Version    string `json:"version,omitempty"`
	License    string `json:"license,omitempty"`
	Transitive bool   `json:"transitive"`
}

// Metadata carries authorship and popularity signals for an artifact.
type Metadata struct {
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stars      int       `json:"stars"`
	Size       int64     `json:"size"`
	Complexity int       `json:"complexity"`
}

// CodeArtifact is one source file plus metadata. Values are treated as
// read-only after NewCodeArtifact returns; stages pass copies, never pointers
// they intend to modify.
type CodeArtifact struct {
	Platform     Platform     `json:"platform"`
	Repository   string       `json:"repository"` // owner/repo
	Path         string       `json:"path"`
	Content      string       `json:"-"`
	Language     string       `json:"language"`
	License      string       `json:"license"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Metadata     Metadata     `json:"metadata"`
}

// NewCodeArtifact copies deps so later mutation of the caller's slice cannot
// leak into the artifact.
func NewCodeArtifact(platform Platform, repository, filePath, content, language, license string, deps []Dependency, meta Metadata) CodeArtifact {
	var owned []Dependency
	if len(deps) > 0 {
		owned = make([]Dependency, len(deps))
		copy(owned, deps)
	}
	return CodeArtifact{
		Platform:     platform,
		Repository:   repository,
		Path:         path.Clean("/" + filePath)[1:],
		Content:      content,
		Language:     language,
		License:      license,
		Dependencies: owned,
		Metadata:     meta,
	}
}

// ID returns the stable identity "platform:owner/repo/path".
func (a CodeArtifact) ID() string {
	return string(a.Platform) + ":" + a.Repository + "/" + a.Path
}

// SourceFile is one entry returned by a source fetcher.
type SourceFile struct {
	Path      string
	Content   string
	Size      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FromSource assembles the artifact for one fetched file of a target.
func FromSource(platform Platform, target RepositoryTarget, f SourceFile) CodeArtifact {
	lang := DetectLanguage(f.Path)
	size := f.Size
	if size == 0 {
		size = int64(len(f.Content))
	}
	return NewCodeArtifact(platform, target.Key(), f.Path, f.Content, lang, target.License,
		ExtractDependencies(lang, f.Content),
		Metadata{
			Author:     target.Owner,
			CreatedAt:  f.CreatedAt,
			UpdatedAt:  f.UpdatedAt,
			Stars:      target.Stars,
			Size:       size,
			Complexity: EstimateComplexity(f.Content),
		})
}
