package policy

import (
	"strings"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
)

// Facts is the flat view of an artifact that scoring strategies and rules see.
type Facts struct {
	Repository   string
	Path         string
	Language     string
	License      string
	LicenseRisk  artifact.RiskLevel
	VendorLockIn bool
	Dependencies []string
	Size         int64
	Lines        int
	Stars        int
	Complexity   int
}

// FactsFor derives Facts from an artifact and its already classified risks.
func FactsFor(a artifact.CodeArtifact, risk artifact.RiskLevel, lockIn bool) Facts {
	deps := make([]string, len(a.Dependencies))
	for i, d := range a.Dependencies {
		deps[i] = d.Name
	}
	lines := 0
	if a.Content != "" {
		lines = strings.Count(a.Content, "\n") + 1
	}
	return Facts{
		Repository:   a.Repository,
		Path:         a.Path,
		Language:     a.Language,
		License:      a.License,
		LicenseRisk:  risk,
		VendorLockIn: lockIn,
		Dependencies: deps,
		Size:         a.Metadata.Size,
		Lines:        lines,
		Stars:        a.Metadata.Stars,
		Complexity:   a.Metadata.Complexity,
	}
}

func (f Facts) vars() map[string]any {
	return map[string]any{
		"repository":     f.Repository,
		"path":           f.Path,
		"language":       f.Language,
		"license":        f.License,
		"license_risk":   f.LicenseRisk.String(),
		"vendor_lock_in": f.VendorLockIn,
		"dependencies":   f.Dependencies,
		"size":           f.Size,
		"lines":          int64(f.Lines),
		"stars":          int64(f.Stars),
		"complexity":     int64(f.Complexity),
	}
}

// Scorer produces the four alignment dimensions. The vetter applies the
// weights and computes Overall.
type Scorer interface {
	Score(f Facts) (artifact.AlignmentScore, error)
}

// StaticScorer returns the same scores for every artifact.
type StaticScorer struct {
	Scores config.DimensionScores
}

func (s StaticScorer) Score(Facts) (artifact.AlignmentScore, error) {
	return artifact.AlignmentScore{
		Strategic:      clamp(s.Scores.Strategic),
		Technical:      clamp(s.Scores.Technical),
		Security:       clamp(s.Scores.Security),
		Sustainability: clamp(s.Scores.Sustainability),
	}, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func weighted(s artifact.AlignmentScore, w config.WeightConfig) artifact.AlignmentScore {
	s.Strategic = clamp(s.Strategic)
	s.Technical = clamp(s.Technical)
	s.Security = clamp(s.Security)
	s.Sustainability = clamp(s.Sustainability)
	s.Overall = s.Strategic*w.Strategic +
		s.Technical*w.Technical +
		s.Security*w.Security +
		s.Sustainability*w.Sustainability
	return s
}
