package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
)

// ComplianceChecker is the external compliance collaborator. Its 0-100 score
// is authoritative.
type ComplianceChecker interface {
	CheckCompliance(ctx context.Context, a artifact.CodeArtifact) (int, error)
}

// StaticCompliance returns a fixed score. Used when no checker is configured.
type StaticCompliance int

func (s StaticCompliance) CheckCompliance(context.Context, artifact.CodeArtifact) (int, error) {
	return int(s), nil
}

// Vetter classifies artifacts against license and alignment policy.
type Vetter struct {
	cfg        config.PolicyConfig
	licenses   licenseClassifier
	scorer     Scorer
	rules      *RuleSet
	compliance ComplianceChecker
	logger     *slog.Logger
}

// Option customises a Vetter.
type Option func(*Vetter)

// WithScorer replaces the configured scoring strategy.
func WithScorer(s Scorer) Option {
	return func(v *Vetter) { v.scorer = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vetter) { v.logger = l }
}

// NewVetter builds a vetter. Without WithScorer the scorer is a CELScorer over
// cfg.Scoring, which degrades to the static scores when no expressions are set.
func NewVetter(cfg config.PolicyConfig, compliance ComplianceChecker, opts ...Option) (*Vetter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if compliance == nil {
		return nil, &artifact.ConfigError{Field: "compliance", Reason: "checker is required"}
	}
	v := &Vetter{
		cfg: cfg,
		licenses: licenseClassifier{
			safe:     newLicenseSet(cfg.SafeLicenses),
			weak:     newLicenseSet(cfg.WeakCopyleftLicenses),
			copyleft: newLicenseSet(cfg.CopyleftLicenses),
			patent:   newLicenseSet(cfg.PatentLicenses),
		},
		compliance: compliance,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.scorer == nil {
		s, err := NewCELScorer(cfg.Scoring)
		if err != nil {
			return nil, err
		}
		v.scorer = s
	}
	rules, err := NewRuleSet(cfg.Rules)
	if err != nil {
		return nil, err
	}
	v.rules = rules
	return v, nil
}

// ClassifyLicense exposes the license step on its own.
func (v *Vetter) ClassifyLicense(license string) artifact.RiskLevel {
	return v.licenses.Classify(license)
}

// vendorMatches returns the dependencies that match a vendor pattern.
func (v *Vetter) vendorMatches(deps []artifact.Dependency) []string {
	var hits []string
	for _, d := range deps {
		name := strings.ToLower(d.Name)
		for _, p := range v.cfg.VendorPatterns {
			if p != "" && strings.Contains(name, strings.ToLower(p)) {
				hits = append(hits, d.Name)
				break
			}
		}
	}
	return hits
}

// Vet produces the verdict for a. The only I/O is the single compliance
// call, skipped when the license already fails closed. A reject verdict is
// returned with a nil error.
func (v *Vetter) Vet(ctx context.Context, a artifact.CodeArtifact) (artifact.VettingResult, error) {
	res := artifact.VettingResult{Artifact: a}

	// License.
	res.LicenseRisk = v.licenses.Classify(a.License)
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("license %q classified as %s risk", a.License, res.LicenseRisk))

	// Sovereign risk.
	copyleft, patent := v.licenses.flags(a.License)
	lockIn := v.vendorMatches(a.Dependencies)
	res.SovereignRisk = artifact.SovereignRisk{
		Copyleft:     copyleft,
		PatentClaims: patent,
		VendorLockIn: len(lockIn) > 0,
		Level:        res.LicenseRisk,
	}
	if len(lockIn) > 0 {
		res.Reasoning = append(res.Reasoning, "vendor-specific dependencies: "+strings.Join(lockIn, ", "))
	}

	if res.LicenseRisk == artifact.RiskCritical {
		res.Recommendation = artifact.RecommendReject
		res.Reasoning = append(res.Reasoning, "license is not on any allow-list; failing closed without scoring")
		return res, nil
	}

	// Alignment.
	facts := FactsFor(a, res.LicenseRisk, res.SovereignRisk.VendorLockIn)
	dims, err := v.scorer.Score(facts)
	if err != nil {
		return artifact.VettingResult{}, fmt.Errorf("score %s: %w", a.Path, err)
	}
	res.Alignment = weighted(dims, v.cfg.Scoring.Weights)
	res.Reasoning = append(res.Reasoning, fmt.Sprintf(
		"alignment %.1f (strategic %.0f, technical %.0f, security %.0f, sustainability %.0f)",
		res.Alignment.Overall, res.Alignment.Strategic, res.Alignment.Technical,
		res.Alignment.Security, res.Alignment.Sustainability))

	// Compliance.
	score, err := v.compliance.CheckCompliance(ctx, a)
	if err != nil {
		return artifact.VettingResult{}, &artifact.OracleError{Stage: "compliance", Path: a.Path, Err: err}
	}
	if score < 0 || score > 100 {
		return artifact.VettingResult{}, &artifact.OracleError{
			Stage: "compliance", Path: a.Path,
			Err: fmt.Errorf("score %d outside 0..100", score),
		}
	}
	res.ComplianceScore = score
	res.Reasoning = append(res.Reasoning, fmt.Sprintf("external compliance score %d", score))

	// Extra reject rules.
	matched, err := v.rules.Evaluate(facts)
	if err != nil {
		return artifact.VettingResult{}, fmt.Errorf("rules %s: %w", a.Path, err)
	}
	if len(matched) > 0 {
		res.Recommendation = artifact.RecommendReject
		res.Reasoning = append(res.Reasoning, "policy rules matched: "+strings.Join(matched, ", "))
		return res, nil
	}

	res.Recommendation, res.Reasoning = v.decide(res)
	v.logger.Debug("Artifact vetted",
		"repo", a.Repository, "path", a.Path,
		"license_risk", res.LicenseRisk.String(),
		"alignment", res.Alignment.Overall,
		"compliance", res.ComplianceScore,
		"recommendation", string(res.Recommendation))
	return res, nil
}

func (v *Vetter) decide(res artifact.VettingResult) (artifact.Recommendation, []string) {
	floor, bar := v.cfg.RejectBelow, v.cfg.ReimplementAtLeast
	overall, compliance := res.Alignment.Overall, float64(res.ComplianceScore)
	reasons := res.Reasoning

	switch {
	case overall < floor || compliance < floor:
		if overall < floor {
			reasons = append(reasons, fmt.Sprintf("alignment %.1f below floor %.0f", overall, floor))
		}
		if compliance < floor {
			reasons = append(reasons, fmt.Sprintf("compliance %d below floor %.0f", res.ComplianceScore, floor))
		}
		return artifact.RecommendReject, reasons
	case res.LicenseRisk == artifact.RiskNone && res.SovereignRisk.Level == artifact.RiskNone:
		return artifact.RecommendIntegrate, append(reasons, "no license or sovereign risk: integrate directly")
	case overall >= bar && compliance >= bar:
		return artifact.RecommendReimplement, append(reasons,
			fmt.Sprintf("%s license risk but alignment and compliance clear %.0f: reimplement", res.LicenseRisk, bar))
	default:
		return artifact.RecommendReject, append(reasons,
			fmt.Sprintf("%s license risk and scores below reimplementation bar %.0f", res.LicenseRisk, bar))
	}
}
