// Package config defines default configuration, policies, and pacing parameters.
package config

import "time"

// WeightConfig sets the share of each alignment dimension in the overall score.
type WeightConfig struct {
	Strategic      float64 `mapstructure:"strategic" yaml:"strategic"`
	Technical      float64 `mapstructure:"technical" yaml:"technical"`
	Security       float64 `mapstructure:"security" yaml:"security"`
	Sustainability float64 `mapstructure:"sustainability" yaml:"sustainability"`
}

// Sum returns the total weight.
func (w WeightConfig) Sum() float64 {
	return w.Strategic + w.Technical + w.Security + w.Sustainability
}

// DimensionScores are fixed per-dimension scores used when no expression is set.
type DimensionScores struct {
	Strategic      float64 `mapstructure:"strategic" yaml:"strategic"`
	Technical      float64 `mapstructure:"technical" yaml:"technical"`
	Security       float64 `mapstructure:"security" yaml:"security"`
	Sustainability float64 `mapstructure:"sustainability" yaml:"sustainability"`
}

// DimensionExpressions are CEL expressions evaluating to a 0-100 number.
type DimensionExpressions struct {
	Strategic      string `mapstructure:"strategic" yaml:"strategic"`
	Technical      string `mapstructure:"technical" yaml:"technical"`
	Security       string `mapstructure:"security" yaml:"security"`
	Sustainability string `mapstructure:"sustainability" yaml:"sustainability"`
}

// ScoringConfig selects the alignment scoring strategy.
type ScoringConfig struct {
	Weights     WeightConfig         `mapstructure:"weights" yaml:"weights"`
	Static      DimensionScores      `mapstructure:"static" yaml:"static"`
	Expressions DimensionExpressions `mapstructure:"expressions" yaml:"expressions"`
}

// RuleConfig is an extra reject rule: a CEL condition over artifact facts.
type RuleConfig struct {
	ID        string `mapstructure:"id" yaml:"id"`
	Condition string `mapstructure:"condition" yaml:"condition"`
}

// PolicyConfig defines the license lists and decision thresholds of the vetter.
type PolicyConfig struct {
	// SafeLicenses classify as risk none.
	SafeLicenses []string `mapstructure:"safe_licenses" yaml:"safe_licenses"`
	// WeakCopyleftLicenses classify as risk medium.
	WeakCopyleftLicenses []string `mapstructure:"weak_copyleft_licenses" yaml:"weak_copyleft_licenses"`
	// CopyleftLicenses classify as risk high.
	CopyleftLicenses []string `mapstructure:"copyleft_licenses" yaml:"copyleft_licenses"`
	// PatentLicenses carry explicit patent grant or retaliation clauses.
	PatentLicenses []string `mapstructure:"patent_licenses" yaml:"patent_licenses"`
	// VendorPatterns are substrings of dependency names that indicate lock-in.
	VendorPatterns []string `mapstructure:"vendor_patterns" yaml:"vendor_patterns"`

	// RejectBelow is the alignment and compliance floor.
	RejectBelow float64 `mapstructure:"reject_below" yaml:"reject_below"`
	// ReimplementAtLeast is the bar risky artifacts must clear.
	ReimplementAtLeast float64 `mapstructure:"reimplement_at_least" yaml:"reimplement_at_least"`

	Scoring ScoringConfig `mapstructure:"scoring" yaml:"scoring"`
	Rules   []RuleConfig  `mapstructure:"rules" yaml:"rules"`
}

// PacingConfig bounds throughput against the source host and oracles.
type PacingConfig struct {
	// FileDelay is the pause after each file.
	FileDelay time.Duration `mapstructure:"file_delay" yaml:"file_delay"`
	// RepoDelay is the pause after each repository.
	RepoDelay time.Duration `mapstructure:"repo_delay" yaml:"repo_delay"`
	// CycleInterval is the period of continuous mode.
	CycleInterval time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval"`
	// MaxFileDelay caps the adaptive back-off. Zero pins the delay to FileDelay.
	MaxFileDelay time.Duration `mapstructure:"max_file_delay" yaml:"max_file_delay"`
}

// SourceConfig filters what fetchers return.
type SourceConfig struct {
	Include         []string `mapstructure:"include" yaml:"include"`
	Exclude         []string `mapstructure:"exclude" yaml:"exclude"`
	MaxFilesPerRepo int      `mapstructure:"max_files_per_repo" yaml:"max_files_per_repo"`
	MaxFileBytes    int64    `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
}

// Defaults.
const (
	DefaultManagedRoot = "managed"
	DefaultListen      = "127.0.0.1:8740"
)

// DefaultPolicyConfig returns default policy values.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		SafeLicenses: []string{
			"MIT", "Apache-2.0", "BSD-2-Clause", "BSD-3-Clause", "ISC",
			"0BSD", "Unlicense", "CC0-1.0", "Zlib", "BSL-1.0",
		},
		WeakCopyleftLicenses: []string{"LGPL-2.1", "LGPL-3.0", "MPL-2.0", "EPL-2.0"},
		CopyleftLicenses:     []string{"GPL-2.0", "GPL-3.0", "AGPL-3.0", "SSPL-1.0", "EUPL-1.2"},
		PatentLicenses:       []string{"Apache-2.0", "GPL-3.0", "LGPL-3.0", "AGPL-3.0", "MPL-2.0", "EPL-2.0"},
		VendorPatterns: []string{
			"aws-sdk", "amazonaws", "boto3", "botocore",
			"google.golang.org/api", "cloud.google.com", "google.cloud", "firebase",
			"azure", "microsoft.azure", "oracle",
		},
		RejectBelow:        70,
		ReimplementAtLeast: 80,
		Scoring: ScoringConfig{
			Weights: WeightConfig{Strategic: 0.30, Technical: 0.25, Security: 0.25, Sustainability: 0.20},
			Static:  DimensionScores{Strategic: 85, Technical: 85, Security: 85, Sustainability: 85},
		},
	}
}

// DefaultPacingConfig returns default pacing values.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		FileDelay:     500 * time.Millisecond,
		RepoDelay:     5 * time.Second,
		CycleInterval: 15 * time.Minute,
	}
}

// DefaultSourceConfig returns default fetch filters.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Exclude:         []string{"**/vendor/**", "**/node_modules/**", "**/testdata/**", "**/*.min.js"},
		MaxFilesPerRepo: 200,
		MaxFileBytes:    512 * 1024,
	}
}
