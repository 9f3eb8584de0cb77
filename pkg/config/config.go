package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/spf13/viper"
)

// Config is the full configuration file (~/.codevet.yaml).
type Config struct {
	ManagedRoot string `mapstructure:"managed_root"`
	// StorageURL is "file://dir" or "s3://bucket/prefix".
	StorageURL string `mapstructure:"storage_url"`
	// HistoryURL is "file://ledger.jsonl", "sqlite://path.db" or "s3://bucket/key".
	HistoryURL string `mapstructure:"history_url"`
	// TargetsFile is an optional YAML list of targets watched for changes.
	TargetsFile string `mapstructure:"targets_file"`

	Targets []artifact.RepositoryTarget `mapstructure:"targets"`
	Policy  PolicyConfig                `mapstructure:"policy"`
	Pacing  PacingConfig                `mapstructure:"pacing"`
	Source  SourceConfig                `mapstructure:"source"`

	GitHub     GitHubConfig     `mapstructure:"github"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Events     EventsConfig     `mapstructure:"events"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Server     ServerConfig     `mapstructure:"server"`
}

// GitHubConfig configures the GitHub fetcher. The token is read from the
// environment so it never lands in a config file.
type GitHubConfig struct {
	APIURL   string `mapstructure:"api_url"`
	TokenEnv string `mapstructure:"token_env"`
	// LocalRoot switches to the directory fetcher when set.
	LocalRoot string `mapstructure:"local_root"`
}

// OracleConfig points at the abstraction, generation and verification service.
type OracleConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	TokenEnv string        `mapstructure:"token_env"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ComplianceConfig points at the compliance checker. StaticScore is used when
// BaseURL is empty.
type ComplianceConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	StaticScore int    `mapstructure:"static_score"`
}

// EventsConfig configures event stream forwarding.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	SlackWebhook  string `mapstructure:"slack_webhook"`
	SlackChannel  string `mapstructure:"slack_channel"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	OtelEndpoint string `mapstructure:"otel_endpoint"`
	Skip         bool   `mapstructure:"skip"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns a complete configuration with safe defaults.
func Default() Config {
	return Config{
		ManagedRoot: DefaultManagedRoot,
		StorageURL:  "file://codevet-out",
		HistoryURL:  "file://.codevet/history.jsonl",
		Policy:      DefaultPolicyConfig(),
		Pacing:      DefaultPacingConfig(),
		Source:      DefaultSourceConfig(),
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
		},
		Oracle: OracleConfig{
			TokenEnv: "CODEVET_ORACLE_TOKEN",
			Timeout:  2 * time.Minute,
		},
		Compliance: ComplianceConfig{StaticScore: 85},
		Events:     EventsConfig{SubjectPrefix: "codevet.events"},
		Server:     ServerConfig{Listen: DefaultListen},
	}
}

// SetDefaults registers Default() with v so that partially specified files
// keep the remaining defaults.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("managed_root", d.ManagedRoot)
	v.SetDefault("storage_url", d.StorageURL)
	v.SetDefault("history_url", d.HistoryURL)
	v.SetDefault("policy.safe_licenses", d.Policy.SafeLicenses)
	v.SetDefault("policy.weak_copyleft_licenses", d.Policy.WeakCopyleftLicenses)
	v.SetDefault("policy.copyleft_licenses", d.Policy.CopyleftLicenses)
	v.SetDefault("policy.patent_licenses", d.Policy.PatentLicenses)
	v.SetDefault("policy.vendor_patterns", d.Policy.VendorPatterns)
	v.SetDefault("policy.reject_below", d.Policy.RejectBelow)
	v.SetDefault("policy.reimplement_at_least", d.Policy.ReimplementAtLeast)
	v.SetDefault("policy.scoring.weights.strategic", d.Policy.Scoring.Weights.Strategic)
	v.SetDefault("policy.scoring.weights.technical", d.Policy.Scoring.Weights.Technical)
	v.SetDefault("policy.scoring.weights.security", d.Policy.Scoring.Weights.Security)
	v.SetDefault("policy.scoring.weights.sustainability", d.Policy.Scoring.Weights.Sustainability)
	v.SetDefault("policy.scoring.static.strategic", d.Policy.Scoring.Static.Strategic)
	v.SetDefault("policy.scoring.static.technical", d.Policy.Scoring.Static.Technical)
	v.SetDefault("policy.scoring.static.security", d.Policy.Scoring.Static.Security)
	v.SetDefault("policy.scoring.static.sustainability", d.Policy.Scoring.Static.Sustainability)
	v.SetDefault("pacing.file_delay", d.Pacing.FileDelay)
	v.SetDefault("pacing.repo_delay", d.Pacing.RepoDelay)
	v.SetDefault("pacing.cycle_interval", d.Pacing.CycleInterval)
	v.SetDefault("source.exclude", d.Source.Exclude)
	v.SetDefault("source.max_files_per_repo", d.Source.MaxFilesPerRepo)
	v.SetDefault("source.max_file_bytes", d.Source.MaxFileBytes)
	v.SetDefault("github.api_url", d.GitHub.APIURL)
	v.SetDefault("github.token_env", d.GitHub.TokenEnv)
	v.SetDefault("oracle.token_env", d.Oracle.TokenEnv)
	v.SetDefault("oracle.timeout", d.Oracle.Timeout)
	v.SetDefault("compliance.static_score", d.Compliance.StaticScore)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	v.SetDefault("server.listen", d.Server.Listen)
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	for i := range cfg.Targets {
		if cfg.Targets[i].Priority == "" {
			cfg.Targets[i].Priority = artifact.PriorityMedium
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first orchestrator-level misconfiguration.
func (c Config) Validate() error {
	root := strings.TrimSpace(c.ManagedRoot)
	if root == "" {
		return &artifact.ConfigError{Field: "managed_root", Reason: "must not be empty"}
	}
	if strings.HasPrefix(root, "/") {
		return &artifact.ConfigError{Field: "managed_root", Reason: "must be relative to the storage root"}
	}
	if err := c.Pacing.Validate(); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Compliance.BaseURL == "" && (c.Compliance.StaticScore < 0 || c.Compliance.StaticScore > 100) {
		return &artifact.ConfigError{Field: "compliance.static_score", Reason: "must be within 0..100"}
	}
	for _, t := range c.Targets {
		if err := t.Validate(); err != nil {
			return &artifact.ConfigError{Field: "targets", Reason: err.Error()}
		}
	}
	return nil
}

// Validate checks delays.
func (p PacingConfig) Validate() error {
	if p.FileDelay < 0 || p.RepoDelay < 0 {
		return &artifact.ConfigError{Field: "pacing", Reason: "delays must not be negative"}
	}
	if p.CycleInterval <= 0 {
		return &artifact.ConfigError{Field: "pacing.cycle_interval", Reason: "must be positive"}
	}
	if p.MaxFileDelay != 0 && p.MaxFileDelay < p.FileDelay {
		return &artifact.ConfigError{Field: "pacing.max_file_delay", Reason: "must be zero or at least file_delay"}
	}
	return nil
}

// Validate checks weights and thresholds.
func (p PolicyConfig) Validate() error {
	w := p.Scoring.Weights
	if w.Strategic < 0 || w.Technical < 0 || w.Security < 0 || w.Sustainability < 0 {
		return &artifact.ConfigError{Field: "policy.scoring.weights", Reason: "weights must not be negative"}
	}
	if s := w.Sum(); s < 0.999 || s > 1.001 {
		return &artifact.ConfigError{Field: "policy.scoring.weights", Reason: fmt.Sprintf("weights sum to %.3f, want 1.0", s)}
	}
	if p.RejectBelow < 0 || p.RejectBelow > 100 || p.ReimplementAtLeast < p.RejectBelow || p.ReimplementAtLeast > 100 {
		return &artifact.ConfigError{Field: "policy", Reason: "need 0 <= reject_below <= reimplement_at_least <= 100"}
	}
	for _, r := range p.Rules {
		if r.ID == "" || r.Condition == "" {
			return &artifact.ConfigError{Field: "policy.rules", Reason: "rules need id and condition"}
		}
	}
	return nil
}
