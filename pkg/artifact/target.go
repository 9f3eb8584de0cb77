package artifact

import (
	"fmt"
	"strings"
)

// Priority orders repository targets in the ingestion queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns 0 for critical through 3 for low. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// ParsePriority accepts the four names case-insensitively. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PriorityMedium, nil
	}
	if p.Rank() > 3 {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// RepositoryTarget is one queued unit of ingestion work.
type RepositoryTarget struct {
	Owner    string   `json:"owner" yaml:"owner" mapstructure:"owner"`
	Name     string   `json:"name" yaml:"name" mapstructure:"name"`
	Priority Priority `json:"priority" yaml:"priority" mapstructure:"priority"`
	Focus    []string `json:"focus,omitempty" yaml:"focus,omitempty" mapstructure:"focus"`
	License  string   `json:"license" yaml:"license" mapstructure:"license"`
	Files    []string `json:"files,omitempty" yaml:"files,omitempty" mapstructure:"files"`
	Stars    int      `json:"stars,omitempty" yaml:"stars,omitempty" mapstructure:"stars"`
}

// Key is the dedup key "owner/repo".
func (t RepositoryTarget) Key() string {
	return t.Owner + "/" + t.Name
}

// Validate rejects targets the orchestrator cannot address.
func (t RepositoryTarget) Validate() error {
	if strings.TrimSpace(t.Owner) == "" || strings.TrimSpace(t.Name) == "" {
		return &QueueError{Target: t.Key(), Reason: "owner and name are required"}
	}
	if strings.ContainsAny(t.Owner+t.Name, "/ \t") {
		return &QueueError{Target: t.Key(), Reason: "owner and name must not contain '/' or whitespace"}
	}
	if t.Priority != "" && t.Priority.Rank() > 3 {
		return &QueueError{Target: t.Key(), Reason: fmt.Sprintf("unknown priority %q", t.Priority)}
	}
	return nil
}

// ParseKey splits "owner/repo".
func ParseKey(key string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(key), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q (expected owner/repo)", key)
	}
	return owner, name, nil
}
