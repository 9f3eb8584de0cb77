package oracle

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// Mock is an in-process stand-in for every oracle endpoint. It is
// deterministic and counts calls.
type Mock struct {
	// Compliance is returned by CheckCompliance.
	Compliance int
	// Reject makes Verify refuse approval.
	Reject bool
	// Fail makes every call return a transient error for paths it matches.
	Fail func(path string) bool
	// FailGenerate fails only generation for the paths it matches.
	FailGenerate func(path string) bool

	mu       sync.Mutex
	concepts map[string]string // purpose -> path of the abstracted file

	abstracts, generates, verifies, checks atomic.Int64
}

// NewMock returns a mock that approves everything with the given score.
func NewMock(compliance int) *Mock {
	return &Mock{Compliance: compliance}
}

// Calls returns the per-endpoint call counts.
func (m *Mock) Calls() (abstract, generate, verify, compliance int64) {
	return m.abstracts.Load(), m.generates.Load(), m.verifies.Load(), m.checks.Load()
}

func (m *Mock) fail(p string) error {
	if m.Fail != nil && m.Fail(p) {
		return &TransientError{err: fmt.Errorf("mock oracle unavailable for %s", p)}
	}
	return nil
}

func (m *Mock) Abstract(ctx context.Context, a artifact.CodeArtifact) (artifact.ConceptAbstraction, error) {
	m.abstracts.Add(1)
	if err := m.fail(a.Path); err != nil {
		return artifact.ConceptAbstraction{}, err
	}
	name := strings.TrimSuffix(path.Base(a.Path), path.Ext(a.Path))
	purpose := "behaviour of " + name
	m.mu.Lock()
	if m.concepts == nil {
		m.concepts = make(map[string]string)
	}
	m.concepts[purpose] = a.Path
	m.mu.Unlock()
	return artifact.ConceptAbstraction{
		Purpose:        purpose,
		Algorithm:      fmt.Sprintf("%s routine with %d branch points", a.Language, a.Metadata.Complexity),
		DataStructures: []string{"input", "output"},
		Patterns:       []string{"pure function"},
	}, nil
}

func (m *Mock) Generate(ctx context.Context, c artifact.ConceptAbstraction, language string) (string, error) {
	m.generates.Add(1)
	m.mu.Lock()
	p, ok := m.concepts[c.Purpose]
	m.mu.Unlock()
	if !ok {
		p = c.Purpose
	}
	if err := m.fail(p); err != nil {
		return "", err
	}
	if m.FailGenerate != nil && m.FailGenerate(p) {
		return "", &TransientError{err: fmt.Errorf("mock generator unavailable for %s", p)}
	}
	return fmt.Sprintf("// %s\n// %s\n", c.Purpose, c.Algorithm), nil
}

func (m *Mock) Verify(ctx context.Context, original artifact.CodeArtifact, generated string) (artifact.VerificationResult, error) {
	m.verifies.Add(1)
	if err := m.fail(original.Path); err != nil {
		return artifact.VerificationResult{}, err
	}
	return artifact.VerificationResult{
		FunctionallyEquivalent: !m.Reject,
		Performance:            artifact.PerformanceComparison{Ratio: 1.0},
		Approved:               !m.Reject,
	}, nil
}

func (m *Mock) CheckCompliance(ctx context.Context, a artifact.CodeArtifact) (int, error) {
	m.checks.Add(1)
	if err := m.fail(a.Path); err != nil {
		return 0, err
	}
	return m.Compliance, nil
}
