package artifact

import (
	"errors"
	"strings"
)

// IntegratedArtifact is the output of the direct integration path.
type IntegratedArtifact struct {
	Artifact      CodeArtifact  `json:"artifact"`
	Verdict       VettingResult `json:"verdict"`
	Content       string        `json:"-"`
	StoragePath   string        `json:"storage_path"`
	Modifications []string      `json:"modifications"`
}

// ConceptAbstraction describes what a piece of code does without carrying
// any of its text.
type ConceptAbstraction struct {
	Purpose        string   `json:"purpose"`
	Algorithm      string   `json:"algorithm"`
	DataStructures []string `json:"data_structures"`
	Patterns       []string `json:"patterns"`
	Constraints    []string `json:"constraints"`
}

// Validate checks the fields the generation oracle depends on.
func (c ConceptAbstraction) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Purpose) == "" {
		missing = append(missing, "purpose")
	}
	if strings.TrimSpace(c.Algorithm) == "" {
		missing = append(missing, "algorithm")
	}
	if len(missing) > 0 {
		return errors.New("abstraction missing " + strings.Join(missing, ", "))
	}
	return nil
}

// PerformanceComparison is the verifier's view of relative runtime cost.
type PerformanceComparison struct {
	// Ratio is generated cost divided by original cost; 1.0 means parity.
	Ratio float64 `json:"ratio"`
	Notes string  `json:"notes,omitempty"`
}

// SecurityFinding is one issue reported against the generated code.
type SecurityFinding struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// VerificationResult is returned by the equivalence checker.
type VerificationResult struct {
	FunctionallyEquivalent bool                  `json:"functionally_equivalent"`
	Performance            PerformanceComparison `json:"performance"`
	SecurityFindings       []SecurityFinding     `json:"security_findings"`
	Approved               bool                  `json:"approved"`
}

// TransformedArtifact is the output of the reimplementation path.
type TransformedArtifact struct {
	Artifact       CodeArtifact       `json:"artifact"`
	Verdict        VettingResult      `json:"verdict"`
	Concept        ConceptAbstraction `json:"concept"`
	Implementation string             `json:"-"`
	Verification   VerificationResult `json:"verification"`
	StoragePath    string             `json:"storage_path"`
}
