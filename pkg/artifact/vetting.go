package artifact

import "fmt"

// RiskLevel orders license and sovereign risk from none to critical.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = [...]string{"none", "low", "medium", "high", "critical"}

func (r RiskLevel) String() string {
	if r < RiskNone || r > RiskCritical {
		return fmt.Sprintf("risk(%d)", int(r))
	}
	return riskNames[r]
}

// MarshalText renders the level by name in JSON and YAML.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a level name.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	for i, n := range riskNames {
		if n == string(b) {
			*r = RiskLevel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", string(b))
}

// Recommendation is the routing decision of the vetter.
type Recommendation string

const (
	RecommendIntegrate   Recommendation = "integrate"
	RecommendReimplement Recommendation = "reimplement"
	RecommendReject      Recommendation = "reject"
)

// SovereignRisk flags properties of the license and dependency graph that
// affect long-term control over the code.
type SovereignRisk struct {
	Copyleft         bool      `json:"copyleft"`
	PatentClaims     bool      `json:"patent_claims"`
	Trademark        bool      `json:"trademark"`
	ExportRestricted bool      `json:"export_restricted"`
	VendorLockIn     bool      `json:"vendor_lock_in"`
	Level            RiskLevel `json:"level"`
}

// AlignmentScore holds the four 0-100 sub-scores and their weighted sum.
type AlignmentScore struct {
	Strategic      float64 `json:"strategic"`
	Technical      float64 `json:"technical"`
	Security       float64 `json:"security"`
	Sustainability float64 `json:"sustainability"`
	Overall        float64 `json:"overall"`
}

// VettingResult is produced once per artifact and never modified.
type VettingResult struct {
	Artifact        CodeArtifact   `json:"artifact"`
	LicenseRisk     RiskLevel      `json:"license_risk"`
	SovereignRisk   SovereignRisk  `json:"sovereign_risk"`
	Alignment       AlignmentScore `json:"alignment"`
	ComplianceScore int            `json:"compliance_score"`
	Recommendation  Recommendation `json:"recommendation"`
	Reasoning       []string       `json:"reasoning"`
}

// Rejected reports whether the verdict is a policy rejection.
func (v VettingResult) Rejected() bool {
	return v.Recommendation == RecommendReject
}
