package policy

import (
	"strings"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// licenseSet is a normalised lookup of SPDX-like identifiers.
type licenseSet map[string]bool

func newLicenseSet(ids []string) licenseSet {
	s := make(licenseSet, len(ids))
	for _, id := range ids {
		if n := normalizeLicense(id); n != "" {
			s[n] = true
		}
	}
	return s
}

// normalizeLicense upper-cases an identifier and strips the SPDX version
// qualifiers so "GPL-3.0-or-later", "gpl-3.0+" and "GPL-3.0" compare equal.
func normalizeLicense(id string) string {
	n := strings.ToUpper(strings.TrimSpace(id))
	n = strings.Trim(n, "()")
	if before, _, ok := strings.Cut(n, " WITH "); ok {
		n = before
	}
	n = strings.TrimSuffix(n, "+")
	for _, suffix := range []string{"-ONLY", "-OR-LATER"} {
		n = strings.TrimSuffix(n, suffix)
	}
	return strings.TrimSpace(n)
}

// licenseTerms splits a compound SPDX expression. For OR the caller may pick
// any alternative; for AND every term applies.
func licenseTerms(expr string) (terms []string, conjunctive bool) {
	upper := strings.ToUpper(strings.TrimSpace(expr))
	upper = strings.Trim(upper, "()")
	switch {
	case strings.Contains(upper, " AND "):
		return strings.Split(upper, " AND "), true
	case strings.Contains(upper, " OR "):
		return strings.Split(upper, " OR "), false
	case strings.Contains(upper, "/"):
		// "MIT/Apache-2.0" is the common informal spelling of a dual license.
		return strings.Split(upper, "/"), false
	default:
		return []string{upper}, false
	}
}

type licenseClassifier struct {
	safe     licenseSet
	weak     licenseSet
	copyleft licenseSet
	patent   licenseSet
}

func (c *licenseClassifier) classifyTerm(term string) artifact.RiskLevel {
	n := normalizeLicense(term)
	switch {
	case n == "":
		return artifact.RiskCritical
	case c.safe[n]:
		return artifact.RiskNone
	case c.weak[n]:
		return artifact.RiskMedium
	case c.copyleft[n]:
		return artifact.RiskHigh
	default:
		return artifact.RiskCritical
	}
}

// Classify returns the license risk of a possibly compound expression. An
// unknown or empty license is critical.
func (c *licenseClassifier) Classify(license string) artifact.RiskLevel {
	terms, and := licenseTerms(license)
	risk := c.classifyTerm(terms[0])
	for _, t := range terms[1:] {
		r := c.classifyTerm(t)
		if and && r > risk || !and && r < risk {
			risk = r
		}
	}
	return risk
}

// flags derives the copyleft and patent flags from every term of the license.
func (c *licenseClassifier) flags(license string) (copyleft, patent bool) {
	terms, _ := licenseTerms(license)
	for _, t := range terms {
		n := normalizeLicense(t)
		if c.copyleft[n] || c.weak[n] || strings.Contains(n, "GPL") {
			copyleft = true
		}
		if c.patent[n] {
			patent = true
		}
	}
	return copyleft, patent
}
