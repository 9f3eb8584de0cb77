package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/engine/report"
	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Width(18)
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFCC00"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF99")).
			Padding(0, 1)
)

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value) + "\n"
}

func recommendationStyle(r artifact.Recommendation) lipgloss.Style {
	switch r {
	case artifact.RecommendIntegrate:
		return okStyle
	case artifact.RecommendReimplement:
		return warnStyle
	default:
		return errorStyle
	}
}

func renderSummary(s report.Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("INGESTION SUMMARY") + "\n")
	b.WriteString(row("Repositories", fmt.Sprintf("%d (%d completed, %d failed)", s.Repositories, s.Completed, s.Failed)))
	b.WriteString(row("Files", fmt.Sprintf("%d/%d", s.FilesProcessed, s.FilesTotal)))
	b.WriteString(row("Integrated", s.Integrated))
	b.WriteString(row("Reimplemented", s.Reimplemented))
	b.WriteString(row("Rejected", s.Rejected))
	b.WriteString(row("Errors", s.Errors))
	b.WriteString(row("Duration", s.Duration.Round(time.Millisecond)))
	for _, f := range s.Failures {
		b.WriteString(errorStyle.Render("  ✗ ") + f + "\n")
	}
	if s.Healthy() {
		b.WriteString(okStyle.Render("All repositories ingested cleanly.") + "\n")
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func renderVerdict(v artifact.VettingResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(v.Artifact.Repository+"/"+v.Artifact.Path) + "\n")
	b.WriteString(row("Recommendation", recommendationStyle(v.Recommendation).Render(strings.ToUpper(string(v.Recommendation)))))
	b.WriteString(row("License", fmt.Sprintf("%s (%s risk)", orDash(v.Artifact.License), v.LicenseRisk)))
	b.WriteString(row("Sovereign risk", v.SovereignRisk.Level))
	b.WriteString(row("Compliance", v.ComplianceScore))
	b.WriteString(row("Alignment", fmt.Sprintf("%.1f (strategic %.0f, technical %.0f, security %.0f, sustainability %.0f)",
		v.Alignment.Overall, v.Alignment.Strategic, v.Alignment.Technical, v.Alignment.Security, v.Alignment.Sustainability)))
	if len(v.Reasoning) > 0 {
		b.WriteString(labelStyle.Render("Reasoning") + "\n")
		for _, r := range v.Reasoning {
			b.WriteString("  - " + r + "\n")
		}
	}
	return b.String()
}

func renderHistory(runs []artifact.IngestionProgress) string {
	if len(runs) == 0 {
		return "No ingestion history yet.\n"
	}
	var b strings.Builder
	header := fmt.Sprintf("%-20s %-32s %-10s %6s %6s %6s %6s", "STARTED", "REPOSITORY", "STATUS", "FILES", "INT", "REIMP", "REJ")
	b.WriteString(titleStyle.Render(header) + "\n")
	for _, r := range runs {
		status := okStyle
		if r.Status == artifact.StatusFailed {
			status = errorStyle
		}
		fmt.Fprintf(&b, "%-20s %-32s %s %6s %6d %6d %6d\n",
			r.StartTime.UTC().Format("2006-01-02 15:04:05"),
			r.Repository,
			status.Render(fmt.Sprintf("%-10s", r.Status)),
			fmt.Sprintf("%d/%d", r.FilesProcessed, r.FilesTotal),
			r.Integrated, r.Reimplemented, r.Rejected)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
