// Package report aggregates ingestion runs into summaries and exports.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// Summary aggregates one or more repository runs.
type Summary struct {
	Repositories   int           `json:"repositories"`
	Completed      int           `json:"completed"`
	Failed         int           `json:"failed"`
	FilesProcessed int           `json:"files_processed"`
	FilesTotal     int           `json:"files_total"`
	Integrated     int           `json:"integrated"`
	Reimplemented  int           `json:"reimplemented"`
	Rejected       int           `json:"rejected"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
	// Failures lists "repo: first error" for failed runs.
	Failures []string `json:"failures,omitempty"`
}

// Summarize folds runs into a Summary. Runs still in progress only count
// toward Repositories and the file counters.
func Summarize(runs []artifact.IngestionProgress) Summary {
	var s Summary
	for _, r := range runs {
		s.Repositories++
		s.FilesProcessed += r.FilesProcessed
		s.FilesTotal += r.FilesTotal
		s.Integrated += r.Integrated
		s.Reimplemented += r.Reimplemented
		s.Rejected += r.Rejected
		s.Errors += len(r.Errors)
		s.Duration += r.Duration()
		switch r.Status {
		case artifact.StatusCompleted:
			s.Completed++
		case artifact.StatusFailed:
			s.Failed++
			reason := "unknown error"
			if len(r.Errors) > 0 {
				reason = r.Errors[0]
			}
			s.Failures = append(s.Failures, r.Repository+": "+reason)
		}
	}
	sort.Strings(s.Failures)
	return s
}

// Healthy reports whether nothing failed and no file errored.
func (s Summary) Healthy() bool {
	return s.Failed == 0 && s.Errors == 0
}

// String renders a one-line digest for logs and chat.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d repositories (%d completed, %d failed), %d/%d files: %d integrated, %d reimplemented, %d rejected, %d errors",
		s.Repositories, s.Completed, s.Failed, s.FilesProcessed, s.FilesTotal,
		s.Integrated, s.Reimplemented, s.Rejected, s.Errors)
	return b.String()
}
