package artifact

import "time"

// Status is the per-repository ingestion state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusIngesting Status = "ingesting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome is the terminal state of one file.
type Outcome string

const (
	OutcomeIntegrated    Outcome = "integrated"
	OutcomeReimplemented Outcome = "reimplemented"
	OutcomeRejected      Outcome = "rejected"
	OutcomeError         Outcome = "error"
)

// FileOutcome records how one artifact left the pipeline.
type FileOutcome struct {
	Path        string   `json:"path"`
	Outcome     Outcome  `json:"outcome"`
	StoragePath string   `json:"storage_path,omitempty"`
	Reasoning   []string `json:"reasoning,omitempty"`
	Error       string   `json:"error,omitempty"`
	// Transient marks an error a later cycle may not repeat.
	Transient bool `json:"transient,omitempty"`
}

// IngestionProgress tracks one run of one repository.
type IngestionProgress struct {
	RunID          string        `json:"run_id"`
	Repository     string        `json:"repository"`
	Priority       Priority      `json:"priority"`
	Status         Status        `json:"status"`
	FilesProcessed int           `json:"files_processed"`
	FilesTotal     int           `json:"files_total"`
	Integrated     int           `json:"integrated"`
	Reimplemented  int           `json:"reimplemented"`
	Rejected       int           `json:"rejected"`
	Errors         []string      `json:"errors"`
	Files          []FileOutcome `json:"files,omitempty"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time,omitempty"`
}

// Record appends the outcome of one file and bumps the counters.
func (p *IngestionProgress) Record(fo FileOutcome) {
	p.FilesProcessed++
	p.Files = append(p.Files, fo)
	switch fo.Outcome {
	case OutcomeIntegrated:
		p.Integrated++
	case OutcomeReimplemented:
		p.Reimplemented++
	case OutcomeRejected:
		p.Rejected++
	case OutcomeError:
		p.Errors = append(p.Errors, fo.Path+": "+fo.Error)
	}
}

// Duration is zero until the run reaches a terminal state.
func (p *IngestionProgress) Duration() time.Duration {
	if p.EndTime.IsZero() {
		return 0
	}
	return p.EndTime.Sub(p.StartTime)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (p *IngestionProgress) Clone() IngestionProgress {
	c := *p
	c.Errors = append([]string(nil), p.Errors...)
	if p.Files != nil {
		c.Files = make([]FileOutcome, len(p.Files))
		for i, f := range p.Files {
			f.Reasoning = append([]string(nil), f.Reasoning...)
			c.Files[i] = f
		}
	}
	return c
}
