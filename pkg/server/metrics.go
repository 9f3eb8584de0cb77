package server

import (
	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/prometheus/client_golang/prometheus"
)

// collector derives gauges and counters from an orchestrator snapshot at
// scrape time.
type collector struct {
	orch Orchestrator

	queueDepth *prometheus.Desc
	active     *prometheus.Desc
	cycles     *prometheus.Desc
	fileDelay  *prometheus.Desc
	repos      *prometheus.Desc
	files      *prometheus.Desc
}

func newCollector(orch Orchestrator) *collector {
	return &collector{
		orch:       orch,
		queueDepth: prometheus.NewDesc("codevet_queue_depth", "Targets waiting for the next cycle.", nil, nil),
		active:     prometheus.NewDesc("codevet_active_ingestions", "Repositories being ingested.", nil, nil),
		cycles:     prometheus.NewDesc("codevet_cycles_total", "Completed ingestion cycles.", nil, nil),
		fileDelay:  prometheus.NewDesc("codevet_file_delay_seconds", "Current pause between files, raised while the oracle throttles.", nil, nil),
		repos:      prometheus.NewDesc("codevet_repositories_total", "Finished repository runs by status.", []string{"status"}, nil),
		files:      prometheus.NewDesc("codevet_files_total", "Processed files by outcome.", []string{"outcome"}, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.active
	ch <- c.cycles
	ch <- c.fileDelay
	ch <- c.repos
	ch <- c.files
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.orch.Status()
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(len(s.Queue)))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(len(s.Active)))
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(s.Cycles))
	ch <- prometheus.MustNewConstMetric(c.fileDelay, prometheus.GaugeValue, s.FileDelay.Seconds())

	statuses := map[artifact.Status]int{artifact.StatusCompleted: 0, artifact.StatusFailed: 0}
	outcomes := map[artifact.Outcome]int{
		artifact.OutcomeIntegrated: 0, artifact.OutcomeReimplemented: 0,
		artifact.OutcomeRejected: 0, artifact.OutcomeError: 0,
	}
	for _, r := range s.History {
		statuses[r.Status]++
		for _, f := range r.Files {
			outcomes[f.Outcome]++
		}
	}
	for st, n := range statuses {
		ch <- prometheus.MustNewConstMetric(c.repos, prometheus.CounterValue, float64(n), string(st))
	}
	for o, n := range outcomes {
		ch <- prometheus.MustNewConstMetric(c.files, prometheus.CounterValue, float64(n), string(o))
	}
}
