package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
	"github.com/DrSkyle/codevet/pkg/engine/events"
	"github.com/DrSkyle/codevet/pkg/engine/history"
	"github.com/DrSkyle/codevet/pkg/engine/oracle"
	"github.com/DrSkyle/codevet/pkg/engine/pacing"
	"github.com/DrSkyle/codevet/pkg/engine/policy"
	"github.com/DrSkyle/codevet/pkg/engine/source"
	"github.com/DrSkyle/codevet/pkg/engine/transform"
	"github.com/DrSkyle/codevet/pkg/storage"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeFetcher serves canned snapshots and records the visiting order.
type fakeFetcher struct {
	mu      sync.Mutex
	repos   map[string]source.Snapshot
	fail    map[string]error
	visited []string
	onFetch func(artifact.RepositoryTarget)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{repos: map[string]source.Snapshot{}, fail: map[string]error{}}
}

func (f *fakeFetcher) Platform() artifact.Platform { return artifact.PlatformGitHub }

func (f *fakeFetcher) Fetch(_ context.Context, t artifact.RepositoryTarget) (source.Snapshot, error) {
	f.mu.Lock()
	f.visited = append(f.visited, t.Key())
	hook := f.onFetch
	snap, ok := f.repos[t.Key()]
	err := f.fail[t.Key()]
	f.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	if err != nil {
		return source.Snapshot{}, &artifact.FetchError{Repository: t.Key(), Transient: true, Err: err}
	}
	if !ok {
		return source.Snapshot{}, &artifact.FetchError{Repository: t.Key(), Err: artifact.ErrNotFound}
	}
	return snap, nil
}

func (f *fakeFetcher) add(key string, files ...string) {
	snap := source.Snapshot{}
	for _, p := range files {
		snap.Files = append(snap.Files, artifact.SourceFile{Path: p, Content: "def " + strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)) + "():\n    return 1\n"})
	}
	f.mu.Lock()
	f.repos[key] = snap
	f.mu.Unlock()
}

func (f *fakeFetcher) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visited...)
}

type harness struct {
	engine  *Engine
	fetcher *fakeFetcher
	mock    *oracle.Mock
	clock   *pacing.FakeClock
	store   *storage.LocalStore
}

type setup struct {
	alignment  float64
	compliance int
	pacing     config.PacingConfig
	vetter     Vetter
	history    history.Backend
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()
	if s.pacing.CycleInterval == 0 {
		s.pacing.CycleInterval = time.Minute
	}
	h := &harness{
		fetcher: newFakeFetcher(),
		mock:    oracle.NewMock(s.compliance),
		clock:   pacing.NewFakeClock(epoch),
		store:   storage.NewLocalStore(t.TempDir()),
	}

	pcfg := config.DefaultPolicyConfig()
	pcfg.Scoring.Static = config.DimensionScores{
		Strategic: s.alignment, Technical: s.alignment, Security: s.alignment, Sustainability: s.alignment,
	}
	vetter := s.vetter
	if vetter == nil {
		v, err := policy.NewVetter(pcfg, h.mock)
		if err != nil {
			t.Fatalf("NewVetter() error = %v", err)
		}
		vetter = v
	}

	tr, err := transform.New("managed", transform.Oracles{Abstractor: h.mock, Generator: h.mock, Verifier: h.mock},
		storage.NewArtifactSink(h.store), transform.WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("transform.New() error = %v", err)
	}

	n := 0
	h.engine, err = New(Config{
		Fetcher:     h.fetcher,
		Vetter:      vetter,
		Transformer: tr,
		Pacing:      s.pacing,
		History:     s.history,
	}, WithClock(h.clock), WithRunIDs(func() string { n++; return fmt.Sprintf("run-%d", n) }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

// queue adds targets, failing the test on a rejected one.
func (h *harness) queue(t *testing.T, targets ...artifact.RepositoryTarget) {
	t.Helper()
	for _, tgt := range targets {
		if err := h.engine.AddRepository(tgt); err != nil {
			t.Fatalf("AddRepository(%s) error = %v", tgt.Key(), err)
		}
	}
}

// cycle runs one cycle and expects n runs back.
func (h *harness) cycle(t *testing.T, n int) []artifact.IngestionProgress {
	t.Helper()
	runs, err := h.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(runs) != n {
		t.Fatalf("RunCycle() returned %d runs, want %d", len(runs), n)
	}
	return runs
}

func target(key string, p artifact.Priority, license string) artifact.RepositoryTarget {
	owner, name, _ := strings.Cut(key, "/")
	return artifact.RepositoryTarget{Owner: owner, Name: name, Priority: p, License: license}
}

func TestNewValidates(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	base := Config{
		Fetcher:     h.fetcher,
		Vetter:      h.engine.vetter,
		Transformer: h.engine.transformer,
		Pacing:      config.DefaultPacingConfig(),
	}
	var ce *artifact.ConfigError

	cfg := base
	cfg.Fetcher = nil
	if _, err := New(cfg); !errors.As(err, &ce) {
		t.Errorf("missing fetcher: error = %v, want *artifact.ConfigError", err)
	}

	cfg = base
	cfg.Pacing.FileDelay = -time.Second
	if _, err := New(cfg); !errors.As(err, &ce) {
		t.Errorf("negative delay: error = %v, want *artifact.ConfigError", err)
	}

	cfg = base
	cfg.Targets = []artifact.RepositoryTarget{{Owner: "acme"}}
	var qe *artifact.QueueError
	if _, err := New(cfg); !errors.As(err, &qe) {
		t.Errorf("bad seed target: error = %v, want *artifact.QueueError", err)
	}

	cfg = base
	cfg.Targets = []artifact.RepositoryTarget{target("acme/a", "", "MIT")}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	q := e.Status().Queue
	if len(q) != 1 || q[0].Priority != artifact.PriorityMedium {
		t.Errorf("queue = %+v, want one medium priority target", q)
	}
}

func TestPriorityOrdering(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	for _, tt := range []struct {
		key string
		p   artifact.Priority
	}{
		{"acme/low", artifact.PriorityLow},
		{"acme/critical", artifact.PriorityCritical},
		{"acme/medium", artifact.PriorityMedium},
		{"acme/high-1", artifact.PriorityHigh},
		{"acme/high-2", artifact.PriorityHigh},
	} {
		h.fetcher.add(tt.key, "a.py")
		h.queue(t, target(tt.key, tt.p, "MIT"))
	}

	h.cycle(t, 5)
	want := []string{"acme/critical", "acme/high-1", "acme/high-2", "acme/medium", "acme/low"}
	if diff := cmp.Diff(want, h.fetcher.order()); diff != "" {
		t.Errorf("visiting order mismatch (-want +got):\n%s", diff)
	}
	if q := h.engine.Status().Queue; len(q) != 0 {
		t.Errorf("queue not drained: %+v", q)
	}
}

func TestDuplicateTargetsRunOnce(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	h.fetcher.add("acme/widgets", "a.py")
	tgt := target("acme/widgets", artifact.PriorityHigh, "MIT")

	h.queue(t, tgt, tgt)
	// Re-adding while ingesting queues a re-run for the next cycle only.
	var active int
	var readdErr error
	h.fetcher.onFetch = func(artifact.RepositoryTarget) {
		h.fetcher.onFetch = nil
		readdErr = h.engine.AddRepository(tgt)
		active = len(h.engine.Status().Active)
	}

	runs := h.cycle(t, 1)
	if readdErr != nil {
		t.Fatalf("AddRepository() during ingestion error = %v", readdErr)
	}
	if active != 1 {
		t.Errorf("active runs during fetch = %d, want 1", active)
	}
	if runs[0].Status != artifact.StatusCompleted {
		t.Errorf("Status = %s, want completed", runs[0].Status)
	}
	if diff := cmp.Diff([]string{"acme/widgets"}, h.fetcher.order()); diff != "" {
		t.Errorf("visiting order mismatch (-want +got):\n%s", diff)
	}
	if q := h.engine.Status().Queue; len(q) != 1 {
		t.Errorf("queue = %+v, want the re-added target", q)
	}

	runs = h.cycle(t, 1)
	if runs[0].RunID != "run-2" {
		t.Errorf("RunID = %q, want run-2", runs[0].RunID)
	}
	if got := len(h.engine.Status().History); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestFilesArePaced(t *testing.T) {
	const delay = 250 * time.Millisecond
	h := newHarness(t, setup{alignment: 90, compliance: 90, pacing: config.PacingConfig{
		FileDelay: delay, MaxFileDelay: time.Second, CycleInterval: time.Minute,
	}})
	files := []string{"a.py", "b.py", "c.py", "d.py", "e.py"}
	h.fetcher.add("acme/widgets", files...)
	h.queue(t, target("acme/widgets", artifact.PriorityHigh, "MIT"))

	runs := h.cycle(t, 1)
	want := time.Duration(len(files)) * delay
	if slept, _ := h.clock.Slept(); slept < want {
		t.Errorf("slept %v, want at least %v", slept, want)
	}
	if got := runs[0].Duration(); got < want {
		t.Errorf("Duration() = %v, want at least %v", got, want)
	}
	if runs[0].FilesProcessed != len(files) {
		t.Errorf("FilesProcessed = %d, want %d", runs[0].FilesProcessed, len(files))
	}

	if got := h.engine.Status().FileDelay; got != delay {
		t.Errorf("Status().FileDelay = %v, want %v", got, delay)
	}
	h.engine.Limiter().Feedback(true)
	if got := h.engine.Status().FileDelay; got != 2*delay {
		t.Errorf("Status().FileDelay after throttling = %v, want %v", got, 2*delay)
	}
}

func TestRepositoriesArePaced(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90, pacing: config.PacingConfig{
		RepoDelay: 5 * time.Second, CycleInterval: time.Minute,
	}})
	for _, key := range []string{"acme/a", "acme/b"} {
		h.fetcher.add(key, "a.py")
		h.queue(t, target(key, artifact.PriorityLow, "MIT"))
	}
	h.cycle(t, 2)

	slept, n := h.clock.Slept()
	if slept != 10*time.Second || n != 2 {
		t.Errorf("slept %v in %d pauses, want 10s in 2", slept, n)
	}
}

func TestFilePacingSurvivesRepositoryPause(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90, pacing: config.PacingConfig{
		FileDelay: time.Second, RepoDelay: 5 * time.Second, CycleInterval: time.Minute,
	}})
	for _, key := range []string{"acme/a", "acme/b"} {
		h.fetcher.add(key, "a.py", "b.py", "c.py")
		h.queue(t, target(key, artifact.PriorityHigh, "MIT"))
	}

	for _, p := range h.cycle(t, 2) {
		if p.FilesProcessed != 3 {
			t.Errorf("%s: FilesProcessed = %d, want 3", p.Repository, p.FilesProcessed)
		}
		// The pause before the second repository must not pay for its first file.
		if got := p.Duration(); got < 3*time.Second {
			t.Errorf("%s: Duration() = %v, want at least 3s for 3 files", p.Repository, got)
		}
	}
}

func TestScenarioIntegrate(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	h.fetcher.add("acme/widgets", "src/a.py")
	h.queue(t, target("acme/widgets", artifact.PriorityHigh, "MIT"))

	p := h.cycle(t, 1)[0]
	if p.Status != artifact.StatusCompleted || p.Integrated != 1 {
		t.Errorf("run = %+v, want completed with one integration", p)
	}
	if len(p.Files) != 1 {
		t.Fatalf("Files = %+v, want one outcome", p.Files)
	}
	if f := p.Files[0]; f.Outcome != artifact.OutcomeIntegrated || f.StoragePath != "managed/acme/widgets/src/a.py" {
		t.Errorf("file outcome = %+v", f)
	}

	stored, err := h.store.Get(context.Background(), "managed/acme/widgets/src/a.py")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !strings.Contains(string(stored), "def a():") {
		t.Errorf("stored file lost the original body:\n%s", stored)
	}

	ab, gen, ver, comp := h.mock.Calls()
	if ab+gen+ver != 0 || comp != 1 {
		t.Errorf("oracle calls = %d/%d/%d/%d, want only one compliance check", ab, gen, ver, comp)
	}
}

func TestScenarioReimplement(t *testing.T) {
	h := newHarness(t, setup{alignment: 85, compliance: 85})
	h.fetcher.add("acme/gpl", "lib/sort.py")
	h.queue(t, target("acme/gpl", artifact.PriorityHigh, "GPL-3.0"))

	p := h.cycle(t, 1)[0]
	if p.Reimplemented != 1 || p.Files[0].Outcome != artifact.OutcomeReimplemented {
		t.Errorf("run = %+v, want one reimplementation", p)
	}
	if ab, gen, ver, _ := h.mock.Calls(); ab != 1 || gen != 1 || ver != 1 {
		t.Errorf("oracle calls = %d/%d/%d, want one of each", ab, gen, ver)
	}

	stored, err := h.store.Get(context.Background(), "managed/acme/gpl/lib/sort.py")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if strings.Contains(string(stored), "return 1") {
		t.Error("original text leaked into the reimplementation")
	}
}

func TestScenarioReimplementNotApproved(t *testing.T) {
	h := newHarness(t, setup{alignment: 85, compliance: 85})
	h.mock.Reject = true
	h.fetcher.add("acme/gpl", "lib/sort.py")
	h.queue(t, target("acme/gpl", artifact.PriorityHigh, "GPL-3.0"))

	p := h.cycle(t, 1)[0]
	if p.Status != artifact.StatusCompleted {
		t.Errorf("Status = %s, want completed", p.Status)
	}
	if len(p.Errors) != 1 || !strings.Contains(p.Errors[0], "not approved") {
		t.Errorf("Errors = %q, want one refusal", p.Errors)
	}
	if p.Files[0].Transient {
		t.Error("a verifier refusal was marked transient")
	}

	if _, err := h.store.Get(context.Background(), "managed/acme/gpl/lib/sort.py"); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestScenarioUnknownLicense(t *testing.T) {
	h := newHarness(t, setup{alignment: 100, compliance: 100})
	h.fetcher.add("acme/closed", "a.py", "b.py")
	h.queue(t, target("acme/closed", artifact.PriorityHigh, "Proprietary-Unknown"))

	p := h.cycle(t, 1)[0]
	if p.Rejected != 2 {
		t.Errorf("Rejected = %d, want 2", p.Rejected)
	}
	for _, f := range p.Files {
		if f.Outcome != artifact.OutcomeRejected || len(f.Reasoning) == 0 {
			t.Errorf("file outcome = %+v, want a reasoned rejection", f)
		}
	}
	if ab, gen, ver, comp := h.mock.Calls(); ab+gen+ver+comp != 0 {
		t.Errorf("oracle consulted %d times for an unknown license", ab+gen+ver+comp)
	}
}

func TestScenarioGenerationFailureIsolated(t *testing.T) {
	h := newHarness(t, setup{alignment: 85, compliance: 85})
	h.mock.FailGenerate = func(p string) bool { return p == "f3.py" }
	sub := h.engine.Subscribe(64)
	defer sub.Unsubscribe()
	h.fetcher.add("acme/gpl", "f1.py", "f2.py", "f3.py", "f4.py", "f5.py")
	h.queue(t, target("acme/gpl", artifact.PriorityHigh, "GPL-3.0"))

	p := h.cycle(t, 1)[0]
	if p.Status != artifact.StatusCompleted {
		t.Errorf("Status = %s, want completed", p.Status)
	}
	if p.FilesProcessed != 5 || p.FilesTotal != 5 || p.Reimplemented != 4 {
		t.Errorf("counters = %d/%d processed, %d reimplemented; want 5/5 and 4",
			p.FilesProcessed, p.FilesTotal, p.Reimplemented)
	}
	if len(p.Errors) != 1 {
		t.Fatalf("Errors = %q, want one", p.Errors)
	}
	if !strings.HasPrefix(p.Errors[0], "f3.py: ") || !strings.Contains(p.Errors[0], "generate") {
		t.Errorf("Errors[0] = %q", p.Errors[0])
	}

	for _, f := range p.Files {
		if want := f.Path == "f3.py"; f.Transient != want {
			t.Errorf("%s: Transient = %v, want %v", f.Path, f.Transient, want)
		}
	}
	var seen bool
	for ev := range drain(sub) {
		if ev.Type == events.FileProcessed && ev.Path == "f3.py" {
			seen = true
			if ev.Outcome != artifact.OutcomeError || !ev.Transient {
				t.Errorf("f3.py event = %+v, want a transient error", ev)
			}
		}
	}
	if !seen {
		t.Error("no FileProcessed event for f3.py")
	}
}

func TestErrorClass(t *testing.T) {
	mock := oracle.NewMock(90)
	mock.Fail = func(string) bool { return true }
	_, outage := mock.CheckCompliance(context.Background(), artifact.CodeArtifact{Path: "a.py"})

	tests := map[string]struct {
		err  error
		want string
	}{
		"oracle outage":     {&artifact.OracleError{Stage: "compliance", Err: outage}, "transient"},
		"verifier refusal":  {fmt.Errorf("verify: %w", artifact.ErrNotApproved), "file"},
		"storage":           {&artifact.PersistenceError{Key: "k", Err: errors.New("disk full")}, "file"},
		"flaky fetch":       {&artifact.FetchError{Repository: "o/r", Transient: true, Err: errors.New("reset")}, "transient"},
		"missing repo":      {&artifact.FetchError{Repository: "o/r", Err: artifact.ErrNotFound}, "fetch"},
		"unexpected":        {errors.New("boom"), "internal"},
		"stopped mid-cycle": {errStopped, "internal"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := errorClass(tt.err); got != tt.want {
				t.Errorf("errorClass(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestFetchFailureDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	sub := h.engine.Subscribe(64)
	defer sub.Unsubscribe()

	h.fetcher.fail["acme/flaky"] = errors.New("connection reset")
	h.fetcher.add("acme/ok", "a.py")
	h.queue(t,
		target("acme/flaky", artifact.PriorityCritical, "MIT"),
		target("acme/ok", artifact.PriorityLow, "MIT"))

	runs := h.cycle(t, 2)
	if runs[0].Status != artifact.StatusFailed || runs[0].EndTime.IsZero() {
		t.Errorf("flaky run = %+v, want a finished failure", runs[0])
	}
	if len(runs[0].Errors) != 1 || !strings.Contains(runs[0].Errors[0], "connection reset") {
		t.Errorf("flaky Errors = %q", runs[0].Errors)
	}
	if runs[1].Status != artifact.StatusCompleted {
		t.Errorf("ok run Status = %s, want completed", runs[1].Status)
	}

	var failed []string
	for ev := range drain(sub) {
		if ev.Type == events.IngestionFailed {
			failed = append(failed, ev.Repository)
		}
	}
	if diff := cmp.Diff([]string{"acme/flaky"}, failed); diff != "" {
		t.Errorf("IngestionFailed events mismatch (-want +got):\n%s", diff)
	}
}

type panickyVetter struct{ Vetter }

func (v panickyVetter) Vet(ctx context.Context, a artifact.CodeArtifact) (artifact.VettingResult, error) {
	if a.Path == "boom.py" {
		panic("index out of range")
	}
	return v.Vetter.Vet(ctx, a)
}

func TestPanicBecomesFileError(t *testing.T) {
	v, err := policy.NewVetter(config.DefaultPolicyConfig(), policy.StaticCompliance(90),
		policy.WithScorer(policy.StaticScorer{Scores: config.DimensionScores{Strategic: 90, Technical: 90, Security: 90, Sustainability: 90}}))
	if err != nil {
		t.Fatalf("NewVetter() error = %v", err)
	}
	h := newHarness(t, setup{compliance: 90, vetter: panickyVetter{v}})
	h.fetcher.add("acme/widgets", "a.py", "boom.py", "c.py")
	h.queue(t, target("acme/widgets", artifact.PriorityHigh, "MIT"))

	p := h.cycle(t, 1)[0]
	if p.Status != artifact.StatusCompleted || p.Integrated != 2 {
		t.Errorf("run = %+v, want completed with two integrations", p)
	}
	if len(p.Errors) != 1 || !strings.Contains(p.Errors[0], "panic: index out of range") {
		t.Errorf("Errors = %q", p.Errors)
	}
}

func TestLicenseFromSnapshot(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	h.fetcher.add("acme/widgets", "a.py")
	snap := h.fetcher.repos["acme/widgets"]
	snap.License = "Apache-2.0"
	h.fetcher.repos["acme/widgets"] = snap
	h.queue(t, target("acme/widgets", artifact.PriorityHigh, ""))

	if p := h.cycle(t, 1)[0]; p.Integrated != 1 {
		t.Errorf("Integrated = %d, want 1", p.Integrated)
	}
}

func TestEventSequence(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90})
	sub := h.engine.Subscribe(64)
	defer sub.Unsubscribe()

	h.fetcher.add("acme/widgets", "a.py")
	h.queue(t, target("acme/widgets", artifact.PriorityHigh, "MIT"))
	h.cycle(t, 1)

	var types []events.Type
	var fileEvent events.Event
	for ev := range drain(sub) {
		types = append(types, ev.Type)
		if ev.Type == events.FileProcessed {
			fileEvent = ev
		}
	}
	want := []events.Type{
		events.TargetAdded, events.IngestionStarted, events.FileProcessed,
		events.IngestionCompleted, events.CycleCompleted,
	}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if fileEvent.Path != "a.py" || fileEvent.Outcome != artifact.OutcomeIntegrated || fileEvent.RunID != "run-1" {
		t.Errorf("file event = %+v", fileEvent)
	}
}

func TestHistoryReadsLedger(t *testing.T) {
	ledger := history.NewLocalBackend(filepath.Join(t.TempDir(), "ledger.jsonl"))
	h := newHarness(t, setup{alignment: 90, compliance: 90, history: ledger})
	for _, key := range []string{"acme/a", "acme/b", "acme/c"} {
		h.fetcher.add(key, "a.py")
		h.queue(t, target(key, artifact.PriorityMedium, "MIT"))
	}
	h.cycle(t, 3)

	last, err := h.engine.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	var repos []string
	for _, p := range last {
		repos = append(repos, p.Repository)
	}
	if diff := cmp.Diff([]string{"acme/b", "acme/c"}, repos); diff != "" {
		t.Errorf("History() mismatch (-want +got):\n%s", diff)
	}

	persisted, err := ledger.Load(context.Background(), 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(persisted) != 3 {
		t.Errorf("ledger holds %d runs, want 3", len(persisted))
	}
}

// liveContextLedger refuses appends made with a cancelled context.
type liveContextLedger struct{ history.Backend }

func (l liveContextLedger) Append(ctx context.Context, p artifact.IngestionProgress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Backend.Append(ctx, p)
}

func TestLedgerAppendSurvivesCancellation(t *testing.T) {
	ledger := history.NewLocalBackend(filepath.Join(t.TempDir(), "ledger.jsonl"))
	h := newHarness(t, setup{alignment: 90, compliance: 90, history: liveContextLedger{ledger}})
	h.fetcher.add("acme/a", "a.py")
	h.fetcher.add("acme/b", "b.py")
	h.queue(t,
		target("acme/a", artifact.PriorityHigh, "MIT"),
		target("acme/b", artifact.PriorityLow, "MIT"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.onFetch = func(artifact.RepositoryTarget) { cancel() }

	runs, err := h.engine.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunCycle() error = %v, want context.Canceled", err)
	}
	if len(runs) != 1 || runs[0].Repository != "acme/a" {
		t.Fatalf("runs = %+v, want only acme/a", runs)
	}

	persisted, err := ledger.Load(context.Background(), 0)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(persisted) != 1 || persisted[0].RunID != runs[0].RunID {
		t.Errorf("ledger = %+v, want the cancelled cycle's run", persisted)
	}
	if q := h.engine.Status().Queue; len(q) != 1 || q[0].Key() != "acme/b" {
		t.Errorf("queue = %+v, want acme/b requeued", q)
	}
}

func TestContinuousMode(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t, setup{alignment: 90, compliance: 90})
	sub := h.engine.Subscribe(128)
	defer sub.Unsubscribe()

	h.fetcher.add("acme/a", "a.py")
	h.fetcher.add("acme/b", "b.py")
	h.queue(t, target("acme/a", artifact.PriorityHigh, "MIT"))

	ctx := context.Background()
	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.engine.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if !h.engine.Status().Running {
		t.Error("Status().Running = false while started")
	}

	first := waitFor(t, sub, events.CycleCompleted)
	if len(first.Runs) != 1 || first.Runs[0].Repository != "acme/a" {
		t.Fatalf("first cycle runs = %+v", first.Runs)
	}

	h.queue(t, target("acme/b", artifact.PriorityLow, "MIT"))
	h.clock.FireTickers()

	second := waitFor(t, sub, events.CycleCompleted)
	if len(second.Runs) != 1 || second.Runs[0].Repository != "acme/b" {
		t.Fatalf("second cycle runs = %+v", second.Runs)
	}

	h.engine.Stop()
	s := h.engine.Status()
	if s.Running {
		t.Error("Status().Running = true after Stop")
	}
	if s.Cycles != 2 {
		t.Errorf("Cycles = %d, want 2", s.Cycles)
	}
	h.engine.Stop()
}

func TestStopRequeuesUnvisitedTargets(t *testing.T) {
	h := newHarness(t, setup{alignment: 90, compliance: 90, pacing: config.PacingConfig{
		RepoDelay: time.Second, CycleInterval: time.Minute,
	}})
	sub := h.engine.Subscribe(128)
	defer sub.Unsubscribe()

	h.fetcher.add("acme/a", "a.py")
	h.fetcher.add("acme/b", "b.py")
	h.queue(t,
		target("acme/a", artifact.PriorityHigh, "MIT"),
		target("acme/b", artifact.PriorityLow, "MIT"))

	stopping := make(chan struct{})
	h.fetcher.onFetch = func(tgt artifact.RepositoryTarget) {
		if tgt.Key() == "acme/a" {
			close(stopping)
			// Wait until Stop has flagged the loop; the fetch itself completes.
			for !h.engine.stopped.Load() {
				time.Sleep(time.Millisecond)
			}
		}
	}

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-stopping
	h.engine.Stop()

	s := h.engine.Status()
	if len(s.History) != 1 || s.History[0].Repository != "acme/a" || s.History[0].Status != artifact.StatusFailed {
		t.Errorf("history = %+v, want acme/a failed", s.History)
	}
	if len(s.Queue) != 1 || s.Queue[0].Key() != "acme/b" {
		t.Errorf("queue = %+v, want acme/b", s.Queue)
	}
}

// haltingVetter counts calls and holds the first one until Stop is flagged.
type haltingVetter struct {
	Vetter
	engine  func() *Engine
	calls   atomic.Int64
	holding chan struct{}
}

func (v *haltingVetter) Vet(ctx context.Context, a artifact.CodeArtifact) (artifact.VettingResult, error) {
	res, err := v.Vetter.Vet(ctx, a)
	if v.calls.Add(1) == 1 {
		close(v.holding)
		for !v.engine().stopped.Load() {
			time.Sleep(time.Millisecond)
		}
	}
	return res, err
}

func TestStopMidRepository(t *testing.T) {
	mock := oracle.NewMock(90)
	inner, err := policy.NewVetter(config.DefaultPolicyConfig(), mock,
		policy.WithScorer(policy.StaticScorer{Scores: config.DimensionScores{Strategic: 90, Technical: 90, Security: 90, Sustainability: 90}}))
	if err != nil {
		t.Fatalf("NewVetter() error = %v", err)
	}
	var h *harness
	vetter := &haltingVetter{Vetter: inner, engine: func() *Engine { return h.engine }, holding: make(chan struct{})}
	h = newHarness(t, setup{compliance: 90, vetter: vetter, pacing: config.PacingConfig{
		FileDelay: time.Second, CycleInterval: time.Minute,
	}})
	h.fetcher.add("acme/widgets", "a.py", "b.py", "c.py")
	h.queue(t, target("acme/widgets", artifact.PriorityHigh, "MIT"))

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-vetter.holding
	h.engine.Stop()

	s := h.engine.Status()
	if len(s.History) != 1 {
		t.Fatalf("history = %+v, want one run", s.History)
	}
	p := s.History[0]
	if p.Status != artifact.StatusFailed {
		t.Errorf("Status = %s, want failed", p.Status)
	}
	if p.FilesProcessed != 1 || p.FilesTotal != 3 || p.Integrated != 1 {
		t.Errorf("counters = %d/%d processed, %d integrated; want 1/3 and 1",
			p.FilesProcessed, p.FilesTotal, p.Integrated)
	}
	if len(p.Errors) != 1 || !strings.Contains(p.Errors[0], "stopped") {
		t.Errorf("Errors = %q, want the stop reason", p.Errors)
	}
	if got := vetter.calls.Load(); got != 1 {
		t.Errorf("vetter called %d times, want 1", got)
	}
	if _, _, _, comp := mock.Calls(); comp != 1 {
		t.Errorf("compliance checked %d times, want 1", comp)
	}
	if len(s.Active) != 0 {
		t.Errorf("active runs after Stop = %+v", s.Active)
	}
}

// drain returns the events buffered so far.
func drain(sub *events.Subscription) <-chan events.Event {
	out := make(chan events.Event, cap(sub.C()))
	for {
		select {
		case ev := <-sub.C():
			out <- ev
		default:
			close(out)
			return out
		}
	}
}

func waitFor(t *testing.T, sub *events.Subscription, typ events.Type) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}
