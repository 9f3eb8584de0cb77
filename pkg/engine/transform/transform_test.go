package transform

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/engine/oracle"
	"github.com/DrSkyle/codevet/pkg/storage"
	"github.com/sebdah/goldie/v2"
)

var ingested = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func verdict(path, content, license string, rec artifact.Recommendation) artifact.VettingResult {
	a := artifact.NewCodeArtifact(artifact.PlatformGitHub, "acme/widgets", path, content,
		artifact.DetectLanguage(path), license, nil, artifact.Metadata{})
	return artifact.VettingResult{Artifact: a, Recommendation: rec, Reasoning: []string{"test"}}
}

func TestHeaderGolden(t *testing.T) {
	g := goldie.New(t)
	tests := map[string]struct {
		v    artifact.VettingResult
		mode string
		body string
	}{
		"integrated_go": {
			verdict("src/a.go", "package a\n", "MIT", artifact.RecommendIntegrate),
			modeIntegrated, "package a\n",
		},
		"reimplemented_python": {
			verdict("tools/run.py", "", "GPL-3.0", artifact.RecommendReimplement),
			modeReimplemented, "#!/usr/bin/env python3\nprint('hi')\n",
		},
		"integrated_markdown": {
			verdict("docs/README.md", "# Title\n", "MIT", artifact.RecommendIntegrate),
			modeIntegrated, "# Title\n",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			a := tt.v.Artifact
			out := withHeader(a.Language, provenanceFor(a, tt.mode, ingested), tt.body)
			g.Assert(t, name, []byte(out))
		})
	}
}

type fixture struct {
	engine *Engine
	mock   *oracle.Mock
	store  *storage.LocalStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mock := oracle.NewMock(90)
	store := storage.NewLocalStore(t.TempDir())
	e, err := New("managed", Oracles{mock, mock, mock}, storage.NewArtifactSink(store),
		WithClock(func() time.Time { return ingested }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fixture{engine: e, mock: mock, store: store}
}

func TestIntegrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ia, err := f.engine.Integrate(ctx, verdict("src/a.go", "package a\n", "MIT", artifact.RecommendIntegrate))
	if err != nil {
		t.Fatalf("Integrate() error = %v", err)
	}
	if ia.StoragePath != "managed/acme/widgets/src/a.go" {
		t.Errorf("StoragePath = %q", ia.StoragePath)
	}
	if len(ia.Modifications) != 2 {
		t.Errorf("Modifications = %v, want 2 entries", ia.Modifications)
	}

	stored, err := f.store.Get(ctx, ia.StoragePath)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !strings.HasPrefix(string(stored), "// Managed by codevet.") {
		t.Errorf("stored file lacks the provenance header:\n%s", stored)
	}
	if !strings.HasSuffix(string(stored), "\npackage a\n") {
		t.Errorf("stored file lost the original body:\n%s", stored)
	}

	if ab, gen, ver, _ := f.mock.Calls(); ab+gen+ver != 0 {
		t.Errorf("integration consulted the oracle %d times", ab+gen+ver)
	}

	if _, err := f.engine.Integrate(ctx, verdict("src/a.go", "x", "GPL-3.0", artifact.RecommendReimplement)); err == nil {
		t.Error("Integrate() accepted a reimplement verdict")
	}
}

func TestReimplementApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := "def secret_sauce():\n    return 42\n"

	ta, err := f.engine.Reimplement(ctx, verdict("lib/sauce.py", original, "GPL-3.0", artifact.RecommendReimplement))
	if err != nil {
		t.Fatalf("Reimplement() error = %v", err)
	}

	if ab, gen, ver, _ := f.mock.Calls(); ab != 1 || gen != 1 || ver != 1 {
		t.Errorf("oracle calls = %d/%d/%d, want one of each", ab, gen, ver)
	}
	if !ta.Verification.Approved {
		t.Error("Verification.Approved = false")
	}
	if ta.StoragePath != "managed/acme/widgets/lib/sauce.py" {
		t.Errorf("StoragePath = %q", ta.StoragePath)
	}
	if !strings.Contains(ta.Concept.Purpose, "sauce") {
		t.Errorf("Concept.Purpose = %q", ta.Concept.Purpose)
	}

	stored, err := f.store.Get(ctx, ta.StoragePath)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if strings.Contains(string(stored), "return 42") {
		t.Error("original text leaked into the reimplementation")
	}
	if !strings.Contains(string(stored), "# Original license: GPL-3.0") {
		t.Errorf("header lacks the original license:\n%s", stored)
	}
}

func TestReimplementNotApproved(t *testing.T) {
	f := newFixture(t)
	f.mock.Reject = true
	ctx := context.Background()

	ta, err := f.engine.Reimplement(ctx, verdict("lib/sauce.py", "x = 1\n", "GPL-3.0", artifact.RecommendReimplement))
	if !errors.Is(err, artifact.ErrNotApproved) {
		t.Fatalf("Reimplement() error = %v, want ErrNotApproved", err)
	}
	if !artifact.IsFileLevel(err) {
		t.Error("rejection is not file level")
	}
	if ta.Verification.Approved || ta.StoragePath != "" {
		t.Errorf("unapproved artifact = %+v", ta)
	}

	keys, err := f.store.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("unapproved output was stored: %v", keys)
	}
}

type badAbstractor struct{ concept artifact.ConceptAbstraction }

func (b badAbstractor) Abstract(context.Context, artifact.CodeArtifact) (artifact.ConceptAbstraction, error) {
	return b.concept, nil
}

func TestReimplementOracleFailures(t *testing.T) {
	ctx := context.Background()
	v := verdict("lib/sauce.py", "x = 1\n", "GPL-3.0", artifact.RecommendReimplement)
	newEngine := func(o Oracles) *Engine {
		t.Helper()
		e, err := New("managed", o, storage.NewArtifactSink(storage.NewLocalStore(t.TempDir())))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return e
	}
	stage := func(err error) string {
		t.Helper()
		var oe *artifact.OracleError
		if !errors.As(err, &oe) {
			t.Fatalf("error = %v, want *artifact.OracleError", err)
		}
		return oe.Stage
	}

	// Abstractor outage stops the chain before generation.
	mock := oracle.NewMock(90)
	mock.Fail = func(string) bool { return true }
	_, err := newEngine(Oracles{mock, mock, mock}).Reimplement(ctx, v)
	if got := stage(err); got != "abstract" {
		t.Errorf("stage = %q, want abstract", got)
	}
	if _, gen, ver, _ := mock.Calls(); gen+ver != 0 {
		t.Errorf("generate/verify called %d times after abstraction failed", gen+ver)
	}

	// An abstraction without purpose is an abstraction failure.
	mock = oracle.NewMock(90)
	_, err = newEngine(Oracles{badAbstractor{}, mock, mock}).Reimplement(ctx, v)
	if got := stage(err); got != "abstract" {
		t.Errorf("stage = %q, want abstract", got)
	}

	// A generator outage is reported at its own stage and skips verification.
	mock = oracle.NewMock(90)
	mock.FailGenerate = func(p string) bool { return p == "lib/sauce.py" }
	_, err = newEngine(Oracles{mock, mock, mock}).Reimplement(ctx, v)
	if got := stage(err); got != "generate" {
		t.Errorf("stage = %q, want generate", got)
	}
	if !oracle.IsTransient(err) {
		t.Errorf("generator outage lost its transient marker: %v", err)
	}
	if _, _, ver, _ := mock.Calls(); ver != 0 {
		t.Errorf("verify called %d times after generation failed", ver)
	}
}

func TestNewValidates(t *testing.T) {
	mock := oracle.NewMock(90)
	sink := storage.NewArtifactSink(storage.NewLocalStore(t.TempDir()))

	bad := map[string]struct {
		root    string
		oracles Oracles
		sink    Sink
	}{
		"blank root":      {" ", Oracles{mock, mock, mock}, sink},
		"absolute root":   {"/srv/managed", Oracles{mock, mock, mock}, sink},
		"missing oracles": {"managed", Oracles{Abstractor: mock}, sink},
		"missing sink":    {"managed", Oracles{mock, mock, mock}, nil},
	}
	for name, tt := range bad {
		t.Run(name, func(t *testing.T) {
			var ce *artifact.ConfigError
			if _, err := New(tt.root, tt.oracles, tt.sink); !errors.As(err, &ce) {
				t.Errorf("New() error = %v, want *artifact.ConfigError", err)
			}
		})
	}

	e, err := New(" managed/../managed/ ", Oracles{mock, mock, mock}, sink)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a := verdict("a.go", "", "MIT", artifact.RecommendIntegrate).Artifact
	if got := e.StoragePath(a); got != "managed/acme/widgets/a.go" {
		t.Errorf("StoragePath() = %q", got)
	}
}
