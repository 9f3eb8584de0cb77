package transform

import (
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/version"
)

type commentStyle struct {
	line        string // per-line prefix, empty for block styles
	open, close string
}

var (
	slashes = commentStyle{line: "// "}
	hashes  = commentStyle{line: "# "}
	dashes  = commentStyle{line: "-- "}
	cBlock  = commentStyle{open: "/*", close: " */"}
	xml     = commentStyle{open: "<!--", close: "-->"}
)

var languageComments = map[string]commentStyle{
	"go": slashes, "typescript": slashes, "javascript": slashes, "rust": slashes,
	"java": slashes, "kotlin": slashes, "swift": slashes, "csharp": slashes,
	"cpp": slashes, "c": slashes, "php": slashes,
	"python": hashes, "ruby": hashes, "shell": hashes, "yaml": hashes, "text": hashes,
	"sql": dashes, "lua": dashes,
	"css":      cBlock,
	"markdown": xml, "html": xml,
}

// provenance is what the header records.
type provenance struct {
	source   string
	license  string
	mode     string
	ingested time.Time
}

func provenanceFor(a artifact.CodeArtifact, mode string, at time.Time) provenance {
	return provenance{source: a.ID(), license: a.License, mode: mode, ingested: at}
}

func (p provenance) lines() []string {
	license := p.license
	if license == "" {
		license = "unknown"
	}
	licenseLine := "License: " + license
	if p.mode == modeReimplemented {
		licenseLine = "Original license: " + license + " (no original text retained)"
	}
	return []string{
		"Managed by " + version.AppName + ". Do not edit by hand.",
		"Source: " + p.source,
		licenseLine,
		"Mode: " + p.mode,
		"Ingested: " + p.ingested.UTC().Format(time.RFC3339),
	}
}

// withHeader prefixes body with a provenance comment in the language's
// syntax. A shebang line stays first.
func withHeader(language string, p provenance, body string) string {
	style, ok := languageComments[language]
	if !ok {
		style = hashes
	}

	var b strings.Builder
	rest := body
	if strings.HasPrefix(body, "#!") {
		shebang, tail, _ := strings.Cut(body, "\n")
		b.WriteString(shebang)
		b.WriteString("\n")
		rest = tail
	}

	lines := p.lines()
	if style.line != "" {
		for _, l := range lines {
			b.WriteString(style.line)
			b.WriteString(l)
			b.WriteString("\n")
		}
	} else {
		b.WriteString(style.open)
		b.WriteString("\n")
		for _, l := range lines {
			b.WriteString("  ")
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString(style.close)
		b.WriteString("\n")
	}
	// Blank line keeps the header from becoming a doc comment.
	b.WriteString("\n")
	b.WriteString(rest)
	return b.String()
}
