package artifact

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var extLanguages = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".mts":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".py":    "python",
	".pyi":   "python",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".swift": "swift",
	".cs":    "csharp",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".c":     "c",
	".h":     "c",
	".rb":    "ruby",
	".php":   "php",
	".sh":    "shell",
	".sql":   "sql",
	".lua":   "lua",
	".yaml":  "yaml",
	".yml":   "yaml",
	".md":    "markdown",
}

// DetectLanguage maps a file extension to a language id, "text" when unknown.
func DetectLanguage(p string) string {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(p))]; ok {
		return lang
	}
	return "text"
}

var (
	goImportBlock = regexp.MustCompile(`(?s)import\s*\((.*?)\)`)
	goImportLine  = regexp.MustCompile(`(?m)^import\s+(?:\w+\s+)?"([^"]+)"`)
	quoted        = regexp.MustCompile(`"([^"]+)"`)
	jsImport      = regexp.MustCompile(`(?m)(?:import\s+(?:[^'"]*?\s+from\s+)?|require\(\s*)['"]([^'"]+)['"]`)
	pyImport      = regexp.MustCompile(`(?m)^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	javaImport    = regexp.MustCompile(`(?m)^import\s+(?:static\s+)?([\w.]+)\s*;`)
	rustUse       = regexp.MustCompile(`(?m)^\s*(?:extern\s+crate|use)\s+([\w]+)`)
)

// ExtractDependencies lists imported packages found in content. Relative and
// standard-library style imports are kept; vendor matching is substring based
// so over-reporting is harmless.
func ExtractDependencies(language, content string) []Dependency {
	seen := map[string]bool{}
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, ".") {
			return
		}
		seen[name] = true
	}

	switch language {
	case "go":
		for _, block := range goImportBlock.FindAllStringSubmatch(content, -1) {
			for _, m := range quoted.FindAllStringSubmatch(block[1], -1) {
				add(m[1])
			}
		}
		for _, m := range goImportLine.FindAllStringSubmatch(content, -1) {
			add(m[1])
		}
	case "javascript", "typescript":
		for _, m := range jsImport.FindAllStringSubmatch(content, -1) {
			add(m[1])
		}
	case "python":
		for _, m := range pyImport.FindAllStringSubmatch(content, -1) {
			if m[1] != "" {
				add(m[1])
			} else {
				add(m[2])
			}
		}
	case "java", "kotlin":
		for _, m := range javaImport.FindAllStringSubmatch(content, -1) {
			add(m[1])
		}
	case "rust":
		for _, m := range rustUse.FindAllStringSubmatch(content, -1) {
			switch m[1] {
			case "crate", "self", "super", "std", "core", "alloc":
				continue
			}
			add(m[1])
		}
	}

	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	deps := make([]Dependency, len(names))
	for i, n := range names {
		deps[i] = Dependency{Name: n}
	}
	return deps
}

var branchKeyword = regexp.MustCompile(`\b(if|else|for|while|switch|case|catch|except|elif|match)\b|&&|\|\|`)

// EstimateComplexity is a cyclomatic-style count: one plus every branch
// keyword or short-circuit operator.
func EstimateComplexity(content string) int {
	if content == "" {
		return 0
	}
	return 1 + len(branchKeyword.FindAllStringIndex(content, -1))
}
