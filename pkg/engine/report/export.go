package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// ExportItem is one file outcome flattened for CSV and JSON export.
type ExportItem struct {
	RunID       string `json:"run_id"`
	Repository  string `json:"repository"`
	Path        string `json:"path"`
	Outcome     string `json:"outcome"`
	StoragePath string `json:"storage_path,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Items flattens runs into export rows ordered by repository then path.
func Items(runs []artifact.IngestionProgress) []ExportItem {
	var items []ExportItem
	for _, r := range runs {
		for _, f := range r.Files {
			detail := f.Error
			if detail == "" && len(f.Reasoning) > 0 {
				detail = f.Reasoning[len(f.Reasoning)-1]
			}
			items = append(items, ExportItem{
				RunID:       r.RunID,
				Repository:  r.Repository,
				Path:        f.Path,
				Outcome:     string(f.Outcome),
				StoragePath: f.StoragePath,
				Detail:      detail,
			})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Repository != items[j].Repository {
			return items[i].Repository < items[j].Repository
		}
		return items[i].Path < items[j].Path
	})
	return items
}

// WriteCSV writes items with a header row.
func WriteCSV(w io.Writer, runs []artifact.IngestionProgress) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"RunID", "Repository", "Path", "Outcome", "StoragePath", "Detail"}); err != nil {
		return err
	}
	for _, it := range Items(runs) {
		if err := cw.Write([]string{it.RunID, it.Repository, it.Path, it.Outcome, it.StoragePath, it.Detail}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the summary and items as one indented document.
func WriteJSON(w io.Writer, runs []artifact.IngestionProgress) error {
	doc := struct {
		Summary Summary      `json:"summary"`
		Items   []ExportItem `json:"items"`
	}{Summarize(runs), Items(runs)}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// GenerateFile writes an export to path, choosing the format by extension.
func GenerateFile(path string, runs []artifact.IngestionProgress) error {
	var write func(io.Writer, []artifact.IngestionProgress) error
	switch ext := filepath.Ext(path); ext {
	case ".csv":
		write = WriteCSV
	case ".json":
		write = WriteJSON
	case ".html":
		write = WriteHTML
	default:
		return fmt.Errorf("unsupported export format %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := write(f, runs); err != nil {
		return err
	}
	return f.Close()
}
