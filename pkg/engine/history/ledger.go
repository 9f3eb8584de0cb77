// Package history keeps a ledger of completed ingestion runs.
package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// Backend stores finished runs in append order.
type Backend interface {
	Append(ctx context.Context, p artifact.IngestionProgress) error
	// Load returns the last n runs, oldest first. n <= 0 returns all.
	Load(ctx context.Context, n int) ([]artifact.IngestionProgress, error)
	Close() error
}

// ForRepository returns the last n runs of repo, oldest first. Backends that
// can filter by repository do; the rest are filtered after Load.
func ForRepository(ctx context.Context, b Backend, repo string, n int) ([]artifact.IngestionProgress, error) {
	if r, ok := b.(interface {
		Repository(ctx context.Context, repo string) ([]artifact.IngestionProgress, error)
	}); ok {
		runs, err := r.Repository(ctx, repo)
		if err != nil {
			return nil, err
		}
		return tail(runs, n), nil
	}

	all, err := b.Load(ctx, 0)
	if err != nil {
		return nil, err
	}
	runs := []artifact.IngestionProgress{}
	for _, p := range all {
		if p.Repository == repo {
			runs = append(runs, p)
		}
	}
	return tail(runs, n), nil
}

// NewLocalBackend creates a file-based backend at the specified path.
func NewLocalBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// FileBackend appends one JSON document per line.
type FileBackend struct {
	Path string
}

func (b *FileBackend) path() (string, error) {
	if b.Path != "" {
		return b.Path, nil
	}
	return GetLedgerPath()
}

func (b *FileBackend) Append(_ context.Context, p artifact.IngestionProgress) error {
	path, err := b.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (b *FileBackend) Load(_ context.Context, n int) ([]artifact.IngestionProgress, error) {
	path, err := b.path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []artifact.IngestionProgress{}, nil
	}
	if err != nil {
		return nil, err
	}
	runs, err := decodeLines(data)
	if err != nil {
		return nil, err
	}
	return tail(runs, n), nil
}

func (b *FileBackend) Close() error { return nil }

// GetLedgerPath provides the default local storage path.
func GetLedgerPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".codevet", "ledger.jsonl"), nil
}

// decodeLines parses a JSONL ledger. Corrupt lines are skipped so one torn
// write does not hide the rest of the history.
func decodeLines(data []byte) ([]artifact.IngestionProgress, error) {
	var runs []artifact.IngestionProgress
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p artifact.IngestionProgress
		if err := json.Unmarshal(line, &p); err != nil {
			continue
		}
		runs = append(runs, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return runs, nil
}

func encodeLines(runs []artifact.IngestionProgress) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range runs {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func tail(runs []artifact.IngestionProgress, n int) []artifact.IngestionProgress {
	if runs == nil {
		return []artifact.IngestionProgress{}
	}
	if n > 0 && len(runs) > n {
		return runs[len(runs)-n:]
	}
	return runs
}
