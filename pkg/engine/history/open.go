package history

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/DrSkyle/codevet/pkg/storage"
)

// Open resolves a history URL:
//
//	""                       ~/.codevet/ledger.jsonl
//	file:///var/lib/ledger.jsonl or a bare path
//	sqlite:///var/lib/codevet.db, sqlite://:memory:
//	s3://bucket/prefix/ledger.jsonl
func Open(ctx context.Context, rawURL string) (Backend, error) {
	if rawURL == "" {
		return NewLocalBackend(""), nil
	}
	if !strings.Contains(rawURL, "://") {
		return NewLocalBackend(rawURL), nil
	}
	scheme, rest, _ := strings.Cut(rawURL, "://")
	switch scheme {
	case "file":
		return NewLocalBackend(rest), nil
	case "sqlite":
		if rest == "" {
			return nil, fmt.Errorf("history url %q has no database path", rawURL)
		}
		return OpenSQLite(ctx, rest)
	case "s3":
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid history url %q: %w", rawURL, err)
		}
		key := strings.Trim(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("history url %q needs a bucket and key", rawURL)
		}
		client, err := storage.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		dir, file := path.Split(key)
		return NewBlobBackend(storage.NewS3Store(client, u.Host, strings.Trim(dir, "/")), file), nil
	default:
		return nil, fmt.Errorf("unsupported history scheme %q", scheme)
	}
}
