package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/DrSkyle/codevet/pkg/artifact"
)

// ManifestPrefix holds one JSON provenance record per stored artifact.
const ManifestPrefix = "_manifests"

// Manifest is the provenance record written next to every stored artifact.
type Manifest struct {
	Kind          string                       `json:"kind"` // integrated or reimplemented
	Source        string                       `json:"source"`
	StoragePath   string                       `json:"storage_path"`
	License       string                       `json:"license"`
	Verdict       artifact.VettingResult       `json:"verdict"`
	Modifications []string                     `json:"modifications,omitempty"`
	Concept       *artifact.ConceptAbstraction `json:"concept,omitempty"`
	Verification  *artifact.VerificationResult `json:"verification,omitempty"`
}

// ArtifactSink writes transform outputs to a BlobStore at their storage path.
type ArtifactSink struct {
	store BlobStore
}

func NewArtifactSink(store BlobStore) *ArtifactSink {
	return &ArtifactSink{store: store}
}

// ManifestKey returns where the manifest of storagePath is kept.
func ManifestKey(storagePath string) string {
	return path.Join(ManifestPrefix, cleanKey(storagePath)+".json")
}

// StoreIntegrated writes the artifact and its manifest. Errors are
// *artifact.PersistenceError; when the manifest cannot be written the body is
// removed again.
func (s *ArtifactSink) StoreIntegrated(ctx context.Context, ia artifact.IntegratedArtifact) (string, error) {
	return s.write(ctx, ia.StoragePath, ia.Content, Manifest{
		Kind:          "integrated",
		Source:        ia.Artifact.ID(),
		StoragePath:   ia.StoragePath,
		License:       ia.Artifact.License,
		Verdict:       ia.Verdict,
		Modifications: ia.Modifications,
	})
}

// StoreTransformed writes the reimplementation and its manifest.
func (s *ArtifactSink) StoreTransformed(ctx context.Context, ta artifact.TransformedArtifact) (string, error) {
	concept, verification := ta.Concept, ta.Verification
	return s.write(ctx, ta.StoragePath, ta.Implementation, Manifest{
		Kind:         "reimplemented",
		Source:       ta.Artifact.ID(),
		StoragePath:  ta.StoragePath,
		License:      ta.Artifact.License,
		Verdict:      ta.Verdict,
		Concept:      &concept,
		Verification: &verification,
	})
}

func (s *ArtifactSink) write(ctx context.Context, key, content string, m Manifest) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", &artifact.PersistenceError{Key: m.Source, Err: fmt.Errorf("empty storage path")}
	}
	if err := s.store.Put(ctx, key, []byte(content)); err != nil {
		return "", &artifact.PersistenceError{Key: key, Err: err}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", &artifact.PersistenceError{Key: key, Err: err}
	}
	if err := s.store.Put(ctx, ManifestKey(key), data); err != nil {
		// A stored body must always have a manifest.
		if derr := s.store.Delete(context.WithoutCancel(ctx), key); derr != nil {
			err = errors.Join(err, fmt.Errorf("remove %s: %w", key, derr))
		}
		return "", &artifact.PersistenceError{Key: ManifestKey(key), Err: err}
	}
	return key, nil
}

// LoadManifest reads the manifest for a stored artifact.
func (s *ArtifactSink) LoadManifest(ctx context.Context, storagePath string) (Manifest, error) {
	var m Manifest
	data, err := s.store.Get(ctx, ManifestKey(storagePath))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest %s: %w", storagePath, err)
	}
	return m, nil
}
