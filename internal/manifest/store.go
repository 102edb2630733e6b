package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"planetarble/internal/fileutil"
	"planetarble/internal/services"
)

// Store exclusively owns the manifest and checkpoint files. Every mutation
// is persisted atomically (write-temp-then-rename) before the mutating call
// returns, so a crash never leaves half-written state. The store serializes
// its own writers; cross-process exclusion is the pipeline's job.
type Store struct {
	mu sync.Mutex

	manifestPath   string
	checkpointPath string

	manifest    AssetManifest
	checkpoints map[string]StageCheckpoint
}

// Open loads (or initializes) the manifest and checkpoint files. A file that
// exists but fails to parse is surfaced as manifest corruption with guidance,
// never silently replaced.
func Open(manifestPath, checkpointPath string) (*Store, error) {
	store := &Store{
		manifestPath:   manifestPath,
		checkpointPath: checkpointPath,
		manifest: AssetManifest{
			SchemaVersion: SchemaVersion,
			CreatedAt:     time.Now().UTC(),
			Sources:       map[string]AssetRecord{},
		},
		checkpoints: map[string]StageCheckpoint{},
	}

	if err := store.loadManifest(); err != nil {
		return nil, err
	}
	if err := store.loadCheckpoints(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) loadManifest() error {
	payload, err := os.ReadFile(s.manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var loaded AssetManifest
	if err := json.Unmarshal(payload, &loaded); err != nil {
		return services.Wrap(services.ErrManifestCorrupt, "manifest", "parse",
			fmt.Sprintf("%s is unreadable; inspect or remove it to rebuild from scratch", s.manifestPath), err)
	}
	if loaded.Sources == nil {
		loaded.Sources = map[string]AssetRecord{}
	}
	s.manifest = loaded
	return nil
}

func (s *Store) loadCheckpoints() error {
	payload, err := os.ReadFile(s.checkpointPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoints: %w", err)
	}
	var doc checkpointDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return services.Wrap(services.ErrManifestCorrupt, "manifest", "parse checkpoints",
			fmt.Sprintf("%s is unreadable; inspect or remove it to force full re-execution", s.checkpointPath), err)
	}
	if doc.Stages != nil {
		s.checkpoints = doc.Stages
	}
	return nil
}

// GetAsset returns the persisted record for name, if any.
func (s *Store) GetAsset(name string) (AssetRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.manifest.Sources[name]
	return record, ok
}

// PutAsset upserts one record and persists the whole manifest atomically.
func (s *Store) PutAsset(record AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.Sources[record.Name] = record
	return s.persistManifestLocked()
}

// Assets returns every record sorted by name.
func (s *Store) Assets() []AssetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]AssetRecord, 0, len(s.manifest.Sources))
	for _, record := range s.manifest.Sources {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// SetGenerationParams records the configuration snapshot that drove
// acquisition and persists the manifest.
func (s *Store) SetGenerationParams(params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.GenerationParams = params
	return s.persistManifestLocked()
}

// GenerationParams returns a copy of the recorded configuration snapshot.
func (s *Store) GenerationParams() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	params := make(map[string]string, len(s.manifest.GenerationParams))
	for key, value := range s.manifest.GenerationParams {
		params[key] = value
	}
	return params
}

// GetCheckpoint returns the persisted checkpoint for stageName, if any.
func (s *Store) GetCheckpoint(stageName string) (StageCheckpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[stageName]
	return cp, ok
}

// PutCheckpoint upserts one checkpoint and persists atomically.
func (s *Store) PutCheckpoint(cp StageCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.StageName] = cp
	return s.persistCheckpointsLocked()
}

// Checkpoints returns every checkpoint sorted by stage name.
func (s *Store) Checkpoints() []StageCheckpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := make([]StageCheckpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		cps = append(cps, cp)
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].StageName < cps[j].StageName })
	return cps
}

// VerifyOnDisk recomputes the hash of the file at record.LocalPath and
// compares it against the recorded value. Files can be deleted or altered
// outside the tool's control between runs.
func (s *Store) VerifyOnDisk(record AssetRecord) bool {
	if record.SHA256 == "" || record.LocalPath == "" {
		return false
	}
	computed, err := fileutil.HashFile(record.LocalPath)
	if err != nil {
		return false
	}
	return computed == record.SHA256
}

// VerifyArtifacts reports whether every output artifact of a checkpoint
// still exists on disk with a matching hash.
func (s *Store) VerifyArtifacts(cp StageCheckpoint) bool {
	if len(cp.OutputArtifacts) == 0 {
		return false
	}
	for _, artifact := range cp.OutputArtifacts {
		computed, err := fileutil.HashFile(artifact.Path)
		if err != nil || computed != artifact.SHA256 {
			return false
		}
	}
	return true
}

// ManifestPath returns the on-disk location of the manifest file.
func (s *Store) ManifestPath() string {
	return s.manifestPath
}

// Close flushes both files one final time.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistManifestLocked(); err != nil {
		return err
	}
	return s.persistCheckpointsLocked()
}

func (s *Store) persistManifestLocked() error {
	payload, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return fileutil.AtomicWriteFile(s.manifestPath, payload, 0o644)
}

func (s *Store) persistCheckpointsLocked() error {
	doc := checkpointDocument{SchemaVersion: SchemaVersion, Stages: s.checkpoints}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}
	return fileutil.AtomicWriteFile(s.checkpointPath, payload, 0o644)
}
