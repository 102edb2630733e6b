package manifest

import (
	"time"
)

// AssetStatus represents the lifecycle of one acquired asset.
type AssetStatus string

const (
	AssetPending     AssetStatus = "pending"
	AssetDownloading AssetStatus = "downloading"
	AssetVerified    AssetStatus = "verified"
	AssetFailed      AssetStatus = "failed"
)

// AssetRecord is the persisted acquisition state for one asset. A record
// only transitions to verified after the computed hash of the file on disk
// matches the value the record stores.
type AssetRecord struct {
	Name         string      `json:"name"`
	ResolvedURL  string      `json:"url"`
	LocalPath    string      `json:"local_path"`
	SizeBytes    int64       `json:"size_bytes"`
	SHA256       string      `json:"sha256"`
	License      string      `json:"license,omitempty"`
	Attribution  string      `json:"attribution,omitempty"`
	DownloadedAt time.Time   `json:"downloaded_at"`
	Status       AssetStatus `json:"status"`
}

// AssetManifest is the persisted ledger of acquired assets.
type AssetManifest struct {
	SchemaVersion    int                    `json:"schema_version"`
	CreatedAt        time.Time              `json:"created_at"`
	GenerationParams map[string]string      `json:"generation_params,omitempty"`
	Sources          map[string]AssetRecord `json:"sources"`
}

// SchemaVersion is the current manifest and checkpoint schema.
const SchemaVersion = 1

// StageStatus represents the lifecycle of one pipeline stage.
type StageStatus string

const (
	StageNotStarted StageStatus = "not_started"
	StageRunning    StageStatus = "running"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Artifact identifies one produced or consumed file with its content hash.
type Artifact struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// StageCheckpoint records that a stage ran against a specific input and
// configuration fingerprint. A stage is skippable on the next run only when
// a completed checkpoint's fingerprint matches the freshly recomputed one
// and every listed output artifact is still intact on disk.
type StageCheckpoint struct {
	StageName        string      `json:"stage_name"`
	InputFingerprint string      `json:"input_fingerprint"`
	OutputArtifacts  []Artifact  `json:"output_artifacts,omitempty"`
	Status           StageStatus `json:"status"`
	RunID            string      `json:"run_id,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
}

type checkpointDocument struct {
	SchemaVersion int                        `json:"schema_version"`
	Stages        map[string]StageCheckpoint `json:"stages"`
}
