package stage

import (
	"context"

	"planetarble/internal/manifest"
)

// Stage names in execution order.
const (
	Acquire = "acquire"
	Process = "process"
	Tile    = "tile"
	Package = "package"
)

// Order returns the fixed stage sequence.
func Order() []string {
	return []string{Acquire, Process, Tile, Package}
}

// Adapter describes the contract the pipeline orchestrator needs from each
// stage.
type Adapter interface {
	Name() string

	// Config returns the stage configuration folded into the input
	// fingerprint. It must marshal to stable JSON.
	Config() any

	// Seed returns fingerprint inputs that do not come from an upstream
	// stage. Only the first stage returns a non-empty seed; later stages
	// inherit the upstream checkpoint's output artifacts.
	Seed() []manifest.Artifact

	HealthCheck(context.Context) Health

	// Run executes the stage against the upstream artifact paths and
	// returns the paths of the artifacts it produced.
	Run(ctx context.Context, inputs []string) ([]string, error)
}
