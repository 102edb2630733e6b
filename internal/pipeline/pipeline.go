package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"planetarble/internal/config"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/retry"
	"planetarble/internal/services"
	"planetarble/internal/stage"
)

// Action describes what the orchestrator did (or would do) with a stage.
type Action string

const (
	ActionSkipped      Action = "skipped"
	ActionExecuted     Action = "executed"
	ActionWouldExecute Action = "would-execute"
	ActionFailed       Action = "failed"
)

// Result is the per-stage outcome of one pipeline invocation.
type Result struct {
	Stage       string
	Action      Action
	Fingerprint string
	Detail      string
}

// RunOptions select how far the pipeline runs and what gets re-executed.
type RunOptions struct {
	// Target stops the pipeline after the named stage. Empty runs all.
	Target string
	// Force re-executes the named stage even when its checkpoint is
	// current. Every stage downstream of it is re-executed too.
	Force string
	// DryRun reports the plan without executing stages or mutating any
	// persisted state.
	DryRun bool
}

// Orchestrator drives the fixed stage sequence with checkpoint-based
// skipping. A stage is skipped only when its completed checkpoint carries
// the freshly recomputed input fingerprint and every recorded output
// artifact still hashes to its stored value.
type Orchestrator struct {
	cfg      *config.Config
	store    *manifest.Store
	adapters []stage.Adapter
	logger   *slog.Logger
	policy   retry.Policy
}

// New assembles an orchestrator. Adapters must be supplied in pipeline
// order.
func New(cfg *config.Config, store *manifest.Store, adapters []stage.Adapter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		adapters: adapters,
		logger:   logger,
		policy:   retry.NewPolicy(cfg.Pipeline.StageRetries+1, 2*time.Second),
	}
}

// Health reports readiness for every stage adapter.
func (o *Orchestrator) Health(ctx context.Context) []stage.Health {
	results := make([]stage.Health, 0, len(o.adapters))
	for _, adapter := range o.adapters {
		results = append(results, adapter.HealthCheck(ctx))
	}
	return results
}

// Run executes the pipeline. Execution halts at the first failed stage;
// completed work stays checkpointed so the next invocation resumes there.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) ([]Result, error) {
	if opts.Target != "" && !o.knownStage(opts.Target) {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "run",
			fmt.Sprintf("unknown stage %q", opts.Target), nil)
	}
	if opts.Force != "" && !o.knownStage(opts.Force) {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "run",
			fmt.Sprintf("unknown stage %q", opts.Force), nil)
	}

	if !opts.DryRun {
		unlock, err := o.acquireLock()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	log := logging.WithContext(ctx, o.logger)
	log.Info("pipeline run starting", logging.String("target", targetOrAll(opts.Target)))

	var results []Result
	var upstream []manifest.Artifact
	forced := false
	planStale := false

	for _, adapter := range o.adapters {
		name := adapter.Name()
		stageCtx := services.WithStage(ctx, name)
		stageLog := logging.WithContext(stageCtx, o.logger)

		if opts.Force == name {
			forced = true
		}

		if opts.DryRun && planStale {
			results = append(results, Result{Stage: name, Action: ActionWouldExecute, Detail: "upstream outputs pending"})
			if opts.Target == name {
				break
			}
			continue
		}

		inputs := adapter.Seed()
		if len(inputs) == 0 {
			inputs = upstream
		}
		fingerprint, err := manifest.Fingerprint(name, adapter.Config(), inputs)
		if err != nil {
			return results, err
		}

		cp, ok := o.store.GetCheckpoint(name)
		current := ok && cp.Status == manifest.StageCompleted &&
			cp.InputFingerprint == fingerprint && o.store.VerifyArtifacts(cp)
		if current && !forced {
			stageLog.Info("stage up to date, skipping")
			results = append(results, Result{Stage: name, Action: ActionSkipped, Fingerprint: fingerprint})
			upstream = cp.OutputArtifacts
			if opts.Target == name {
				break
			}
			continue
		}

		if opts.DryRun {
			detail := staleDetail(ok, cp, fingerprint, forced)
			results = append(results, Result{Stage: name, Action: ActionWouldExecute, Fingerprint: fingerprint, Detail: detail})
			planStale = true
			if opts.Target == name {
				break
			}
			continue
		}

		if health := adapter.HealthCheck(stageCtx); !health.Ready {
			return results, services.Wrap(services.ErrConfiguration, name, "health check", health.Detail, nil)
		}

		outputs, err := o.execute(stageCtx, adapter, fingerprint, runID, inputs)
		if err != nil {
			results = append(results, Result{Stage: name, Action: ActionFailed, Fingerprint: fingerprint, Detail: err.Error()})
			return results, err
		}

		artifacts, err := manifest.ArtifactsFor(outputs)
		if err != nil {
			return results, services.Wrap(services.ErrValidation, name, "hash outputs", "", err)
		}
		if err := o.checkpoint(name, fingerprint, runID, manifest.StageCompleted, artifacts, ""); err != nil {
			return results, err
		}
		stageLog.Info("stage completed", logging.Int("artifacts", len(artifacts)))
		results = append(results, Result{Stage: name, Action: ActionExecuted, Fingerprint: fingerprint})
		upstream = artifacts

		if opts.Target == name {
			break
		}
	}

	return results, nil
}

// Preview invokes the named adapter directly, outside checkpoint
// accounting. Meant for dry-run command previews where the adapters were
// built against print-only engines.
func (o *Orchestrator) Preview(ctx context.Context, name string) error {
	for _, adapter := range o.adapters {
		if adapter.Name() != name {
			continue
		}
		ctx = services.WithStage(ctx, name)
		_, err := adapter.Run(ctx, nil)
		return err
	}
	return services.Wrap(services.ErrConfiguration, "pipeline", "preview",
		fmt.Sprintf("unknown stage %q", name), nil)
}

// execute persists the running checkpoint, then drives the adapter with a
// bounded retry budget for recoverable failures. A failure is persisted
// before it is returned so the on-disk state always reflects the last run.
func (o *Orchestrator) execute(ctx context.Context, adapter stage.Adapter, fingerprint, runID string, inputs []manifest.Artifact) ([]string, error) {
	name := adapter.Name()
	if err := o.checkpoint(name, fingerprint, runID, manifest.StageRunning, nil, ""); err != nil {
		return nil, err
	}

	inputPaths := make([]string, 0, len(inputs))
	for _, artifact := range inputs {
		inputPaths = append(inputPaths, artifact.Path)
	}

	var outputs []string
	err := o.policy.Do(ctx, services.Recoverable, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			logging.WithContext(ctx, o.logger).Warn("retrying stage", logging.Int("attempt", attempt))
		}
		var runErr error
		outputs, runErr = adapter.Run(ctx, inputPaths)
		return runErr
	})
	if err != nil {
		if cpErr := o.checkpoint(name, fingerprint, runID, manifest.StageFailed, nil, err.Error()); cpErr != nil {
			return nil, cpErr
		}
		return nil, err
	}
	return outputs, nil
}

func (o *Orchestrator) checkpoint(name, fingerprint, runID string, status manifest.StageStatus, artifacts []manifest.Artifact, errMessage string) error {
	now := time.Now().UTC()
	cp := manifest.StageCheckpoint{
		StageName:        name,
		InputFingerprint: fingerprint,
		OutputArtifacts:  artifacts,
		Status:           status,
		RunID:            runID,
		ErrorMessage:     errMessage,
	}
	if status == manifest.StageRunning {
		cp.StartedAt = &now
	} else {
		if prev, ok := o.store.GetCheckpoint(name); ok && prev.RunID == runID {
			cp.StartedAt = prev.StartedAt
		}
		cp.CompletedAt = &now
	}
	return o.store.PutCheckpoint(cp)
}

// acquireLock takes the workspace lock. A held lock means another
// invocation is mutating the same manifest, which is a caller error.
func (o *Orchestrator) acquireLock() (func(), error) {
	if err := os.MkdirAll(o.cfg.Paths.OutputDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "prepare output directory", o.cfg.Paths.OutputDir, err)
	}
	lockPath := filepath.Join(o.cfg.Paths.OutputDir, ".planetarble.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "workspace lock", lockPath, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "workspace lock",
			"another invocation is already running against this workspace", nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

func (o *Orchestrator) knownStage(name string) bool {
	for _, adapter := range o.adapters {
		if adapter.Name() == name {
			return true
		}
	}
	return false
}

func staleDetail(haveCheckpoint bool, cp manifest.StageCheckpoint, fingerprint string, forced bool) string {
	switch {
	case forced:
		return "forced"
	case !haveCheckpoint:
		return "never ran"
	case cp.Status != manifest.StageCompleted:
		return fmt.Sprintf("last run %s", cp.Status)
	case cp.InputFingerprint != fingerprint:
		return "inputs or configuration changed"
	default:
		return "output artifacts missing or altered"
	}
}

func targetOrAll(target string) string {
	if target == "" {
		return "all"
	}
	return target
}
