package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"planetarble/internal/catalog"
	"planetarble/internal/fileutil"
	"planetarble/internal/logging"
	"planetarble/internal/manifest"
	"planetarble/internal/retry"
	"planetarble/internal/services"
	"planetarble/internal/services/aria2"
)

// Options configures an Orchestrator.
type Options struct {
	DataDir      string
	Workers      int
	Policy       retry.Policy
	Timeout      time.Duration
	UseAria2     bool
	Aria2        *aria2.Client
	ShowProgress bool
	Logger       *slog.Logger
}

// Orchestrator acquires catalog assets into the data directory and records
// the outcome in the manifest store. Completed assets are never re-fetched:
// a verified record whose file still hashes to the stored value satisfies
// an acquire request with zero network traffic.
type Orchestrator struct {
	store   *manifest.Store
	dataDir string
	workers int
	policy  retry.Policy
	fetcher *httpFetcher
	aria2   *aria2.Client
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator builds an orchestrator around the manifest store. When
// aria2 is requested but the binary is absent the orchestrator silently
// falls back to the builtin HTTP fetcher.
func NewOrchestrator(store *manifest.Store, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.NewPolicy(3, 2*time.Second)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	var aria2Client *aria2.Client
	if opts.UseAria2 {
		aria2Client = opts.Aria2
		if aria2Client == nil {
			aria2Client = aria2.NewClient()
		}
		if !aria2Client.Available() {
			opts.Logger.Warn("aria2c not found, using builtin downloader")
			aria2Client = nil
		}
	}

	return &Orchestrator{
		store:   store,
		dataDir: opts.DataDir,
		workers: opts.Workers,
		policy:  opts.Policy,
		fetcher: newHTTPFetcher(opts.Timeout, opts.ShowProgress),
		aria2:   aria2Client,
		logger:  opts.Logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Acquire ensures the named asset is present, verified, and recorded.
// Candidates are tried in catalog order, each with its own retry budget.
// Concurrent acquires of the same asset serialize on a per-name lock so a
// partial file has exactly one writer.
func (o *Orchestrator) Acquire(ctx context.Context, desc catalog.Descriptor, force bool) (manifest.AssetRecord, error) {
	lock := o.assetLock(desc.Name)
	lock.Lock()
	defer lock.Unlock()

	ctx = services.WithAsset(ctx, desc.Name)
	log := logging.WithContext(ctx, o.logger)
	localPath := desc.LocalPath(o.dataDir)

	if !force {
		if record, ok := o.store.GetAsset(desc.Name); ok && record.Status == manifest.AssetVerified && o.store.VerifyOnDisk(record) {
			log.Debug("asset already verified on disk", logging.String("path", record.LocalPath))
			return record, nil
		}
	}

	record := manifest.AssetRecord{
		Name:        desc.Name,
		LocalPath:   localPath,
		License:     desc.License,
		Attribution: desc.Attribution,
		Status:      manifest.AssetDownloading,
	}
	if err := o.store.PutAsset(record); err != nil {
		return record, err
	}

	var lastErr error
	for _, src := range desc.Sources {
		headers, err := credentialHeaders(src)
		if err != nil {
			log.Warn("skipping candidate", logging.String("candidate", src.Label), logging.Error(err))
			lastErr = err
			continue
		}

		var sha string
		var size int64
		err = o.policy.Do(ctx, services.Recoverable, func(ctx context.Context, attempt int) error {
			if attempt > 1 {
				log.Info("retrying download", logging.String("candidate", src.Label), logging.Int("attempt", attempt))
			}
			var transferErr error
			sha, size, transferErr = o.transfer(ctx, desc, src, localPath, headers)
			return transferErr
		})
		if err != nil {
			log.Warn("candidate failed", logging.String("candidate", src.Label), logging.Error(err))
			lastErr = err
			continue
		}

		record.ResolvedURL = src.URL
		record.SHA256 = sha
		record.SizeBytes = size
		record.DownloadedAt = time.Now().UTC()
		record.Status = manifest.AssetVerified
		if err := o.store.PutAsset(record); err != nil {
			return record, err
		}
		log.Info("asset acquired",
			logging.String("candidate", src.Label),
			logging.String("sha256", sha),
			logging.String("size", humanize.Bytes(uint64(size))))
		return record, nil
	}

	record.Status = manifest.AssetFailed
	if err := o.store.PutAsset(record); err != nil {
		return record, err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate sources declared")
	}
	return record, services.Wrap(services.ErrAcquisition, "acquire", "download", desc.Name, lastErr)
}

// AcquireAll fans the descriptors out over a bounded worker pool. Every
// descriptor is attempted even when earlier ones fail; the combined error
// reports all failures.
func (o *Orchestrator) AcquireAll(ctx context.Context, descriptors []catalog.Descriptor, force bool) ([]manifest.AssetRecord, error) {
	records := make([]manifest.AssetRecord, len(descriptors))
	errs := make([]error, len(descriptors))

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	for i, desc := range descriptors {
		wg.Add(1)
		go func(i int, desc catalog.Descriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			records[i], errs[i] = o.Acquire(ctx, desc, force)
		}(i, desc)
	}
	wg.Wait()

	return records, errors.Join(errs...)
}

// transfer fetches one candidate into a .part sibling, verifies it, and
// promotes it to the final path. The rename only happens after the hash is
// computed so a crash can never leave an unverified file at localPath.
func (o *Orchestrator) transfer(ctx context.Context, desc catalog.Descriptor, src catalog.Source, localPath string, headers map[string]string) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", 0, services.Wrap(services.ErrConfiguration, "acquire", "prepare destination", localPath, err)
	}
	partPath := partialPath(localPath, src.URL)

	if o.aria2 != nil {
		if err := o.aria2.Fetch(ctx, src.URL, filepath.Dir(partPath), filepath.Base(partPath), headers); err != nil {
			return "", 0, err
		}
	} else {
		if err := o.fetcher.Fetch(ctx, src.URL, headers, partPath); err != nil {
			return "", 0, err
		}
	}

	sha, err := fileutil.HashFile(partPath)
	if err != nil {
		return "", 0, services.Wrap(services.ErrAcquisition, "acquire", "hash download", partPath, err)
	}
	if desc.ExpectedSHA256 != "" && !strings.EqualFold(sha, desc.ExpectedSHA256) {
		// The partial is poisoned, never let it seed a resume.
		os.Remove(partPath)
		return "", 0, services.Wrap(services.ErrChecksum, "acquire", "verify download",
			fmt.Sprintf("%s: got %s want %s", desc.Name, sha, desc.ExpectedSHA256), nil)
	}

	size, err := fileutil.FileSize(partPath)
	if err != nil {
		return "", 0, services.Wrap(services.ErrAcquisition, "acquire", "stat download", partPath, err)
	}
	if err := os.Rename(partPath, localPath); err != nil {
		return "", 0, services.Wrap(services.ErrAcquisition, "acquire", "finalize download", localPath, err)
	}
	removeStaleParts(localPath)
	return sha, size, nil
}

// partialPath names the temp file per candidate URL. A resume only ever
// appends to bytes that came from the same source, so two mirrors can never
// be spliced into one artifact.
func partialPath(localPath, url string) string {
	return fmt.Sprintf("%s.%s.part", localPath, fileutil.HashBytes([]byte(url))[:12])
}

// removeStaleParts drops partials left behind by other candidates of the
// same asset.
func removeStaleParts(localPath string) {
	matches, err := filepath.Glob(localPath + ".*.part")
	if err != nil {
		return
	}
	for _, match := range matches {
		os.Remove(match)
	}
}

func (o *Orchestrator) assetLock(name string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[name] = lock
	}
	return lock
}

// credentialHeaders resolves the candidate's credential requirement. A
// declared but unset environment variable disqualifies the candidate
// without consuming retry attempts.
func credentialHeaders(src catalog.Source) (map[string]string, error) {
	if src.CredentialEnv == "" {
		return nil, nil
	}
	token := strings.TrimSpace(os.Getenv(src.CredentialEnv))
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "acquire", "credentials",
			fmt.Sprintf("environment variable %s is not set (required by %s)", src.CredentialEnv, src.Label), nil)
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}
