package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"planetarble/internal/catalog"
	"planetarble/internal/fileutil"
	"planetarble/internal/manifest"
	"planetarble/internal/retry"
	"planetarble/internal/services"
)

func newTestStore(t *testing.T) *manifest.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := manifest.Open(filepath.Join(dir, "MANIFEST.json"), filepath.Join(dir, "CHECKPOINTS.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func newTestOrchestrator(t *testing.T, store *manifest.Store, dataDir string) *Orchestrator {
	t.Helper()
	policy := retry.NewPolicy(3, time.Millisecond).WithSleep(func(context.Context, time.Duration) error { return nil })
	return NewOrchestrator(store, Options{
		DataDir: dataDir,
		Workers: 2,
		Policy:  policy,
	})
}

func descriptorFor(name, destination string, urls ...string) catalog.Descriptor {
	sources := make([]catalog.Source, 0, len(urls))
	for i, url := range urls {
		sources = append(sources, catalog.Source{URL: url, Label: fmt.Sprintf("candidate-%d", i+1)})
	}
	return catalog.Descriptor{Name: name, Destination: destination, Sources: sources}
}

func TestAcquireDownloadsAndVerifies(t *testing.T) {
	payload := []byte("blue marble panel data")
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer server.Close()

	store := newTestStore(t)
	dataDir := t.TempDir()
	orch := newTestOrchestrator(t, store, dataDir)
	desc := descriptorFor("panel_a1", "raw/panel_a1.png", server.URL)

	record, err := orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if record.Status != manifest.AssetVerified {
		t.Fatalf("status = %q, want verified", record.Status)
	}
	if record.SHA256 != fileutil.HashBytes(payload) {
		t.Fatalf("sha256 = %q, want hash of payload", record.SHA256)
	}
	if record.SizeBytes != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", record.SizeBytes, len(payload))
	}
	data, err := os.ReadFile(record.LocalPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("file content mismatch")
	}
	assertNoPartials(t, record.LocalPath)
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func assertNoPartials(t *testing.T, localPath string) {
	t.Helper()
	matches, err := filepath.Glob(localPath + "*.part")
	if err != nil {
		t.Fatalf("glob partials: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("partial files left behind: %v", matches)
	}
}

func TestAcquireVerifiedAssetSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("bathymetry grid"))
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("gebco", "raw/gebco.nc", server.URL)

	if _, err := orch.Acquire(context.Background(), desc, false); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := orch.Acquire(context.Background(), desc, false); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1 (second acquire must be a cache hit)", hits.Load())
	}
}

func TestAcquireRedownloadsTamperedFile(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("original content"))
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("land", "raw/land.zip", server.URL)

	record, err := orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := os.WriteFile(record.LocalPath, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	record, err = orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits = %d, want 2 (tampered file must be re-fetched)", hits.Load())
	}
	if record.SHA256 != fileutil.HashBytes([]byte("original content")) {
		t.Fatalf("record hash not restored after re-download")
	}
}

func TestAcquireForceRedownloads(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("content"))
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("ocean", "raw/ocean.zip", server.URL)

	if _, err := orch.Acquire(context.Background(), desc, false); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := orch.Acquire(context.Background(), desc, true); err != nil {
		t.Fatalf("forced acquire: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits = %d, want 2", hits.Load())
	}
}

func TestAcquireFallsBackToNextCandidate(t *testing.T) {
	var primaryHits atomic.Int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer primary.Close()
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mirror content"))
	}))
	defer mirror.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("coastline", "raw/coastline.zip", primary.URL, mirror.URL)

	record, err := orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if record.ResolvedURL != mirror.URL {
		t.Fatalf("resolved url = %q, want mirror", record.ResolvedURL)
	}
	if primaryHits.Load() != 1 {
		t.Fatalf("primary hits = %d, want 1 (404 must not be retried)", primaryHits.Load())
	}
}

func TestAcquireCandidateSwitchRestartsTransfer(t *testing.T) {
	payload := bytes.Repeat([]byte("B"), 4096)
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Advertise the full length, send a quarter of it, then drop the
		// connection so the client sees an unexpected EOF.
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		w.Write(bytes.Repeat([]byte("A"), 1024))
		w.(http.Flusher).Flush()
		if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
			conn.Close()
		}
	}))
	defer primary.Close()

	var mirrorRanges []string
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrorRanges = append(mirrorRanges, r.Header.Get("Range"))
		w.Write(payload)
	}))
	defer mirror.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("basemap", "raw/basemap.tif", primary.URL, mirror.URL)

	record, err := orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if record.ResolvedURL != mirror.URL {
		t.Fatalf("resolved url = %q, want mirror", record.ResolvedURL)
	}
	for _, header := range mirrorRanges {
		if header != "" {
			t.Fatalf("mirror asked to resume at %q; the primary's partial must not carry over", header)
		}
	}
	data, err := os.ReadFile(record.LocalPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("file contains %d bytes starting %q, want the mirror body alone", len(data), data[:8])
	}
	if record.SHA256 != fileutil.HashBytes(payload) {
		t.Fatalf("record hash does not match the mirror body")
	}
	assertNoPartials(t, record.LocalPath)
}

func TestAcquireRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually fine"))
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("flaky", "raw/flaky.bin", server.URL)

	record, err := orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if record.Status != manifest.AssetVerified {
		t.Fatalf("status = %q, want verified", record.Status)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hits = %d, want 3", hits.Load())
	}
}

func TestAcquireExhaustedCandidatesFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("doomed", "raw/doomed.bin", server.URL)

	record, err := orch.Acquire(context.Background(), desc, false)
	if !errors.Is(err, services.ErrAcquisition) {
		t.Fatalf("err = %v, want ErrAcquisition", err)
	}
	if record.Status != manifest.AssetFailed {
		t.Fatalf("status = %q, want failed", record.Status)
	}
	persisted, ok := store.GetAsset("doomed")
	if !ok || persisted.Status != manifest.AssetFailed {
		t.Fatalf("failed status not persisted")
	}
}

func TestAcquireMissingCredentialSkipsCandidate(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("open mirror"))
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := catalog.Descriptor{
		Name:        "gated",
		Destination: "raw/gated.nc",
		Sources: []catalog.Source{
			{URL: "https://gated.example/asset", Label: "gated", CredentialEnv: "PLANETARBLE_TEST_NO_SUCH_TOKEN"},
			{URL: server.URL, Label: "mirror"},
		},
	}

	record, err := orch.Acquire(context.Background(), desc, false)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if record.ResolvedURL != server.URL {
		t.Fatalf("resolved url = %q, want open mirror", record.ResolvedURL)
	}
	if hits.Load() != 1 {
		t.Fatalf("mirror hits = %d, want 1", hits.Load())
	}
}

func TestAcquireMissingCredentialOnlyCandidateFailsFast(t *testing.T) {
	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := catalog.Descriptor{
		Name:        "gated",
		Destination: "raw/gated.nc",
		Sources: []catalog.Source{
			{URL: "https://gated.example/asset", Label: "gated", CredentialEnv: "PLANETARBLE_TEST_NO_SUCH_TOKEN"},
		},
	}

	_, err := orch.Acquire(context.Background(), desc, false)
	if !errors.Is(err, services.ErrAcquisition) {
		t.Fatalf("err = %v, want ErrAcquisition", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want wrapped ErrConfiguration", err)
	}
}

func TestAcquireChecksumMismatchFails(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("unexpected content"))
	}))
	defer server.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	desc := descriptorFor("pinned", "raw/pinned.bin", server.URL)
	desc.ExpectedSHA256 = strings.Repeat("0", 64)

	record, err := orch.Acquire(context.Background(), desc, false)
	if !errors.Is(err, services.ErrAcquisition) {
		t.Fatalf("err = %v, want ErrAcquisition", err)
	}
	if !errors.Is(err, services.ErrChecksum) {
		t.Fatalf("err = %v, want wrapped ErrChecksum", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("server hits = %d, want full retry budget of 3", hits.Load())
	}
	assertNoPartials(t, record.LocalPath)
}

func TestFetchResumesFromPartial(t *testing.T) {
	payload := []byte("0123456789abcdefghij")
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		if gotRange == "" {
			w.Write(payload)
			return
		}
		var offset int64
		if _, err := fmt.Sscanf(gotRange, "bytes=%d-", &offset); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Range",
			"bytes "+strconv.FormatInt(offset, 10)+"-"+strconv.Itoa(len(payload)-1)+"/"+strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[offset:])
	}))
	defer server.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "asset.bin.part")
	if err := os.WriteFile(partPath, payload[:8], 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	fetcher := newHTTPFetcher(time.Minute, false)
	if err := fetcher.Fetch(context.Background(), server.URL, nil, partPath); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotRange != "bytes=8-" {
		t.Fatalf("range header = %q, want bytes=8-", gotRange)
	}
	data, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("read partial: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("resumed content = %q, want %q", data, payload)
	}
}

func TestFetchRestartsWhenRangeIgnored(t *testing.T) {
	payload := []byte("full body from scratch")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore the Range header entirely.
		w.Write(payload)
	}))
	defer server.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "asset.bin.part")
	if err := os.WriteFile(partPath, []byte("stale prefix"), 0o644); err != nil {
		t.Fatalf("seed partial: %v", err)
	}

	fetcher := newHTTPFetcher(time.Minute, false)
	if err := fetcher.Fetch(context.Background(), server.URL, nil, partPath); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("read partial: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("content = %q, want a clean restart to %q", data, payload)
	}
}

func TestAcquireAllReportsEveryFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fine"))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer bad.Close()

	store := newTestStore(t)
	orch := newTestOrchestrator(t, store, t.TempDir())
	descriptors := []catalog.Descriptor{
		descriptorFor("good_one", "raw/good_one.bin", good.URL),
		descriptorFor("bad_one", "raw/bad_one.bin", bad.URL),
		descriptorFor("good_two", "raw/good_two.bin", good.URL),
	}

	records, err := orch.AcquireAll(context.Background(), descriptors, false)
	if !errors.Is(err, services.ErrAcquisition) {
		t.Fatalf("err = %v, want ErrAcquisition", err)
	}
	if records[0].Status != manifest.AssetVerified || records[2].Status != manifest.AssetVerified {
		t.Fatalf("successful assets must still be acquired when a sibling fails")
	}
	if records[1].Status != manifest.AssetFailed {
		t.Fatalf("failing asset status = %q, want failed", records[1].Status)
	}
}
