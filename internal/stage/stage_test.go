package stage

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"planetarble/internal/catalog"
	"planetarble/internal/config"
	"planetarble/internal/download"
	"planetarble/internal/manifest"
	"planetarble/internal/retry"
	"planetarble/internal/services"
	"planetarble/internal/services/gdal"
	"planetarble/internal/services/pmtiles"
	"planetarble/internal/services/tiler"
	"planetarble/internal/testsupport"
)

type call struct {
	binary string
	args   []string
}

type recordingExecutor struct {
	calls []call
}

func (r *recordingExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	r.calls = append(r.calls, call{binary: binary, args: args})
	return nil
}

func newTestStore(t *testing.T) *manifest.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := manifest.Open(filepath.Join(dir, "MANIFEST.json"), filepath.Join(dir, "CHECKPOINTS.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

// testCatalog builds a catalog covering every asset the acquire stage
// expects, with the 500m panels pointing at panelURL and everything else at
// restURL.
func testCatalog(t *testing.T, panelURL, restURL string) *catalog.Catalog {
	t.Helper()
	var b strings.Builder
	b.WriteString("assets:\n")
	entry := func(name, dest, url string) {
		fmt.Fprintf(&b, "  %s:\n", name)
		fmt.Fprintf(&b, "    destination: raw/%s\n", dest)
		fmt.Fprintf(&b, "    license: Public Domain\n")
		fmt.Fprintf(&b, "    sources:\n")
		fmt.Fprintf(&b, "      - url: %s/%s\n", url, dest)
		fmt.Fprintf(&b, "        label: test\n")
	}
	for _, name := range catalog.BMNGPanelSet("500m") {
		entry(name, name+".png", panelURL)
	}
	entry("bmng_2004_aug_2km_global", "bmng_2km.tif", restURL)
	entry(catalog.GEBCOAsset, "gebco.zip", restURL)
	for _, name := range catalog.NaturalEarthSet() {
		entry(name, name+".zip", restURL)
	}
	cat, err := catalog.Parse([]byte(b.String()))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return cat
}

func newDownloads(t *testing.T, store *manifest.Store, dataDir string) *download.Orchestrator {
	t.Helper()
	policy := retry.NewPolicy(2, time.Millisecond).WithSleep(func(context.Context, time.Duration) error { return nil })
	return download.NewOrchestrator(store, download.Options{DataDir: dataDir, Workers: 2, Policy: policy})
}

func TestAcquireStageRunAcquiresEverything(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload for " + r.URL.Path))
	}))
	defer server.Close()

	store := newTestStore(t)
	cat := testCatalog(t, server.URL, server.URL)
	downloads := newDownloads(t, store, t.TempDir())
	adapter := NewAcquireStage(config.Default().Acquire, cat, store, downloads, nil, false)

	outputs, err := adapter.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 8 panels + gebco + 3 natural earth
	if len(outputs) != 12 {
		t.Fatalf("outputs = %d, want 12", len(outputs))
	}
	params := store.GenerationParams()
	if params["bmng_resolution"] != "500m" {
		t.Fatalf("resolution = %q, want 500m", params["bmng_resolution"])
	}
}

func TestAcquireStageFallsBackTo2km(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer broken.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload for " + r.URL.Path))
	}))
	defer working.Close()

	store := newTestStore(t)
	cat := testCatalog(t, broken.URL, working.URL)
	downloads := newDownloads(t, store, t.TempDir())
	adapter := NewAcquireStage(config.Default().Acquire, cat, store, downloads, nil, false)

	outputs, err := adapter.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 2km composite + gebco + 3 natural earth
	if len(outputs) != 5 {
		t.Fatalf("outputs = %d, want 5", len(outputs))
	}
	params := store.GenerationParams()
	if params["bmng_resolution"] != "2km" {
		t.Fatalf("resolution = %q, want 2km after fallback", params["bmng_resolution"])
	}
	if params["bmng_resolution_requested"] != "500m" {
		t.Fatalf("requested resolution not preserved: %q", params["bmng_resolution_requested"])
	}
}

func TestAcquireStageSeedTracksCatalog(t *testing.T) {
	store := newTestStore(t)
	catA := testCatalog(t, "http://a.example", "http://rest.example")
	catB := testCatalog(t, "http://b.example", "http://rest.example")
	downloads := newDownloads(t, store, t.TempDir())

	seedA := NewAcquireStage(config.Default().Acquire, catA, store, downloads, nil, false).Seed()
	seedA2 := NewAcquireStage(config.Default().Acquire, catA, store, downloads, nil, false).Seed()
	seedB := NewAcquireStage(config.Default().Acquire, catB, store, downloads, nil, false).Seed()

	if len(seedA) == 0 {
		t.Fatal("seed must not be empty")
	}
	if fmt.Sprint(seedA) != fmt.Sprint(seedA2) {
		t.Fatal("seed must be deterministic for an unchanged catalog")
	}
	if fmt.Sprint(seedA) == fmt.Sprint(seedB) {
		t.Fatal("seed must change when a candidate URL changes")
	}
}

func seedVerifiedAssets(t *testing.T, store *manifest.Store, dataDir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dataDir, name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatalf("write asset: %v", err)
		}
		err := store.PutAsset(manifest.AssetRecord{
			Name:      name,
			LocalPath: path,
			Status:    manifest.AssetVerified,
		})
		if err != nil {
			t.Fatalf("put asset: %v", err)
		}
	}
}

func seedVerifiedArchives(t *testing.T, store *manifest.Store, dataDir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dataDir, name+".zip")
		file, err := os.Create(path)
		if err != nil {
			t.Fatalf("create archive: %v", err)
		}
		writer := zip.NewWriter(file)
		entry, err := writer.Create(name + ".shp")
		if err != nil {
			t.Fatalf("add entry: %v", err)
		}
		if _, err := entry.Write([]byte(name)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close archive: %v", err)
		}
		if err := file.Close(); err != nil {
			t.Fatalf("close file: %v", err)
		}
		err = store.PutAsset(manifest.AssetRecord{
			Name:      name,
			LocalPath: path,
			Status:    manifest.AssetVerified,
		})
		if err != nil {
			t.Fatalf("put asset: %v", err)
		}
	}
}

func TestProcessStageRunsCommandSequence(t *testing.T) {
	store := newTestStore(t)
	dataDir := t.TempDir()
	if err := store.SetGenerationParams(map[string]string{"bmng_resolution": "2km"}); err != nil {
		t.Fatalf("set params: %v", err)
	}
	seedVerifiedAssets(t, store, dataDir, "bmng_2004_aug_2km_global", catalog.GEBCOAsset)
	seedVerifiedArchives(t, store, dataDir, catalog.NaturalEarthSet()...)

	exec := &recordingExecutor{}
	runner := gdal.NewRunner(gdal.WithExecutor(exec))
	paths := config.Paths{WorkDir: t.TempDir()}
	adapter := NewProcessStage(config.Default().Process, paths, store, runner, nil, false)

	outputs, err := adapter.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outputs) != 4 {
		t.Fatalf("outputs = %d, want 4", len(outputs))
	}
	indexPayload, err := os.ReadFile(filepath.Join(paths.WorkDir, "natural_earth", "extracted.txt"))
	if err != nil {
		t.Fatalf("read extraction index: %v", err)
	}
	for _, name := range catalog.NaturalEarthSet() {
		if !strings.Contains(string(indexPayload), name+".shp") {
			t.Fatalf("extraction index missing %s: %q", name, indexPayload)
		}
	}
	wantOrder := []string{"gdalbuildvrt", "gdal_translate", "gdaldem", "gdal_calc.py"}
	if len(exec.calls) != len(wantOrder) {
		t.Fatalf("commands = %d, want %d", len(exec.calls), len(wantOrder))
	}
	for i, want := range wantOrder {
		if exec.calls[i].binary != want {
			t.Fatalf("command %d = %q, want %q", i, exec.calls[i].binary, want)
		}
	}
	listPayload, err := os.ReadFile(filepath.Join(paths.WorkDir, "bmng_inputs.txt"))
	if err != nil {
		t.Fatalf("read mosaic list: %v", err)
	}
	if !strings.Contains(string(listPayload), "bmng_2004_aug_2km_global") {
		t.Fatalf("mosaic list missing panel path: %q", listPayload)
	}
}

func TestProcessStageRequiresVerifiedAssets(t *testing.T) {
	store := newTestStore(t)
	runner := gdal.NewRunner(gdal.WithExecutor(&recordingExecutor{}))
	adapter := NewProcessStage(config.Default().Process, config.Paths{WorkDir: t.TempDir()}, store, runner, nil, false)

	_, err := adapter.Run(context.Background(), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestTileStageCommandSequence(t *testing.T) {
	exec := &recordingExecutor{}
	runner := tiler.NewRunner(tiler.WithExecutor(exec))
	cfg := config.Default().Tile
	adapter := NewTileStage(cfg, config.Paths{WorkDir: t.TempDir()}, runner, nil, true)

	outputs, err := adapter.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outputs) != 1 || !strings.HasSuffix(outputs[0], "planet.mbtiles") {
		t.Fatalf("outputs = %v, want the mbtiles archive", outputs)
	}
	wantOrder := []string{"gdalwarp", "gdal_translate", "gdaladdo"}
	if len(exec.calls) != len(wantOrder) {
		t.Fatalf("commands = %d, want %d", len(exec.calls), len(wantOrder))
	}
	for i, want := range wantOrder {
		if exec.calls[i].binary != want {
			t.Fatalf("command %d = %q, want %q", i, exec.calls[i].binary, want)
		}
	}
}

func TestPackageStageWritesDistribution(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := newTestStore(t)
	err := store.PutAsset(manifest.AssetRecord{
		Name:        "gebco_latest_grid",
		License:     "Public Domain",
		Attribution: "GEBCO Compilation Group",
		ResolvedURL: "https://example.com/gebco.zip",
		Status:      manifest.AssetVerified,
	})
	if err != nil {
		t.Fatalf("put asset: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.WorkDir, "planet.mbtiles"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write archive stub: %v", err)
	}

	exec := &recordingExecutor{}
	client := pmtiles.NewClient(pmtiles.WithExecutor(exec))
	adapter := NewPackageStage(cfg, store, client, nil, false)

	outputs, err := adapter.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outputs) != 3 {
		t.Fatalf("outputs = %v, want pmtiles, tilejson, credits", outputs)
	}
	if len(exec.calls) != 2 || exec.calls[0].args[0] != "convert" || exec.calls[1].args[0] != "verify" {
		t.Fatalf("pmtiles calls = %v, want convert then verify", exec.calls)
	}

	payload, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "tilejson.json"))
	if err != nil {
		t.Fatalf("read tilejson: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("parse tilejson: %v", err)
	}
	if doc["tilejson"] != "3.0.0" {
		t.Fatalf("tilejson version = %v, want 3.0.0", doc["tilejson"])
	}
	if doc["maxzoom"] != float64(cfg.Tile.MaxZoom) {
		t.Fatalf("maxzoom = %v, want %d", doc["maxzoom"], cfg.Tile.MaxZoom)
	}

	credits, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "LICENSE_AND_CREDITS.txt"))
	if err != nil {
		t.Fatalf("read credits: %v", err)
	}
	for _, want := range []string{"gebco_latest_grid", "Public Domain", "GEBCO Compilation Group"} {
		if !strings.Contains(string(credits), want) {
			t.Fatalf("credits missing %q", want)
		}
	}
}

func TestPackageStageRequiresTileArchive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := newTestStore(t)
	client := pmtiles.NewClient(pmtiles.WithExecutor(&recordingExecutor{}))
	adapter := NewPackageStage(cfg, store, client, nil, false)

	if _, err := adapter.Run(context.Background(), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
