package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"planetarble/internal/services"
)

func TestLoadDefault(t *testing.T) {
	cat, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if len(cat.Names()) < 12 {
		t.Fatalf("expected at least 12 assets, got %d", len(cat.Names()))
	}
}

func TestDescribeUnknownAsset(t *testing.T) {
	cat, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	_, err = cat.Describe("mystery_dataset")
	if !errors.Is(err, services.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestDescribePreservesSourceOrder(t *testing.T) {
	cat, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	desc, err := cat.Describe("gebco_latest_grid")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(desc.Sources) < 2 {
		t.Fatalf("expected fallback candidates, got %d", len(desc.Sources))
	}
	if desc.Sources[0].Label != "2024" {
		t.Fatalf("preferred candidate out of order: %+v", desc.Sources[0])
	}
}

func TestLocalPathDeterministic(t *testing.T) {
	cat, _ := LoadDefault()
	desc, err := cat.Describe("bmng_2004_aug_2km_global")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	want := filepath.Join("/data", "bmng", "2km", "world.200408.3x10800x5400.tif")
	if got := desc.LocalPath("/data"); got != want {
		t.Fatalf("LocalPath = %q, want %q", got, want)
	}
	if desc.LocalPath("/data") != desc.LocalPath("/data") {
		t.Fatal("local path must be stable")
	}
}

func TestBMNGPanelSet(t *testing.T) {
	if got := len(BMNGPanelSet("500m")); got != 8 {
		t.Fatalf("expected 8 panels for 500m, got %d", got)
	}
	if got := BMNGPanelSet("2km"); len(got) != 1 || got[0] != "bmng_2004_aug_2km_global" {
		t.Fatalf("unexpected 2km set %v", got)
	}
	if BMNGFallbackSet("2km") != nil {
		t.Fatal("2km has no coarser fallback")
	}
	if got := BMNGFallbackSet("500m"); len(got) != 1 {
		t.Fatalf("expected single fallback asset, got %v", got)
	}
}

func TestParseRejectsAssetWithoutSources(t *testing.T) {
	payload := []byte("assets:\n  broken:\n    destination: x/y.tif\n    sources: []\n")
	if _, err := Parse(payload); err == nil {
		t.Fatal("expected error for asset without sources")
	}
}

func TestDigestChangesWithURL(t *testing.T) {
	a := Descriptor{Name: "x", Destination: "d", Sources: []Source{{URL: "http://a", Label: "1"}}}
	b := Descriptor{Name: "x", Destination: "d", Sources: []Source{{URL: "http://b", Label: "1"}}}
	if a.Digest() == b.Digest() {
		t.Fatal("digest must change when a candidate URL changes")
	}
}
