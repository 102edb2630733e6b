package main

import (
	"strings"
	"testing"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]column{
		{title: "Asset"},
		{title: "Candidates", numeric: true},
	}, [][]string{
		{"gebco_latest_grid", "3"},
		{"natural_earth_land_10m"},
	})
	if !strings.Contains(out, "gebco_latest_grid") || !strings.Contains(out, "natural_earth_land_10m") {
		t.Fatalf("rows missing from output:\n%s", out)
	}
	if strings.Contains(out, "<nil>") {
		t.Fatalf("short row rendered a nil cell:\n%s", out)
	}
}

func TestRenderTableEmptyColumns(t *testing.T) {
	if out := renderTable(nil, nil); out != "" {
		t.Fatalf("output = %q, want empty", out)
	}
}
