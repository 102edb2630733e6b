package catalog

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"planetarble/internal/services"
)

//go:embed assets.yaml
var defaultAssets []byte

// Source is one candidate location for an asset. Candidates are tried in
// declaration order. CredentialEnv, when set, names an environment variable
// whose value must be presented as a bearer token for this candidate.
type Source struct {
	URL           string `yaml:"url"`
	Label         string `yaml:"label"`
	CredentialEnv string `yaml:"credential_env"`
}

// Descriptor describes one logical dataset tracked by name. Immutable after
// load.
type Descriptor struct {
	Name        string   `yaml:"-"`
	Description string   `yaml:"description"`
	Destination string   `yaml:"destination"`
	License     string   `yaml:"license"`
	Attribution string   `yaml:"attribution"`
	MediaType   string   `yaml:"media_type"`
	// ExpectedSHA256, when non-empty, pins the artifact content. Transfers
	// whose measured hash disagrees are rejected and retried.
	ExpectedSHA256 string   `yaml:"checksum"`
	Sources        []Source `yaml:"sources"`
}

// LocalPath returns the deterministic on-disk location for the asset inside
// dataDir. Derived solely from the catalog entry so re-runs probe the same
// location.
func (d Descriptor) LocalPath(dataDir string) string {
	return filepath.Join(dataDir, filepath.FromSlash(d.Destination))
}

// Digest returns a stable string summarizing the descriptor identity for
// fingerprinting: name, destination, and every candidate URL with its label.
func (d Descriptor) Digest() string {
	parts := make([]string, 0, len(d.Sources)+2)
	parts = append(parts, d.Name, d.Destination)
	for _, src := range d.Sources {
		parts = append(parts, src.URL+"|"+src.Label)
	}
	return strings.Join(parts, "\n")
}

// Catalog is the in-memory asset registry. Read-only and safe for
// concurrent lookup.
type Catalog struct {
	records map[string]Descriptor
}

type catalogDocument struct {
	Assets map[string]Descriptor `yaml:"assets"`
}

// Parse builds a catalog from a YAML document.
func Parse(payload []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse asset catalog: %w", err)
	}
	records := make(map[string]Descriptor, len(doc.Assets))
	for name, desc := range doc.Assets {
		if len(desc.Sources) == 0 {
			return nil, fmt.Errorf("asset %q has no candidate sources", name)
		}
		if strings.TrimSpace(desc.Destination) == "" {
			return nil, fmt.Errorf("asset %q has no destination", name)
		}
		desc.Name = name
		records[name] = desc
	}
	return &Catalog{records: records}, nil
}

// LoadDefault returns the catalog embedded in the binary.
func LoadDefault() (*Catalog, error) {
	return Parse(defaultAssets)
}

// Describe looks up one asset by name.
func (c *Catalog) Describe(name string) (Descriptor, error) {
	desc, ok := c.records[name]
	if !ok {
		return Descriptor{}, services.Wrap(services.ErrUnknownAsset, "catalog", "describe", name, nil)
	}
	return desc, nil
}

// Names returns every registered asset name in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.records))
	for name := range c.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BMNGPanelSet returns the asset names for the requested Blue Marble
// resolution: the eight 500m panels, or the single 2km composite.
func BMNGPanelSet(resolution string) []string {
	if strings.EqualFold(resolution, "2km") {
		return []string{"bmng_2004_aug_2km_global"}
	}
	panels := make([]string, 0, 8)
	for _, row := range []string{"a", "b", "c", "d"} {
		for _, col := range []string{"1", "2"} {
			panels = append(panels, "bmng_2004_aug_500m_"+row+col)
		}
	}
	return panels
}

// BMNGFallbackSet returns the asset names to try when the preferred panel
// set cannot be acquired. Empty when the preferred set is already the
// coarsest variant.
func BMNGFallbackSet(resolution string) []string {
	if strings.EqualFold(resolution, "2km") {
		return nil
	}
	return []string{"bmng_2004_aug_2km_global"}
}

// NaturalEarthSet returns the Natural Earth vector assets.
func NaturalEarthSet() []string {
	return []string{
		"natural_earth_land_10m",
		"natural_earth_ocean_10m",
		"natural_earth_coastline_10m",
	}
}

// GEBCOAsset is the name of the bathymetry grid asset.
const GEBCOAsset = "gebco_latest_grid"
