package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"planetarble/internal/services"
)

// Requirement defines an external tool the pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Stages      []string
	Optional    bool
}

// Status reports the availability of one requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Stages      []string
	Optional    bool
	Available   bool
	Detail      string
}

// Defaults returns the external tools the pipeline stages invoke.
func Defaults() []Requirement {
	return []Requirement{
		{Name: "gdalbuildvrt", Command: "gdalbuildvrt", Description: "virtual mosaic assembly", Stages: []string{"process"}},
		{Name: "gdal_translate", Command: "gdal_translate", Description: "raster conversion and MBTiles generation", Stages: []string{"process", "tile"}},
		{Name: "gdaldem", Command: "gdaldem", Description: "hillshade rendering", Stages: []string{"process"}},
		{Name: "gdal_calc", Command: "gdal_calc.py", Description: "raster blending", Stages: []string{"process"}},
		{Name: "gdalwarp", Command: "gdalwarp", Description: "Web Mercator reprojection", Stages: []string{"tile"}},
		{Name: "gdaladdo", Command: "gdaladdo", Description: "overview pyramid construction", Stages: []string{"tile"}},
		{Name: "pmtiles", Command: "pmtiles", Description: "PMTiles conversion", Stages: []string{"package"}},
		{Name: "aria2c", Command: "aria2c", Description: "multi-connection downloads", Stages: []string{"acquire"}, Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Stages:      req.Stages,
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// RequireForStage verifies every non-optional tool the named stage uses is
// on PATH. A missing tool is a structural error, never retried.
func RequireForStage(stageName string) error {
	var missing []string
	for _, status := range CheckBinaries(Defaults()) {
		if status.Available || status.Optional {
			continue
		}
		for _, stage := range status.Stages {
			if stage == stageName {
				missing = append(missing, status.Command)
				break
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, stageName, "dependency check",
		fmt.Sprintf("missing required tools: %s", strings.Join(missing, ", ")), nil)
}
