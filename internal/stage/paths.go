package stage

import "path/filepath"

// Intermediate artifact locations inside the work directory. Deterministic
// so re-runs find (and checkpoints can verify) the same files.

func mosaicListPath(workDir string) string {
	return filepath.Join(workDir, "bmng_inputs.txt")
}

func mosaicVRTPath(workDir string) string {
	return filepath.Join(workDir, "bmng_mosaic.vrt")
}

func enhancedPath(workDir string) string {
	return filepath.Join(workDir, "bmng_enhanced.tif")
}

func hillshadePath(workDir string) string {
	return filepath.Join(workDir, "gebco_hillshade.tif")
}

func blendedPath(workDir string) string {
	return filepath.Join(workDir, "blended.tif")
}

func naturalEarthDir(workDir string) string {
	return filepath.Join(workDir, "natural_earth")
}

func naturalEarthIndexPath(workDir string) string {
	return filepath.Join(naturalEarthDir(workDir), "extracted.txt")
}

func mercatorVRTPath(workDir string) string {
	return filepath.Join(workDir, "mercator.vrt")
}

func mbtilesPath(workDir string) string {
	return filepath.Join(workDir, "planet.mbtiles")
}
