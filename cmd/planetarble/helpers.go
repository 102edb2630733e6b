package main

import (
	"planetarble/internal/catalog"
)

func loadCatalog() (*catalog.Catalog, error) {
	return catalog.LoadDefault()
}

// plannedAssetNames lists the assets an acquire run will request for the
// configured resolution, in acquisition order.
func plannedAssetNames(resolution string) []string {
	names := catalog.BMNGPanelSet(resolution)
	names = append(names, catalog.GEBCOAsset)
	names = append(names, catalog.NaturalEarthSet()...)
	return names
}
