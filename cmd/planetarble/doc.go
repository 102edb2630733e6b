// Command planetarble builds a reproducible PMTiles planet basemap from
// NASA Blue Marble imagery, GEBCO bathymetry, and Natural Earth vectors.
package main
