// Package catalog holds the static registry of acquirable source datasets.
//
// The registry is pure data: asset names, candidate URLs in preference
// order, deterministic destinations, and license metadata. It performs no
// I/O beyond parsing the embedded YAML document.
package catalog
