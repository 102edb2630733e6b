package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"planetarble/internal/fileutil"
)

type fingerprintDocument struct {
	Version int             `json:"v"`
	Stage   string          `json:"stage"`
	Config  json.RawMessage `json:"config"`
	Inputs  []Artifact      `json:"inputs"`
}

// Fingerprint summarizes a stage's effective inputs and configuration as a
// SHA256 over a canonical JSON document. Inputs are ordered by path so the
// result is independent of discovery order. Any change to the stage config
// or to an upstream artifact hash produces a different fingerprint, erring
// toward re-execution rather than stale reuse.
func Fingerprint(stageName string, config any, inputs []Artifact) (string, error) {
	encodedConfig, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("encode %s config: %w", stageName, err)
	}

	ordered := make([]Artifact, len(inputs))
	copy(ordered, inputs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })

	doc := fingerprintDocument{
		Version: SchemaVersion,
		Stage:   stageName,
		Config:  encodedConfig,
		Inputs:  ordered,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s fingerprint: %w", stageName, err)
	}
	return fileutil.HashBytes(payload), nil
}

// ArtifactFor hashes the file at path and returns its artifact identity.
func ArtifactFor(path string) (Artifact, error) {
	hash, err := fileutil.HashFile(path)
	if err != nil {
		return Artifact{}, err
	}
	size, err := fileutil.FileSize(path)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Path: path, SHA256: hash, SizeBytes: size}, nil
}

// ArtifactsFor hashes every path in order.
func ArtifactsFor(paths []string) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(paths))
	for _, path := range paths {
		artifact, err := ArtifactFor(path)
		if err != nil {
			return nil, fmt.Errorf("hash artifact %s: %w", path, err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}
