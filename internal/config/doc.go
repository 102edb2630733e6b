// Package config loads, normalizes, and validates the Planetarble TOML
// configuration.
//
// Every stage consumes a typed section with an enumerated set of recognized
// options; unknown keys are rejected at load time so a typo can never
// silently change a stage fingerprint. Path fields are tilde-expanded and
// made absolute during normalization.
package config
