// Package logging assembles structured slog loggers used across the
// pipeline.
//
// It centralizes level and output plumbing and exposes context-aware helpers
// so stage code automatically tags log lines with stage names, asset names,
// and run identifiers. Prefer these constructors over hand-rolled slog setup
// so every component emits data with the same shape.
package logging
