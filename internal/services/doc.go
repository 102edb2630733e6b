// Package services defines shared utilities consumed by the stage adapters
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp stage names, asset names, and run
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     for retry and exit-code decisions.
//   - The Executor abstraction that makes external command invocation
//     testable.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
