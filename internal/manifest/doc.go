// Package manifest persists the acquisition ledger and the per-stage
// checkpoints that make the pipeline resumable.
//
// The store is the only component allowed to touch MANIFEST.json and
// CHECKPOINTS.json. Every mutation rewrites the whole file through a
// temp-file rename so readers never observe partial state, and validity is
// decided by content hashes rather than file presence alone.
package manifest
