// Package download acquires catalog assets with resumable transfers,
// bounded retries, and candidate fallback, recording every outcome in the
// asset manifest.
package download
