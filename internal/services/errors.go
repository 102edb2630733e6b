package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAsset marks catalog lookups for names that were never registered.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrAcquisition marks download failures after every candidate source was exhausted.
	ErrAcquisition = errors.New("acquisition failed")
	// ErrChecksum marks a transfer whose on-disk hash did not match the recorded value.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrExternalTool marks recoverable failures reported by an external engine.
	ErrExternalTool = errors.New("external tool error")
	// ErrConfiguration marks structural problems (invalid config, missing binary); never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrManifestCorrupt marks persisted manifest or checkpoint state that fails to parse.
	ErrManifestCorrupt = errors.New("manifest corruption")
	// ErrTransient marks network-class failures worth retrying.
	ErrTransient = errors.New("transient failure")
	// ErrValidation marks inputs or artifacts that failed a consistency check.
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Recoverable reports whether the error class is worth a bounded retry.
// Structural errors fail immediately; network and engine hiccups do not.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrUnknownAsset),
		errors.Is(err, ErrManifestCorrupt),
		errors.Is(err, ErrValidation):
		return false
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrChecksum),
		errors.Is(err, ErrExternalTool):
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
