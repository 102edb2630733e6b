package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"planetarble/internal/services"
)

// Exit codes, stable for scripting.
const (
	exitOK            = 0
	exitGeneral       = 1
	exitConfiguration = 2
	exitAcquisition   = 3
	exitStage         = 4
	exitManifest      = 5
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, services.ErrManifestCorrupt):
		return exitManifest
	case errors.Is(err, services.ErrAcquisition):
		return exitAcquisition
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrUnknownAsset):
		return exitConfiguration
	case errors.Is(err, services.ErrExternalTool),
		errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrChecksum),
		errors.Is(err, services.ErrTransient):
		return exitStage
	default:
		return exitGeneral
	}
}
