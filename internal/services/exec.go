package services

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Executor abstracts external command execution for testability. Engine
// packages depend on this interface instead of os/exec directly so tests can
// substitute a recording fake.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// CommandExecutor runs commands through os/exec, streaming combined output
// line by line to the supplied callback.
type CommandExecutor struct{}

// NewCommandExecutor returns the default process-backed executor.
func NewCommandExecutor() *CommandExecutor {
	return &CommandExecutor{}
}

// Run launches the binary and blocks until it exits. Non-zero exit codes are
// returned as an ErrExternalTool-tagged error including the command line.
func (e *CommandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Wrap(ErrConfiguration, "", "start "+binary, "", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("read %s output: %w", binary, err)
	}

	if err := cmd.Wait(); err != nil {
		command := strings.Join(append([]string{binary}, args...), " ")
		return Wrap(ErrExternalTool, "", "command failed", command, err)
	}
	return nil
}
