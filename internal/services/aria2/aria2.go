package aria2

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"planetarble/internal/services"
)

// Client wraps the aria2c command-line downloader for multi-connection,
// byte-range resumable transfers.
type Client struct {
	binary      string
	connections int
	exec        services.Executor
}

// Option configures the client.
type Option func(*Client)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *Client) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithConnections sets the per-server connection count.
func WithConnections(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.connections = n
		}
	}
}

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(executor services.Executor) Option {
	return func(c *Client) {
		if executor != nil {
			c.exec = executor
		}
	}
}

// NewClient constructs a client using defaults.
func NewClient(opts ...Option) *Client {
	client := &Client{
		binary:      "aria2c",
		connections: 8,
		exec:        services.NewCommandExecutor(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Available reports whether the aria2c binary can be found.
func (c *Client) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// Fetch downloads url into dir/out. aria2c keeps its own .aria2 control file
// beside the output, so an interrupted transfer resumes from the reached
// offset on the next invocation.
func (c *Client) Fetch(ctx context.Context, url, dir, out string, headers map[string]string) error {
	if strings.TrimSpace(url) == "" {
		return services.Wrap(services.ErrValidation, "acquire", "aria2 fetch", "url required", nil)
	}

	args := []string{
		fmt.Sprintf("--max-connection-per-server=%d", c.connections),
		fmt.Sprintf("--split=%d", c.connections),
		"--min-split-size=1M",
		"--continue=true",
		"--auto-file-renaming=false",
		"--allow-overwrite=true",
		"--console-log-level=warn",
		"--summary-interval=0",
		"--dir", dir,
		"--out", out,
	}
	for key, value := range headers {
		args = append(args, fmt.Sprintf("--header=%s: %s", key, value))
	}
	args = append(args, url)

	if err := c.exec.Run(ctx, c.binary, args, nil); err != nil {
		return services.Wrap(services.ErrTransient, "acquire", "aria2 fetch", url, err)
	}
	return nil
}
