package pmtiles

import (
	"context"
	"log/slog"
	"strings"

	"planetarble/internal/logging"
	"planetarble/internal/services"
)

// Client wraps the pmtiles command-line tool.
type Client struct {
	binary string
	exec   services.Executor
	logger *slog.Logger
	dryRun bool
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

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(executor services.Executor) Option {
	return func(c *Client) {
		if executor != nil {
			c.exec = executor
		}
	}
}

// WithLogger attaches a logger for command output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDryRun switches the client to print-only mode.
func WithDryRun(dryRun bool) Option {
	return func(c *Client) {
		c.dryRun = dryRun
	}
}

// NewClient constructs a client using defaults.
func NewClient(opts ...Option) *Client {
	client := &Client{
		binary: "pmtiles",
		exec:   services.NewCommandExecutor(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Convert transforms an MBTiles archive into a single PMTiles file.
func (c *Client) Convert(ctx context.Context, mbtilesPath, pmtilesPath string) error {
	return c.run(ctx, []string{"convert", mbtilesPath, pmtilesPath})
}

// Verify runs the pmtiles integrity check on an archive.
func (c *Client) Verify(ctx context.Context, pmtilesPath string) error {
	return c.run(ctx, []string{"verify", pmtilesPath})
}

func (c *Client) run(ctx context.Context, args []string) error {
	log := logging.WithContext(ctx, c.logger)
	if c.dryRun {
		log.Info("dry-run", logging.String("command", c.binary+" "+strings.Join(args, " ")))
		return nil
	}
	log.Debug("running", logging.String("command", c.binary+" "+strings.Join(args, " ")))
	return c.exec.Run(ctx, c.binary, args, func(line string) {
		log.Debug(line, logging.String("tool", c.binary))
	})
}
