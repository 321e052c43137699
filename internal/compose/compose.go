package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hazz-dev/servwatch/internal/config"
)

// ErrCommand marks a failed compose invocation.
var ErrCommand = errors.New("compose command failed")

// Controller pulls, recreates, restarts and execs into compose services.
// An empty service list targets every service in the compose file.
type Controller struct {
	command []string
	file    string
	dir     string
	exec    CommandExecutor
	logger  *zap.Logger
}

// New creates a Controller that shells out to the configured compose command.
// Pass nil logger to discard logs.
func New(cfg config.ComposeConfig, logger *zap.Logger) *Controller {
	return NewWithExecutor(cfg, &osExecutor{}, logger)
}

// NewWithExecutor creates a Controller with a custom executor (for testing).
func NewWithExecutor(cfg config.ComposeConfig, exec CommandExecutor, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	command := strings.Fields(cfg.Command)
	if len(command) == 0 {
		command = []string{"docker", "compose"}
	}
	return &Controller{
		command: command,
		file:    cfg.File,
		dir:     cfg.Path,
		exec:    exec,
		logger:  logger,
	}
}

// Update pulls fresh images for services and then recreates them. The pull
// must finish before the recreate so the new image is used.
func (c *Controller) Update(ctx context.Context, services []string) error {
	c.logger.Info("updating services", zap.Strings("services", services), zap.Bool("all", len(services) == 0))

	if _, err := c.run(ctx, "pull", nil, services); err != nil {
		return err
	}
	if _, err := c.run(ctx, "up", []string{"-d", "--force-recreate"}, services); err != nil {
		return err
	}
	return nil
}

// Restart restarts services in place without pulling.
func (c *Controller) Restart(ctx context.Context, services []string) error {
	c.logger.Info("restarting services", zap.Strings("services", services), zap.Bool("all", len(services) == 0))

	_, err := c.run(ctx, "restart", nil, services)
	return err
}

// Exec runs command inside the running container of service and returns its
// standard output.
func (c *Controller) Exec(ctx context.Context, service string, command ...string) (string, error) {
	args := append([]string{"-T", service}, command...)
	out, err := c.run(ctx, "exec", args, nil)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *Controller) run(ctx context.Context, sub string, flags, services []string) ([]byte, error) {
	args := append([]string{}, c.command[1:]...)
	if c.file != "" {
		args = append(args, "-f", c.file)
	}
	args = append(args, sub)
	args = append(args, flags...)
	args = append(args, services...)

	c.logger.Debug("running compose", zap.String("binary", c.command[0]), zap.Strings("args", args), zap.String("dir", c.dir))

	stdout, stderr, err := c.exec.Run(ctx, c.dir, c.command[0], args...)
	if err != nil {
		if msg := strings.TrimSpace(string(stderr)); msg != "" {
			return nil, fmt.Errorf("%w: %s %s: %v: %s", ErrCommand, c.command[0], sub, err, msg)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrCommand, c.command[0], sub, err)
	}
	return stdout, nil
}
