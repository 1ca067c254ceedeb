package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/dancesync/dancesync-agent/internal/config"
	"github.com/dancesync/dancesync-agent/internal/logging"
)

type commandContext struct {
	envFile  *string
	jsonFlag *bool

	cfg    *config.EnvConfig
	logger *slog.Logger
}

func newCommandContext(envFile *string, jsonFlag *bool) *commandContext {
	return &commandContext{envFile: envFile, jsonFlag: jsonFlag}
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.envFile != nil && *c.envFile != "" {
		if err := config.LoadDotEnv(*c.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) ensureLogger() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	level := config.DefaultLogLevel
	if c.cfg != nil {
		level = c.cfg.LogLevel()
	}
	c.logger = logging.NewLoggerTo(os.Stderr, level)
	return c.logger
}

// wantJSON reports whether output should be JSON rather than a table.
func (c *commandContext) wantJSON() bool {
	if c.jsonFlag != nil && *c.jsonFlag {
		return true
	}
	return !stdoutIsTerminal()
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
