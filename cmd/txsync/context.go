package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/micro-ha/transmission-sync/internal/app"
	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/config"
	"github.com/micro-ha/transmission-sync/internal/logging"
	"github.com/micro-ha/transmission-sync/internal/model"
	"github.com/micro-ha/transmission-sync/internal/notify"
	"github.com/micro-ha/transmission-sync/internal/transmission"
)

type commandContext struct {
	configFlag *string
	serverFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
	}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
			cfg.Server.URL = strings.TrimSpace(*c.serverFlag)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// CLI logs go to stderr so command output stays parseable.
func (c *commandContext) logger() *slog.Logger {
	cfg, _ := c.ensureConfig()
	return logging.NewWithFormat(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func (c *commandContext) client() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	var tokens client.TokenSource
	if cfg.Server.Token != "" {
		tokens = client.StaticToken(cfg.Server.Token)
	}
	return client.New(client.Config{
		BaseURL:     cfg.Server.BaseURL(),
		Tokens:      tokens,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.RequestMaxAttempts,
		RetryBase:   cfg.RequestRetryBase,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		Logger:      c.logger(),
	}), nil
}

// withApp runs fn against an app that is not started: no transport, no
// session lock, so it can run next to a long-lived agent.
func (c *commandContext) withApp(ctx context.Context, opts app.Options, fn func(*app.App) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	opts.Config = cfg
	if opts.Logger == nil {
		opts.Logger = c.logger()
	}
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// printNotifier echoes notifications as command output.
func printNotifier(cmd *cobra.Command) notify.Notifier {
	return notify.Func(func(_ context.Context, n notify.Notification) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", levelMark(n.Level), n.Message)
	})
}

func levelMark(level notify.Level) string {
	switch level {
	case notify.LevelSuccess:
		return "✓"
	case notify.LevelWarning:
		return "!"
	case notify.LevelError:
		return "✗"
	default:
		return "·"
	}
}

func parseDevices(args []string, fallback []model.DeviceID) []model.DeviceID {
	if len(args) == 0 {
		return fallback
	}
	out := make([]model.DeviceID, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, model.DeviceID(part))
			}
		}
	}
	return out
}

func confirmerFor(cmd *cobra.Command, yes bool) transmission.Confirmer {
	if yes {
		return transmission.Confirmed
	}
	return promptConfirmer{cmd: cmd}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
