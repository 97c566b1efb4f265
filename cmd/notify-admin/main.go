// Command notify-admin provides operational commands for the notify
// dispatch service: migrations, queue inspection, bulk retry, retention
// cleanup, and intake pause control.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/stagepass/notify/config"
	"github.com/stagepass/notify/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"job-get": {
			name:        "job-get",
			description: "Print a notification job by id",
			run:         runJobGet,
		},
		"job-cancel": {
			name:        "job-cancel",
			description: "Cancel a waiting notification job",
			run:         runJobCancel,
		},
		"job-stats": {
			name:        "job-stats",
			description: "Print aggregate queue counts",
			run:         runJobStats,
		},
		"retry-failed": {
			name:        "retry-failed",
			description: "Re-queue terminally failed jobs, oldest first",
			run:         runRetryFailed,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Seed development subscriptions and jobs",
			run:         runDBSeed,
		},
		"cleanup": {
			name:        "cleanup",
			description: "Run a single retention cleanup pass",
			run:         runCleanup,
		},
		"pause": {
			name:        "pause",
			description: "Pause queue intake",
			run:         runPause,
		},
		"resume": {
			name:        "resume",
			description: "Resume queue intake",
			run:         runResume,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: notify-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := writef(os.Stdout, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
