package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/stagepass/notify/internal/bootstrap"
	"github.com/stagepass/notify/internal/data"
	domainjob "github.com/stagepass/notify/internal/domain/job"
	"github.com/stagepass/notify/internal/service"
)

const defaultMigrationTimeout = 5 * time.Minute

func runMigrations(ctx *commandContext, _ []string) error {
	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	migrateCtx, cancel := context.WithTimeout(ctx.Ctx, defaultMigrationTimeout)
	defer cancel()

	return bootstrap.RunMigrations(migrateCtx, db, ctx.Logger)
}

func runJobGet(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-get", flag.ContinueOnError)
	jobID := fs.String("id", "", "job id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := uuid.Parse(*jobID); err != nil {
		return fmt.Errorf("-id must be a job uuid: %w", err)
	}

	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	queue := newQueueService(ctx, db, nil)
	job, err := queue.GetByID(ctx.Ctx, *jobID)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return writef(os.Stdout, "%s\n", encoded)
}

func runJobCancel(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-cancel", flag.ContinueOnError)
	jobID := fs.String("id", "", "job id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := uuid.Parse(*jobID); err != nil {
		return fmt.Errorf("-id must be a job uuid: %w", err)
	}

	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	queue := newQueueService(ctx, db, nil)
	cancelled, err := queue.CancelWaiting(ctx.Ctx, *jobID)
	if err != nil {
		return err
	}
	if !cancelled {
		return fmt.Errorf("job %s not found", *jobID)
	}
	return writef(os.Stdout, "job %s cancelled\n", *jobID)
}

func runJobStats(ctx *commandContext, _ []string) error {
	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	queue := newQueueService(ctx, db, nil)
	stats, err := queue.Stats(ctx.Ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "waiting\t%d\n", stats.Waiting)
	fmt.Fprintf(w, "active\t%d\n", stats.Active)
	fmt.Fprintf(w, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	return w.Flush()
}

func runRetryFailed(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("retry-failed", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum number of jobs to re-queue")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	queue := newQueueService(ctx, db, nil)
	result, err := queue.RetryFailed(ctx.Ctx, *limit)
	if err != nil {
		return err
	}
	return writef(os.Stdout, "requeued %d, skipped %d\n", result.Requeued, result.Skipped)
}

func runCleanup(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	olderThan := fs.Duration("older-than", 0,
		"override both job prune retention windows for this pass (e.g. 24h); 0 keeps the configured windows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	repo := data.NewJobRepo(db, data.JobRepoConfig{
		Retry:  domainjob.MustNewRetryPolicy(ctx.Config.Queue.BackoffBase, ctx.Config.Queue.MaxAttempts),
		Logger: ctx.Logger,
	})
	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:          repo,
		Subscriptions: data.NewSubscriptionRepo(db),
		Config:        ctx.Config.Reaper,
		Logger:        ctx.Logger,
	})
	if err != nil {
		return err
	}

	if err := reaper.RunOnceOlderThan(ctx.Ctx, *olderThan); err != nil {
		return err
	}
	return writef(os.Stdout, "cleanup pass completed\n")
}

func runPause(ctx *commandContext, _ []string) error {
	return setIntake(ctx, func(queue *service.QueueService) error {
		if err := queue.Pause(ctx.Ctx); err != nil {
			return err
		}
		return writef(os.Stdout, "queue intake paused\n")
	})
}

func runResume(ctx *commandContext, _ []string) error {
	return setIntake(ctx, func(queue *service.QueueService) error {
		if err := queue.Resume(ctx.Ctx); err != nil {
			return err
		}
		return writef(os.Stdout, "queue intake resumed\n")
	})
}

func setIntake(ctx *commandContext, fn func(*service.QueueService) error) error {
	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}

	redisClient, err := connectRedis(ctx.Logger, &ctx.Config)
	if err != nil {
		_ = closeInfra(db, nil)
		return err
	}
	defer func() { _ = closeInfra(db, redisClient) }()

	return fn(newQueueService(ctx, db, redisClient))
}
