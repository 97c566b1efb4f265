package main

import (
	"os"

	"github.com/stagepass/notify/internal/devseed"
)

func runDBSeed(ctx *commandContext, _ []string) error {
	db, err := connectDB(ctx.Logger, &ctx.Config)
	if err != nil {
		return err
	}
	defer func() { _ = closeInfra(db, nil) }()

	if err := devseed.Run(ctx.Ctx, devseed.NewServices(db), ctx.Logger); err != nil {
		return err
	}
	return writef(os.Stdout, "seed completed\n")
}
