package main

import (
	"context"
	"os"

	"github.com/azardenmark/dashboard-sub000/apps/di"
	"github.com/azardenmark/dashboard-sub000/core"
)

func main() {
	conf := core.NewConfig()
	ctx := context.Background()

	logger := di.NewLogger(conf)
	deps, err := di.New(ctx, conf, logger)
	if err != nil {
		logger.Fatal("setting up dependencies", err)
	}

	cli := commandLine{
		db:         deps.DB,
		engine:     conf.Database.Engine,
		accountSvc: deps.AccountSvc,
		schoolSvc:  deps.SchoolSvc,
		out:        os.Stdout,
	}
	err = cli.run(ctx, os.Args)
	deps.Close()
	if err != nil {
		if err != errHelp {
			logger.Error("admin command failed", err)
		}
		os.Exit(1)
	}
}
