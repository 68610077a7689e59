package main

import (
	"context"

	"github.com/azardenmark/dashboard-sub000/storage/database"
)

var migrateRunFunc = database.Run // mockable

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	return migrateRunFunc(ctx, cli.db, cli.engine, args[0], args[1:]...)
}
