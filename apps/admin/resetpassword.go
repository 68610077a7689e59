package main

import "context"

func (cli *commandLine) resetPassword(ctx context.Context, login, pwd string) error {
	return cli.accountSvc.SetPassword(ctx, login, pwd)
}
