package main

import (
	"context"
	"fmt"
)

// addUser creates an active admin account, or promotes and re-activates an existing one.
func (cli *commandLine) addUser(ctx context.Context, name, email, pwd string) error {
	acc, err := cli.accountSvc.EnsureAdmin(ctx, name, email, pwd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "admin %s <%s> is ready\n", acc.ID, acc.Email)
	return nil
}
