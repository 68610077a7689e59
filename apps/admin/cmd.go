package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/azardenmark/dashboard-sub000/core/account"
	"github.com/azardenmark/dashboard-sub000/core/school"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	engine     string
	accountSvc *account.Service
	schoolSvc  *school.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...]                 - run a goose command against the accounts database")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL [-name NAME]         - create or promote an admin account")
	fmt.Fprintln(cli.out, "  resetpassword -login EMAIL|PHONE          - reset an account's password")
	fmt.Fprintln(cli.out, "  reconcile [-kindergarten ID]              - recompute stored counters and membership")
	fmt.Fprintln(cli.out, "  jobs [-status running|completed|failed]   - list workflow jobs")
	fmt.Fprintln(cli.out, "  resumejob -id ID | -failed                - resume interrupted workflow jobs")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		name := cmd.String("name", "", "The admin's display name (defaults to the email).")
		email := cmd.String("email", "", "The admin's email. The password will be prompted next.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *email == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *name, *email, pwd)

	case "resetpassword":
		cmd := cli.newFlagSet("resetpassword")
		login := cmd.String("login", "", "The account's email or phone. The password will be prompted next.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *login == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *login, pwd)

	case "reconcile":
		cmd := cli.newFlagSet("reconcile")
		kID := cmd.String("kindergarten", "", "Only reconcile this kindergarten.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.reconcile(ctx, *kID)

	case "jobs":
		cmd := cli.newFlagSet("jobs")
		status := cmd.String("status", "", "Only list jobs with this status.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.listJobs(ctx, school.JobStatus(*status))

	case "resumejob":
		cmd := cli.newFlagSet("resumejob")
		id := cmd.String("id", "", "The job to resume.")
		failed := cmd.Bool("failed", false, "Resume every failed job.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if (*id == "") == !*failed {
			cmd.Usage()
			return errHelp
		}
		return cli.resumeJobs(ctx, *id)

	default:
		cli.printUsage()
		return errHelp
	}
}
