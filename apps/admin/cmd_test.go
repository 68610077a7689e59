package main

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azardenmark/dashboard-sub000/core"
	"github.com/azardenmark/dashboard-sub000/core/account"
	"github.com/azardenmark/dashboard-sub000/core/school"
	inmemdb "github.com/azardenmark/dashboard-sub000/storage/database/inmem"
	"github.com/azardenmark/dashboard-sub000/testutil"
)

type testCLI struct {
	*commandLine
	repo   account.Repository
	school *testutil.School
	out    *bytes.Buffer
}

func setup(t *testing.T) *testCLI {
	t.Helper()
	validate, translator := core.NewValidator()
	repo := inmemdb.NewAccountRepository()
	sc := testutil.NewSchool(t)
	out := new(bytes.Buffer)

	return &testCLI{
		commandLine: &commandLine{
			engine: "sqlite",
			accountSvc: account.NewService(account.Options{
				Repo:       repo,
				Validate:   validate,
				Translator: translator,
				SecretKey:  "test-secret",
			}),
			schoolSvc: sc.Svc,
			out:       out,
		},
		repo:   repo,
		school: sc,
		out:    out,
	}
}

// mockPassword makes the password prompt answer pwd.
func mockPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	pwd        string
	wantErr    error
	wantErrStr string
}

func (cli *testCLI) runTest(t *testing.T, tt cliTest) error {
	t.Helper()
	mockPassword(t, tt.pwd)
	err := cli.run(context.Background(), append([]string{"admin"}, tt.args...))
	switch {
	case tt.wantErr != nil:
		require.Error(t, err)
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		require.EqualError(t, err, tt.wantErrStr)
	default:
		require.NoError(t, err)
	}
	return err
}

func Test_commandLine_usage(t *testing.T) {
	cli := setup(t)
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "migrate without subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "adduser without email", args: []string{"adduser"}, wantErr: errHelp},
		{name: "adduser without password", args: []string{"adduser", "-email", "a@test.test"}, wantErr: errHelp},
		{name: "resetpassword without login", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "resumejob without target", args: []string{"resumejob"}, wantErr: errHelp},
		{name: "resumejob with both targets", args: []string{"resumejob", "-id", "j1", "-failed"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli.runTest(t, tt)
		})
	}
	assert.Contains(t, cli.out.String(), "Usage:")
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	orig := migrateRunFunc
	t.Cleanup(func() { migrateRunFunc = orig })
	var gotEngine string
	migrateRunFunc = func(ctx context.Context, db *sqlx.DB, engine, command string, args ...string) error {
		gotEngine = engine
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "guardians", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli.runTest(t, tt)
			assert.Equal(t, "sqlite", gotEngine)
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	existing := testutil.CreateAccount(t, cli.repo, "Guardian", "guardian@test.test", "", "", []string{account.RoleGuardian}, false)

	tests := []struct {
		cliTest
		email     string
		wantRoles []string
	}{
		{
			cliTest:   cliTest{name: "new admin", args: []string{"adduser", "-name", "Root", "-email", "Root@Test.test"}, pwd: "s3cret"},
			email:     "root@test.test",
			wantRoles: []string{account.RoleAdmin},
		},
		{
			cliTest:   cliTest{name: "promote existing account", args: []string{"adduser", "-email", existing.Email}, pwd: "an0ther"},
			email:     existing.Email,
			wantRoles: []string{account.RoleGuardian, account.RoleAdmin},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli.runTest(t, tt.cliTest)

			acc, err := cli.accountSvc.GetByLogin(ctx, tt.email)
			require.NoError(t, err)
			assert.True(t, acc.IsActive)
			assert.ElementsMatch(t, tt.wantRoles, acc.Roles)
			assert.NoError(t, acc.CheckPassword(tt.pwd))
			assert.Contains(t, cli.out.String(), tt.email)
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, cli.repo, "Guardian", "awe@test.test", "+243810000000", "mdr", []string{account.RoleGuardian}, true)

	tests := []cliTest{
		{name: "account not found", args: []string{"resetpassword", "-login", "lol@test.test"}, pwd: "lol", wantErr: account.ErrNotFound},
		{name: "reset with email", args: []string{"resetpassword", "-login", acc.Email}, pwd: "lol"},
		{name: "reset with phone", args: []string{"resetpassword", "-login", acc.Phone}, pwd: "lmao"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cli.runTest(t, tt); err != nil {
				return
			}
			refreshed, err := cli.accountSvc.Get(ctx, acc.ID)
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(tt.pwd))
		})
	}
}

func Test_commandLine_reconcile(t *testing.T) {
	cli := setup(t)
	cli.school.Kindergarten(t, "k1", "", 4, 0, 0)
	cli.school.Kindergarten(t, "k2", "", 0, 0, 0)

	tests := []struct {
		cliTest
		wantOut []string
	}{
		{
			cliTest: cliTest{name: "unknown kindergarten", args: []string{"reconcile", "-kindergarten", "nope"}, wantErr: school.ErrKindergartenNotFound},
		},
		{
			cliTest: cliTest{name: "single kindergarten", args: []string{"reconcile", "-kindergarten", "k1"}},
			wantOut: []string{"kindergarten k1:", "1 drifts fixed", "kindergartens/k1 " + school.FieldStudentCount + ": 4 -> 0"},
		},
		{
			cliTest: cliTest{name: "whole network", args: []string{"reconcile"}},
			wantOut: []string{"kindergarten k1:", "kindergarten k2:", "0 drifts fixed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli.out.Reset()
			cli.runTest(t, tt.cliTest)
			for _, want := range tt.wantOut {
				assert.Contains(t, cli.out.String(), want)
			}
		})
	}
	assert.Zero(t, cli.school.Count(t, school.KindergartensCollection, "k1", school.FieldStudentCount))
}

func Test_commandLine_jobs(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	sc := cli.school
	sc.Kindergarten(t, "k1", "", 1, 1, 0)
	c := sc.Class(t, "c1", "k1", "k1", "s1")
	sc.Student(t, "s1", "k1", &c)
	sc.Put(t, school.JobsCollection, "j1", school.Job{
		ID:     "j1",
		Kind:   school.JobDeleteClass,
		Status: school.JobFailed,
		Steps: []school.JobStep{
			{Collection: school.StudentsCollection, IDs: []string{"s1"}, Set: map[string]any{"classId": ""}},
		},
		Error: "deadline exceeded",
	})
	sc.Put(t, school.JobsCollection, "j2", school.Job{ID: "j2", Kind: school.JobMoveStudents, Status: school.JobCompleted, Cursor: 1, Steps: []school.JobStep{{}}})

	t.Run("list failed", func(t *testing.T) {
		cli.out.Reset()
		cli.runTest(t, cliTest{args: []string{"jobs", "-status", "failed"}})
		assert.Contains(t, cli.out.String(), "j1 deleteClass failed step 0/1 (deadline exceeded)")
		assert.NotContains(t, cli.out.String(), "j2")
	})

	t.Run("resume unknown job", func(t *testing.T) {
		cli.runTest(t, cliTest{args: []string{"resumejob", "-id", "nope"}, wantErr: school.ErrJobNotFound})
	})

	t.Run("resume failed jobs", func(t *testing.T) {
		cli.out.Reset()
		cli.runTest(t, cliTest{args: []string{"resumejob", "-failed"}})
		assert.Contains(t, cli.out.String(), "j1 deleteClass completed step 1/1")

		job, err := cli.schoolSvc.GetJob(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, school.JobCompleted, job.Status)
		assert.Equal(t, "", sc.Doc(t, school.StudentsCollection, "s1")["classId"])
	})

	t.Run("completed job is left as is", func(t *testing.T) {
		cli.out.Reset()
		cli.runTest(t, cliTest{args: []string{"resumejob", "-id", "j2"}})
		assert.Contains(t, cli.out.String(), "j2 moveStudents completed step 1/1")
	})
}
