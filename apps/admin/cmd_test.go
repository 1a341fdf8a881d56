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

	"github.com/trezcool/shule/core/user"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
	testutil "github.com/trezcool/shule/testutil"
)

func setup(t *testing.T) (*commandLine, user.Repository) {
	t.Helper()
	usrRepo := inmemdb.NewUserRepository(inmemdb.Open())
	return &commandLine{usrRepo: usrRepo}, usrRepo
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	var gotCommand string
	origRunFunc := gooseRunFunc
	defer func() { gooseRunFunc = origRunFunc }()
	gooseRunFunc = func(_ *sqlx.DB, command string, args ...string) error {
		gotCommand = command
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}, extra: "up"},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}, extra: "up-to"},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}, extra: "down-to"},
		{name: "status", args: []string{"migrate", "status"}, extra: "status"},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			gotCommand = ""
			checkErr(t, tt, cli.run(args))
			if cmd, ok := tt.extra.(string); ok {
				assert.Equal(t, cmd, gotCommand)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, usrRepo := setup(t)
	existing := testutil.CreateUser(t, usrRepo, "Existing", "existing", "existing@shule.test", "Pwd.123!", []string{user.RoleStudent}, false)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "mwalimu"}, wantErr: errHelp},
		{name: "admin", args: []string{"adduser", "-username", "Mwalimu", "-email", "mwalimu@shule.test", "-admin"}, extra: extra{pwd: "Pwd.123!"}},
		{name: "existing", args: []string{"adduser", "-username", "existing", "-name", "Back Again"}, extra: extra{pwd: "New.456!"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}

	ctx := context.Background()
	admin, err := usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: "mwalimu"})
	require.NoError(t, err)
	assert.Equal(t, "mwalimu@shule.test", admin.Email)
	assert.Equal(t, "mwalimu", admin.Name)
	assert.True(t, admin.IsActive)
	assert.True(t, admin.IsAdmin())
	assert.NoError(t, admin.CheckPassword("Pwd.123!"))

	updated, err := usrRepo.GetUser(ctx, user.GetFilter{ID: existing.ID})
	require.NoError(t, err)
	assert.Equal(t, "Back Again", updated.Name)
	assert.True(t, updated.IsActive)
	assert.Equal(t, []string{user.RoleStudent}, updated.Roles)
	assert.NoError(t, updated.CheckPassword("New.456!"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, usrRepo := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awe", "awe@shule.test", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@shule.test"}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			checkErr(t, tt, err)
			if err == nil {
				refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				require.NoError(t, err)
				assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
				assert.NoError(t, refreshedUsr.CheckPassword(tt.extra.(extra).pwd))
			}
		})
	}
}
