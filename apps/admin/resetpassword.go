package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
	if err != nil {
		return errors.Wrap(err, "finding user")
	}
	if err := usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}
	if _, err := cli.usrRepo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	return nil
}
