package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// addUser updates or creates an active user.User. Admins get every role.
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	if err != nil {
		if !core.IsNotFound(err) {
			return errors.Wrap(err, "finding user")
		}
		now := time.Now().UTC()
		usr = user.User{Username: uname, Email: email, CreatedAt: now, UpdatedAt: now}
	}
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = usr.Username
	}
	if email != "" {
		usr.Email = email
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	usr.IsActive = true
	if err := usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}
	if _, err := cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "saving user")
	}
	return nil
}
