package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
	"github.com/trezcool/taskpool/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin, isStudent bool) error {
	ctx := context.Background()
	users := cli.svcs.Users
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}

	var roles []string
	switch {
	case isAdmin:
		roles = user.AllRoles
	case isStudent:
		roles = user.StudentRoles
	}

	usr, err := users.GetByUsernameOrEmail(ctx, uname)
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = users.GetByUsernameOrEmail(ctx, email)
	}
	switch {
	case err == nil:
		active := true
		if roles == nil {
			roles = usr.Roles
		}
		if usr, err = users.Update(ctx, usr, user.UpdateUser{
			Name:     name,
			Username: uname,
			Email:    email,
			Phone:    usr.Phone,
			IsActive: &active,
			Roles:    roles,
		}); err != nil {
			return errors.Wrap(err, "updating user")
		}
		_, err = users.SetPassword(ctx, usr, pwd)
		return err
	case errors.Cause(err) == user.ErrNotFound:
		_, err = users.Create(ctx, user.NewUser{
			Name:     name,
			Username: uname,
			Email:    email,
			Password: pwd,
			Roles:    roles,
		})
		return err
	default:
		return err
	}
}
