package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shule/core/user"
)

// addUser creates an active user holding roleName.
func (cli *commandLine) addUser(name, email, employeeID, roleName, pwd string) error {
	usr, err := cli.usrSvc.Create(context.Background(), user.NewUser{
		Name:            name,
		EmployeeID:      employeeID,
		Email:           email,
		Role:            roleName,
		Password:        pwd,
		PasswordConfirm: pwd,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %s created with role %q (permissions %d)\n", usr.Email, usr.Role, usr.Permissions)
	return nil
}
