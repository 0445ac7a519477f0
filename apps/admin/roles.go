package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
)

// addRole creates a role from a comma separated list of permission names. An empty list means unrestricted.
func (cli *commandLine) addRole(name, perms string) error {
	nr := role.NewRole{Name: name}
	for _, p := range strings.Split(perms, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			nr.Permissions = append(nr.Permissions, p)
		}
	}

	if nr.Permissions == nil {
		nr.Permission = permission.UnrestrictedValue.Ptr()
	}

	r, err := cli.roleSvc.Create(context.Background(), nr)
	if err != nil {
		return err
	}
	if r.Grant().IsUnrestricted() {
		fmt.Fprintf(cli.out, "role %q created: unrestricted\n", r.Name)
	} else {
		fmt.Fprintf(cli.out, "role %q created: %s (%d)\n", r.Name, strings.Join(cli.perms.Names(r.Permission), ","), r.Permission)
	}
	return nil
}

func (cli *commandLine) resync(name string) error {
	ctx := context.Background()
	r, err := cli.roleSvc.GetByName(ctx, name)
	if err != nil {
		return err
	}
	n, err := cli.roleSvc.Resync(ctx, r.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "role %q: %d member(s) resynced\n", r.Name, n)
	return nil
}

func (cli *commandLine) orphans() error {
	users, err := cli.usrSvc.Orphans(context.Background())
	if err != nil {
		return err
	}
	for _, usr := range users {
		fmt.Fprintf(cli.out, "%s\t%s\t%q\n", usr.ID, usr.Email, usr.Role)
	}
	fmt.Fprintf(cli.out, "%d orphan(s)\n", len(users))
	return nil
}
