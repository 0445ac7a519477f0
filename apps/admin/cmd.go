package main

import (
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/shule/core/permission"
	"github.com/trezcool/shule/core/role"
	"github.com/trezcool/shule/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sqlx.DB // nil with the memory store
	perms   *permission.Registry
	roleSvc role.Service
	usrSvc  user.Service
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status...) against the database")
	fmt.Fprintln(cli.out, "  addrole -name NAME [-permissions P1,P2] - create a role; no permissions means unrestricted")
	fmt.Fprintln(cli.out, "  adduser -name NAME -email EMAIL -role ROLE [-employee-id ID] - create a user")
	fmt.Fprintln(cli.out, "  resetpassword -login EMAIL|EMPLOYEE_ID - reset user's password")
	fmt.Fprintln(cli.out, "  resync -role ROLE - copy the role's permission onto its members")
	fmt.Fprintln(cli.out, "  orphans - list the users holding a role that does not exist")
}

// promptPassword reads a password without echoing it.
func (cli *commandLine) promptPassword(label string) (string, error) {
	fmt.Fprint(cli.out, label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addRoleCmd := flag.NewFlagSet("addrole", flag.ContinueOnError)
	addRoleName := addRoleCmd.String("name", "", "The role's name.")
	addRolePerms := addRoleCmd.String("permissions", "", "Comma separated permission names, e.g. MANAGE_USERS,MANAGE_ROLES.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", "", "The name of the role to assign.")
	addUserEmpID := addUserCmd.String("employee-id", "", "The user's employee ID (optional).")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordLogin := resetPasswordCmd.String("login", "", "The user's email or employee ID. The password will be prompted next.")

	resyncCmd := flag.NewFlagSet("resync", flag.ContinueOnError)
	resyncRole := resyncCmd.String("role", "", "The name of the role to resync.")

	for _, fs := range []*flag.FlagSet{addRoleCmd, addUserCmd, resetPasswordCmd, resyncCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "addrole":
		if err := addRoleCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addRoleName == "" {
			addRoleCmd.Usage()
			return errHelp
		}
		return cli.addRole(*addRoleName, *addRolePerms)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserName == "" || *addUserEmail == "" || *addUserRole == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserEmail, *addUserEmpID, *addUserRole, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordLogin == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordLogin, pwd)

	case "resync":
		if err := resyncCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resyncRole == "" {
			resyncCmd.Usage()
			return errHelp
		}
		return cli.resync(*resyncRole)

	case "orphans":
		return cli.orphans()

	default:
		cli.printUsage()
		return errHelp
	}
}
