package main

import (
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/shule/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sqlx.DB
	usrRepo user.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version)")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-name NAME] [-admin] - create or update a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name. Defaults to the username.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Give the user every role.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" && *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	return string(pwd), nil
}
