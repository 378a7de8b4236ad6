package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"subtracker/internal/auth"
	"subtracker/internal/storage"
	"subtracker/internal/vault"

	"golang.org/x/term"
)

const defaultDBPath = "subscriptions.db"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	username := fs.String("user", "", "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	master := fs.String("master", "", "Vault master password used to encrypt stored credentials (optional)")
	dbPath := fs.String("db", defaultDBPath, "Path to database file")
	list := fs.Bool("list", false, "List existing users and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if path := os.Getenv("DB_PATH"); path != "" && *dbPath == defaultDBPath {
		*dbPath = path
	}

	if *list {
		return listUsers(*dbPath, stdout)
	}

	if *username == "" {
		fmt.Fprintln(stdout, "Usage: adduser -user <username> [-password <password>] [-master <master>] [-db <db_path>] | -list")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if *master != "" && *master == password {
		return fmt.Errorf("master password must differ from the login password")
	}

	db, err := storage.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.GetUserByUsername(*username); err == nil {
		return fmt.Errorf("user %s already exists", *username)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := db.CreateUser(*username, hash)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Fprintf(stdout, "User %s created successfully with ID %d\n", user.Username, user.ID)

	if *master != "" {
		masterHash, salt, err := vault.HashMaster(*master)
		if err != nil {
			return fmt.Errorf("failed to hash master password: %w", err)
		}
		if err := db.SetVaultMaster(context.Background(), user.Key(), masterHash, salt); err != nil {
			return fmt.Errorf("failed to store master password: %w", err)
		}
		fmt.Fprintln(stdout, "Vault master password set")
	}
	return nil
}

func listUsers(dbPath string, stdout io.Writer) error {
	db, err := storage.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	users, err := db.ListUsers()
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(users) == 0 {
		fmt.Fprintln(stdout, "No users")
		return nil
	}
	for _, u := range users {
		fmt.Fprintf(stdout, "%d\t%s\t%s\n", u.ID, u.Username, u.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
