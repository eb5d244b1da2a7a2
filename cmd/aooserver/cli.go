package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"aoo/internal/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version":
		fmt.Printf("aooserver %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "groups":
		return cliGroups(args[1:], dbPath)
	case "users":
		return cliUsers(dbPath)
	default:
		return false
	}
}

func openCLIStore(dbPath string) *store.Store {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()

	groups, err := st.ListGroups()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	users, err := st.ListUsers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	info, _ := os.Stat(dbPath)
	size := "n/a"
	if info != nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	fmt.Printf("Database:          %s (%s)\n", dbPath, size)
	fmt.Printf("Persistent groups: %d\n", len(groups))
	fmt.Printf("Persistent users:  %d\n", len(users))
	fmt.Printf("Version:           %s\n", Version)
	return true
}

func cliGroups(args []string, dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		groups, err := st.ListGroups()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(groups) == 0 {
			fmt.Println("No persistent groups found.")
			return true
		}
		for _, g := range groups {
			fmt.Printf("  [%d] %s\n", g.ID, g.Name)
		}
		return true
	}

	if args[0] == "delete" && len(args) > 1 {
		if err := st.DeleteGroup(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting group: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted group %q\n", args[1])
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: aooserver groups [list|delete <name>]\n")
	os.Exit(1)
	return true
}

func cliUsers(dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()

	users, err := st.ListUsers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(users) == 0 {
		fmt.Println("No persistent users found.")
		return true
	}
	for _, u := range users {
		fmt.Printf("  [%d] %s\n", u.ID, u.Name)
	}
	return true
}
