package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/marcus/boardsync/internal/api"
	"github.com/marcus/boardsync/internal/board"
	"github.com/marcus/boardsync/internal/position"
	"github.com/marcus/boardsync/internal/store"
)

func runAdmin(args []string) {
	if len(args) == 0 {
		printAdminUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "check":
		err = runAdminCheck(args[1:], os.Stdout)
	case "repair":
		err = runAdminRepair(args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s\n", args[0])
		printAdminUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: boardd admin <command> [flags]

Commands:
  check   Report lists whose item positions are not 0..n-1
  repair  Renumber every such list (the server must be stopped)`)
}

// openAdminStore parses the shared admin flags and opens the database the
// server would use.
func openAdminStore(name string, args []string) (*store.Store, error) {
	cfg, err := api.LoadConfig()
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	dbPath := fs.String("db", cfg.DatabaseURL, "database path (default DATABASE_URL)")
	driver := fs.String("driver", cfg.DBDriver, "sqlite driver (default DB_DRIVER)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return store.Open(*driver, *dbPath)
}

func runAdminCheck(args []string, w io.Writer) error {
	st, err := openAdminStore("check", args)
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.Items(context.Background())
	if err != nil {
		return err
	}
	violations := position.Check(items)
	if len(violations) == 0 {
		fmt.Fprintf(w, "ok: %d items, all lists contiguous\n", len(items))
		return nil
	}
	for _, v := range violations {
		fmt.Fprintln(w, v.Error())
	}
	return fmt.Errorf("%d lists need repair", len(violations))
}

func runAdminRepair(args []string, w io.Writer) error {
	st, err := openAdminStore("repair", args)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	items, err := st.Items(ctx)
	if err != nil {
		return err
	}

	// No viewers are connected while the server is down.
	svc := board.NewService(board.SQLStore(st), board.Discard)
	for _, v := range position.Check(items) {
		changes, err := svc.RepairList(ctx, v.ListID)
		if err != nil {
			return fmt.Errorf("repair %s: %w", v.ListID, err)
		}
		fmt.Fprintf(w, "%s: renumbered %d items\n", v.ListID, len(changes))
	}
	fmt.Fprintln(w, "ok")
	return nil
}
