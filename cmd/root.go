package cmd

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/client"
	"github.com/marcus/boardsync/internal/output"
	"github.com/marcus/boardsync/internal/suggest"
)

var version string

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "board",
	Short: "Realtime kanban board client",
	Long: `board - A command-line client for a shared kanban board.

Every change is pushed to all connected viewers; use "board watch" to follow them live.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	// Usage template that shows aliases inline
	rootCmd.SetUsageTemplate(`Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.AddGroup(
		&cobra.Group{ID: "board", Title: "Board Commands:"},
		&cobra.Group{ID: "items", Title: "Item Commands:"},
		&cobra.Group{ID: "realtime", Title: "Realtime Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	defaultServer := os.Getenv("BOARD_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().String("server", defaultServer, "board server URL (env BOARD_SERVER)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
}

func newClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	return client.New(server)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// mutationContext tags a write with a fresh correlation id so server logs
// and the echoed event can be matched to this invocation.
func mutationContext(cmd *cobra.Command) context.Context {
	return client.WithCorrelationID(cmdContext(cmd), uuid.NewString())
}

// fail prints err in the selected output mode and returns it.
func fail(cmd *cobra.Command, err error) error {
	if jsonOutput(cmd) {
		output.JSONError(errorCode(err), err.Error())
	} else {
		output.Error("%v", err)
	}
	return err
}

// failRef is fail for commands that take a list or item id. When the id
// is unknown it also prints the closest ids and titles on the board.
func failRef(cmd *cobra.Command, err error, ref string) error {
	fail(cmd, err)
	if jsonOutput(cmd) || !errors.Is(err, client.ErrNotFound) {
		return err
	}
	if hint := suggest.Hint(suggest.Closest(ref, boardCandidates(cmd))); hint != "" {
		output.Info("%s", hint)
	}
	return err
}

// boardCandidates lists every list and item as a suggestion candidate.
// Fetch errors yield an empty set; the hint is best effort.
func boardCandidates(cmd *cobra.Command) []suggest.Candidate {
	c := newClient(cmd)
	ctx := cmdContext(cmd)
	var out []suggest.Candidate
	if lists, err := c.Lists(ctx); err == nil {
		for _, l := range lists {
			out = append(out, suggest.Candidate{ID: l.ID, Label: l.Title})
		}
	}
	if items, err := c.Items(ctx); err == nil {
		for _, it := range items {
			out = append(out, suggest.Candidate{ID: it.ID, Label: it.Title})
		}
	}
	return out
}

func errorCode(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, client.ErrValidation):
		return output.ErrCodeInvalidInput
	case errors.Is(err, client.ErrRateLimited), errors.As(err, &apiErr):
		return output.ErrCodeServerError
	default:
		return output.ErrCodeUnreachable
	}
}
