package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/output"
)

var addListCmd = &cobra.Command{
	Use:     "add-list <title>",
	Short:   "Create a list",
	GroupID: "board",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pos *int
		if cmd.Flags().Changed("position") {
			p, _ := cmd.Flags().GetInt("position")
			pos = &p
		}

		l, err := newClient(cmd).CreateList(mutationContext(cmd), args[0], pos)
		if err != nil {
			return fail(cmd, err)
		}
		if jsonOutput(cmd) {
			return output.JSON(l)
		}
		fmt.Printf("CREATED %s %q\n", l.ID, l.Title)
		return nil
	},
}

var rmListCmd = &cobra.Command{
	Use:     "rm-list <list-id>",
	Short:   "Delete a list and every item in it",
	GroupID: "board",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient(cmd).DeleteList(mutationContext(cmd), args[0])
		if err != nil {
			return failRef(cmd, err, args[0])
		}
		if jsonOutput(cmd) {
			return output.JSON(res)
		}
		fmt.Printf("DELETED %s: %s\n", args[0], res.Message)
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:     "repair <list-id>",
	Short:   "Renumber a list's items back to 0..n-1",
	Long:    `Closes gaps and duplicate positions in a list, keeping the current order. Every renumbered item is broadcast as a move.`,
	GroupID: "board",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changes, err := newClient(cmd).RepairList(mutationContext(cmd), args[0])
		if err != nil {
			return failRef(cmd, err, args[0])
		}
		if jsonOutput(cmd) {
			return output.JSON(changes)
		}
		if len(changes) == 0 {
			fmt.Printf("%s is already contiguous\n", args[0])
			return nil
		}
		for _, ch := range changes {
			fmt.Printf("  %s  %d -> %d\n", ch.ItemID, ch.OldPosition, ch.NewPosition)
		}
		output.Success("Renumbered %d items in %s", len(changes), args[0])
		return nil
	},
}

func init() {
	addListCmd.Flags().Int("position", 0, "display position among lists (default: last)")
	rootCmd.AddCommand(addListCmd, rmListCmd, repairCmd)
}
