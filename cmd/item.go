package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/client"
	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
)

var addCmd = &cobra.Command{
	Use:     "add <list-id> <title>",
	Short:   "Append an item to a list",
	GroupID: "items",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")

		it, err := newClient(cmd).CreateItem(mutationContext(cmd), args[0], args[1], desc)
		if err != nil {
			return failRef(cmd, err, args[0])
		}
		if jsonOutput(cmd) {
			return output.JSON(it)
		}
		fmt.Printf("CREATED %s in %s at %d\n", it.ID, it.ListID, it.Position)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:     "get <item-id>",
	Short:   "Show one item",
	GroupID: "items",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		it, err := newClient(cmd).Item(cmdContext(cmd), args[0])
		if err != nil {
			return failRef(cmd, err, args[0])
		}
		if jsonOutput(cmd) {
			return output.JSON(it)
		}
		fmt.Print(output.FormatItemLong(it))
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <item-id>",
	Short: "Move an item within its list or to another list",
	Long: `Moves an item. With --list it goes to another list (at --position, default 0);
without it, --position reorders the item inside its current list.
Out-of-range positions are clamped.`,
	GroupID: "items",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.ItemPatch
		if cmd.Flags().Changed("list") {
			l, _ := cmd.Flags().GetString("list")
			patch.ListID = &l
		}
		if cmd.Flags().Changed("position") {
			p, _ := cmd.Flags().GetInt("position")
			patch.Position = &p
		}
		if patch.IsEmpty() {
			return fail(cmd, fmt.Errorf("%w: move needs --list or --position", client.ErrValidation))
		}
		return runUpdate(cmd, args[0], patch)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <item-id>",
	Short:   "Change an item's title or description",
	GroupID: "items",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.ItemPatch
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			patch.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if patch.IsEmpty() {
			return fail(cmd, fmt.Errorf("%w: edit needs --title or --description", client.ErrValidation))
		}
		return runUpdate(cmd, args[0], patch)
	},
}

func runUpdate(cmd *cobra.Command, id string, patch models.ItemPatch) error {
	it, err := newClient(cmd).UpdateItem(mutationContext(cmd), id, patch)
	if err != nil {
		return failRef(cmd, err, id)
	}
	if jsonOutput(cmd) {
		return output.JSON(it)
	}
	fmt.Printf("UPDATED %s (%s at %d)\n", it.ID, it.ListID, it.Position)
	return nil
}

var rmCmd = &cobra.Command{
	Use:     "rm <item-id...>",
	Aliases: []string{"delete"},
	Short:   "Delete one or more items",
	GroupID: "items",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		var firstErr error
		for _, id := range args {
			it, err := c.DeleteItem(mutationContext(cmd), id)
			if err != nil {
				failRef(cmd, err, id)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if jsonOutput(cmd) {
				output.JSON(it)
				continue
			}
			fmt.Printf("DELETED %s\n", it.ID)
		}
		return firstErr
	},
}

func init() {
	addCmd.Flags().StringP("description", "d", "", "item description")
	moveCmd.Flags().String("list", "", "destination list id")
	moveCmd.Flags().Int("position", 0, "destination position")
	editCmd.Flags().String("title", "", "new title")
	editCmd.Flags().StringP("description", "d", "", "new description")

	rootCmd.AddCommand(addCmd, getCmd, moveCmd, editCmd, rmCmd)
}
