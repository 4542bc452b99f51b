package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/models"
	"github.com/marcus/boardsync/internal/output"
)

var showCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"board"},
	Short:   "Render the whole board as columns",
	GroupID: "board",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		ctx := cmdContext(cmd)

		lists, err := c.Lists(ctx)
		if err != nil {
			return fail(cmd, err)
		}
		items, err := c.Items(ctx)
		if err != nil {
			return fail(cmd, err)
		}

		if jsonOutput(cmd) {
			return output.JSON(map[string]any{"lists": lists, "items": items})
		}
		fmt.Println(output.RenderBoard(lists, items, output.TerminalWidth(0)))
		return nil
	},
}

var listsCmd = &cobra.Command{
	Use:     "lists",
	Short:   "List all lists with their item counts",
	GroupID: "board",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		ctx := cmdContext(cmd)

		lists, err := c.Lists(ctx)
		if err != nil {
			return fail(cmd, err)
		}
		if jsonOutput(cmd) {
			return output.JSON(lists)
		}
		if len(lists) == 0 {
			fmt.Println("No lists")
			return nil
		}

		items, err := c.Items(ctx)
		if err != nil {
			return fail(cmd, err)
		}
		counts := make(map[string]int)
		for _, it := range items {
			counts[it.ListID]++
		}
		for _, l := range lists {
			fmt.Println(output.FormatList(l, counts[l.ID]))
		}
		return nil
	},
}

var itemsCmd = &cobra.Command{
	Use:     "items [list-id]",
	Short:   "List items, optionally for one list",
	GroupID: "board",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)

		items, err := c.Items(cmdContext(cmd))
		if err != nil {
			return fail(cmd, err)
		}
		if len(args) == 1 {
			var in []models.Item
			for _, it := range items {
				if it.ListID == args[0] {
					in = append(in, it)
				}
			}
			items = in
		}

		if jsonOutput(cmd) {
			if items == nil {
				items = []models.Item{}
			}
			return output.JSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No items")
			return nil
		}
		current := ""
		for _, it := range items {
			if len(args) == 0 && it.ListID != current {
				current = it.ListID
				fmt.Println(output.SectionHeader(current))
			}
			fmt.Println(output.FormatItemShort(it))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Check that the board server is reachable",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		health, err := c.HealthCheck(cmdContext(cmd))
		if err != nil {
			return fail(cmd, err)
		}
		if jsonOutput(cmd) {
			return output.JSON(health)
		}
		output.Success("%s is %s (driver %s)", c.BaseURL, health.Status, health.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd, listsCmd, itemsCmd, statusCmd)
}
