package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marcus/boardsync/internal/client"
	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/output"
)

// eventFeed hands presented events from the reconciler to the printer.
type eventFeed struct {
	ch chan events.Envelope
}

func (f *eventFeed) Presented(ev events.Envelope) {
	select {
	case f.ch <- ev:
	default:
		// The printer is behind; the mirror is still up to date.
	}
}

func (f *eventFeed) Failed(action string, err error) {
	output.Warning("%s rolled back: %v", action, err)
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Follow board changes live",
	Long:    `Subscribes to the server's realtime stream and prints every change. With --board the whole board is redrawn after each change.`,
	GroupID: "realtime",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		redraw, _ := cmd.Flags().GetBool("board")
		jsonOut := jsonOutput(cmd)

		feed := &eventFeed{ch: make(chan events.Envelope, 64)}
		r := client.NewReconciler(newClient(cmd), feed)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return r.Run(ctx)
		})
		g.Go(func() error {
			select {
			case <-r.Ready():
			case <-ctx.Done():
				return nil
			}
			if redraw {
				fmt.Println(output.RenderBoard(r.Lists(), r.Items(""), output.TerminalWidth(0)))
			} else if !jsonOut {
				output.Info("watching %d lists, %d items (ctrl-c to stop)", len(r.Lists()), len(r.Items("")))
			}

			return printFeed(ctx, r, feed.ch, jsonOut, redraw)
		})

		if err := g.Wait(); err != nil {
			return fail(cmd, err)
		}
		return nil
	},
}

// printFeed writes each presented event until ctx ends.
func printFeed(ctx context.Context, r *client.Reconciler, feed <-chan events.Envelope, jsonOut, redraw bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-feed:
			switch {
			case jsonOut:
				if err := output.JSON(ev); err != nil {
					return fmt.Errorf("print %s: %w", ev.Type, err)
				}
			case redraw:
				fmt.Println(output.FormatEvent(ev))
				fmt.Println(output.RenderBoard(r.Lists(), r.Items(""), output.TerminalWidth(0)))
			default:
				fmt.Println(output.FormatEvent(ev))
			}
		}
	}
}

func init() {
	watchCmd.Flags().Bool("board", false, "redraw the whole board after each change")
	rootCmd.AddCommand(watchCmd)
}
