package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

func tailCmd() *cobra.Command {
	var (
		flags     clientFlags
		platforms []string
		since     uint64
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream gateway events (received, rejected, thread and platform events)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			hello := c.Hello()
			fmt.Fprintf(os.Stderr, "connected as %s (resumed: %v, last seq %d)\n", hello.ClientID, hello.Resumed, hello.LastSeq)

			if len(platforms) > 0 {
				// Narrow the default "*" subscription to the requested platforms.
				if _, err := c.Unsubscribe(ctx, protocol.SubscribeAll); err != nil {
					return err
				}
				for _, p := range platforms {
					if _, err := c.Subscribe(ctx, p); err != nil {
						return fmt.Errorf("subscribe %s: %w", p, err)
					}
				}
			}

			if cmd.Flags().Changed("since") {
				events, _, err := c.EventsSince(ctx, since)
				if err != nil {
					return err
				}
				for _, ev := range events {
					printEvent(os.Stdout, ev)
				}
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-c.Events():
					if !ok {
						return c.Err()
					}
					printEvent(os.Stdout, ev)
				}
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVarP(&platforms, "platform", "p", nil, "only show events of these platforms (repeatable)")
	cmd.Flags().Uint64Var(&since, "since", 0, "first replay buffered events after this sequence number")
	return cmd
}

func printEvent(w io.Writer, ev protocol.EventFrame) {
	payload, _ := json.Marshal(ev.Payload)
	platform := ev.Platform
	if platform == "" {
		platform = "-"
	}
	fmt.Fprintf(w, "%s %6d %-22s %-8s %s\n",
		time.Now().Format("15:04:05"), ev.Seq, ev.Event, platform, payload)
}
