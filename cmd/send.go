package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/pkg/gatewayclient"
)

func sendCmd() *cobra.Command {
	var (
		flags     clientFlags
		platform  string
		channelID string
		accountID string
		replyTo   string
		inbound   bool
		userID    string
	)
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a reply to a platform channel, or inject a test inbound message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := bus.ParsePlatform(platform)
			if !p.Known() {
				return fmt.Errorf("unknown platform %q (want discord, slack or telegram)", platform)
			}
			if channelID == "" {
				return fmt.Errorf("--channel is required")
			}
			text := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			c, err := flags.dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			if inbound {
				msg := bus.GatewayMessage{
					Platform:  p,
					UserID:    userID,
					ChannelID: channelID,
					Content:   text,
					Metadata:  map[string]any{"account_id": accountID},
				}
				id, err := c.Submit(ctx, msg)
				if err != nil {
					return err
				}
				fmt.Printf("queued %s\n", id)
				return nil
			}

			res, err := c.SendReply(ctx, gatewayclient.Reply{
				Platform:  string(p),
				ChannelID: channelID,
				Content:   text,
				ReplyTo:   replyTo,
				AccountID: accountID,
			})
			if err != nil {
				return err
			}
			for _, r := range res.Results {
				if r.Success {
					fmt.Printf("chunk %d: delivered\n", r.ChunkIndex)
				} else {
					fmt.Printf("chunk %d: failed: %s\n", r.ChunkIndex, r.Error)
				}
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d chunks failed", len(res.Failed), len(res.Results))
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&platform, "platform", "", "discord, slack or telegram")
	cmd.Flags().StringVar(&channelID, "channel", "", "platform channel or chat id")
	cmd.Flags().StringVar(&accountID, "account", "default", "configured account id")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "platform message id to reply to")
	cmd.Flags().BoolVar(&inbound, "inbound", false, "submit the text as an inbound message instead of replying")
	cmd.Flags().StringVar(&userID, "user", "cli", "sender id for --inbound")
	return cmd
}
