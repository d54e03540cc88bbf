package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/lanchat/internal/engine"
)

func newSendCommand() *cobra.Command {
	var nick, iface, text string
	var joinWait time.Duration

	cmd := &cobra.Command{
		Use:   "send",
		Short: "join briefly, send one message to whoever is listening, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(nick, iface, text, joinWait)
		},
	}
	cmd.Flags().StringVar(&nick, "nick", "", "display nick (required)")
	cmd.Flags().StringVar(&iface, "iface", "", "network interface to bind to (auto-detected if only one is eligible)")
	cmd.Flags().StringVar(&text, "text", "", "message to send (required)")
	cmd.Flags().DurationVar(&joinWait, "join-wait", 2*time.Second, "how long to listen for contacts before sending")
	cmd.MarkFlagRequired("nick")
	cmd.MarkFlagRequired("text")
	return cmd
}

func runSend(nick, iface, text string, joinWait time.Duration) error {
	eng, _, err := joinChat(nick, iface, false)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	g.Go(func() error {
		defer cancel()

		select {
		case <-time.After(joinWait):
		case <-gctx.Done():
			return gctx.Err()
		}

		if err := eng.SendText(text); err != nil {
			return fmt.Errorf("lanchat: %w", err)
		}

		for {
			select {
			case ev, ok := <-eng.Events():
				if !ok {
					return nil
				}
				if ev.Kind == engine.TextSent {
					if len(ev.FailedPeerIDs) > 0 {
						fmt.Printf("delivery failed for %d peer(s)\n", len(ev.FailedPeerIDs))
					}
					return nil
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}
