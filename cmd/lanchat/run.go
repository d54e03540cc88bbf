package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/lanchat/internal/tui"
)

func newRunCommand() *cobra.Command {
	var nick, iface string
	var headless, debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "join the chat and open the TUI (or run headless)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(nick, iface, headless, debug)
		},
	}
	cmd.Flags().StringVar(&nick, "nick", "", "display nick (required)")
	cmd.Flags().StringVar(&iface, "iface", "", "network interface to bind to (auto-detected if only one is eligible)")
	cmd.Flags().BoolVar(&headless, "headless", false, "drive the chat from stdin/stdout instead of the TUI")
	cmd.Flags().BoolVar(&debug, "debug", false, "raise log verbosity")
	cmd.MarkFlagRequired("nick")
	return cmd
}

func runChat(nick, iface string, headless, debug bool) error {
	eng, _, err := joinChat(nick, iface, debug)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })

	if headless {
		g.Go(func() error {
			defer cancel()
			return runHeadless(gctx, eng)
		})
	} else {
		g.Go(func() error {
			defer cancel()
			p := tea.NewProgram(tui.New(eng), tea.WithAltScreen())
			_, err := p.Run()
			return err
		})
	}

	return g.Wait()
}
