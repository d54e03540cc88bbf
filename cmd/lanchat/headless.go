package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/samcharles93/lanchat/internal/engine"
)

// runHeadless drives eng from stdin lines and prints events to
// stdout/stderr, for scripting and testing without a terminal.
func runHeadless(ctx context.Context, eng *engine.Engine) error {
	go printEvents(eng)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			eng.LeaveChat()
			return nil

		case line, ok := <-lines:
			if !ok {
				eng.LeaveChat()
				return nil
			}
			if err := handleHeadlessLine(eng, line); err != nil {
				return err
			}
		}
	}
}

func handleHeadlessLine(eng *engine.Engine, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if line == "/quit" || line == "/exit" {
		eng.LeaveChat()
		return nil
	}
	if err := eng.SendText(line); err != nil {
		fmt.Fprintf(os.Stderr, "lanchat: %v\n", err)
	}
	return nil
}

func printEvents(eng *engine.Engine) {
	for ev := range eng.Events() {
		switch ev.Kind {
		case engine.TextReceived:
			fmt.Printf("[%s] %s\n", ev.SenderNick, ev.Text)
		case engine.UserJoined:
			fmt.Printf("* %s joined\n", ev.Nick)
		case engine.UserLeft:
			fmt.Printf("* %s left\n", ev.Nick)
		case engine.TextSent:
			if len(ev.FailedPeerIDs) > 0 {
				fmt.Printf("* delivery failed for %d peer(s)\n", len(ev.FailedPeerIDs))
			}
		case engine.NetworkError:
			fmt.Fprintf(os.Stderr, "lanchat: network error: %s\n", ev.Message)
		}
	}
}
