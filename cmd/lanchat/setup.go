package main

import (
	"fmt"
	"log"

	"github.com/samcharles93/lanchat/internal/config"
	"github.com/samcharles93/lanchat/internal/engine"
	"github.com/samcharles93/lanchat/internal/transport"
)

// joinChat loads configuration from the environment, applies any CLI
// overrides, validates it, joins the multicast group, and constructs
// an Engine for nick. Failures here are the "fatal at startup" cases
// of the error handling design: nothing is retried, nothing runs.
func joinChat(nick, iface string, debug bool) (*engine.Engine, *transport.Transport, error) {
	if debug {
		log.SetFlags(log.Ltime | log.Lmicroseconds)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("lanchat: %w", err)
	}
	if iface != "" {
		cfg.InterfaceName = iface
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("lanchat: %w", err)
	}

	tport, err := transport.New(transport.Config{
		Port:                      cfg.Port,
		GroupAddr:                 cfg.GroupAddr,
		ReadBufSize:               2048,
		InterfaceName:             cfg.InterfaceName,
		DebugWasteEachNthSent:     cfg.DebugWasteEachNthSent,
		DebugWasteEachNthReceived: cfg.DebugWasteEachNthReceived,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("lanchat: failed to join multicast group: %w", err)
	}

	eng, err := engine.New(tport, nick, engine.Settings{
		TextMaxAttempts:      cfg.TextMaxAttempts,
		TextAttemptPeriod:    cfg.TextAttemptPeriod(),
		TextMaxStoredRecords: cfg.TextMaxStoredRecords,
		AdvertisingPeriod:    cfg.AdvertisingPeriod(),
		ContactExpiryPeriod:  cfg.ContactExpiryPeriod(),
	})
	if err != nil {
		tport.Close()
		return nil, nil, fmt.Errorf("lanchat: %w", err)
	}

	if debug {
		log.Printf("lanchat: joined %s:%d as %q via %s", cfg.GroupAddr, cfg.Port, nick, tport.OwnID())
	}

	return eng, tport, nil
}
