// Package config loads the engine's tunables from environment
// variables (via github.com/caarlos0/env), letting cmd/lanchat's flags
// override the result before it is validated.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings holds every tunable a deployment may need to adjust: the
// multicast group/port, the interface override, and the retry/timer
// knobs the engine uses.
type Settings struct {
	Port          int    `env:"LANCHAT_PORT" envDefault:"42424"`
	GroupAddr     string `env:"LANCHAT_GROUP_ADDR" envDefault:"239.255.42.42"`
	InterfaceName string `env:"LANCHAT_IFACE" envDefault:""`

	TextMaxAttempts       int `env:"LANCHAT_TEXT_MAX_ATTEMPTS" envDefault:"3"`
	TextAttemptPeriodMs   int `env:"LANCHAT_TEXT_ATTEMPT_PERIOD_MS" envDefault:"1000"`
	TextMaxStoredRecords  int `env:"LANCHAT_TEXT_MAX_STORED_RECORDS" envDefault:"10"`
	AdvertisingPeriodMs   int `env:"LANCHAT_ADVERTISING_PERIOD_MS" envDefault:"5000"`
	ContactExpiryPeriodMs int `env:"LANCHAT_CONTACT_EXPIRY_PERIOD_MS" envDefault:"11000"`

	DebugWasteEachNthSent     int `env:"LANCHAT_DEBUG_WASTE_SENT" envDefault:"7"`
	DebugWasteEachNthReceived int `env:"LANCHAT_DEBUG_WASTE_RECEIVED" envDefault:"7"`
}

// Load reads Settings from the environment, applying the defaults
// documented above for any variable that is unset.
func Load() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// Validate rejects a Settings value that could not be turned into a
// running engine: an unparseable or non-multicast group address, a
// port out of range, or a non-positive timer period or count.
func (s Settings) Validate() error {
	ip := net.ParseIP(s.GroupAddr)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("config: group address %q is not a dotted IPv4 address", s.GroupAddr)
	}
	if !ip.IsMulticast() {
		return fmt.Errorf("config: group address %q is not in the multicast range 224.0.0.0/4", s.GroupAddr)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("config: port %d is out of range", s.Port)
	}
	for name, v := range map[string]int{
		"text max attempts":        s.TextMaxAttempts,
		"text attempt period ms":   s.TextAttemptPeriodMs,
		"text max stored records":  s.TextMaxStoredRecords,
		"advertising period ms":    s.AdvertisingPeriodMs,
		"contact expiry period ms": s.ContactExpiryPeriodMs,
	} {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, v)
		}
	}
	return nil
}

// TextAttemptPeriod returns TextAttemptPeriodMs as a time.Duration.
func (s Settings) TextAttemptPeriod() time.Duration {
	return time.Duration(s.TextAttemptPeriodMs) * time.Millisecond
}

// AdvertisingPeriod returns AdvertisingPeriodMs as a time.Duration.
func (s Settings) AdvertisingPeriod() time.Duration {
	return time.Duration(s.AdvertisingPeriodMs) * time.Millisecond
}

// ContactExpiryPeriod returns ContactExpiryPeriodMs as a time.Duration.
func (s Settings) ContactExpiryPeriod() time.Duration {
	return time.Duration(s.ContactExpiryPeriodMs) * time.Millisecond
}
