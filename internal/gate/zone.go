package gate

import (
	"fmt"
	"strings"
	"time"

	// Embed the zone database so evaluation does not depend on the host's
	// /usr/share/zoneinfo being present.
	_ "time/tzdata"
)

// friendlyZones maps the display names used by Rails-style configs onto
// IANA identifiers. Lookups are case-insensitive.
var friendlyZones = map[string]string{
	"eastern time (us & canada)":  "America/New_York",
	"central time (us & canada)":  "America/Chicago",
	"mountain time (us & canada)": "America/Denver",
	"pacific time (us & canada)":  "America/Los_Angeles",
	"alaska":                      "America/Juneau",
	"hawaii":                      "Pacific/Honolulu",
	"arizona":                     "America/Phoenix",
	"atlantic time (canada)":      "America/Halifax",
	"london":                      "Europe/London",
	"berlin":                      "Europe/Berlin",
	"paris":                       "Europe/Paris",
	"amsterdam":                   "Europe/Amsterdam",
	"moscow":                      "Europe/Moscow",
	"new delhi":                   "Asia/Kolkata",
	"jakarta":                     "Asia/Jakarta",
	"singapore":                   "Asia/Singapore",
	"tokyo":                       "Asia/Tokyo",
	"sydney":                      "Australia/Sydney",
	"utc":                         "UTC",
}

// LoadZone resolves an IANA name ("America/New_York") or a friendly display
// name ("Eastern Time (US & Canada)"). Unknown names fail with ErrUnknownZone;
// there is no fallback zone.
func LoadZone(name string) (*time.Location, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return nil, fmt.Errorf("empty zone name: %w", ErrUnknownZone)
	}
	if iana, ok := friendlyZones[strings.ToLower(n)]; ok {
		n = iana
	}
	// time.LoadLocation treats "Local" as the host zone; a gate must name its zone.
	if strings.EqualFold(n, "local") {
		return nil, fmt.Errorf("zone %q: %w", name, ErrUnknownZone)
	}
	loc, err := time.LoadLocation(n)
	if err != nil {
		return nil, fmt.Errorf("zone %q: %w", name, ErrUnknownZone)
	}
	return loc, nil
}
