// Package device defines the persisted device row and the rendering rules for
// its activity columns.
package device

import (
	"fmt"
	"strings"
)

// Placeholder values written to the store.
const (
	// Unknown is stored for inventory attributes the upstream did not provide.
	Unknown = "N/A"

	// NotActive is the active_dates value for devices missing from a report.
	NotActive = "Not active"

	// ZeroDuration is the total_active_duration value for inactive devices.
	ZeroDuration = "0 sec"

	// NotUsed is the approximate_duration bucket for zero activity.
	NotUsed = "Not used"
)

// Inventory holds the columns owned by inventory sync.
type Inventory struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	SerialNo         string `json:"serial_no"`
	Udise            string `json:"udise,omitempty"`
	District         string `json:"district"`
	Block            string `json:"block"`
	PowerOnTime      string `json:"power_on_time"`
	PowerOffTime     string `json:"power_off_time"`
	LastSeenOn       string `json:"last_seen_on"`
	ConnectionState  string `json:"connection_state"`
	ConnectionStatus string `json:"connection_status"`
	DeviceStatus     string `json:"device_status"`
	HMName           string `json:"hm_name"`
	HMContactNumbers string `json:"hm_contact_numbers"`
}

// Record is one persisted device row. Activity columns are nil until the
// first activity run touches the device.
type Record struct {
	Inventory
	ActiveDates         *string `json:"active_dates"`
	TotalActiveDuration *string `json:"total_active_duration"`
	ApproximateDuration *string `json:"approximate_duration"`
}

// Active reports whether the last activity run saw the device active.
func (r Record) Active() bool {
	return r.TotalActiveDuration != nil && *r.TotalActiveDuration != ZeroDuration
}

// ActivityUpdate holds the columns owned by activity reconciliation.
type ActivityUpdate struct {
	ID                  int64
	ActiveDates         string
	TotalActiveDuration string
	ApproximateDuration string
}

// ActiveUpdate renders the activity columns for a device seen active.
// dates must already be sorted.
func ActiveUpdate(id int64, seconds int64, dates []string) ActivityUpdate {
	return ActivityUpdate{
		ID:                  id,
		ActiveDates:         strings.Join(dates, ", "),
		TotalActiveDuration: FormatDuration(seconds),
		ApproximateDuration: ApproximateDuration(seconds),
	}
}

// InactiveUpdate returns the activity columns for a device that was not
// reported in the window.
func InactiveUpdate(id int64) ActivityUpdate {
	return ActivityUpdate{
		ID:                  id,
		ActiveDates:         NotActive,
		TotalActiveDuration: ZeroDuration,
		ApproximateDuration: NotUsed,
	}
}

// FormatDuration renders seconds as "H hr M min S sec".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d hr %d min %d sec", seconds/3600, (seconds%3600)/60, seconds%60)
}

// ApproximateDuration buckets seconds into a coarse label.
func ApproximateDuration(seconds int64) string {
	switch {
	case seconds <= 0:
		return NotUsed
	case seconds < 3600:
		return "less than an hour"
	case seconds < 7200:
		return "about 1 hour"
	case seconds < 10800:
		return "about 2 hours"
	case seconds < 14400:
		return "about 3 hours"
	default:
		return "more than 4 hours"
	}
}
