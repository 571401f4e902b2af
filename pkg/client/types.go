package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Target identifies one upstream account (a project) and how to reach it.
type Target struct {
	// Key is the project key used for logs and metrics.
	Key string

	// BaseURL is the API root, e.g. "https://api.scalefusion.com".
	BaseURL string

	// APIKey is sent as "Authorization: Token <APIKey>".
	APIKey string

	// DeviceGroupID optionally restricts both reports to one device group.
	DeviceGroupID string
}

// DateRange is an inclusive calendar-date window for availability reports.
type DateRange struct {
	From time.Time
	To   time.Time
}

// DateLayout is the wire format of report dates.
const DateLayout = "2006-01-02"

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DateLayout, strings.TrimSpace(from))
	if err != nil {
		return DateRange{}, err
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(to))
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{From: f, To: t}, nil
}

// Valid reports whether From is not after To.
func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.From.After(r.To)
}

// String renders the window as "from..to".
func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// FlexInt decodes integers that may arrive as numbers, numeric strings or
// null. Anything unparsable decodes as 0. Values beyond the int64 range
// saturate at math.MaxInt64 and negative overflow decodes as 0.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			*n = 0
			return nil
		}
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		*n = 0
		return nil
	}
	*n = clampFloat(f)
	return nil
}

// clampFloat truncates f to an int64 without relying on the platform's
// out-of-range conversion.
func clampFloat(f float64) FlexInt {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f < math.MinInt64:
		return 0
	}
	return FlexInt(f)
}

// FlexString decodes strings that may arrive as numbers, booleans or null.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(data)
	return nil
}

// CustomProperty is a named free-form attribute attached to a device.
type CustomProperty struct {
	Name  string     `json:"name"`
	Value FlexString `json:"value"`
}

// InventoryDevice is one device as returned by the inventory endpoint.
type InventoryDevice struct {
	ID               int64            `json:"id"`
	Name             FlexString       `json:"name"`
	SerialNo         FlexString       `json:"serial_no"`
	PowerOnTime      FlexString       `json:"power_on_time"`
	PowerOffTime     FlexString       `json:"power_off_time"`
	LastSeenOn       FlexString       `json:"last_seen_on"`
	ConnectionState  FlexString       `json:"connection_state"`
	ConnectionStatus FlexString       `json:"connection_status"`
	DeviceStatus     FlexString       `json:"device_status"`
	CustomProperties []CustomProperty `json:"custom_properties"`
}

// Property returns the value of the named custom property.
func (d InventoryDevice) Property(name string) (string, bool) {
	for _, p := range d.CustomProperties {
		if p.Name == name {
			v := strings.TrimSpace(string(p.Value))
			return v, v != ""
		}
	}
	return "", false
}

// DevicesPage is one cursor page of the inventory endpoint.
type DevicesPage struct {
	Devices []struct {
		Device InventoryDevice `json:"device"`
	} `json:"devices"`
	NextCursor FlexString `json:"next_cursor"`
}

// Items flattens the device envelopes.
func (p *DevicesPage) Items() []InventoryDevice {
	out := make([]InventoryDevice, 0, len(p.Devices))
	for _, d := range p.Devices {
		out = append(out, d.Device)
	}
	return out
}

// AvailabilityRecord is one availability interval reported for a device.
type AvailabilityRecord struct {
	DeviceID        int64   `json:"device_id"`
	DeviceName      string  `json:"device_name"`
	Status          string  `json:"availability_status"`
	FromDate        string  `json:"from_date"`
	DurationSeconds FlexInt `json:"duration_in_seconds"`
}

// AvailabilityPage is one page of the availability report.
type AvailabilityPage struct {
	Devices     []AvailabilityRecord `json:"devices"`
	TotalPages  FlexInt              `json:"total_pages"`
	CurrentPage FlexInt              `json:"current_page"`

	// Malformed counts records dropped because they did not decode.
	Malformed int `json:"-"`
}

// UnmarshalJSON decodes the page record by record so that one malformed
// record is dropped instead of failing the page.
func (p *AvailabilityPage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Devices     []json.RawMessage `json:"devices"`
		TotalPages  FlexInt           `json:"total_pages"`
		CurrentPage FlexInt           `json:"current_page"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*p = AvailabilityPage{
		Devices:     make([]AvailabilityRecord, 0, len(wire.Devices)),
		TotalPages:  wire.TotalPages,
		CurrentPage: wire.CurrentPage,
	}
	for _, raw := range wire.Devices {
		var r AvailabilityRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			p.Malformed++
			continue
		}
		p.Devices = append(p.Devices, r)
	}
	return nil
}

// Pages returns the reported total page count, never less than 1.
func (p *AvailabilityPage) Pages() int {
	if p.TotalPages < 1 {
		return 1
	}
	return int(p.TotalPages)
}
