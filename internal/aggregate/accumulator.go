// Package aggregate folds availability report pages into per-device activity
// totals for one ingestion run.
package aggregate

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fleet_aggregate_records_total",
	Help: "Availability records folded by outcome",
}, []string{"outcome"})

// MaxRecordSeconds caps the duration credited by a single active record.
const MaxRecordSeconds = 99999

// Entry is the activity total of one device.
type Entry struct {
	DeviceID int64
	Seconds  int64
	// Dates are distinct YYYY-MM-DD values, ascending.
	Dates []string
}

// FoldStats counts how the records of one Fold call were handled.
type FoldStats struct {
	Active      int
	Observed    int
	SkippedName int
	SkippedDate int
	// SkippedMalformed counts records dropped while decoding the page.
	SkippedMalformed int
}

type tally struct {
	seconds int64
	dates   map[string]struct{}
}

// Accumulator collects activity for one run. It is safe for concurrent use.
type Accumulator struct {
	mu       sync.Mutex
	devices  map[int64]*tally
	observed map[int64]struct{}
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{
		devices:  make(map[int64]*tally),
		observed: make(map[int64]struct{}),
	}
}

// Fold adds one page of records.
func (a *Accumulator) Fold(records []client.AvailabilityRecord) FoldStats {
	var stats FoldStats

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range records {
		if strings.TrimSpace(r.DeviceName) == "" {
			stats.SkippedName++
			continue
		}
		a.observed[r.DeviceID] = struct{}{}
		stats.Observed++

		if !strings.EqualFold(strings.TrimSpace(r.Status), "active") {
			continue
		}

		date, ok := recordDate(r.FromDate)
		if !ok {
			stats.SkippedDate++
			continue
		}

		t := a.devices[r.DeviceID]
		if t == nil {
			t = &tally{dates: make(map[string]struct{})}
			a.devices[r.DeviceID] = t
		}
		t.seconds += creditedSeconds(int64(r.DurationSeconds))
		t.dates[date] = struct{}{}
		stats.Active++
	}

	recordsTotal.WithLabelValues("active").Add(float64(stats.Active))
	recordsTotal.WithLabelValues("inactive").Add(float64(stats.Observed - stats.Active - stats.SkippedDate))
	recordsTotal.WithLabelValues("skipped_name").Add(float64(stats.SkippedName))
	recordsTotal.WithLabelValues("skipped_date").Add(float64(stats.SkippedDate))

	return stats
}

// FoldPage folds a decoded report page, including the records its decoder
// had to drop.
func (a *Accumulator) FoldPage(page *client.AvailabilityPage) FoldStats {
	stats := a.Fold(page.Devices)
	stats.SkippedMalformed = page.Malformed
	recordsTotal.WithLabelValues("skipped_malformed").Add(float64(page.Malformed))
	return stats
}

// creditedSeconds floors an active record to 1 second and caps it.
func creditedSeconds(s int64) int64 {
	if s < 1 {
		return 1
	}
	if s > MaxRecordSeconds {
		return MaxRecordSeconds
	}
	return s
}

// recordDate extracts the calendar date from a report timestamp.
func recordDate(ts string) (string, bool) {
	ts = strings.TrimSpace(ts)
	if len(ts) < len(client.DateLayout) {
		return "", false
	}
	date := ts[:len(client.DateLayout)]
	if _, err := time.Parse(client.DateLayout, date); err != nil {
		return "", false
	}
	return date, true
}

// Entries returns the active devices ordered by id.
func (a *Accumulator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, 0, len(a.devices))
	for id, t := range a.devices {
		dates := make([]string, 0, len(t.dates))
		for d := range t.dates {
			dates = append(dates, d)
		}
		sort.Strings(dates)
		out = append(out, Entry{DeviceID: id, Seconds: t.seconds, Dates: dates})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Observed reports whether id appeared in any folded record.
func (a *Accumulator) Observed(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.observed[id]
	return ok
}

// ObservedCount returns the number of distinct devices seen.
func (a *Accumulator) ObservedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.observed)
}

// ActiveCount returns the number of devices with activity.
func (a *Accumulator) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.devices)
}
