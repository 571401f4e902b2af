package ingest

import (
	"github.com/Sternrassler/fleet-activity-sync/internal/aggregate"
	"github.com/Sternrassler/fleet-activity-sync/internal/device"
)

// BuildUpdates turns a run's aggregate into activity rows. Every active
// device gets its totals; every persisted device the run never observed is
// marked inactive. Devices observed only as inactive keep their previous
// values.
func BuildUpdates(entries []aggregate.Entry, persisted []int64, observed func(id int64) bool) (updates []device.ActivityUpdate, inactive int) {
	updates = make([]device.ActivityUpdate, 0, len(entries)+len(persisted))
	for _, e := range entries {
		updates = append(updates, device.ActiveUpdate(e.DeviceID, e.Seconds, e.Dates))
	}

	for _, id := range persisted {
		if observed(id) {
			continue
		}
		updates = append(updates, device.InactiveUpdate(id))
		inactive++
	}
	return updates, inactive
}
