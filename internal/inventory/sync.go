// Package inventory mirrors the upstream device inventory into each project's
// device table.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/device"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/Sternrassler/fleet-activity-sync/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrSyncInProgress is returned when a sync for the project is still running.
var ErrSyncInProgress = errors.New("inventory sync already in progress")

var (
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_inventory_syncs_total",
		Help: "Inventory sync cycles by project and outcome",
	}, []string{"project", "outcome"})

	syncedDevices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_inventory_devices",
		Help: "Devices written by the last successful inventory sync",
	}, []string{"project"})
)

// Custom property names mapped to columns.
const (
	PropertyUdise     = "Udise Code"
	PropertyDistrict  = "District"
	PropertyBlock     = "Block"
	PropertyHMName    = "HM Name"
	PropertyHMContact = "HM Contact Number"
)

// DevicesFetcher fetches inventory pages.
type DevicesFetcher interface {
	FetchDevicesPage(ctx context.Context, target client.Target, cursor string) (*client.DevicesPage, error)
}

// Result summarizes one sync cycle.
type Result struct {
	Pages    int
	Devices  int
	Duration time.Duration
}

// Syncer runs inventory sync cycles.
type Syncer struct {
	fetcher DevicesFetcher
	store   storage.Store
	logger  zerolog.Logger

	// OnSynced is called after a cycle wrote at least one page.
	OnSynced func(ctx context.Context, project string)

	mu      sync.Mutex
	running map[string]bool
}

// NewSyncer creates a Syncer.
func NewSyncer(fetcher DevicesFetcher, store storage.Store) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		logger:  logging.NewLogger("inventory"),
		running: make(map[string]bool),
	}
}

// Sync follows the inventory cursor to the end, upserting each page as it
// arrives. The first failing page aborts the cycle; pages already written
// stay written.
func (s *Syncer) Sync(ctx context.Context, p *config.Project) (Result, error) {
	if !s.claim(p.ID) {
		return Result{}, ErrSyncInProgress
	}
	defer s.release(p.ID)

	start := time.Now()
	table := p.Table()
	target := p.Target()

	var result Result
	cursor := ""
	for {
		page, err := s.fetcher.FetchDevicesPage(ctx, target, cursor)
		if err != nil {
			syncsTotal.WithLabelValues(p.ID, "failed").Inc()
			s.notify(ctx, p.ID, result)
			return result, fmt.Errorf("fetch inventory page %d: %w", result.Pages+1, err)
		}

		rows := MapDevices(page.Items(), p.Udise)
		if len(rows) > 0 {
			if err := s.store.UpsertInventory(ctx, table, rows); err != nil {
				syncsTotal.WithLabelValues(p.ID, "failed").Inc()
				s.notify(ctx, p.ID, result)
				return result, fmt.Errorf("store inventory page %d: %w", result.Pages+1, err)
			}
		}
		result.Pages++
		result.Devices += len(rows)

		cursor = string(page.NextCursor)
		if cursor == "" {
			break
		}
	}

	result.Duration = time.Since(start)
	syncsTotal.WithLabelValues(p.ID, "ok").Inc()
	syncedDevices.WithLabelValues(p.ID).Set(float64(result.Devices))
	s.notify(ctx, p.ID, result)

	s.logger.Info().
		Str("project", p.ID).
		Int("pages", result.Pages).
		Int("devices", result.Devices).
		Dur("duration", result.Duration).
		Msg("Inventory sync complete")

	return result, nil
}

func (s *Syncer) notify(ctx context.Context, project string, r Result) {
	if s.OnSynced != nil && r.Devices > 0 {
		s.OnSynced(ctx, project)
	}
}

func (s *Syncer) claim(project string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[project] {
		return false
	}
	s.running[project] = true
	return true
}

func (s *Syncer) release(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, project)
}

// MapDevices converts upstream devices to inventory rows. Missing attributes
// are stored as "N/A"; the udise column is filled only when withUdise is set.
func MapDevices(devices []client.InventoryDevice, withUdise bool) []device.Inventory {
	rows := make([]device.Inventory, 0, len(devices))
	for _, d := range devices {
		row := device.Inventory{
			ID:               d.ID,
			Name:             string(d.Name),
			SerialNo:         orUnknown(string(d.SerialNo)),
			District:         property(d, PropertyDistrict),
			Block:            property(d, PropertyBlock),
			PowerOnTime:      string(d.PowerOnTime),
			PowerOffTime:     string(d.PowerOffTime),
			LastSeenOn:       string(d.LastSeenOn),
			ConnectionState:  string(d.ConnectionState),
			ConnectionStatus: string(d.ConnectionStatus),
			DeviceStatus:     string(d.DeviceStatus),
			HMName:           property(d, PropertyHMName),
			HMContactNumbers: property(d, PropertyHMContact),
		}
		if withUdise {
			row.Udise = property(d, PropertyUdise)
		}
		rows = append(rows, row)
	}
	return rows
}

func property(d client.InventoryDevice, name string) string {
	if v, ok := d.Property(name); ok {
		return v
	}
	return device.Unknown
}

func orUnknown(s string) string {
	if s == "" {
		return device.Unknown
	}
	return s
}
