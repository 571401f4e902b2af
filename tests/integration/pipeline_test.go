package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/api"
	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/ingest"
	"github.com/Sternrassler/fleet-activity-sync/internal/inventory"
	"github.com/Sternrassler/fleet-activity-sync/internal/progress"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage/postgres"
	"github.com/Sternrassler/fleet-activity-sync/internal/testutil"
	"github.com/Sternrassler/fleet-activity-sync/pkg/cache"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/Sternrassler/fleet-activity-sync/pkg/pagination"
	"github.com/Sternrassler/fleet-activity-sync/pkg/ratelimit"
	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startContainer starts req and returns its host:port for port. The test is
// skipped when Docker is unavailable.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	return host + ":" + mapped.Port()
}

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")

	redisClient := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { redisClient.Close() })
	return redisClient
}

// setupPostgres creates a PostgreSQL container and connects a store to it.
func setupPostgres(t *testing.T) *postgres.Store {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fleet",
			"POSTGRES_PASSWORD": "fleet",
			"POSTGRES_DB":       "fleet",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432")

	store, err := postgres.New(context.Background(), fmt.Sprintf("postgres://fleet:fleet@%s/fleet?sslmode=disable", addr))
	if err != nil {
		t.Fatalf("Failed to connect to Postgres: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// stack is the wired service under test.
type stack struct {
	mock    *testutil.MockFleet
	store   *postgres.Store
	rdb     *redis.Client
	project *config.Project
	syncer  *inventory.Syncer
	service *ingest.Service
	server  *httptest.Server
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	store := setupPostgres(t)
	rdb := setupRedis(t)

	mock := testutil.NewMockFleet()
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig(ratelimit.NewGate(10, 0, zerolog.Nop()))
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	cfg.Retry.MaxBackoff = 20 * time.Millisecond
	fleetClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { fleetClient.Close() })

	project := &config.Project{ID: "2228", BaseURL: mock.URL(), APIKey: "it-key", TableName: "project_2228_db", Udise: true}
	appCfg := &config.Config{Projects: map[string]*config.Project{project.ID: project}}
	if err := store.EnsureTable(ctx, project.Table()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	registry := progress.NewRegistry()
	service := ingest.NewService(fleetClient, store, registry, pagination.Config{BatchSize: 5, BatchPause: 5 * time.Millisecond})
	syncer := inventory.NewSyncer(fleetClient, store)

	srv := api.NewServer(appCfg, store, service, registry, cache.NewManager(rdb, time.Minute))
	service.OnPersisted = srv.InvalidateProject
	syncer.OnSynced = srv.InvalidateProject

	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)

	return &stack{mock: mock, store: store, rdb: rdb, project: project, syncer: syncer, service: service, server: server}
}

func (s *stack) getJSON(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

// TestFullPipeline covers inventory sync, cached reads, an activity run and
// cache invalidation against real Postgres and Redis.
func TestFullPipeline(t *testing.T) {
	s := setupStack(t)

	inventoryPages := make([][]testutil.Device, 3)
	for i := range inventoryPages {
		for j := 0; j < 4; j++ {
			id := int64(i*4 + j + 1)
			inventoryPages[i] = append(inventoryPages[i], testutil.Device{
				ID:   id,
				Name: fmt.Sprintf("Panel %d", id),
				CustomProperties: []testutil.Property{
					{Name: "District", Value: []string{"Kamrup", "Nagaon"}[id%2]},
				},
			})
		}
	}
	s.mock.SetInventoryPages(inventoryPages...)

	result, err := s.syncer.Sync(context.Background(), s.project)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if result.Pages != 3 || result.Devices != 12 {
		t.Fatalf("Sync() = %+v, want 3 pages and 12 devices", result)
	}

	var stats storage.Stats
	resp := s.getJSON(t, "/api/device-stats/2228", &stats)
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Errorf("first read X-Cache = %q, want MISS", resp.Header.Get("X-Cache"))
	}
	if stats.Total != 12 || stats.Active != 0 || stats.Inactive != 0 {
		t.Errorf("stats = %+v", stats)
	}
	resp = s.getJSON(t, "/api/device-stats/2228", &stats)
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Errorf("second read X-Cache = %q, want HIT", resp.Header.Get("X-Cache"))
	}

	// Eight report pages; devices 1..8 are active once each, device 9 is
	// reported inactive, the rest are absent.
	pages := make([][]testutil.Availability, 8)
	for i := range pages {
		id := int64(i + 1)
		pages[i] = []testutil.Availability{{
			DeviceID:   id,
			DeviceName: fmt.Sprintf("Panel %d", id),
			Status:     "active",
			FromDate:   "2024-03-0" + fmt.Sprint(1+i%3) + "T10:00:00+05:30",
			Duration:   id * 600,
		}}
	}
	pages[7] = append(pages[7], testutil.Availability{DeviceID: 9, DeviceName: "Panel 9", Status: "inactive", FromDate: "2024-03-01", Duration: 0})
	s.mock.SetAvailabilityPages(pages...)
	s.mock.FailAvailabilityPage(4, http.StatusTooManyRequests)

	var fetched api.FetchResponse
	resp = s.getJSON(t, "/api/fetchActiveStatusData/2228?fromDate=2024-03-01&toDate=2024-03-03", &fetched)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetchActiveStatusData status = %d", resp.StatusCode)
	}
	if fetched.TotalPages != 8 || fetched.ActiveDevices != 8 || fetched.InactiveDevices != 3 {
		t.Errorf("fetch response = %+v", fetched)
	}

	resp = s.getJSON(t, "/api/device-stats/2228", &stats)
	if resp.Header.Get("X-Cache") != "MISS" {
		t.Errorf("read after run X-Cache = %q, want MISS", resp.Header.Get("X-Cache"))
	}
	if stats.Total != 12 || stats.Active != 8 || stats.Inactive != 3 {
		t.Errorf("stats after run = %+v", stats)
	}

	var snap progress.Snapshot
	s.getJSON(t, "/api/fetchProgress/2228", &snap)
	if snap.IsFetching || snap.CompletedPages != 8 || snap.TotalPages != 8 || snap.RunID != fetched.RunID {
		t.Errorf("progress = %+v", snap)
	}

	var listing api.DevicesResponse
	s.getJSON(t, "/api/devices/2228?status=active&district=Kamrup&limit=2", &listing)
	if listing.TotalDevices != 4 || listing.TotalPages != 2 || len(listing.Devices) != 2 {
		t.Errorf("listing = %+v", listing)
	}
	if d := listing.Devices[0]; d.ID != 2 || *d.TotalActiveDuration != "0 hr 20 min 0 sec" || d.Name != "Panel 2" {
		t.Errorf("first device = %+v", d)
	}
}

// TestRunFailureLeavesStoreUntouched exhausts retries on one page.
func TestRunFailureLeavesStoreUntouched(t *testing.T) {
	s := setupStack(t)
	ctx := context.Background()

	s.mock.SetInventoryPages([]testutil.Device{{ID: 1, Name: "Panel 1"}, {ID: 2, Name: "Panel 2"}})
	if _, err := s.syncer.Sync(ctx, s.project); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	s.mock.SetAvailabilityPages(
		[]testutil.Availability{{DeviceID: 1, DeviceName: "Panel 1", Status: "active", FromDate: "2024-03-01", Duration: 60}},
		[]testutil.Availability{{DeviceID: 2, DeviceName: "Panel 2", Status: "active", FromDate: "2024-03-01", Duration: 60}},
	)
	s.mock.FailAvailabilityPage(2, 504, 504, 504, 504, 504)

	resp := s.getJSON(t, "/api/fetchActiveStatusData/2228?fromDate=2024-03-01&toDate=2024-03-01", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if got := s.mock.GetPageRequests(2); got != 5 {
		t.Errorf("page 2 requests = %d, want 5", got)
	}

	snap := s.service.Progress().Snapshot("2228")
	if snap.IsFetching || snap.CompletedPages != 1 || snap.Error == "" {
		t.Errorf("progress = %+v", snap)
	}

	stats, err := s.store.Stats(ctx, s.project.Table())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Active != 0 || stats.Inactive != 0 {
		t.Errorf("stats = %+v, want no activity written", stats)
	}
}
