package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/device"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and connects a Store to it.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
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
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://fleet:fleet@%s:%s/fleet?sslmode=disable", host, port.Port())
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupPostgres(t)
	table := storage.Table{Name: "project_2228_db", Udise: true}

	require.NoError(t, s.EnsureTable(ctx, table))
	require.NoError(t, s.EnsureTable(ctx, table))

	require.NoError(t, s.UpsertInventory(ctx, table, []device.Inventory{
		{ID: 1, Name: "Panel Alpha", SerialNo: "SN1", Udise: "18010101", District: "Kamrup", Block: device.Unknown},
		{ID: 2, Name: "Panel Beta", SerialNo: device.Unknown, Udise: device.Unknown, District: "Nagaon", Block: device.Unknown},
	}))

	s.SetChunkSize(1)
	require.NoError(t, s.UpsertActivity(ctx, table, []device.ActivityUpdate{
		device.ActiveUpdate(1, 201, []string{"2024-01-01", "2024-01-02"}),
		device.InactiveUpdate(2),
	}))

	ids, err := s.DeviceIDs(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	records, total, err := s.ListDevices(ctx, table, storage.Filter{Status: storage.StatusActive})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, "Panel Alpha", records[0].Name)
	assert.Equal(t, "0 hr 3 min 21 sec", *records[0].TotalActiveDuration)
	assert.Equal(t, "2024-01-01, 2024-01-02", *records[0].ActiveDates)

	st, err := s.Stats(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, storage.Stats{Total: 2, Active: 1, Inactive: 1}, st)

	districts, err := s.DistrictBreakdown(ctx, table)
	require.NoError(t, err)
	assert.Len(t, districts, 2)

	// Inventory refresh keeps activity columns.
	require.NoError(t, s.UpsertInventory(ctx, table, []device.Inventory{{ID: 1, Name: "Panel A", District: "Kamrup"}}))
	all, err := s.AllDevices(ctx, table, storage.Filter{Search: "panel a"})
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "Panel A", all[0].Name)
	assert.Equal(t, "0 hr 3 min 21 sec", *all[0].TotalActiveDuration)
}
