package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/ingest"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage/sqlite"
	"github.com/Sternrassler/fleet-activity-sync/internal/testutil"
)

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		dsn        string
		wantKind   storeKind
		wantTarget string
		wantErr    bool
	}{
		{"postgres://fleet:pw@db:5432/fleet", storePostgres, "postgres://fleet:pw@db:5432/fleet", false},
		{"postgresql://db/fleet?sslmode=disable", storePostgres, "postgresql://db/fleet?sslmode=disable", false},
		{"sqlite://fleet.db", storeSQLite, "fleet.db", false},
		{"sqlite:///var/lib/fleet/fleet.db", storeSQLite, "/var/lib/fleet/fleet.db", false},
		{"sqlite://:memory:", storeSQLite, ":memory:", false},
		{"./data/fleet.db", storeSQLite, "./data/fleet.db", false},
		{"sqlite://", "", "", true},
		{"mysql://db/fleet", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			kind, target, err := parseDatabaseURL(tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDatabaseURL(%q) error = %v, wantErr %v", tt.dsn, err, tt.wantErr)
			}
			if kind != tt.wantKind || target != tt.wantTarget {
				t.Errorf("parseDatabaseURL(%q) = (%q, %q), want (%q, %q)", tt.dsn, kind, target, tt.wantKind, tt.wantTarget)
			}
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	rdb, err := newRedisClient("redis://:secret@cache:6380/2")
	if err != nil {
		t.Fatalf("newRedisClient() error = %v", err)
	}
	defer rdb.Close()
	if opts := rdb.Options(); opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Errorf("options = %s db=%d", opts.Addr, opts.DB)
	}

	plain, err := newRedisClient("localhost:6379")
	if err != nil {
		t.Fatalf("newRedisClient() error = %v", err)
	}
	defer plain.Close()
	if plain.Options().Addr != "localhost:6379" {
		t.Errorf("Addr = %s, want localhost:6379", plain.Options().Addr)
	}
}

func TestSelectProjects(t *testing.T) {
	a := &config.Project{ID: "2228"}
	b := &config.Project{ID: "3570"}
	cfg := &config.Config{Projects: map[string]*config.Project{"2228": a, "3570": b}}
	all := []*config.Project{a, b}

	got, err := selectProjects(cfg, nil, all)
	if err != nil || len(got) != 2 {
		t.Fatalf("selectProjects(nil) = %v, %v", got, err)
	}

	got, err = selectProjects(cfg, []string{"3570"}, all)
	if err != nil || len(got) != 1 || got[0] != b {
		t.Fatalf("selectProjects(3570) = %v, %v", got, err)
	}

	if _, err := selectProjects(cfg, []string{"9999"}, all); err == nil {
		t.Error("expected error for unknown project")
	}
}

// setupEnv points the configuration at mock and a temporary SQLite file.
func setupEnv(t *testing.T, mock *testutil.MockFleet) string {
	t.Helper()
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects")
	if err := os.Mkdir(projects, 0o755); err != nil {
		t.Fatal(err)
	}
	body := "id: \"2228\"\nbase_url: " + mock.URL() + "\napi_key_env: FLEET_KEY_TEST\nudise: true\n"
	if err := os.WriteFile(filepath.Join(projects, "2228.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(dir, "fleet.db")
	t.Setenv("FLEET_KEY_TEST", "test-key")
	t.Setenv("PROJECTS_DIR", projects)
	t.Setenv("DATABASE_URL", "sqlite://"+dbPath)
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("FLEET_RELEASE_DELAY", "0s")
	t.Setenv("FLEET_BATCH_PAUSE", "1ms")
	t.Setenv("FLEET_INITIAL_BACKOFF", "1ms")
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSyncInventoryThenFetchActivity(t *testing.T) {
	mock := testutil.NewMockFleet()
	defer mock.Close()
	dbPath := setupEnv(t, mock)

	mock.SetInventoryPages(
		[]testutil.Device{
			{ID: 1, Name: "Panel 1", CustomProperties: []testutil.Property{{Name: "District", Value: "Kamrup"}, {Name: "Udise Code", Value: "18010100101"}}},
			{ID: 2, Name: "Panel 2"},
		},
		[]testutil.Device{{ID: 3, Name: "Panel 3"}},
	)
	mock.SetAvailabilityPages([]testutil.Availability{
		{DeviceID: 1, DeviceName: "Panel 1", Status: "Active", FromDate: "2024-01-01T08:00:00Z", Duration: 7300},
	})

	out, err := execute(t, "sync-inventory")
	if err != nil {
		t.Fatalf("sync-inventory error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "2228\t2 pages\t3 devices") {
		t.Errorf("sync-inventory output = %q", out)
	}

	out, err = execute(t, "fetch-activity", "2228", "--from", "2024-01-01", "--to", "2024-01-02")
	if err != nil {
		t.Fatalf("fetch-activity error = %v\n%s", err, out)
	}
	var summary ingest.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	if summary.ActiveDevices != 1 || summary.InactiveDevices != 2 || summary.TotalPages != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if mock.GetLastAuth() != "Token test-key" {
		t.Errorf("auth = %q", mock.GetLastAuth())
	}

	store, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	table := storage.Table{Name: "project_2228_db", Udise: true}
	stats, err := store.Stats(context.Background(), table)
	if err != nil {
		t.Fatal(err)
	}
	if stats != (storage.Stats{Total: 3, Active: 1, Inactive: 2}) {
		t.Errorf("stats = %+v", stats)
	}

	devices, err := store.AllDevices(context.Background(), table, storage.Filter{Search: "panel 1"})
	if err != nil || len(devices) != 1 {
		t.Fatalf("AllDevices = %v, %v", devices, err)
	}
	d := devices[0]
	if d.Udise != "18010100101" || d.District != "Kamrup" || *d.ApproximateDuration != "about 2 hours" {
		t.Errorf("device = %+v", d)
	}
}

func TestFetchActivity_Errors(t *testing.T) {
	mock := testutil.NewMockFleet()
	defer mock.Close()
	setupEnv(t, mock)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown project", []string{"fetch-activity", "9999"}, "unknown project"},
		{"bad date", []string{"fetch-activity", "2228", "--from", "01/01/2024"}, "01/01/2024"},
		{"missing project", []string{"fetch-activity"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want 0", mock.GetRequestCount())
	}
}
