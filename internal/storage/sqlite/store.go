// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Sternrassler/fleet-activity-sync/internal/device"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var dialect = storage.Dialect{
	Placeholder: func(int) string { return "?" },
	Quote: func(name string) string {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	},
}

// Store is a SQLite-backed device store.
type Store struct {
	db        *sql.DB
	chunkSize int
	logger    zerolog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := configure(ctx, db, path == ":memory:"); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:        db,
		chunkSize: storage.DefaultChunkSize,
		logger:    log.With().Str("component", "storage-sqlite").Logger(),
	}, nil
}

// NewMemoryStore opens a private in-memory database.
func NewMemoryStore(ctx context.Context) (*Store, error) {
	return Open(ctx, ":memory:")
}

func configure(ctx context.Context, db *sql.DB, memory bool) error {
	pragmas := []string{"PRAGMA busy_timeout=60000;", "PRAGMA temp_store=MEMORY;"}
	if !memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	// One connection keeps writers serialized and an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

// SetChunkSize overrides the rows per upsert statement.
func (s *Store) SetChunkSize(n int) {
	if n > 0 {
		s.chunkSize = n
	}
}

// EnsureTable creates the device table.
func (s *Store) EnsureTable(ctx context.Context, t storage.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, dialect.CreateTableSQL(t)); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// UpsertInventory writes inventory columns.
func (s *Store) UpsertInventory(ctx context.Context, t storage.Table, rows []device.Inventory) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return storage.WriteChunks(ctx, rows, s.chunkSize, func(ctx context.Context, chunk []device.Inventory) error {
		query, args := dialect.InventoryUpsert(t, chunk)
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// UpsertActivity writes activity columns.
func (s *Store) UpsertActivity(ctx context.Context, t storage.Table, rows []device.ActivityUpdate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	err := storage.WriteChunks(ctx, rows, s.chunkSize, func(ctx context.Context, chunk []device.ActivityUpdate) error {
		query, args := dialect.ActivityUpsert(t, chunk)
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Debug().Str("table", t.Name).Int("rows", len(rows)).Msg("Activity upserted")
	return nil
}

// DeviceIDs lists persisted ids.
func (s *Store) DeviceIDs(ctx context.Context, t storage.Table) ([]int64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, dialect.IDsSQL(t))
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDevices returns one page of matching devices.
func (s *Store) ListDevices(ctx context.Context, t storage.Table, f storage.Filter) ([]device.Record, int64, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	f = f.Normalize()

	countSQL, countArgs := dialect.CountSQL(t, f)
	var total int64
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count devices: %w", err)
	}

	query, args := dialect.SelectSQL(t, f, true)
	records, err := s.query(ctx, t, query, args)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// AllDevices returns every matching device.
func (s *Store) AllDevices(ctx context.Context, t storage.Table, f storage.Filter) ([]device.Record, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	query, args := dialect.SelectSQL(t, f, false)
	return s.query(ctx, t, query, args)
}

func (s *Store) query(ctx context.Context, t storage.Table, query string, args []any) ([]device.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	records := []device.Record{}
	scanner := storage.NewRecordScanner(t)
	for rows.Next() {
		if err := rows.Scan(scanner.Dest()...); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		records = append(records, scanner.Record())
	}
	return records, rows.Err()
}

// Stats counts devices by activity verdict.
func (s *Store) Stats(ctx context.Context, t storage.Table) (storage.Stats, error) {
	if err := t.Validate(); err != nil {
		return storage.Stats{}, err
	}
	var st storage.Stats
	if err := s.db.QueryRowContext(ctx, dialect.StatsSQL(t)).Scan(&st.Total, &st.Active, &st.Inactive); err != nil {
		return storage.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// DistrictBreakdown splits activity by district.
func (s *Store) DistrictBreakdown(ctx context.Context, t storage.Table) ([]storage.DistrictCount, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, dialect.DistrictSQL(t))
	if err != nil {
		return nil, fmt.Errorf("query districts: %w", err)
	}
	defer rows.Close()

	out := []storage.DistrictCount{}
	for rows.Next() {
		var dc storage.DistrictCount
		if err := rows.Scan(&dc.District, &dc.Active, &dc.Inactive); err != nil {
			return nil, fmt.Errorf("scan district: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() {
	s.db.Close()
}
