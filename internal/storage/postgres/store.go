// Package postgres implements storage.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/device"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var dialect = storage.Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Quote: func(name string) string {
		return pgx.Identifier{name}.Sanitize()
	},
}

// Store is a PostgreSQL-backed device store.
type Store struct {
	pool      *pgxpool.Pool
	chunkSize int
	logger    zerolog.Logger
}

var _ storage.Store = (*Store)(nil)

// New connects to connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{
		pool:      pool,
		chunkSize: storage.DefaultChunkSize,
		logger:    log.With().Str("component", "storage-postgres").Logger(),
	}, nil
}

// SetChunkSize overrides the rows per upsert statement.
func (s *Store) SetChunkSize(n int) {
	if n > 0 {
		s.chunkSize = n
	}
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureTable creates the device table.
func (s *Store) EnsureTable(ctx context.Context, t storage.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, dialect.CreateTableSQL(t)); err != nil {
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
		_, err := s.pool.Exec(ctx, query, args...)
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
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		s.logger.Debug().
			Str("table", t.Name).
			Int64("rows_affected", tag.RowsAffected()).
			Msg("Activity chunk upserted")
		return nil
	})
	return err
}

// DeviceIDs lists persisted ids.
func (s *Store) DeviceIDs(ctx context.Context, t storage.Table) ([]int64, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, dialect.IDsSQL(t))
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect ids: %w", err)
	}
	return ids, nil
}

// ListDevices returns one page of matching devices.
func (s *Store) ListDevices(ctx context.Context, t storage.Table, f storage.Filter) ([]device.Record, int64, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	f = f.Normalize()

	countSQL, countArgs := dialect.CountSQL(t, f)
	var total int64
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
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
	rows, err := s.pool.Query(ctx, query, args...)
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
	if err := s.pool.QueryRow(ctx, dialect.StatsSQL(t)).Scan(&st.Total, &st.Active, &st.Inactive); err != nil {
		return storage.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// DistrictBreakdown splits activity by district.
func (s *Store) DistrictBreakdown(ctx context.Context, t storage.Table) ([]storage.DistrictCount, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, dialect.DistrictSQL(t))
	if err != nil {
		return nil, fmt.Errorf("query districts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.DistrictCount, error) {
		var dc storage.DistrictCount
		err := row.Scan(&dc.District, &dc.Active, &dc.Inactive)
		return dc, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect districts: %w", err)
	}
	return out, nil
}
