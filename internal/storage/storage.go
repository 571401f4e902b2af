// Package storage defines the device table store used by inventory sync,
// activity reconciliation and the read API.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Sternrassler/fleet-activity-sync/internal/device"
)

// DefaultChunkSize is the number of rows written per upsert statement.
const DefaultChunkSize = 500

// Table names one project's device table.
type Table struct {
	Name string
	// Udise adds the udise column.
	Udise bool
}

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Validate checks that the table name is a plain lowercase identifier.
func (t Table) Validate() error {
	if !tableNamePattern.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	return nil
}

// Status filters devices by the last activity run's verdict.
type Status string

const (
	StatusAny      Status = ""
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus maps a query value to a Status. Unknown values mean no filter.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive, StatusInactive:
		return Status(s)
	default:
		return StatusAny
	}
}

// Filter narrows device listings.
type Filter struct {
	// Search matches name or id, case-insensitively.
	Search   string
	District string
	Status   Status
	// Page is 1-based. Page and Limit are ignored by AllDevices.
	Page  int
	Limit int
}

// Normalize applies listing defaults.
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	return f
}

// Offset returns the row offset of the page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Stats counts devices by activity verdict. Devices never touched by an
// activity run are counted in Total only.
type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`
}

// DistrictCount is the activity split of one district.
type DistrictCount struct {
	District string `json:"district"`
	Active   int64  `json:"active"`
	Inactive int64  `json:"inactive"`
}

// Store persists device rows.
type Store interface {
	// EnsureTable creates the table if it does not exist.
	EnsureTable(ctx context.Context, t Table) error

	// UpsertInventory writes inventory columns only.
	UpsertInventory(ctx context.Context, t Table, rows []device.Inventory) error

	// DeviceIDs returns every persisted device id.
	DeviceIDs(ctx context.Context, t Table) ([]int64, error)

	// UpsertActivity writes activity columns only, in chunks. A failing chunk
	// returns *ChunkError; earlier chunks stay applied.
	UpsertActivity(ctx context.Context, t Table, rows []device.ActivityUpdate) error

	// ListDevices returns one page of matching devices and the match count.
	ListDevices(ctx context.Context, t Table, f Filter) ([]device.Record, int64, error)

	// AllDevices returns every matching device.
	AllDevices(ctx context.Context, t Table, f Filter) ([]device.Record, error)

	Stats(ctx context.Context, t Table) (Stats, error)
	DistrictBreakdown(ctx context.Context, t Table) ([]DistrictCount, error)

	Close()
}

// ChunkError reports a failed upsert chunk.
type ChunkError struct {
	// Chunk is the 0-based index of the failed chunk.
	Chunk int
	// Applied is the number of rows written by earlier chunks.
	Applied int
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("upsert chunk %d failed after %d rows applied: %v", e.Chunk, e.Applied, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Chunks splits rows into consecutive slices of at most size elements.
func Chunks[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]T
	for start := 0; start < len(rows); start += size {
		out = append(out, rows[start:min(start+size, len(rows))])
	}
	return out
}

// WriteChunks calls write for each chunk of rows in order and stops at the
// first failure, reporting it as *ChunkError.
func WriteChunks[T any](ctx context.Context, rows []T, size int, write func(ctx context.Context, chunk []T) error) error {
	applied := 0
	for i, chunk := range Chunks(rows, size) {
		if err := write(ctx, chunk); err != nil {
			return &ChunkError{Chunk: i, Applied: applied, Err: err}
		}
		applied += len(chunk)
	}
	return nil
}
