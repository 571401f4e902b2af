package storage

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/fleet-activity-sync/internal/device"
)

// Dialect adapts generated SQL to a database.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Quote renders a validated identifier.
	Quote func(name string) string
}

var activityColumns = []string{"active_dates", "total_active_duration", "approximate_duration"}

// InventoryColumns returns the inventory-owned columns of t, id first.
func InventoryColumns(t Table) []string {
	cols := []string{"id", "name", "serial_no"}
	if t.Udise {
		cols = append(cols, "udise")
	}
	return append(cols,
		"district", "block", "power_on_time", "power_off_time", "last_seen_on",
		"connection_state", "connection_status", "device_status", "hm_name", "hm_contact_numbers")
}

// InventoryValues returns the values of row in InventoryColumns order.
func InventoryValues(t Table, row device.Inventory) []any {
	vals := []any{row.ID, row.Name, row.SerialNo}
	if t.Udise {
		vals = append(vals, row.Udise)
	}
	return append(vals,
		row.District, row.Block, row.PowerOnTime, row.PowerOffTime, row.LastSeenOn,
		row.ConnectionState, row.ConnectionStatus, row.DeviceStatus, row.HMName, row.HMContactNumbers)
}

// RecordColumns returns every column in scan order.
func RecordColumns(t Table) []string {
	return append(InventoryColumns(t), activityColumns...)
}

// CreateTableSQL returns the CREATE TABLE IF NOT EXISTS statement for t.
func (d Dialect) CreateTableSQL(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid BIGINT PRIMARY KEY", d.Quote(t.Name))
	for _, col := range RecordColumns(t)[1:] {
		fmt.Fprintf(&b, ",\n\t%s TEXT", col)
	}
	b.WriteString("\n)")
	return b.String()
}

// UpsertSQL returns a multi-row upsert of rows rows into cols that overwrites
// only cols[1:] on conflict.
func (d Dialect) UpsertSQL(table string, cols []string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.Quote(table), strings.Join(cols, ", "))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}

	b.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	for i, col := range cols[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", col, col)
	}
	return b.String()
}

// ActivityUpsert returns the statement and arguments for one activity chunk.
func (d Dialect) ActivityUpsert(t Table, rows []device.ActivityUpdate) (string, []any) {
	cols := append([]string{"id"}, activityColumns...)
	args := make([]any, 0, len(rows)*len(cols))
	for _, r := range rows {
		args = append(args, r.ID, r.ActiveDates, r.TotalActiveDuration, r.ApproximateDuration)
	}
	return d.UpsertSQL(t.Name, cols, len(rows)), args
}

// InventoryUpsert returns the statement and arguments for one inventory chunk.
func (d Dialect) InventoryUpsert(t Table, rows []device.Inventory) (string, []any) {
	cols := InventoryColumns(t)
	args := make([]any, 0, len(rows)*len(cols))
	for _, r := range rows {
		args = append(args, InventoryValues(t, r)...)
	}
	return d.UpsertSQL(t.Name, cols, len(rows)), args
}

const (
	activePredicate   = "(total_active_duration IS NOT NULL AND total_active_duration <> '0 sec')"
	inactivePredicate = "(total_active_duration = '0 sec')"
)

// Where renders the filter as a WHERE clause (empty when unfiltered). Bind
// parameters are numbered from 1.
func (d Dialect) Where(f Filter) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		conds = append(conds, fmt.Sprintf("(LOWER(name) LIKE %s OR CAST(id AS TEXT) LIKE %s)", next(pattern), next(pattern)))
	}
	if f.District != "" && !strings.EqualFold(f.District, "all") {
		conds = append(conds, "district = "+next(f.District))
	}
	switch f.Status {
	case StatusActive:
		conds = append(conds, activePredicate)
	case StatusInactive:
		conds = append(conds, inactivePredicate)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SelectSQL returns the record query for f. When paged, LIMIT and OFFSET are
// bound after the filter arguments.
func (d Dialect) SelectSQL(t Table, f Filter, paged bool) (string, []any) {
	where, args := d.Where(f)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id", strings.Join(RecordColumns(t), ", "), d.Quote(t.Name), where)
	if paged {
		args = append(args, f.Limit, f.Offset())
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", d.Placeholder(len(args)-1), d.Placeholder(len(args)))
	}
	return query, args
}

// CountSQL returns the match count query for f.
func (d Dialect) CountSQL(t Table, f Filter) (string, []any) {
	where, args := d.Where(f)
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", d.Quote(t.Name), where), args
}

// StatsSQL returns the total/active/inactive query.
func (d Dialect) StatsSQL(t Table) string {
	return fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0), COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) FROM %s",
		activePredicate, inactivePredicate, d.Quote(t.Name))
}

// DistrictSQL returns the per-district activity split.
func (d Dialect) DistrictSQL(t Table) string {
	return fmt.Sprintf(
		"SELECT COALESCE(district, ''), COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0), COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0) FROM %s GROUP BY COALESCE(district, '') ORDER BY 1",
		activePredicate, inactivePredicate, d.Quote(t.Name))
}

// IDsSQL returns the query listing every device id.
func (d Dialect) IDsSQL(t Table) string {
	return fmt.Sprintf("SELECT id FROM %s ORDER BY id", d.Quote(t.Name))
}

// RecordScanner holds scan destinations for one row of RecordColumns.
type RecordScanner struct {
	table Table
	id    int64
	text  []*string
}

// NewRecordScanner prepares destinations for t's columns.
func NewRecordScanner(t Table) *RecordScanner {
	return &RecordScanner{table: t, text: make([]*string, len(RecordColumns(t))-1)}
}

// Dest returns the scan destinations.
func (s *RecordScanner) Dest() []any {
	dest := make([]any, 0, len(s.text)+1)
	dest = append(dest, &s.id)
	for i := range s.text {
		dest = append(dest, &s.text[i])
	}
	return dest
}

// Record builds the record from the last scanned row.
func (s *RecordScanner) Record() device.Record {
	str := func(i int) string {
		if s.text[i] == nil {
			return ""
		}
		return *s.text[i]
	}

	var r device.Record
	r.ID = s.id
	i := 0
	next := func() string { v := str(i); i++; return v }
	r.Name = next()
	r.SerialNo = next()
	if s.table.Udise {
		r.Udise = next()
	}
	r.District = next()
	r.Block = next()
	r.PowerOnTime = next()
	r.PowerOffTime = next()
	r.LastSeenOn = next()
	r.ConnectionState = next()
	r.ConnectionStatus = next()
	r.DeviceStatus = next()
	r.HMName = next()
	r.HMContactNumbers = next()
	r.ActiveDates = clone(s.text[i])
	r.TotalActiveDuration = clone(s.text[i+1])
	r.ApproximateDuration = clone(s.text[i+2])
	return r
}

func clone(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
