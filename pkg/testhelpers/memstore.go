package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// SliceCursor is a datasource.RowCursor over in-memory rows.
type SliceCursor struct {
	cols []string
	rows [][]any
	pos  int
	err  error

	// FailAfter, when positive, makes Next fail once that many rows were yielded.
	FailAfter int
	Closed    bool
}

// NewSliceCursor returns a cursor yielding rows in order.
func NewSliceCursor(cols []string, rows [][]any) *SliceCursor {
	return &SliceCursor{cols: cols, rows: rows, pos: -1}
}

func (c *SliceCursor) Columns() []string { return c.cols }

func (c *SliceCursor) Next() bool {
	if c.err != nil || c.Closed {
		return false
	}
	if c.FailAfter > 0 && c.pos+1 >= c.FailAfter {
		c.err = errors.New("source stream interrupted")
		return false
	}
	c.pos++
	return c.pos < len(c.rows)
}

func (c *SliceCursor) Values() ([]any, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, errors.New("no current row")
	}
	return c.rows[c.pos], nil
}

func (c *SliceCursor) Err() error { return c.err }

func (c *SliceCursor) Close() error {
	c.Closed = true
	return nil
}

var placeholderRe = regexp.MustCompile(`(?i)@lastRunDate\b`)

// MemQuery is a source result set. Rows whose FilterColumn value is not after the bound
// watermark are dropped when the query text contains @lastRunDate.
type MemQuery struct {
	Columns      []string
	Rows         [][]any
	FilterColumn string
}

// MemSource is an in-memory datasource.Extractor keyed by query text.
type MemSource struct {
	mu      sync.Mutex
	Queries map[string]*MemQuery

	// FailExtract and FailMax force errors from the matching operation.
	FailExtract error
	FailMax     error
	// MaxOverride, when set, replaces the computed max (used to simulate drift).
	MaxOverride func(computed *time.Time) *time.Time

	ExtractCalls int
	MaxCalls     int
	Cursors      []*SliceCursor
}

// NewMemSource returns an empty source.
func NewMemSource() *MemSource {
	return &MemSource{Queries: make(map[string]*MemQuery)}
}

// AddQuery registers the result set for query.
func (s *MemSource) AddQuery(query string, q *MemQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries[query] = q
}

func (s *MemSource) filtered(query string, bound *time.Time) (*MemQuery, [][]any, error) {
	q, ok := s.Queries[query]
	if !ok {
		return nil, nil, fmt.Errorf("invalid object name in query %q", query)
	}
	if bound == nil || !placeholderRe.MatchString(query) {
		return q, q.Rows, nil
	}
	idx := indexOf(q.Columns, q.FilterColumn)
	if idx < 0 {
		return nil, nil, fmt.Errorf("invalid column name %q", q.FilterColumn)
	}
	var out [][]any
	for _, r := range q.Rows {
		if ts, ok := r[idx].(time.Time); ok && ts.After(*bound) {
			out = append(out, r)
		}
	}
	return q, out, nil
}

func (s *MemSource) ExtractRows(ctx context.Context, query string, watermark *time.Time) (datasource.RowCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExtractCalls++
	if s.FailExtract != nil {
		return nil, s.FailExtract
	}
	q, rows, err := s.filtered(query, watermark)
	if err != nil {
		return nil, err
	}
	c := NewSliceCursor(q.Columns, rows)
	s.Cursors = append(s.Cursors, c)
	return c, nil
}

func (s *MemSource) MaxIncrementalValue(ctx context.Context, query, incrementalColumn string, lowerBound time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxCalls++
	if s.FailMax != nil {
		return nil, s.FailMax
	}
	q, rows, err := s.filtered(query, &lowerBound)
	if err != nil {
		return nil, err
	}
	idx := indexOf(q.Columns, incrementalColumn)
	if idx < 0 {
		return nil, fmt.Errorf("invalid column name %q", incrementalColumn)
	}
	var max *time.Time
	for _, r := range rows {
		if ts, ok := r[idx].(time.Time); ok && (max == nil || ts.After(*max)) {
			v := ts
			max = &v
		}
	}
	if s.MaxOverride != nil {
		max = s.MaxOverride(max)
	}
	return max, nil
}

func (s *MemSource) Close() error { return nil }

// MemTable holds rows in column order.
type MemTable struct {
	Columns []string
	Rows    [][]any
}

// Clone returns a deep copy of the row slice headers.
func (t *MemTable) Clone() *MemTable {
	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = append([]any(nil), r...)
	}
	return &MemTable{Columns: append([]string(nil), t.Columns...), Rows: rows}
}

// MemTarget is an in-memory datasource.TargetStore. Every call is appended to Calls as
// "op:table" so tests can assert ordering.
type MemTarget struct {
	mu         sync.Mutex
	Tables     map[string]*MemTable
	Watermarks map[string]time.Time
	Policy     models.FiscalYearPolicy
	Prefix     string

	// Fail maps "op" or "op:table" to a forced error.
	Fail map[string]error

	SchemaReady bool
	Calls       []string
	// WatermarkWrites records every SetWatermark in order.
	WatermarkWrites []models.Watermark
}

// NewMemTarget returns an empty target using policy for watermark defaults.
func NewMemTarget(policy models.FiscalYearPolicy) *MemTarget {
	return &MemTarget{
		Tables:     make(map[string]*MemTable),
		Watermarks: make(map[string]time.Time),
		Policy:     policy,
		Prefix:     "stg_",
		Fail:       make(map[string]error),
	}
}

// AddTable creates an empty table, or replaces an existing one.
func (m *MemTarget) AddTable(name string, columns ...string) *MemTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &MemTable{Columns: columns}
	m.Tables[strings.ToLower(name)] = t
	return t
}

// Table returns a copy of the named table, or nil.
func (m *MemTarget) Table(name string) *MemTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tables[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return t.Clone()
}

// CallsFor returns the recorded calls whose op matches.
func (m *MemTarget) CallsFor(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.Calls {
		if strings.HasPrefix(c, op+":") || c == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemTarget) record(op, table string) error {
	if table == "" {
		m.Calls = append(m.Calls, op)
	} else {
		m.Calls = append(m.Calls, op+":"+table)
	}
	if err, ok := m.Fail[op+":"+table]; ok {
		return err
	}
	return m.Fail[op]
}

func (m *MemTarget) table(name string) (*MemTable, error) {
	t, ok := m.Tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("invalid object name '%s'", name)
	}
	return t, nil
}

func (m *MemTarget) BulkLoad(ctx context.Context, cursor datasource.RowCursor, targetTable string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("bulk_load", targetTable); err != nil {
		return 0, err
	}
	t, err := m.table(targetTable)
	if err != nil {
		return 0, err
	}

	mapping := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		mapping[i] = indexOf(cursor.Columns(), col)
	}

	// Buffered until the cursor is drained so a failure leaves the table untouched.
	var pending [][]any
	for cursor.Next() {
		vals, err := cursor.Values()
		if err != nil {
			return 0, err
		}
		row := make([]any, len(t.Columns))
		for i, src := range mapping {
			if src >= 0 {
				row[i] = vals[src]
			}
		}
		pending = append(pending, row)
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}
	t.Rows = append(t.Rows, pending...)
	return int64(len(pending)), nil
}

func (m *MemTarget) Truncate(ctx context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("truncate", table); err != nil {
		return err
	}
	t, err := m.table(table)
	if err != nil {
		return err
	}
	t.Rows = nil
	return nil
}

func (m *MemTarget) MergeUpsert(ctx context.Context, stagingTable, targetTable string, keyColumns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("merge", targetTable); err != nil {
		return err
	}
	stg, err := m.table(stagingTable)
	if err != nil {
		return err
	}
	tgt, err := m.table(targetTable)
	if err != nil {
		return err
	}

	keyIdx := make([]int, len(keyColumns))
	for i, k := range keyColumns {
		keyIdx[i] = indexOf(tgt.Columns, k)
		if keyIdx[i] < 0 {
			return fmt.Errorf("%w: %s.%s", apperrors.ErrUnknownKeyColumn, targetTable, k)
		}
	}
	keyOf := func(r []any) string {
		parts := make([]string, len(keyIdx))
		for i, idx := range keyIdx {
			parts[i] = fmt.Sprintf("%v", r[idx])
		}
		return strings.Join(parts, "\x00")
	}

	seen := make(map[string]bool, len(stg.Rows))
	for _, s := range stg.Rows {
		k := keyOf(s)
		if seen[k] {
			return fmt.Errorf("%w: %s has more than one row for key %q",
				apperrors.ErrDuplicateStagingKey, stagingTable, strings.ReplaceAll(k, "\x00", ","))
		}
		seen[k] = true
	}

	merged := tgt.Clone()
	byKey := make(map[string]int, len(merged.Rows))
	for i, r := range merged.Rows {
		byKey[keyOf(r)] = i
	}
	for _, s := range stg.Rows {
		row := append([]any(nil), s...)
		if i, ok := byKey[keyOf(row)]; ok {
			merged.Rows[i] = row
			continue
		}
		byKey[keyOf(row)] = len(merged.Rows)
		merged.Rows = append(merged.Rows, row)
	}
	tgt.Rows = merged.Rows
	return nil
}

func (m *MemTarget) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("ensure_schema", ""); err != nil {
		return err
	}
	m.SchemaReady = true
	return nil
}

func (m *MemTarget) GetWatermark(ctx context.Context, table string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get_watermark", table); err != nil {
		return time.Time{}, err
	}
	if w, ok := m.Watermarks[strings.ToLower(table)]; ok {
		return w, nil
	}
	return m.Policy.Default(), nil
}

func (m *MemTarget) SetWatermark(ctx context.Context, table string, value time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("set_watermark", table); err != nil {
		return err
	}
	m.Watermarks[strings.ToLower(table)] = value
	m.WatermarkWrites = append(m.WatermarkWrites, models.Watermark{TableName: table, LastRunDate: value})
	return nil
}

// StoredWatermark returns the persisted watermark for table, if any.
func (m *MemTarget) StoredWatermark(table string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.Watermarks[strings.ToLower(table)]
	return w, ok
}

func (m *MemTarget) PrepareStaging(ctx context.Context, targetTable string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("prepare_staging", targetTable); err != nil {
		return "", err
	}
	tgt, err := m.table(targetTable)
	if err != nil {
		return "", err
	}
	ref := models.ParseTableRef(targetTable, "dbo")
	name := models.StagingRef(ref, "etl", m.Prefix).String()
	if _, ok := m.Tables[strings.ToLower(name)]; !ok {
		m.Tables[strings.ToLower(name)] = &MemTable{Columns: append([]string(nil), tgt.Columns...)}
	}
	return name, nil
}

func (m *MemTarget) DiscoverTableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("discover_schema", table); err != nil {
		return nil, err
	}
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	schema := &datasource.TableSchema{Table: models.ParseTableRef(table, "dbo")}
	for i, c := range t.Columns {
		schema.Columns = append(schema.Columns, datasource.ColumnMetadata{ColumnName: c, OrdinalPosition: i + 1})
	}
	return schema, nil
}

func (m *MemTarget) Close() error { return nil }

// SortedRows returns the table's rows ordered by the string form of the first column.
func SortedRows(t *MemTable) [][]any {
	rows := append([][]any(nil), t.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		return fmt.Sprintf("%v", rows[i][0]) < fmt.Sprintf("%v", rows[j][0])
	})
	return rows
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

var (
	_ datasource.Extractor   = (*MemSource)(nil)
	_ datasource.TargetStore = (*MemTarget)(nil)
	_ datasource.RowCursor   = (*SliceCursor)(nil)
)
