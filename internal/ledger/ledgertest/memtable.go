// Package ledgertest provides an in-memory roster for tests.
package ledgertest

import (
	"context"
	"sync"

	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
)

// Write records one WriteCell call.
type Write struct {
	Cell  ledger.CellRef
	Value string
}

// MemTable is a ledger.Table backed by a slice grid. Writes are applied, so
// later snapshots observe them.
type MemTable struct {
	mu     sync.Mutex
	ref    ledger.TableRef
	sheet  string
	header []string
	rows   [][]string

	writes    []Write
	snapshots int

	SnapshotErr error
	WriteErr    error
	ProbeErr    error
}

var _ ledger.Table = (*MemTable)(nil)

// New returns a table whose first sheet is called sheet.
func New(ref ledger.TableRef, sheet string, header []string, rows ...[]string) *MemTable {
	return &MemTable{ref: ref, sheet: sheet, header: header, rows: rows}
}

func (m *MemTable) Ref() ledger.TableRef { return m.ref }

func (m *MemTable) Snapshot(ctx context.Context) (*ledger.Grid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
	if m.SnapshotErr != nil {
		return nil, m.SnapshotErr
	}
	g := &ledger.Grid{Sheet: m.sheet, Header: append([]string(nil), m.header...)}
	for _, r := range m.rows {
		g.Rows = append(g.Rows, append([]string(nil), r...))
	}
	return g, nil
}

func (m *MemTable) WriteCell(ctx context.Context, cell ledger.CellRef, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.writes = append(m.writes, Write{Cell: cell, Value: value})
	i := cell.Row - 2
	for len(m.rows) <= i {
		m.rows = append(m.rows, nil)
	}
	for len(m.rows[i]) <= cell.Col {
		m.rows[i] = append(m.rows[i], "")
	}
	m.rows[i][cell.Col] = value
	return nil
}

func (m *MemTable) Probe(ctx context.Context) (ledger.TableInfo, error) {
	if m.ProbeErr != nil {
		return ledger.TableInfo{}, m.ProbeErr
	}
	return ledger.TableInfo{Title: m.ref.Name, Sheets: []string{m.sheet}}, nil
}

// Writes returns the WriteCell calls made so far.
func (m *MemTable) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

// Snapshots returns how many times the table was read.
func (m *MemTable) Snapshots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots
}

// Get returns the value in column label for the first row whose first
// column equals id.
func (m *MemTable) Get(id, label string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	col := -1
	for i, h := range m.header {
		if h == label {
			col = i
		}
	}
	for _, r := range m.rows {
		if len(r) > 0 && r[0] == id && col >= 0 && col < len(r) {
			return r[col]
		}
	}
	return ""
}
