package ledger

import (
	"context"
	"fmt"
	"strings"
)

// TableRef identifies one roster spreadsheet.
type TableRef struct {
	ID   string
	Name string
}

// TableInfo is what a reachability probe learns about a table.
type TableInfo struct {
	Title  string
	Sheets []string
}

// Table is one externally owned roster. Implementations must be safe for
// concurrent use.
type Table interface {
	Ref() TableRef
	// Snapshot reads the header row and every data row in one call.
	Snapshot(ctx context.Context) (*Grid, error)
	// WriteCell overwrites a single cell.
	WriteCell(ctx context.Context, cell CellRef, value string) error
	// Probe checks the table is reachable without reading rows.
	Probe(ctx context.Context) (TableInfo, error)
}

// Grid is a snapshot of a roster sheet. Rows may be ragged; missing cells
// read as the empty string.
type Grid struct {
	Sheet  string
	Header []string
	Rows   [][]string
}

// Cell returns the value at data row i (0-based) and column col (0-based).
func (g *Grid) Cell(i, col int) string {
	if col < 0 || i < 0 || i >= len(g.Rows) || col >= len(g.Rows[i]) {
		return ""
	}
	return g.Rows[i][col]
}

// CellRef addresses a single cell. Row is the 1-based sheet row (the header
// is row 1), Col is the 0-based column index.
type CellRef struct {
	Sheet string
	Row   int
	Col   int
}

// A1 renders the reference in A1 notation, quoting the sheet name.
func (c CellRef) A1() string {
	return fmt.Sprintf("%s!%s%d", QuoteSheet(c.Sheet), ColumnName(c.Col), c.Row)
}

// QuoteSheet quotes a sheet title for use in an A1 range.
func QuoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// ColumnName converts a 0-based column index to letters: 0 → A, 25 → Z, 26 → AA.
func ColumnName(col int) string {
	name := ""
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		name = string(rune('A'+(n-1)%26)) + name
	}
	return name
}
