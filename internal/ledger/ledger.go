// Package ledger marks attendance in the roster spreadsheets. Each roster is
// an externally owned table with one row per student and one column per
// calendar date; the ledger only ever reads whole sheets and writes single
// cells.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GiraffeSchool/student-signin-system/internal/metrics"
)

// Status is the outcome of FindAndMark.
type Status int

const (
	NotFound Status = iota
	Marked
	AlreadyMarked
)

func (s Status) String() string {
	switch s {
	case Marked:
		return "marked"
	case AlreadyMarked:
		return "already_marked"
	default:
		return "not_found"
	}
}

// Record is the student row a sign-in resolved to.
type Record struct {
	StudentID string
	Name      string
	Class     string
	Table     TableRef
	Cell      CellRef
	// Value is the marker now in the cell: the one just written for Marked,
	// the earlier one for AlreadyMarked.
	Value     string
	Guardians []string
}

// Result of a FindAndMark call. Record is nil for NotFound.
type Result struct {
	Status Status
	Record *Record
}

// AmbiguousError is returned in strict mode when a student appears in more
// than one roster.
type AmbiguousError struct {
	StudentID string
	Tables    []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("student %q appears in several rosters: %s", e.StudentID, strings.Join(e.Tables, ", "))
}

// Student is one roster row, as listed by Roster.
type Student struct {
	ID    string
	Name  string
	Class string
	Table TableRef
}

// Ledger finds students across an ordered list of rosters and marks them
// present at most once per day.
type Ledger struct {
	tables []Table
	layout Layout
	locker Locker
	wait   time.Duration
	strict bool
	logger *slog.Logger
}

// DefaultLockWait is how long a sign-in waits for a concurrent one for the
// same student.
const DefaultLockWait = 10 * time.Second

// Option configures a Ledger.
type Option func(*Ledger)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option {
	return func(lg *Ledger) { lg.locker = l }
}

// WithLockWait bounds how long FindAndMark waits for a busy student before
// failing with ErrLockBusy.
func WithLockWait(d time.Duration) Option {
	return func(lg *Ledger) {
		if d > 0 {
			lg.wait = d
		}
	}
}

// WithStrictUnique makes a student found in more than one roster an error
// instead of resolving to the first roster in order.
func WithStrictUnique(strict bool) Option {
	return func(lg *Ledger) { lg.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// New returns a ledger over tables, searched in the given order.
func New(tables []Table, layout Layout, opts ...Option) *Ledger {
	lg := &Ledger{
		tables: tables,
		layout: layout,
		locker: NewMemoryLocker(),
		wait:   DefaultLockWait,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(lg)
	}
	return lg
}

// Tables returns the rosters in search order.
func (l *Ledger) Tables() []Table { return l.tables }

type match struct {
	table Table
	grid  *Grid
	cols  columns
	row   int
}

// FindAndMark marks studentID present for the calendar day of at.
//
// The whole lookup runs under a per-student-per-day lock, so two concurrent
// sign-ins for the same student produce one Marked and one AlreadyMarked.
// Rosters without an ID column or a column for the day are skipped.
func (l *Ledger) FindAndMark(ctx context.Context, studentID string, at time.Time) (Result, error) {
	studentID = strings.TrimSpace(studentID)
	date := at.Format(l.layout.DateFormat)

	lockCtx, cancel := context.WithTimeout(ctx, l.wait)
	unlock, err := l.locker.Lock(lockCtx, lockKey(date, studentID))
	cancel()
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var matches []match
	for _, t := range l.tables {
		g, err := l.snapshot(ctx, t)
		if err != nil {
			return Result{}, fmt.Errorf("read roster %s: %w", t.Ref().Name, err)
		}
		m, ok := l.find(t, g, studentID, date)
		if !ok {
			continue
		}
		matches = append(matches, m)
		if !l.strict {
			break
		}
	}

	switch len(matches) {
	case 0:
		return Result{Status: NotFound}, nil
	case 1:
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.table.Ref().Name)
		}
		return Result{}, &AmbiguousError{StudentID: studentID, Tables: names}
	}

	m := matches[0]
	rec := l.record(m, studentID)
	current := m.grid.Cell(m.row, m.cols.date)
	if l.layout.marked(current) {
		rec.Value = current
		return Result{Status: AlreadyMarked, Record: rec}, nil
	}

	value := l.layout.PresentTag + " " + at.Format(l.layout.TimeFormat)
	start := time.Now()
	err = m.table.WriteCell(ctx, rec.Cell, value)
	metrics.ObserveLedger("write", start)
	if err != nil {
		return Result{}, fmt.Errorf("write %s in roster %s: %w", rec.Cell.A1(), m.table.Ref().Name, err)
	}
	l.logger.InfoContext(ctx, "attendance marked",
		slog.String("student_id", studentID),
		slog.String("roster", m.table.Ref().Name),
		slog.String("cell", rec.Cell.A1()))

	rec.Value = value
	return Result{Status: Marked, Record: rec}, nil
}

func (l *Ledger) snapshot(ctx context.Context, t Table) (*Grid, error) {
	start := time.Now()
	defer metrics.ObserveLedger("snapshot", start)
	return t.Snapshot(ctx)
}

func (l *Ledger) find(t Table, g *Grid, studentID, date string) (match, bool) {
	if g == nil || len(g.Header) == 0 {
		return match{}, false
	}
	cols := l.layout.locate(g.Header, date)
	if cols.id < 0 || cols.date < 0 {
		l.logger.Debug("roster skipped",
			slog.String("roster", t.Ref().Name),
			slog.Bool("has_id_column", cols.id >= 0),
			slog.Bool("has_date_column", cols.date >= 0),
			slog.String("date", date))
		return match{}, false
	}
	for i := range g.Rows {
		if strings.TrimSpace(g.Cell(i, cols.id)) == studentID {
			return match{table: t, grid: g, cols: cols, row: i}, true
		}
	}
	return match{}, false
}

func (l *Ledger) record(m match, studentID string) *Record {
	rec := &Record{
		StudentID: studentID,
		Name:      strings.TrimSpace(m.grid.Cell(m.row, m.cols.name)),
		Table:     m.table.Ref(),
		Cell:      CellRef{Sheet: m.grid.Sheet, Row: m.row + 2, Col: m.cols.date},
	}
	if m.cols.class >= 0 {
		rec.Class = strings.TrimSpace(m.grid.Cell(m.row, m.cols.class))
	} else {
		rec.Class = m.grid.Sheet
	}
	for _, col := range m.cols.guardians {
		if v := strings.TrimSpace(m.grid.Cell(m.row, col)); v != "" {
			rec.Guardians = append(rec.Guardians, v)
		}
	}
	return rec
}

// Roster lists every student with an identifier across all tables. A table
// that cannot be read is reported in the returned error while the others are
// still listed.
func (l *Ledger) Roster(ctx context.Context) ([]Student, error) {
	var (
		out  []Student
		errs []error
	)
	for _, t := range l.tables {
		g, err := l.snapshot(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("read roster %s: %w", t.Ref().Name, err))
			continue
		}
		if g == nil || len(g.Header) == 0 {
			continue
		}
		cols := l.layout.locate(g.Header, "")
		if cols.id < 0 {
			continue
		}
		for i := range g.Rows {
			id := strings.TrimSpace(g.Cell(i, cols.id))
			if id == "" {
				continue
			}
			s := Student{ID: id, Name: strings.TrimSpace(g.Cell(i, cols.name)), Table: t.Ref()}
			if cols.class >= 0 {
				s.Class = strings.TrimSpace(g.Cell(i, cols.class))
			}
			out = append(out, s)
		}
	}
	return out, errors.Join(errs...)
}
