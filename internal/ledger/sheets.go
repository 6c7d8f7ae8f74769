package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// NewSheetsService builds a Google Sheets client from a service-account key.
func NewSheetsService(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*sheets.Service, error) {
	base := []option.ClientOption{
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	}
	svc, err := sheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return svc, nil
}

// SheetsTable is a roster stored in the first sheet of a Google spreadsheet.
type SheetsTable struct {
	ref     TableRef
	svc     *sheets.Service
	timeout time.Duration
}

var _ Table = (*SheetsTable)(nil)

// NewSheetsTable wraps spreadsheet ref.ID. Every API call is bounded by
// timeout.
func NewSheetsTable(ref TableRef, svc *sheets.Service, timeout time.Duration) *SheetsTable {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SheetsTable{ref: ref, svc: svc, timeout: timeout}
}

func (t *SheetsTable) Ref() TableRef { return t.ref }

// Snapshot reads the entire first sheet.
func (t *SheetsTable) Snapshot(ctx context.Context) (*Grid, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	title, err := t.firstSheet(ctx)
	if err != nil {
		return nil, err
	}
	vr, err := t.svc.Spreadsheets.Values.Get(t.ref.ID, QuoteSheet(title)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}

	g := &Grid{Sheet: title}
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		if i == 0 {
			g.Header = cells
			continue
		}
		g.Rows = append(g.Rows, cells)
	}
	return g, nil
}

// WriteCell writes value as if typed by a user, so times stay text.
func (t *SheetsTable) WriteCell(ctx context.Context, cell CellRef, value string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := t.svc.Spreadsheets.Values.Update(t.ref.ID, cell.A1(), vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", cell.A1(), err)
	}
	return nil
}

// Probe fetches spreadsheet metadata only.
func (t *SheetsTable) Probe(ctx context.Context) (TableInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ss, err := t.svc.Spreadsheets.Get(t.ref.ID).
		Fields("properties.title", "sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return TableInfo{}, err
	}
	info := TableInfo{}
	if ss.Properties != nil {
		info.Title = ss.Properties.Title
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			info.Sheets = append(info.Sheets, s.Properties.Title)
		}
	}
	return info, nil
}

func (t *SheetsTable) firstSheet(ctx context.Context) (string, error) {
	ss, err := t.svc.Spreadsheets.Get(t.ref.ID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read metadata: %w", err)
	}
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return "", errors.New("spreadsheet has no sheets")
	}
	return ss.Sheets[0].Properties.Title, nil
}

// SheetsTables wraps every ref, keeping their order.
func SheetsTables(refs []TableRef, svc *sheets.Service, timeout time.Duration) []Table {
	out := make([]Table, 0, len(refs))
	for _, ref := range refs {
		out = append(out, NewSheetsTable(ref, svc, timeout))
	}
	return out
}
