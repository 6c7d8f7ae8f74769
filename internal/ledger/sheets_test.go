package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type fakeSheetsAPI struct {
	mu        sync.Mutex
	updates   []string
	values    [][]string
	forbidden bool
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if f.forbidden {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission","status":"PERMISSION_DENIED"}}`))
		return
	}

	switch {
	case r.URL.Path == "/v4/spreadsheets/sid":
		_, _ = w.Write([]byte(`{"spreadsheetId":"sid","properties":{"title":"Roster 2025"},"sheets":[{"properties":{"title":"Sheet1"}},{"properties":{"title":"Archive"}}]}`))
	case strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sid/values/") && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"range":          "Sheet1!A1:C3",
			"majorDimension": "ROWS",
			"values":         f.values,
		})
	case strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sid/values/") && r.Method == http.MethodPut:
		var body struct {
			Values [][]string `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rng := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sid/values/")
		f.updates = append(f.updates, rng+"="+body.Values[0][0]+"|"+r.URL.Query().Get("valueInputOption"))
		_, _ = w.Write([]byte(`{"spreadsheetId":"sid","updatedCells":1}`))
	default:
		http.NotFound(w, r)
	}
}

func newFakeSheetsTable(t *testing.T, api *fakeSheetsAPI) *SheetsTable {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewSheetsTable(TableRef{ID: "sid", Name: "先修"}, svc, 5*time.Second)
}

func TestSheetsTableSnapshot(t *testing.T) {
	api := &fakeSheetsAPI{values: [][]string{
		{"學號", "姓名", "2025-01-15"},
		{"S1001", "陳大文"},
		{"S1002", "林小美", "出席 09:10"},
	}}
	tbl := newFakeSheetsTable(t, api)

	g, err := tbl.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", g.Sheet)
	assert.Equal(t, []string{"學號", "姓名", "2025-01-15"}, g.Header)
	require.Len(t, g.Rows, 2)
	assert.Equal(t, "", g.Cell(0, 2))
	assert.Equal(t, "出席 09:10", g.Cell(1, 2))
}

func TestSheetsTableWriteCell(t *testing.T) {
	api := &fakeSheetsAPI{}
	tbl := newFakeSheetsTable(t, api)

	err := tbl.WriteCell(context.Background(), CellRef{Sheet: "Sheet1", Row: 2, Col: 2}, "出席 14:30")
	require.NoError(t, err)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.updates, 1)
	assert.Equal(t, "'Sheet1'!C2=出席 14:30|USER_ENTERED", api.updates[0])
}

func TestSheetsTableProbe(t *testing.T) {
	api := &fakeSheetsAPI{}
	tbl := newFakeSheetsTable(t, api)

	info, err := tbl.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Roster 2025", info.Title)
	assert.Equal(t, []string{"Sheet1", "Archive"}, info.Sheets)

	api.mu.Lock()
	api.forbidden = true
	api.mu.Unlock()
	_, err = tbl.Probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission")
}

func TestSheetsTablesKeepsOrder(t *testing.T) {
	tables := SheetsTables([]TableRef{{ID: "a", Name: "國中"}, {ID: "b", Name: "先修"}}, nil, 0)
	require.Len(t, tables, 2)
	assert.Equal(t, "國中", tables[0].Ref().Name)
	assert.Equal(t, "先修", tables[1].Ref().Name)
}
