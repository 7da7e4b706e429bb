package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	ports "spendlog/internal/sheets"
)

func TestRowValues(t *testing.T) {
	row := ports.RecordRow{
		RecordID: "rec-1",
		UserID:   "user_2abc",
		Text:     "Train ticket",
		Amount:   23.4,
		Category: "Transportation",
		Date:     time.Date(2025, 4, 2, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
	}

	got := rowValues(row)
	want := []any{"2025-04-02", "user_2abc", "Train ticket", "Transportation", 23.4, "rec-1"}
	if len(got) != len(header) {
		t.Fatalf("rowValues() has %d columns, header has %d", len(got), len(header))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestContainsID(t *testing.T) {
	values := [][]any{{"Record ID"}, {}, {" rec-1 "}, {"rec-2"}}

	tests := []struct {
		id   string
		want bool
	}{
		{"rec-1", true},
		{"rec-2", true},
		{"rec-3", false},
	}

	for _, tt := range tests {
		if got := containsID(values, tt.id); got != tt.want {
			t.Errorf("containsID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestSheetRange(t *testing.T) {
	tests := []struct {
		sheet, cells, want string
	}{
		{"Records", "A:F", "'Records'!A:F"},
		{"2025 Records", "F:F", "'2025 Records'!F:F"},
		{"Bob's", "A:F", "'Bob''s'!A:F"},
	}

	for _, tt := range tests {
		if got := sheetRange(tt.sheet, tt.cells); got != tt.want {
			t.Errorf("sheetRange(%q, %q) = %q, want %q", tt.sheet, tt.cells, got, tt.want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("New() without spreadsheet id should fail")
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "abc"}); err == nil {
		t.Error("New() without credentials should fail")
	}
	if _, err := New(context.Background(), Config{SpreadsheetID: "abc", ServiceAccountFile: "/non/existent.json"}); err == nil {
		t.Error("New() with missing key file should fail")
	}
}

func TestUninitializedClient(t *testing.T) {
	c := &Client{}
	if _, err := c.AppendRecord(context.Background(), ports.RecordRow{RecordID: "x"}); err == nil {
		t.Error("AppendRecord() on uninitialized client should fail")
	}
	if _, err := c.HasRecord(context.Background(), "x"); err == nil {
		t.Error("HasRecord() on uninitialized client should fail")
	}
	if _, err := c.EnsureHeader(context.Background()); err == nil {
		t.Error("EnsureHeader() on uninitialized client should fail")
	}
}

// fakeSheetsAPI answers values.get with firstRow and records values.update bodies.
func fakeSheetsAPI(t *testing.T, firstRow []any) (*Client, *[][]any) {
	t.Helper()
	var written [][]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			vr := gsheet.ValueRange{}
			if firstRow != nil {
				vr.Values = [][]any{firstRow}
			}
			_ = json.NewEncoder(w).Encode(vr)
		case http.MethodPut:
			var vr gsheet.ValueRange
			if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
				t.Errorf("decode update body: %v", err)
			}
			if got := r.URL.Query().Get("valueInputOption"); got != "RAW" {
				t.Errorf("valueInputOption = %q, want RAW", got)
			}
			written = append(written, vr.Values...)
			_ = json.NewEncoder(w).Encode(gsheet.UpdateValuesResponse{UpdatedRows: 1})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return &Client{svc: svc, spreadsheetID: "sheet-1", sheetName: "Records"}, &written
}

func TestEnsureHeader(t *testing.T) {
	tests := []struct {
		name      string
		firstRow  []any
		wantWrite bool
	}{
		{"empty sheet", nil, true},
		{"blank cells", []any{"", " "}, true},
		{"header present", []any{"Date", "User"}, false},
		{"data in first row", []any{"2025-04-02", "user_2abc"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, written := fakeSheetsAPI(t, tt.firstRow)

			wrote, err := c.EnsureHeader(context.Background())
			if err != nil {
				t.Fatalf("EnsureHeader() error = %v", err)
			}
			if wrote != tt.wantWrite {
				t.Errorf("EnsureHeader() = %v, want %v", wrote, tt.wantWrite)
			}
			if !tt.wantWrite {
				if len(*written) != 0 {
					t.Errorf("header written over existing row: %v", *written)
				}
				return
			}
			if len(*written) != 1 || len((*written)[0]) != len(header) {
				t.Fatalf("written = %v, want one header row", *written)
			}
			for i, v := range header {
				if (*written)[0][i] != v {
					t.Errorf("header column %d = %v, want %v", i, (*written)[0][i], v)
				}
			}
		})
	}
}
