package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

type mockReportStore struct {
	passes []*store.PassRecord
	last   store.PassFilter
}

func (m *mockReportStore) QueryPasses(ctx context.Context, f store.PassFilter) ([]*store.PassRecord, error) {
	m.last = f
	var out []*store.PassRecord
	for _, p := range m.passes {
		if !f.From.IsZero() && p.StartedAt.Before(f.From) {
			continue
		}
		if f.Outcome != "" && p.Outcome != f.Outcome {
			continue
		}
		if f.StructureChangedOnly && !p.StructureChanged {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func fixtureStore(t *testing.T) *mockReportStore {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	warnings, err := json.Marshal([]reconcile.Warning{
		{Kind: reconcile.WarnUnknownResourceAgent, ID: "r1", Message: "unknown agent ocf:acme:Thing"},
		{Kind: reconcile.WarnMalformedSnapshot, ID: "r2", Message: "no parameters"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &mockReportStore{passes: []*store.PassRecord{
		{PassID: "p1", Host: "alpha", StartedAt: now, Outcome: store.OutcomeApplied, Duration: 12 * time.Millisecond,
			StructureChanged: true, Added: 3, Edges: 1, Warnings: warnings},
		{PassID: "p2", StartedAt: now.Add(time.Minute), Outcome: store.OutcomeUnavailable, Error: "cluster status unavailable"},
	}}
}

func readCSV(t *testing.T, g Generator, params ReportParams) [][]string {
	t.Helper()
	r, err := g.Generate(context.Background(), params)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}
	return records
}

func TestPassReport(t *testing.T) {
	s := fixtureStore(t)
	records := readCSV(t, NewPassReport(s), ReportParams{})

	if len(records) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(records))
	}
	if records[0][0] != "started_at" || records[0][10] != "error" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	row := records[1]
	if row[1] != "p1" || row[2] != "alpha" || row[3] != "applied" || row[4] != "12" || row[5] != "true" || row[6] != "3" {
		t.Errorf("Unexpected row: %v", row)
	}
	if records[2][10] != "cluster status unavailable" {
		t.Errorf("Expected error column, got %v", records[2])
	}

	records = readCSV(t, NewPassReport(s), ReportParams{Filters: map[string]string{"outcome": "unavailable"}})
	if len(records) != 2 || records[1][1] != "p2" {
		t.Errorf("Expected only p2, got %v", records)
	}

	readCSV(t, NewPassReport(s), ReportParams{Filters: map[string]string{"changed": "true"}})
	if !s.last.StructureChangedOnly {
		t.Error("Expected changed filter to reach the store")
	}
}

func TestWarningReport(t *testing.T) {
	records := readCSV(t, NewWarningReport(fixtureStore(t)), ReportParams{})

	if len(records) != 3 {
		t.Fatalf("Expected header + 2 warning rows, got %d", len(records))
	}
	if records[1][2] != "unknown_resource_agent" || records[1][3] != "r1" {
		t.Errorf("Unexpected row: %v", records[1])
	}
	if records[2][2] != "malformed_snapshot" || records[2][4] != "no parameters" {
		t.Errorf("Unexpected row: %v", records[2])
	}
}

func TestWarningReport_BadPayload(t *testing.T) {
	s := &mockReportStore{passes: []*store.PassRecord{{PassID: "p1", Warnings: []byte("{")}}}
	if _, err := NewWarningReport(s).Generate(context.Background(), ReportParams{}); err == nil {
		t.Error("Expected error for malformed warnings")
	}
}

func TestNewReportGenerator(t *testing.T) {
	s := fixtureStore(t)
	for _, typ := range []ReportType{ReportTypePasses, ReportTypeWarnings} {
		if _, err := NewReportGenerator(typ, s); err != nil {
			t.Errorf("NewReportGenerator(%s) failed: %v", typ, err)
		}
	}
	if _, err := NewReportGenerator("usage", s); err == nil {
		t.Error("Expected error for an unknown report type")
	}
}
