package reports

import (
	"context"
	"io"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/store"
)

type ReportType string

const (
	ReportTypePasses   ReportType = "passes"
	ReportTypeWarnings ReportType = "warnings"
)

type ReportParams struct {
	Start time.Time
	End   time.Time
	// Filters: "outcome" restricts to one pass outcome, "changed" set to
	// "true" keeps only structure-changing passes.
	Filters map[string]string
}

// ReportStore is the journal access reports need.
type ReportStore interface {
	QueryPasses(ctx context.Context, f store.PassFilter) ([]*store.PassRecord, error)
}

type Generator interface {
	Generate(ctx context.Context, params ReportParams) (io.Reader, error)
}

func (p ReportParams) filter() store.PassFilter {
	f := store.PassFilter{From: p.Start, To: p.End}
	if o := p.Filters["outcome"]; o != "" {
		f.Outcome = store.PassOutcome(o)
	}
	f.StructureChangedOnly = p.Filters["changed"] == "true"
	return f
}
