package reports

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
)

// PassReport lists journaled poll cycles, one row each.
type PassReport struct {
	store ReportStore
}

func NewPassReport(s ReportStore) *PassReport {
	return &PassReport{store: s}
}

func (r *PassReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	passes, err := r.store.QueryPasses(ctx, params.filter())
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}

	headers := []string{"started_at", "pass_id", "host", "outcome", "duration_ms",
		"structure_changed", "added", "removed", "reparented", "edges", "error"}
	return writeCSV(headers, func(write func([]string) error) error {
		for _, p := range passes {
			row := []string{
				p.StartedAt.UTC().Format(time.RFC3339),
				p.PassID,
				p.Host,
				string(p.Outcome),
				strconv.FormatInt(p.Duration.Milliseconds(), 10),
				strconv.FormatBool(p.StructureChanged),
				strconv.Itoa(p.Added),
				strconv.Itoa(p.Removed),
				strconv.Itoa(p.Reparented),
				strconv.Itoa(p.Edges),
				p.Error,
			}
			if err := write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
		return nil
	})
}
