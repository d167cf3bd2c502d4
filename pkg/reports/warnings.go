package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/reconcile"
)

// WarningReport flattens the non-fatal reconciler warnings of each pass.
type WarningReport struct {
	store ReportStore
}

func NewWarningReport(s ReportStore) *WarningReport {
	return &WarningReport{store: s}
}

func (r *WarningReport) Generate(ctx context.Context, params ReportParams) (io.Reader, error) {
	passes, err := r.store.QueryPasses(ctx, params.filter())
	if err != nil {
		return nil, fmt.Errorf("failed to query passes: %w", err)
	}

	headers := []string{"started_at", "pass_id", "kind", "id", "message"}
	return writeCSV(headers, func(write func([]string) error) error {
		for _, p := range passes {
			if len(p.Warnings) == 0 {
				continue
			}
			var warnings []reconcile.Warning
			if err := json.Unmarshal(p.Warnings, &warnings); err != nil {
				return fmt.Errorf("failed to unmarshal warnings for pass %s: %w", p.PassID, err)
			}
			for _, w := range warnings {
				row := []string{
					p.StartedAt.UTC().Format(time.RFC3339),
					p.PassID,
					string(w.Kind),
					w.ID,
					w.Message,
				}
				if err := write(row); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}
		}
		return nil
	})
}
