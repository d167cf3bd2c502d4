package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/reports"
)

// handleReport streams a CSV report over the pass journal.
// Query: from, to (RFC3339), outcome, changed=true.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Reports == nil {
		http.Error(w, `{"error":"journal_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	gen, err := reports.NewReportGenerator(reports.ReportType(r.PathValue("type")), s.deps.Reports)
	if err != nil {
		http.Error(w, `{"error":"unknown_report_type"}`, http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	params := reports.ReportParams{Filters: map[string]string{
		"outcome": q.Get("outcome"),
		"changed": q.Get("changed"),
	}}
	for key, dst := range map[string]*time.Time{"from": &params.Start, "to": &params.End} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":"invalid_%s"}`, key), http.StatusBadRequest)
			return
		}
		*dst = t
	}

	body, err := gen.Generate(r.Context(), params)
	if err != nil {
		s.log.Error().Err(err).Str("trace_id", getTraceID(r.Context())).Msg("report_failed")
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}
