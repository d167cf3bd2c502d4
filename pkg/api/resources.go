package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/remote"
	"github.com/rasto/lcmc-sub001/pkg/source"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var resp StatusResponse
	if s.deps.Poller != nil {
		resp.Pass = s.deps.Poller.Status()
	}
	if s.deps.Views != nil {
		if v := s.deps.Views.Latest(); v != nil {
			resp.ViewSeq = v.Seq
			resp.StructureSeq = v.StructureSeq
			resp.StructureChanged = v.StructureChanged
			resp.Nodes = len(v.Nodes)
		}
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleResources serves the tree (GET) and creates new primitives (POST).
func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.deps.Views == nil {
			http.Error(w, `{"error":"registry_not_available"}`, http.StatusServiceUnavailable)
			return
		}
		v := s.deps.Views.Latest()
		resp := ResourcesResponse{
			Seq:              v.Seq,
			StructureSeq:     v.StructureSeq,
			StructureChanged: v.StructureChanged,
			Tree:             v.Tree(),
			Placeholders:     v.Placeholders(),
		}
		s.writeJSON(w, r, http.StatusOK, resp)

	case http.MethodPost:
		if s.deps.Console == nil {
			http.Error(w, `{"error":"console_not_available"}`, http.StatusServiceUnavailable)
			return
		}
		var req AddResourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
			return
		}
		if req.ID == "" || req.Class == "" || req.Type == "" {
			http.Error(w, `{"error":"missing_required_fields"}`, http.StatusBadRequest)
			return
		}
		ra := crm.ResourceAgent{Class: req.Class, Provider: req.Provider, Type: req.Type}
		n, err := s.deps.Console.AddResource(req.ID, ra, req.Params, req.ParentID)
		if err != nil {
			s.writeConsoleError(w, err)
			return
		}
		s.writeJSON(w, r, http.StatusCreated, n)

	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

// handleResource serves one node (GET) and removes locally created nodes
// (DELETE).
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		if s.deps.Views == nil {
			http.Error(w, `{"error":"registry_not_available"}`, http.StatusServiceUnavailable)
			return
		}
		n, ok := s.deps.Views.Latest().Get(id)
		if !ok {
			http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
			return
		}
		s.writeJSON(w, r, http.StatusOK, n)

	case http.MethodDelete:
		if s.deps.Console == nil {
			http.Error(w, `{"error":"console_not_available"}`, http.StatusServiceUnavailable)
			return
		}
		removed, err := s.deps.Console.RemoveNew(id)
		if err != nil {
			s.writeConsoleError(w, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, RemoveResponse{Removed: removed})

	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePlaceholders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.deps.Views == nil {
			http.Error(w, `{"error":"registry_not_available"}`, http.StatusServiceUnavailable)
			return
		}
		s.writeJSON(w, r, http.StatusOK, s.deps.Views.Latest().Placeholders())
	case http.MethodPost:
		if s.deps.Console == nil {
			http.Error(w, `{"error":"console_not_available"}`, http.StatusServiceUnavailable)
			return
		}
		s.writeJSON(w, r, http.StatusCreated, s.deps.Console.AddPlaceholder())
	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeConsoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNodeNotFound):
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	case errors.Is(err, engine.ErrNodeExists):
		http.Error(w, `{"error":"already_exists"}`, http.StatusConflict)
	case errors.Is(err, engine.ErrNotNew):
		http.Error(w, `{"error":"not_locally_created"}`, http.StatusConflict)
	case errors.Is(err, engine.ErrBadParent):
		http.Error(w, `{"error":"invalid_parent"}`, http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Msg("console_action_failed")
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
	}
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Graph == nil {
		http.Error(w, `{"error":"graph_not_available"}`, http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.deps.Graph.GetGraph())
}

func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Passes == nil {
		http.Error(w, `{"error":"journal_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	passes, err := s.deps.Passes.RecentPasses(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Str("trace_id", getTraceID(r.Context())).Msg("failed_to_read_passes")
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, passes)
}

func (s *Server) handlePass(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Passes == nil {
		http.Error(w, `{"error":"journal_not_available"}`, http.StatusServiceUnavailable)
		return
	}
	p, err := s.deps.Passes.GetPass(r.Context(), r.PathValue("id"))
	if err != nil {
		s.log.Error().Err(err).Str("trace_id", getTraceID(r.Context())).Msg("failed_to_read_pass")
		http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	s.writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleClusterHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Hosts == nil {
		http.Error(w, `{"error":"cluster_not_available"}`, http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.deps.Hosts.GetHosts(s.deps.HostTTL))
}

// handlePoll requests a poll. With ?wait=true it runs one synchronously and
// reports its outcome.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Poller == nil {
		http.Error(w, `{"error":"poller_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		s.deps.Poller.Trigger()
		s.writeJSON(w, r, http.StatusAccepted, PollResponse{Status: "triggered"})
		return
	}

	rec, err := s.deps.Poller.PollOnce(r.Context())
	resp := PollResponse{Status: "completed"}
	if rec != nil {
		resp.PassID = rec.PassID
	}
	if err != nil {
		resp.Error = err.Error()
		status := http.StatusInternalServerError
		if errors.Is(err, source.ErrStatusUnavailable) {
			status = http.StatusBadGateway
		}
		s.writeJSON(w, r, status, resp)
		return
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Console == nil {
		http.Error(w, `{"error":"console_not_available"}`, http.StatusServiceUnavailable)
		return
	}

	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}

	res, err := s.deps.Console.Apply(r.Context(), req.Command)
	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, res)
	case errors.Is(err, remote.ErrEmptyCommand):
		http.Error(w, `{"error":"missing_command"}`, http.StatusBadRequest)
	case errors.Is(err, engine.ErrApplyBusy):
		http.Error(w, `{"error":"apply_in_progress"}`, http.StatusConflict)
	case errors.Is(err, engine.ErrNoHosts):
		http.Error(w, `{"error":"no_cluster_hosts"}`, http.StatusServiceUnavailable)
	default:
		s.log.Warn().Err(err).Str("trace_id", getTraceID(r.Context())).Msg("apply_failed")
		s.writeJSON(w, r, http.StatusBadGateway, map[string]any{
			"error":     "apply_failed",
			"exit_code": remote.ExitCode(err),
			"detail":    err.Error(),
		})
	}
}
