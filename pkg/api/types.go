package api

import (
	"github.com/rasto/lcmc-sub001/pkg/engine"
	"github.com/rasto/lcmc-sub001/pkg/registry"
)

// ResourcesResponse is the body of GET /v1/resources
type ResourcesResponse struct {
	Seq              uint64               `json:"seq"`
	StructureSeq     uint64               `json:"structure_seq"`
	StructureChanged bool                 `json:"structure_changed"`
	Tree             []registry.TreeEntry `json:"tree"`
	Placeholders     []registry.NodeView  `json:"placeholders"`
}

// AddResourceRequest matches the POST /v1/resources body schema
type AddResourceRequest struct {
	ID       string            `json:"id"`
	Class    string            `json:"class"`
	Provider string            `json:"provider,omitempty"`
	Type     string            `json:"type"`
	Params   map[string]string `json:"params,omitempty"`
	ParentID string            `json:"parent_id,omitempty"`
}

// RemoveResponse is the body of DELETE /v1/resources/{id}
type RemoveResponse struct {
	Removed []string `json:"removed"`
}

// ApplyRequest matches the POST /v1/apply body schema
type ApplyRequest struct {
	Command string `json:"command"`
}

// PollResponse is the body of POST /v1/poll
type PollResponse struct {
	Status string `json:"status"` // "triggered" or "completed"
	PassID string `json:"pass_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StatusResponse is the body of GET /v1/status
type StatusResponse struct {
	Pass             engine.PassStatus `json:"pass"`
	ViewSeq          uint64            `json:"view_seq"`
	StructureSeq     uint64            `json:"structure_seq"`
	StructureChanged bool              `json:"structure_changed"`
	Nodes            int               `json:"nodes"`
}
