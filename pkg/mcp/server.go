package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rasto/lcmc-sub001/pkg/api"
	"github.com/rasto/lcmc-sub001/pkg/client"
)

const contextPrompt = "lcmc-aware"

// Server adapts lcmc-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"lcmc",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"lcmc://resources",
		"Cluster Resource Tree",
		mcp.WithResourceDescription("Resources depth first with their members, plus constraint placeholders"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadResources)

	s.mcpServer.AddResource(mcp.NewResource(
		"lcmc://graph",
		"Constraint Graph",
		mcp.WithResourceDescription("Vertices and order/colocation edges derived from the last poll"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"add_placeholder",
		mcp.WithDescription("Create an unconnected constraint placeholder. The next poll adopts it for a new resource-set constraint."),
	), s.handleAddPlaceholder)

	s.mcpServer.AddTool(mcp.NewTool(
		"trigger_poll",
		mcp.WithDescription("Re-read cluster status and reconcile the resource registry."),
		mcp.WithBoolean("wait", mcp.Description("Block until the pass finished (default false)")),
	), s.handleTriggerPoll)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		contextPrompt,
		mcp.WithPromptDescription("Provides context about the cluster console (resources, groups, clones, constraints)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadResources(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	res, err := s.apiClient.Resources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resources: %w", err)
	}
	return jsonContents(request.Params.URI, res)
}

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	g, err := s.apiClient.Graph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}
	return jsonContents(request.Params.URI, g)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleAddPlaceholder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ph, err := s.apiClient.AddPlaceholder(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Placeholder %s created", ph.ID)), nil
}

func (s *Server) handleTriggerPoll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wait := mcp.ParseBoolean(request, "wait", false)

	resp, err := s.apiClient.Poll(ctx, wait)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPoll(resp)), nil
}

func formatPoll(resp api.PollResponse) string {
	if resp.PassID == "" {
		return "Poll " + resp.Status
	}
	return fmt.Sprintf("Poll %s\nPass: %s", resp.Status, resp.PassID)
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != contextPrompt {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are looking at a Pacemaker cluster through lcmc, a resource console.

Concepts:
- Primitive: a single managed service instance (e.g. an IP address, a filesystem).
- Group: an ordered list of primitives started in sequence on the same node.
- Clone / master-slave: a wrapper running its child on several nodes.
- Constraint placeholder: a vertex standing for an order or colocation constraint
  over resource sets.
- Locally created (is_new): exists only in this console until committed.

Read lcmc://resources for the tree and lcmc://graph for constraint edges.
Use 'trigger_poll' after changing the cluster to refresh the view.
Cluster resources disappear from the tree only after a poll no longer reports them.
`

	return mcp.NewGetPromptResult(
		contextPrompt,
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
