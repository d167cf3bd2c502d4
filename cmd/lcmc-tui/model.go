package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rasto/lcmc-sub001/pkg/api"
	"github.com/rasto/lcmc-sub001/pkg/client"
	"github.com/rasto/lcmc-sub001/pkg/crm"
	"github.com/rasto/lcmc-sub001/pkg/graph"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/store"
)

const (
	pollRate       = time.Second
	requestTimeout = 2 * time.Second
	viewportHeight = 20
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = lipgloss.NewStyle().Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	groupStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	newStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	orphanStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
)

// Daemon is the part of the API client the console uses.
type Daemon interface {
	Status(ctx context.Context) (api.StatusResponse, error)
	Resources(ctx context.Context) (api.ResourcesResponse, error)
	Graph(ctx context.Context) (*graph.Graph, error)
	Poll(ctx context.Context, wait bool) (api.PollResponse, error)
	AddPlaceholder(ctx context.Context) (registry.NodeView, error)
}

var _ Daemon = (*client.Client)(nil)

type tickMsg time.Time

type statusMsg struct {
	status api.StatusResponse
	err    error
}

type treeMsg struct {
	resources api.ResourcesResponse
	graph     *graph.Graph
	err       error
}

type actionMsg struct {
	text string
	err  error
}

type model struct {
	daemon   Daemon
	spinner  spinner.Model
	viewport viewport.Model

	status       api.StatusResponse
	structureSeq uint64
	fetching     bool
	rebuilds     int

	resources api.ResourcesResponse
	edges     []*graph.Edge

	notice string
	err    error
	ready  bool
}

func initialModel(d Daemon) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		daemon:   d,
		spinner:  s,
		viewport: newViewport(100),
	}
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.fetchStatus(),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			return m, m.triggerPoll()
		case "a":
			return m, m.addPlaceholder()
		case "r":
			m.fetching = true
			return m, m.fetchTree()
		}
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, m.fetchStatus(), tick())

	case statusMsg:
		m.ready = true
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.err = nil
		m.status = msg.status
		// the tree only changes when the structure does
		if !m.fetching && (msg.status.StructureSeq != m.structureSeq || m.rebuilds == 0) {
			m.fetching = true
			cmds = append(cmds, m.fetchTree())
		}

	case treeMsg:
		m.fetching = false
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.resources = msg.resources
		m.structureSeq = msg.resources.StructureSeq
		if msg.graph != nil {
			m.edges = sortedEdges(msg.graph)
		}
		m.rebuilds++
		m.viewport.SetContent(renderTree(m.resources, m.edges))

	case actionMsg:
		if msg.err != nil {
			m.notice = errorStyle.Render(msg.text + ": " + msg.err.Error())
		} else {
			m.notice = okStyle.Render(msg.text)
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting...", m.spinner.View())
	}

	topPane := paneStyle.Render(renderPass(m.status))
	header := headerStyle.Render(fmt.Sprintf("%s Resources", m.spinner.View()))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Online • %d Nodes • %d Edges • seq %d",
			m.status.Nodes, len(m.edges), m.status.ViewSeq))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\n%s\np poll • a add placeholder • r refresh • q quit", status, m.notice))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), footer)
}

func renderPass(s api.StatusResponse) string {
	var sb strings.Builder
	sb.WriteString(statusStyle.Render("Last Pass") + "\n")
	p := s.Pass
	if p.PassID == "" {
		sb.WriteString(subtleStyle.Render("No pass yet."))
		return sb.String()
	}
	outcome := okStyle.Render(string(p.Outcome))
	if p.Outcome != store.OutcomeApplied {
		outcome = errorStyle.Render(string(p.Outcome))
	}
	fmt.Fprintf(&sb, "%s %s via %s at %s", p.PassID, outcome, p.Host, p.At.Format("15:04:05"))
	if p.Error != "" {
		sb.WriteString("\n" + errorStyle.Render(p.Error))
	}
	if p.Result != nil && len(p.Result.Warnings) > 0 {
		fmt.Fprintf(&sb, "\n%d warnings", len(p.Result.Warnings))
	}
	return sb.String()
}

// renderTree draws the resource tree followed by placeholders and constraint
// edges.
func renderTree(res api.ResourcesResponse, edges []*graph.Edge) string {
	var sb strings.Builder
	for _, e := range res.Tree {
		sb.WriteString(strings.Repeat("  ", e.Depth))
		sb.WriteString(renderNode(e.Node))
		sb.WriteString("\n")
	}
	if len(res.Tree) == 0 {
		sb.WriteString(subtleStyle.Render("No resources.") + "\n")
	}

	if len(res.Placeholders) > 0 {
		sb.WriteString("\n" + statusStyle.Render("Placeholders") + "\n")
		for _, ph := range res.Placeholders {
			sb.WriteString("  " + renderNode(ph) + "\n")
		}
	}

	if len(edges) > 0 {
		sb.WriteString("\n" + statusStyle.Render("Constraints") + "\n")
		for _, e := range edges {
			arrow := "->"
			if e.Type == graph.EdgeColocation {
				arrow = "~>"
			}
			fmt.Fprintf(&sb, "  %s %s %s (%s)\n", e.FromID, arrow, e.ToID, e.ConstraintID)
		}
	}
	return sb.String()
}

func renderNode(n registry.NodeView) string {
	var label string
	switch n.Kind {
	case crm.KindGroup, crm.KindClone:
		kind := string(n.Kind)
		if n.MasterSlave {
			kind = "master/slave"
		}
		label = groupStyle.Render(fmt.Sprintf("%s [%s]", n.ID, kind))
	case crm.KindPlaceholder:
		label = placeholderStyle.Render(n.ID)
	default:
		label = fmt.Sprintf("%s (%s)", n.ID, n.Agent.Type)
	}
	switch {
	case n.IsNew:
		label += " " + newStyle.Render("new")
	case n.IsOrphaned:
		label = orphanStyle.Render(label)
	}
	return label
}

func sortedEdges(g *graph.Graph) []*graph.Edge {
	edges := append([]*graph.Edge(nil), g.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ConstraintID != edges[j].ConstraintID {
			return edges[i].ConstraintID < edges[j].ConstraintID
		}
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		return edges[i].ToID < edges[j].ToID
	})
	return edges
}

// Commands

func (m model) fetchStatus() tea.Cmd {
	d := m.daemon
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s, err := d.Status(ctx)
		return statusMsg{status: s, err: err}
	}
}

func (m model) fetchTree() tea.Cmd {
	d := m.daemon
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		res, err := d.Resources(ctx)
		if err != nil {
			return treeMsg{err: err}
		}
		g, err := d.Graph(ctx)
		if err != nil {
			return treeMsg{err: err}
		}
		return treeMsg{resources: res, graph: g}
	}
}

func (m model) triggerPoll() tea.Cmd {
	d := m.daemon
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		_, err := d.Poll(ctx, false)
		return actionMsg{text: "poll requested", err: err}
	}
}

func (m model) addPlaceholder() tea.Cmd {
	d := m.daemon
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		ph, err := d.AddPlaceholder(ctx)
		if err != nil {
			return actionMsg{text: "add placeholder", err: err}
		}
		return actionMsg{text: "added " + ph.ID}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
