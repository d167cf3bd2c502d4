package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rasto/lcmc-sub001/pkg/api"
	"github.com/rasto/lcmc-sub001/pkg/client"
	"github.com/rasto/lcmc-sub001/pkg/mcp"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: lcmc <command> [args]

Commands:
  status                              last pass and registry sequence
  tree                                resource tree
  graph                               constraint edges
  hosts                               cluster host reachability
  passes [limit]                      recent reconciliation passes
  placeholder add                     create a constraint placeholder
  add <id> <class:provider:type> [parent] [key=value...]
                                      create a new primitive
  rm <id>                             remove a locally created node
  poll [-wait]                        re-read cluster status
  apply <command...>                  run a configuration command on the cluster
  report <passes|warnings> [-changed]
                                      CSV report over the pass journal
  mcp                                 serve the MCP protocol on stdio
  version

The daemon address comes from LCMC_URL (default http://127.0.0.1:8095).`

var errUsage = errors.New("usage")

func main() {
	endpoint := os.Getenv("LCMC_URL")

	if len(os.Args) > 1 && os.Args[1] == "mcp" {
		if err := mcp.NewServer(endpoint).Serve(); err != nil {
			fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, client.NewClient(endpoint), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if !errors.As(err, new(*client.APIError)) {
			fmt.Fprintln(os.Stderr, "Is lcmc-d running?")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(out, "lcmc %s (%s, built %s)\n", Version, Commit, BuildTime)
		return nil

	case "status":
		s, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pass:      %s (%s)\n", s.Pass.PassID, s.Pass.Outcome)
		if s.Pass.Error != "" {
			fmt.Fprintf(out, "Error:     %s\n", s.Pass.Error)
		}
		fmt.Fprintf(out, "Nodes:     %d\n", s.Nodes)
		fmt.Fprintf(out, "View seq:  %d (structure %d)\n", s.ViewSeq, s.StructureSeq)
		return nil

	case "tree":
		res, err := c.Resources(ctx)
		if err != nil {
			return err
		}
		for _, e := range res.Tree {
			n := e.Node
			line := strings.Repeat("  ", e.Depth) + n.ID
			if n.Agent.Type != "" {
				line += " (" + n.Agent.String() + ")"
			} else {
				line += " [" + string(n.Kind) + "]"
			}
			if n.IsNew {
				line += " *new*"
			}
			fmt.Fprintln(out, line)
		}
		for _, ph := range res.Placeholders {
			fmt.Fprintf(out, "%s [placeholder]\n", ph.ID)
		}
		return nil

	case "graph":
		g, err := c.Graph(ctx)
		if err != nil {
			return err
		}
		for _, e := range g.Edges {
			fmt.Fprintf(out, "%s\t%s\t%s -> %s\n", e.ConstraintID, e.Type, e.FromID, e.ToID)
		}
		return nil

	case "hosts":
		hosts, err := c.Hosts(ctx)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			fmt.Fprintf(out, "%s\t%s\t%s\n", h.Name, h.Status, h.LastError)
		}
		return nil

	case "passes":
		limit := 20
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[1])
			}
			limit = n
		}
		passes, err := c.Passes(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(out, passes)

	case "placeholder":
		if len(args) != 2 || args[1] != "add" {
			return errUsage
		}
		ph, err := c.AddPlaceholder(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Placeholder created: %s\n", ph.ID)
		return nil

	case "add":
		req, err := parseAdd(args[1:])
		if err != nil {
			return err
		}
		n, err := c.AddResource(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Resource created: %s\n", n.ID)
		return nil

	case "rm":
		if len(args) != 2 {
			return errUsage
		}
		removed, err := c.Remove(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed: %s\n", strings.Join(removed, ", "))
		return nil

	case "poll":
		wait := len(args) > 1 && (args[1] == "-wait" || args[1] == "--wait")
		resp, err := c.Poll(ctx, wait)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Poll %s %s\n", resp.Status, resp.PassID)
		return nil

	case "report":
		if len(args) < 2 {
			return errUsage
		}
		changed := len(args) > 2 && (args[2] == "-changed" || args[2] == "--changed")
		body, err := c.Report(ctx, args[1], time.Time{}, time.Time{}, changed)
		if err != nil {
			return err
		}
		_, err = out.Write(body)
		return err

	case "apply":
		if len(args) < 2 {
			return errUsage
		}
		res, err := c.Apply(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Applied on %s in %s\n", res.Host, res.Duration)
		if res.Output != "" {
			fmt.Fprint(out, res.Output)
		}
		return nil
	}
	return errUsage
}

// parseAdd reads <id> <class:provider:type> [parent] [key=value...].
func parseAdd(args []string) (api.AddResourceRequest, error) {
	if len(args) < 2 {
		return api.AddResourceRequest{}, errUsage
	}
	req := api.AddResourceRequest{ID: args[0]}

	parts := strings.Split(args[1], ":")
	switch len(parts) {
	case 2:
		req.Class, req.Type = parts[0], parts[1]
	case 3:
		req.Class, req.Provider, req.Type = parts[0], parts[1], parts[2]
	default:
		return api.AddResourceRequest{}, fmt.Errorf("invalid agent %q, want class:provider:type", args[1])
	}

	for _, a := range args[2:] {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			if req.ParentID != "" {
				return api.AddResourceRequest{}, fmt.Errorf("unexpected argument %q", a)
			}
			req.ParentID = a
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]string)
		}
		req.Params[k] = v
	}
	return req, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
