// Command uxaictl queries a running uxaid over its MCP QUIC listener.
//
//	uxaictl [-addr host:port] [-insecure] tools
//	uxaictl sessions [limit]
//	uxaictl vectors|labels|counts <session-id>
//	uxaictl call <tool> ['{"json":"args"}']
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uxai/idgen"
	"github.com/hazyhaar/uxai/mcpquic"
)

var errUsage = errors.New("uxaictl: bad usage")

func main() {
	addr := flag.String("addr", env("UXAI_MCP_ADDR", "localhost:8443"), "uxaid MCP QUIC address")
	insecure := flag.Bool("insecure", false, "skip certificate verification (self-signed listeners)")
	timeout := flag.Duration("timeout", 15*time.Second, "overall deadline")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: uxaictl [flags] tools | sessions [limit] | vectors|labels|counts <session-id> | call <tool> [json]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := mcpquic.NewClient(*addr, mcpquic.ClientTLSConfig(*insecure))
	if err := c.Connect(ctx); err != nil {
		slog.Error("connect", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		slog.Error("uxaictl", "error", err)
		os.Exit(1)
	}
}

// toolCaller is the part of mcpquic.Client the commands need.
type toolCaller interface {
	ListTools(ctx context.Context) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

func run(ctx context.Context, c toolCaller, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "tools":
		res, err := c.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("list tools: %w", err)
		}
		for _, t := range res.Tools {
			fmt.Fprintf(out, "%-24s %s\n", t.Name, t.Description)
		}
		return nil
	case "sessions":
		params := map[string]any{}
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: limit %q", errUsage, rest[0])
			}
			params["limit"] = n
		}
		return call(ctx, c, "uxai_sessions", params, out)
	case "vectors", "labels", "counts":
		if len(rest) != 1 {
			return fmt.Errorf("%w: %s needs a session id", errUsage, cmd)
		}
		id, err := sessionID(rest[0])
		if err != nil {
			return err
		}
		tool := map[string]string{
			"vectors": "uxai_vectors",
			"labels":  "uxai_classifications",
			"counts":  "uxai_label_counts",
		}[cmd]
		return call(ctx, c, tool, map[string]any{"session_id": id}, out)
	case "call":
		if len(rest) == 0 || len(rest) > 2 {
			return fmt.Errorf("%w: call <tool> [json]", errUsage)
		}
		params := map[string]any{}
		if len(rest) == 2 {
			if err := json.Unmarshal([]byte(rest[1]), &params); err != nil {
				return fmt.Errorf("%w: arguments: %v", errUsage, err)
			}
		}
		return call(ctx, c, rest[0], params, out)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func call(ctx context.Context, c toolCaller, tool string, params map[string]any, out io.Writer) error {
	res, err := c.CallTool(ctx, tool, params)
	if err != nil {
		return fmt.Errorf("%s: %w", tool, err)
	}
	var text []string
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			text = append(text, tc.Text)
		}
	}
	if res.IsError {
		return fmt.Errorf("%s: %s", tool, strings.Join(text, "; "))
	}
	for _, t := range text {
		fmt.Fprintln(out, t)
	}
	return nil
}

// sessionID accepts "sess_<uuid>" or a bare UUID and returns the canonical
// session identifier uxaid mints.
func sessionID(arg string) (string, error) {
	u, err := idgen.Parse(strings.TrimPrefix(arg, "sess_"))
	if err != nil {
		return "", fmt.Errorf("%w: session id %q: %v", errUsage, arg, err)
	}
	return "sess_" + u, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
