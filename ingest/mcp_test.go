package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "uxaid-test", Version: "0.1.0"}

func mcpSession(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = s.mcp.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	s := testServer(t)
	session := mcpSession(t, s)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"uxai_sessions", "uxai_vectors", "uxai_classifications", "uxai_label_counts"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestMCP_Sessions(t *testing.T) {
	s := testServer(t)
	created, _ := s.CreateSession(context.Background(), "https://a.example", "")
	session := mcpSession(t, s)

	text, isErr := callTool(t, session, "uxai_sessions", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var list SessionList
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Live) != 1 || list.Live[0].ID != created.ID {
		t.Fatalf("sessions: %+v", list)
	}
}

func TestMCP_Vectors(t *testing.T) {
	s := testServer(t)
	created, _ := s.CreateSession(context.Background(), "", "compact")
	s.Observe(created.ID, moves(3))
	waitEncoded(t, s, created.ID, 1)
	session := mcpSession(t, s)

	text, isErr := callTool(t, session, "uxai_vectors", map[string]any{"session_id": created.ID})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var rows []struct {
		Seq    int       `json:"seq"`
		Vector []float64 `json:"vector"`
	}
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) == 0 || len(rows[0].Vector) != 7 {
		t.Fatalf("vectors: %+v", rows)
	}
}

func TestMCP_UnknownSession(t *testing.T) {
	s := testServer(t)
	session := mcpSession(t, s)

	text, isErr := callTool(t, session, "uxai_classifications", map[string]any{"session_id": "sess_missing"})
	if !isErr {
		t.Fatalf("expected tool error, got %s", text)
	}
	if !strings.Contains(text, "session not found") {
		t.Fatalf("error text: %s", text)
	}
}
