package ingest

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/uxai/kit"
)

// RegisterMCP registers the introspection tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerSessionsTool(srv)
	s.registerVectorsTool(srv)
	s.registerClassificationsTool(srv)
	s.registerLabelCountsTool(srv)
}

// MCPServer is the MCP server the tools are registered on, for transports
// other than the /mcp HTTP route.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

func (s *Server) wrap(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name))(ep)
}

func decodeArgs[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}

// --- sessions ---

type sessionsRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uxai_sessions",
		Description: "List live capture sessions with their state, vector count and label history, plus recently recorded sessions.",
		InputSchema: kit.InputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max recorded sessions (default 100)"},
		}, nil),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionsRequest)
		return s.Sessions(ctx, r.Limit)
	}
	kit.RegisterMCPTool(srv, tool, s.wrap(tool.Name, ep), decodeArgs[sessionsRequest])
}

// --- vectors ---

type vectorsRequest struct {
	SessionID string `json:"session_id"`
	AfterSeq  int    `json:"after_seq,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) registerVectorsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uxai_vectors",
		Description: "Return the encoded feature vectors of a session in capture order.",
		InputSchema: kit.InputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
			"after_seq":  map[string]any{"type": "integer", "description": "Only vectors with a greater sequence number"},
			"limit":      map[string]any{"type": "integer", "description": "Max vectors (default 1000)"},
		}, []string{"session_id"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*vectorsRequest)
		return s.Vectors(kit.WithSessionID(ctx, r.SessionID), r.SessionID, r.AfterSeq, r.Limit)
	}
	kit.RegisterMCPTool(srv, tool, s.wrap(tool.Name, ep), decodeArgs[vectorsRequest])
}

// --- classifications ---

type classificationsRequest struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Server) registerClassificationsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uxai_classifications",
		Description: "Return the behavioral labels (distracted, engaged, idle, lost, rushed) assigned to a session.",
		InputSchema: kit.InputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
			"limit":      map[string]any{"type": "integer", "description": "Max results (default 1000)"},
		}, []string{"session_id"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*classificationsRequest)
		return s.Classifications(kit.WithSessionID(ctx, r.SessionID), r.SessionID, r.Limit)
	}
	kit.RegisterMCPTool(srv, tool, s.wrap(tool.Name, ep), decodeArgs[classificationsRequest])
}

// --- label counts ---

type labelCountsRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) registerLabelCountsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uxai_label_counts",
		Description: "Count how many inference cycles assigned each behavioral label to a session.",
		InputSchema: kit.InputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID"},
		}, []string{"session_id"}),
	}
	ep := func(ctx context.Context, req any) (any, error) {
		r := req.(*labelCountsRequest)
		return s.LabelCounts(kit.WithSessionID(ctx, r.SessionID), r.SessionID)
	}
	kit.RegisterMCPTool(srv, tool, s.wrap(tool.Name, ep), decodeArgs[labelCountsRequest])
}
