package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/martinemde/planact/agent"
)

// MCPSession is the subset of an MCP client the bridge uses.
// *client.Client satisfies it.
type MCPSession interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPServer describes a stdio MCP server to launch.
type MCPServer struct {
	Name    string
	Command string
	Args    []string
	Env     []string // KEY=VALUE, appended to the process environment
}

// MCPBridge connects to MCP servers and exposes their tools as agent tools
// named "<server>_<tool>".
type MCPBridge struct {
	logger   *slog.Logger
	mu       sync.Mutex
	sessions map[string]MCPSession
}

// NewMCPBridge creates an empty bridge.
func NewMCPBridge(logger *slog.Logger) *MCPBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPBridge{
		logger:   logger,
		sessions: make(map[string]MCPSession),
	}
}

// Connect launches a stdio MCP server and returns its tools.
func (b *MCPBridge) Connect(ctx context.Context, srv MCPServer) ([]agent.Tool, error) {
	env := append(os.Environ(), srv.Env...)
	c, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", srv.Name, err)
	}
	tools, err := b.Attach(ctx, srv.Name, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return tools, nil
}

// Attach initializes an already started session and returns its tools.
// The bridge owns the session afterwards and closes it in Close.
func (b *MCPBridge) Attach(ctx context.Context, name string, session MCPSession) ([]agent.Tool, error) {
	b.mu.Lock()
	_, exists := b.sessions[name]
	b.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("mcp server %s already connected", name)
	}

	_, err := session.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      mcp.Implementation{Name: "planact", Version: "1.0.0"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize mcp server %s: %w", name, err)
	}

	listed, err := session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools for mcp server %s: %w", name, err)
	}

	tools := make([]agent.Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, &mcpTool{server: name, session: session, tool: t})
	}

	b.mu.Lock()
	b.sessions[name] = session
	b.mu.Unlock()

	b.logger.Info("mcp server connected", "server", name, "tools", len(tools))
	return tools, nil
}

// Servers returns the connected server names.
func (b *MCPBridge) Servers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.sessions))
	for n := range b.sessions {
		names = append(names, n)
	}
	return names
}

// Close closes every session, giving each a second to shut down.
func (b *MCPBridge) Close() error {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]MCPSession)
	b.mu.Unlock()

	for name, s := range sessions {
		done := make(chan error, 1)
		go func() { done <- s.Close() }()
		select {
		case err := <-done:
			if err != nil {
				b.logger.Warn("mcp server close failed", "server", name, "error", err)
			}
		case <-time.After(time.Second):
			b.logger.Warn("mcp server close timed out", "server", name)
		}
	}
	return nil
}

type mcpTool struct {
	server  string
	session MCPSession
	tool    mcp.Tool
}

func (t *mcpTool) Definition() agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        t.server + "_" + t.tool.Name,
		Description: t.tool.Description,
		Parameters:  inputSchema(t.tool),
	}
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	res, err := t.session.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: t.tool.Name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("mcp %s/%s: %w", t.server, t.tool.Name, err)
	}

	out := map[string]any{
		"success": !res.IsError,
		"content": contentText(res.Content),
	}
	if res.StructuredContent != nil {
		out["structured"] = res.StructuredContent
	}
	return out, nil
}

// inputSchema returns the tool's schema as a map, preferring the raw schema
// when the server supplied one.
func inputSchema(t mcp.Tool) map[string]any {
	var data []byte
	var err error
	if len(t.RawInputSchema) > 0 {
		data = t.RawInputSchema
	} else {
		data, err = json.Marshal(t.InputSchema)
	}
	var out map[string]any
	if err == nil {
		err = json.Unmarshal(data, &out)
	}
	if err != nil || out == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(c); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}
