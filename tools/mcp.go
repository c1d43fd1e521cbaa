package tools

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// NewMCPServer exposes the memory tools over the Model Context Protocol.
func NewMCPServer(t *MemoryTools, name, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(name, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	s.AddTools(t.ServerTools()...)
	return s
}

// ServerTools returns the memory tools as MCP server tools.
func (t *MemoryTools) ServerTools() []mcpserver.ServerTool {
	defs := t.Definitions()
	out := make([]mcpserver.ServerTool, 0, len(defs))
	for _, def := range defs {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			t.logger.Error("skipping tool with unencodable schema", "tool", def.ToolName, "err", err)
			continue
		}
		out = append(out, mcpserver.ServerTool{
			Tool:    mcplib.NewToolWithRawSchema(def.ToolName, def.ToolDescription, schema),
			Handler: t.handler(def.ToolName),
		})
	}
	return out
}

func (t *MemoryTools) handler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("invalid arguments", err), nil
		}
		text, err := t.Execute(ctx, name, args)
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}
		return mcplib.NewToolResultText(text), nil
	}
}
