package mcp

import (
	"context"
	"encoding/json"

	"github.com/0x7f/microclaw/internal/providers"
	"github.com/0x7f/microclaw/internal/tools"
)

// BridgeTool exposes one cached MCP tool through the local tools.Tool
// contract, routing Execute through the owning Server's resilience
// pipeline (§4.E/§4.B).
type BridgeTool struct {
	server *Server
	name   string
	def    providers.ToolDefinition
}

func NewBridgeTool(server *Server, name string, def providers.ToolDefinition) *BridgeTool {
	return &BridgeTool{server: server, name: name, def: def}
}

func (b *BridgeTool) Name() string                        { return b.name }
func (b *BridgeTool) Definition() providers.ToolDefinition { return b.def }
func (b *BridgeTool) Risk() tools.RiskLevel                { return tools.RiskMedium }
func (b *BridgeTool) ExecutionPolicy() tools.ExecutionPolicy {
	return tools.ExecHostOnly
}

func (b *BridgeTool) Execute(ctx context.Context, input []byte, auth tools.AuthContext) *tools.Result {
	var args map[string]interface{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return tools.Err("invalid tool input: " + err.Error())
		}
	}

	text, isError, err := b.server.CallTool(ctx, b.name, args)
	if err != nil {
		return tools.Err(err.Error())
	}
	if isError {
		return tools.Err(text)
	}
	return tools.Ok(text)
}
