package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer registers the tools visible with ctx's capabilities on an
// MCP server. Handlers forward raw arguments to Call, so schema validation
// and code mapping stay in the gateway.
func (g *Gateway) NewMCPServer(ctx context.Context, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "springtwin", Version: version}, nil)
	caps := CapabilitiesFrom(ctx)
	for _, t := range g.Tools(ctx) {
		name := t.Name
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: t.Description,
			InputSchema: t.schema,
		}, func(reqCtx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			callCtx := WithCaller(WithCapabilities(reqCtx, caps...), "mcp")
			var args json.RawMessage
			if req.Params != nil {
				args = req.Params.Arguments
			}
			return toolResult(g.Call(callCtx, name, args))
		})
	}
	return server
}

// ServeStdio runs the MCP server on stdin and stdout until ctx is done.
func (g *Gateway) ServeStdio(ctx context.Context, version string) error {
	if err := g.NewMCPServer(ctx, version).Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func toolResult(res *Result) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", res.Tool, err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: !res.OK(),
	}, nil
}
