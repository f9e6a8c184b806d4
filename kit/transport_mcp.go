package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolArgs turns raw MCP tool arguments into an endpoint request. The
// returned context carries whatever the request identifies (page id, ...).
type ToolArgs func(ctx context.Context, raw json.RawMessage) (context.Context, any, error)

// JSONArgs decodes tool arguments into Req. check, when set, rejects
// incomplete requests; scope, when set, enriches the call context.
func JSONArgs[Req any](check func(Req) error, scope func(context.Context, Req) context.Context) ToolArgs {
	return func(ctx context.Context, raw json.RawMessage) (context.Context, any, error) {
		var req Req
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return ctx, nil, err
			}
		}
		if check != nil {
			if err := check(req); err != nil {
				return ctx, nil, err
			}
		}
		if scope != nil {
			ctx = scope(ctx, req)
		}
		return ctx, req, nil
	}
}

// RegisterMCPTool exposes endpoint as an MCP tool. Argument and endpoint
// failures are tool results with IsError set; the JSON response is the
// text content.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, args ToolArgs) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, "mcp")
		ctx, req, err := args(ctx, call.Params.Arguments)
		if err != nil {
			return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
		}
		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: marshal: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
