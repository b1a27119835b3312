// Package mcp is a minimal Model Context Protocol client: enough of the
// JSON-RPC surface to list a remote server's tools and invoke them, so
// that a project's configured tool servers can be exposed to the loop as
// ordinary tool definitions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/promptlane/agentloop"
)

const protocolVersion = "2025-03-26"

type Client struct {
	transport Transport
	nextID    atomic.Int64

	initOnce sync.Once
	initErr  error
}

func NewClient(transport Transport) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("mcp: transport is required")
	}
	c := &Client{transport: transport}
	c.nextID.Store(1)
	return c, nil
}

func (c *Client) Close() error {
	if c == nil || c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// ToolsOptions controls how server tools are exposed.
type ToolsOptions struct {
	// Prefix is prepended to returned tool names; the server-side name is
	// preserved for tools/call.
	Prefix string
}

// Tools lists the server's tools and wraps each as a tool definition whose
// executor calls back into the server. The returned tools all have
// executors; human confirmation never applies to remote MCP tools.
func (c *Client) Tools(ctx context.Context, opts *ToolsOptions) ([]agentloop.ToolDefinition, error) {
	infos, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]agentloop.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		serverName := info.Name
		publicName := serverName
		if opts != nil && opts.Prefix != "" {
			publicName = opts.Prefix + serverName
		}
		out = append(out, agentloop.ToolDefinition{
			Name:        publicName,
			Description: info.Description,
			InputSchema: info.InputSchema,
			Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
				return c.CallTool(ctx, serverName, input)
			},
		})
	}
	return out, nil
}

func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var result toolListResult
	if err := c.rpc(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a server tool. A single text content part is returned as
// a plain string for model consumption; anything else is returned
// structured.
func (c *Client) CallTool(ctx context.Context, name string, input json.RawMessage) (any, error) {
	var args any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("mcp: tool arguments: %w", err)
		}
	}

	var result CallToolResult
	if err := c.rpc(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp: tool %q reported an error: %s", name, firstText(result))
	}

	if len(result.Content) == 1 && result.Content[0].Type == "text" {
		if t := firstText(result); t != "" {
			return t, nil
		}
	}
	return result, nil
}

func firstText(result CallToolResult) string {
	for _, p := range result.Content {
		if p.Type != "text" {
			continue
		}
		var t struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p.Raw, &t); err == nil {
			return t.Text
		}
	}
	return ""
}

func (c *Client) initialize(ctx context.Context) error {
	c.initOnce.Do(func() {
		var result initializeResult
		err := c.doRPC(ctx, "initialize", initializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    map[string]any{},
			ClientInfo:      clientInfo{Name: "agentloop", Version: "0.1.0"},
		}, &result)
		if err != nil {
			c.initErr = err
			return
		}
		if t, ok := c.transport.(*HTTPTransport); ok && result.ProtocolVersion != "" {
			t.SetProtocolVersion(result.ProtocolVersion)
		}
		c.initErr = c.notify(ctx, "notifications/initialized")
	})
	return c.initErr
}

func (c *Client) rpc(ctx context.Context, method string, params, out any) error {
	if err := c.initialize(ctx); err != nil {
		return err
	}
	return c.doRPC(ctx, method, params, out)
}

func (c *Client) doRPC(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	req, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		return err
	}

	raw, err := c.transport.Call(ctx, req)
	if err != nil {
		return fmt.Errorf("mcp %s: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("mcp %s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("mcp %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	req, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method})
	if err != nil {
		return err
	}
	// Notifications have no id and expect no response body.
	_, err = c.transport.Call(ctx, req)
	return err
}
