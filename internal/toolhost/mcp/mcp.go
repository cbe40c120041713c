// Package mcp bridges the Model Context Protocol client (internal/mcp) into
// the Tool Host: each tool exposed by a connected MCP server is registered
// as a toolhost.Definition named "{server}_{tool}", so the Agent Loop sees
// MCP tools the same way it sees native ones.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexuscore/agentcore/internal/mcp"
	"github.com/nexuscore/agentcore/internal/toolhost"
)

// Bridge registers every tool from a mcp.Manager's connected servers into a
// toolhost.Host, and keeps the registration in sync on demand via Sync.
type Bridge struct {
	manager *mcp.Manager
	host    *toolhost.Host
}

// NewBridge builds a Bridge over an already-constructed Manager and Host.
func NewBridge(manager *mcp.Manager, host *toolhost.Host) *Bridge {
	return &Bridge{manager: manager, host: host}
}

// CompositeName builds the "{server}_{tool}" name the Agent Loop and
// Permission Engine see for a proxied MCP tool.
func CompositeName(serverID, toolName string) string {
	return serverID + "_" + toolName
}

// Sync registers a toolhost.Definition for every tool currently reported by
// every connected MCP server, replacing any previously registered MCP tool
// definitions for servers that are still connected.
func (b *Bridge) Sync() error {
	synced := make(map[string]bool)
	for serverID, tools := range b.manager.AllTools() {
		if !mcp.ValidServerAlias(serverID) {
			return fmt.Errorf("toolhost/mcp: server alias %q must match %s", serverID, mcp.ServerAliasPattern())
		}
		for _, tool := range tools {
			def := b.definitionFor(serverID, tool)
			if existing, ok := b.host.Get(def.Name); ok && existing.Origin == toolhost.OriginRemote && !synced[def.Name] {
				b.host.Unregister(def.Name)
			}
			synced[def.Name] = true
			if err := b.host.Register(def); err != nil {
				return fmt.Errorf("toolhost/mcp: register %s: %w", def.Name, err)
			}
		}
	}
	return nil
}

func (b *Bridge) definitionFor(serverID string, tool *mcp.ToolDescriptor) toolhost.Definition {
	name := CompositeName(serverID, tool.Name)
	schema := tool.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	return toolhost.Definition{
		Name:        name,
		Description: tool.Description,
		Schema:      schema,
		Origin:      toolhost.OriginRemote,
		Handler: func(ctx context.Context, args json.RawMessage) (*toolhost.Result, error) {
			var arguments map[string]any
			if len(args) > 0 {
				if err := json.Unmarshal(args, &arguments); err != nil {
					return &toolhost.Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
				}
			}

			res, err := b.manager.CallTool(ctx, serverID, tool.Name, arguments)
			if err != nil {
				return &toolhost.Result{Content: err.Error(), IsError: true}, nil
			}
			return &toolhost.Result{Content: flattenContent(res), IsError: res.IsError}, nil
		},
	}
}

// flattenContent joins an MCP tool result's content blocks into the single
// string a role=tool Message carries. Non-text blocks (images, embedded
// resources) are summarized rather than dropped, since the conversation
// store only persists text content.
func flattenContent(res *mcp.ToolCallResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	var out string
	for i, block := range res.Content {
		if i > 0 {
			out += "\n"
		}
		switch block.Type {
		case "text":
			out += block.Text
		case "image":
			out += fmt.Sprintf("[image: %s]", block.MimeType)
		case "resource":
			out += fmt.Sprintf("[resource: %s]", block.MimeType)
		default:
			out += block.Text
		}
	}
	return out
}
