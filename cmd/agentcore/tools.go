package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nexuscore/agentcore/internal/mcp"
	"github.com/nexuscore/agentcore/internal/toolhost"
	toolhostmcp "github.com/nexuscore/agentcore/internal/toolhost/mcp"
)

// registerBuiltinTools wires the handful of filesystem tools the smoke-test
// CLI exposes to the model. Both are read-only, so both opt into the Agent
// Loop's parallel execution path.
func registerBuiltinTools(host *toolhost.Host) error {
	if err := host.Register(toolhost.Definition{
		Name:           "read_file",
		Description:    "Read a UTF-8 text file and return its contents.",
		SideEffectFree: true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`),
		Handler: readFileHandler,
	}); err != nil {
		return fmt.Errorf("register read_file: %w", err)
	}

	if err := host.Register(toolhost.Definition{
		Name:           "list_dir",
		Description:    "List the entries of a directory, non-recursively.",
		SideEffectFree: true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"path": {"type": "string"}},
			"required": ["path"]
		}`),
		Handler: listDirHandler,
	}); err != nil {
		return fmt.Errorf("register list_dir: %w", err)
	}

	return nil
}

// startMCPServers connects the MCP servers named in cfg.MCPServers and
// proxies their tools into host via a toolhost/mcp.Bridge, so the Agent
// Loop sees them alongside the compiled-in filesystem tools. It returns a
// nil Manager (and does nothing else) when no servers are configured.
func startMCPServers(ctx context.Context, cfg *runtimeConfig, host *toolhost.Host) (*mcp.Manager, error) {
	if len(cfg.MCPServers) == 0 {
		return nil, nil
	}

	servers := make([]*mcp.ServerConfig, 0, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		servers = append(servers, &mcp.ServerConfig{
			ID:        s.ID,
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			WorkDir:   s.WorkDir,
			AutoStart: true,
		})
	}

	manager := mcp.NewManager(&mcp.Config{Enabled: true, Servers: servers}, nil)
	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start MCP manager: %w", err)
	}

	bridge := toolhostmcp.NewBridge(manager, host)
	if err := bridge.Sync(); err != nil {
		manager.Stop()
		return nil, fmt.Errorf("sync MCP tools: %w", err)
	}

	return manager, nil
}

type pathArgs struct {
	Path string `json:"path"`
}

func readFileHandler(ctx context.Context, args json.RawMessage) (*toolhost.Result, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &toolhost.Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return &toolhost.Result{Content: err.Error(), IsError: true}, nil
	}
	const maxBytes = 64 << 10
	truncated := false
	if len(data) > maxBytes {
		data = data[:maxBytes]
		truncated = true
	}
	return &toolhost.Result{Content: string(data), Truncated: truncated}, nil
}

func listDirHandler(ctx context.Context, args json.RawMessage) (*toolhost.Result, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &toolhost.Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return &toolhost.Result{Content: err.Error(), IsError: true}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &toolhost.Result{Content: strings.Join(names, "\n")}, nil
}
