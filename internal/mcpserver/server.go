// Package mcpserver exposes the dispatch operations as MCP tools so editor
// and agent integrations can call them over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/unifiedai/airelay/pkg/dispatch"
	pkgLogger "github.com/unifiedai/airelay/pkg/logger"
)

var log = pkgLogger.NewComponentLogger("mcp")

// Server wraps an MCP stdio server around a dispatch service.
type Server struct {
	svc         *dispatch.Service
	projectRoot string
	mcpServer   *server.MCPServer
}

// New builds the MCP server and registers the dispatch tools.
func New(svc *dispatch.Service, projectRoot, version string) *Server {
	s := &Server{
		svc:         svc,
		projectRoot: projectRoot,
		mcpServer:   server.NewMCPServer("airelay", version),
	}

	generateText := mcp.NewTool("generate_text",
		mcp.WithDescription("Generate text using the configured AI role, with automatic provider failover."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user prompt to send")),
		mcp.WithString("role", mcp.Description("Logical role: main, research or fallback (default main)")),
		mcp.WithString("system_prompt", mcp.Description("Optional system prompt")),
	)
	s.mcpServer.AddTool(generateText, s.handleGenerateText)

	generateObject := mcp.NewTool("generate_object",
		mcp.WithDescription("Generate a JSON object conforming to a schema, with automatic provider failover."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user prompt to send")),
		mcp.WithString("role", mcp.Description("Logical role: main, research or fallback (default main)")),
		mcp.WithString("system_prompt", mcp.Description("Optional system prompt")),
		mcp.WithString("object_name", mcp.Description("Name for the generated object (default generated_object)")),
		mcp.WithObject("schema", mcp.Required(), mcp.Description("JSON schema the object must conform to")),
	)
	s.mcpServer.AddTool(generateObject, s.handleGenerateObject)

	return s
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleGenerateText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.svc.GenerateText(ctx, dispatch.Request{
		Role:         dispatch.Role(request.GetString("role", "main")),
		ProjectRoot:  s.projectRoot,
		SystemPrompt: request.GetString("system_prompt", ""),
		Prompt:       prompt,
		CommandName:  "generate_text",
		OutputType:   "mcp",
	})
	if err != nil {
		log.Error("generate_text failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(resp.Text()), nil
}

func (s *Server) handleGenerateObject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	schema, err := schemaArgument(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.svc.GenerateObject(ctx, dispatch.Request{
		Role:         dispatch.Role(request.GetString("role", "main")),
		ProjectRoot:  s.projectRoot,
		SystemPrompt: request.GetString("system_prompt", ""),
		Prompt:       prompt,
		Schema:       schema,
		ObjectName:   request.GetString("object_name", ""),
		CommandName:  "generate_object",
		OutputType:   "mcp",
	})
	if err != nil {
		log.Error("generate_object failed", "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	object, ok := resp.MainResult.(json.RawMessage)
	if !ok {
		return mcp.NewToolResultError("unexpected result shape from dispatch"), nil
	}
	return mcp.NewToolResultText(string(object)), nil
}

// schemaArgument turns the raw schema argument into a typed JSON schema.
func schemaArgument(request mcp.CallToolRequest) (*jsonschema.Schema, error) {
	raw, ok := request.GetArguments()["schema"]
	if !ok {
		return nil, fmt.Errorf("schema argument is required")
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid schema argument: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("schema argument is not a valid JSON schema: %w", err)
	}
	return &schema, nil
}
