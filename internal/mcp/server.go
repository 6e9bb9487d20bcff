package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/form-field-mapper/internal/config"
	"github.com/a3tai/form-field-mapper/internal/descriptions"
	"github.com/a3tai/form-field-mapper/internal/schema"
	"github.com/a3tai/form-field-mapper/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	service   *service.Service
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, svc *service.Service, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		service:   svc,
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

func tool(name string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(descriptions.GetToolDescription(name))}, opts...)...)
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	formType := func(required bool) mcp.ToolOption {
		opts := []mcp.PropertyOption{mcp.Description("Form type such as i485 or I-485")}
		if required {
			opts = append(opts, mcp.Required())
		}
		return mcp.WithString("form_type", opts...)
	}
	version := func(name, desc string) mcp.ToolOption {
		return mcp.WithString(name, mcp.Required(), mcp.Description(desc))
	}
	path := mcp.WithString("path", mcp.Required(), mcp.Description("PDF file, relative to the forms directory"))

	s.mcpServer.AddTool(tool("server_info"), s.handleServerInfo)

	s.mcpServer.AddTool(tool("extract_fields", path), s.handleExtractFields)

	s.mcpServer.AddTool(tool("classify_field",
		mcp.WithString("name", mcp.Required(), mcp.Description("Raw AcroForm field name")),
		mcp.WithString("tooltip", mcp.Description("Field tooltip text")),
		mcp.WithString("section", mcp.Description("Enclosing section header, e.g. 'Part 2. Information About Your Spouse'")),
		formType(false),
	), s.handleClassifyField)

	s.mcpServer.AddTool(tool("map_form",
		path,
		version("version", "Form version being mapped"),
		formType(false),
		mcp.WithBoolean("register", mcp.Description("Register mappings of existing canonical fields")),
	), s.handleMapForm)

	s.mcpServer.AddTool(tool("add_canonical_field",
		mcp.WithObject("field", mcp.Required(), mcp.Description("Canonical field definition")),
	), s.handleAddCanonicalField)

	s.mcpServer.AddTool(tool("register_mapping",
		mcp.WithString("canonical_field", mcp.Required(), mcp.Description("Canonical field name")),
		mcp.WithObject("mapping", mcp.Required(), mcp.Description("Mapping with form_type, version and field_ids")),
	), s.handleRegisterMapping)

	s.mcpServer.AddTool(tool("list_unmapped",
		formType(true),
		version("version", "Form version"),
	), s.handleListUnmapped)

	s.mcpServer.AddTool(tool("create_schema",
		formType(false),
		mcp.WithString("version", mcp.Description("New version; the next minor version when empty")),
		mcp.WithString("path", mcp.Description("PDF file to read the fields from")),
		mcp.WithArray("fields", mcp.Description("Explicit field definitions instead of a PDF")),
		mcp.WithString("actor", mcp.Description("Who creates the version")),
	), s.handleCreateSchema)

	s.mcpServer.AddTool(tool("review_schema",
		formType(true),
		version("version", "Schema version"),
		mcp.WithString("action", mcp.Required(), mcp.Enum(
			service.ReviewSubmit, service.ReviewApprove, service.ReviewReject, service.ReviewRevise)),
		mcp.WithString("actor", mcp.Description("Reviewer")),
		mcp.WithString("reason", mcp.Description("Rejection reason")),
	), s.handleReviewSchema)

	s.mcpServer.AddTool(tool("diff_schemas",
		formType(false),
		mcp.WithString("from_version", mcp.Description("Stored source version")),
		mcp.WithString("to_version", mcp.Description("Stored target version")),
		mcp.WithObject("from", mcp.Description("Inline source schema")),
		mcp.WithObject("to", mcp.Description("Inline target schema")),
	), s.handleDiffSchemas)

	s.mcpServer.AddTool(tool("activate_schema",
		formType(true),
		version("version", "Approved version to activate"),
	), s.handleActivateSchema)

	s.mcpServer.AddTool(tool("register_strategy",
		mcp.WithObject("strategy", mcp.Required(), mcp.Description("Migration strategy")),
	), s.handleRegisterStrategy)

	s.mcpServer.AddTool(tool("derive_strategy",
		formType(true),
		version("from_version", "Source version"),
		version("to_version", "Target version"),
		mcp.WithBoolean("register", mcp.Description("Register the derived strategy")),
	), s.handleDeriveStrategy)

	s.mcpServer.AddTool(tool("save_client_data",
		mcp.WithString("client_id", mcp.Required(), mcp.Description("Client identifier")),
		formType(true),
		version("version", "Version the data was collected under"),
		mcp.WithObject("data", mcp.Required(), mcp.Description("Field values by field id")),
	), s.handleSaveClientData)

	s.mcpServer.AddTool(tool("migrate_data",
		formType(true),
		mcp.WithString("from_version", mcp.Description("Source version, not needed with client_id")),
		version("to_version", "Target version"),
		mcp.WithObject("data", mcp.Description("Field values by field id")),
		mcp.WithString("client_id", mcp.Description("Migrate the stored entry of this client instead")),
	), s.handleMigrateData)
}

// decodeArgument decodes an object argument into out. Objects may also arrive as JSON
// strings from clients that cannot send nested values.
func decodeArgument(request mcp.CallToolRequest, key string, out interface{}) (bool, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return false, nil
	}
	var data []byte
	if s, isString := raw.(string); isString {
		if s == "" {
			return false, nil
		}
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return true, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Handler functions
func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.service.ServerInfo(s.config.ServerName, s.config.Version)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleExtractFields(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.ExtractFields(service.ExtractFieldsRequest{Path: path})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleClassifyField(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.ClassifyField(service.ClassifyFieldRequest{
		Name:     name,
		Tooltip:  request.GetString("tooltip", ""),
		Section:  request.GetString("section", ""),
		FormType: request.GetString("form_type", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleMapForm(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	version, err := request.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.MapForm(ctx, service.MapFormRequest{
		Path:     path,
		FormType: request.GetString("form_type", ""),
		Version:  version,
		Register: request.GetBool("register", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleAddCanonicalField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req service.AddCanonicalFieldRequest
	if ok, err := decodeArgument(request, "field", &req.Field); err != nil || !ok {
		return mcp.NewToolResultError(missingOr("field", err)), nil
	}
	result, err := s.service.AddCanonicalField(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleRegisterMapping(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("canonical_field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := service.RegisterMappingRequest{CanonicalField: name}
	if ok, err := decodeArgument(request, "mapping", &req.Mapping); err != nil || !ok {
		return mcp.NewToolResultError(missingOr("mapping", err)), nil
	}
	result, err := s.service.RegisterMapping(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleListUnmapped(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formType, err := request.RequireString("form_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	version, err := request.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.service.ListUnmapped(service.ListUnmappedRequest{FormType: formType, Version: version}))
}

func (s *Server) handleCreateSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := service.CreateSchemaRequest{
		FormType: request.GetString("form_type", ""),
		Version:  request.GetString("version", ""),
		Path:     request.GetString("path", ""),
		Actor:    request.GetString("actor", ""),
	}
	if _, err := decodeArgument(request, "fields", &req.Fields); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.CreateSchema(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleReviewSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := service.ReviewSchemaRequest{
		Actor:  request.GetString("actor", ""),
		Reason: request.GetString("reason", ""),
	}
	var err error
	if req.FormType, err = request.RequireString("form_type"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.Version, err = request.RequireString("version"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.Action, err = request.RequireString("action"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.ReviewSchema(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleDiffSchemas(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := service.DiffSchemasRequest{
		FormType:    request.GetString("form_type", ""),
		FromVersion: request.GetString("from_version", ""),
		ToVersion:   request.GetString("to_version", ""),
	}
	for key, dst := range map[string]**schema.FormSchema{"from": &req.From, "to": &req.To} {
		var v schema.FormSchema
		ok, err := decodeArgument(request, key, &v)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ok {
			*dst = &v
		}
	}
	result, err := s.service.DiffSchemas(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleActivateSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formType, err := request.RequireString("form_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	version, err := request.RequireString("version")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.ActivateSchema(ctx, service.ActivateSchemaRequest{FormType: formType, Version: version})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleRegisterStrategy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req service.RegisterStrategyRequest
	if ok, err := decodeArgument(request, "strategy", &req.Strategy); err != nil || !ok {
		return mcp.NewToolResultError(missingOr("strategy", err)), nil
	}
	result, err := s.service.RegisterStrategy(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleDeriveStrategy(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := service.DeriveStrategyRequest{Register: request.GetBool("register", false)}
	var err error
	if req.FormType, err = request.RequireString("form_type"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.FromVersion, err = request.RequireString("from_version"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.ToVersion, err = request.RequireString("to_version"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.service.DeriveStrategy(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleSaveClientData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req service.SaveClientDataRequest
	var err error
	if req.ClientID, err = request.RequireString("client_id"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.FormType, err = request.RequireString("form_type"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.Version, err = request.RequireString("version"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if ok, err := decodeArgument(request, "data", &req.Data); err != nil || !ok {
		return mcp.NewToolResultError(missingOr("data", err)), nil
	}
	result, err := s.service.SaveClientData(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleMigrateData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := service.MigrateDataRequest{
		FromVersion: request.GetString("from_version", ""),
		ClientID:    request.GetString("client_id", ""),
	}
	var err error
	if req.FormType, err = request.RequireString("form_type"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.ToVersion, err = request.RequireString("to_version"); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := decodeArgument(request, "data", &req.Data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.ClientID == "" && req.Data == nil {
		return mcp.NewToolResultError("either data or client_id is required"), nil
	}
	result, err := s.service.MigrateData(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func missingOr(key string, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("required argument %q not found", key)
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode runs the server over standard I/O
func (s *Server) runStdioMode(_ context.Context) error {
	s.logger.Debug("starting MCP server in stdio mode", "forms_dir", s.config.FormsDir)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

// runServerMode serves MCP over SSE until ctx is cancelled
func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- sse.Start(addr)
	}()
	s.logger.Info("MCP server listening", "address", addr, "forms_dir", s.config.FormsDir)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve SSE: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down SSE server: %w", err)
	}
	s.logger.Info("MCP server stopped")
	return nil
}
