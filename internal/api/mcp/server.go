package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/storage"
	"github.com/scrypster/cadence/pkg/types"
)

const (
	// ProtocolVersion is the MCP revision this server speaks.
	ProtocolVersion = "2024-11-05"

	serverName    = "cadence"
	serverVersion = "1.0.0"

	instructions = "Cadence learns recurring routines from logged sleep and activities. " +
		"Log observations as they happen, then call get_context or query_context to see what is currently relevant."
)

// Service is the subset of engine.Service used by the MCP server.
type Service interface {
	LogSleepWake(ctx context.Context, input types.SleepWakeInput) (*engine.SleepWakeLogResult, error)
	LogActivity(ctx context.Context, input types.ActivityInput) (*engine.ActivityLogResult, error)
	RecordMemory(ctx context.Context, input types.MemoryInput) (*types.Memory, error)
	DetectSleepWakePatterns(ctx context.Context, ownerID string) ([]*engine.DetectionResult, error)
	DetectActivityPatterns(ctx context.Context, ownerID, tag string) ([]*engine.DetectionResult, error)
	ListPatterns(ctx context.Context, query storage.PatternQuery) ([]*types.Pattern, error)
	PatternStats(ctx context.Context, ownerID string) (*types.PatternStats, error)
	DeactivatePattern(ctx context.Context, ownerID, id string) error
	AggregateContext(ctx context.Context, ownerID string, opts engine.AggregateOptions) (*types.AggregatedContext, error)
	QueryContext(ctx context.Context, ownerID string, keywords []string, limit int) ([]*engine.QueryMatch, error)
	UpdateCurrentState(ctx context.Context, ownerID string, fields types.StateFields) (*types.ContextItem, error)
	CleanupExpiredContext(ctx context.Context, ownerID string) (int, error)
}

// toolHandler decodes raw tool arguments and runs the tool.
type toolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Server implements the Model Context Protocol for Cadence.
type Server struct {
	service      Service
	defaultOwner string
	logger       logrus.FieldLogger
	tools        map[string]toolHandler
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDefaultOwner sets the owner used when a tool call carries no owner_id.
func WithDefaultOwner(ownerID string) ServerOption {
	return func(s *Server) { s.defaultOwner = ownerID }
}

// WithLogger sets the server logger. It must not write to stdout.
func WithLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates an MCP server backed by svc.
func NewServer(svc Service, opts ...ServerOption) *Server {
	s := &Server{
		service: svc,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "mcp")

	s.tools = map[string]toolHandler{
		"log_sleep":          s.handleLogSleep,
		"log_activity":       s.handleLogActivity,
		"record_memory":      s.handleRecordMemory,
		"detect_patterns":    s.handleDetectPatterns,
		"list_patterns":      s.handleListPatterns,
		"pattern_stats":      s.handlePatternStats,
		"deactivate_pattern": s.handleDeactivatePattern,
		"get_context":        s.handleGetContext,
		"query_context":      s.handleQueryContext,
		"update_state":       s.handleUpdateState,
		"cleanup_context":    s.handleCleanupContext,
	}
	return s
}

// HandleRequest processes one JSON-RPC 2.0 request. It returns nil for
// notifications, which get no response.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	if req.ID == nil && (req.Method == "initialized" || strings.HasPrefix(req.Method, "notifications/")) {
		s.logger.WithField("method", req.Method).Debug("notification received")
		return nil, nil
	}

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result = MCPInitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
			ServerInfo:      MCPServerInfo{Name: serverName, Version: serverVersion},
			Instructions:    instructions,
		}
	case "initialized", "ping":
		result = map[string]any{}
	case "tools/list":
		result = MCPToolsListResult{Tools: toolDefinitions()}
	case "tools/call":
		var p MCPToolCallParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", err.Error())
		}
		result = s.callTool(ctx, p)
	default:
		// Tools may also be called directly as JSON-RPC methods.
		handler, ok := s.tools[req.Method]
		if !ok {
			return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		}
		result, err = handler(ctx, req.Params)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// callTool runs a tool and wraps its outcome in the MCP content envelope.
// Tool failures are reported in the result, not as JSON-RPC errors.
func (s *Server) callTool(ctx context.Context, p MCPToolCallParams) *MCPToolCallResult {
	handler, ok := s.tools[p.Name]
	if !ok {
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name))
	}

	result, err := handler(ctx, p.Arguments)
	if err != nil {
		entry := s.logger.WithField("tool", p.Name).WithError(err)
		if errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, storage.ErrNotFound) {
			entry.Debug("tool call rejected")
		} else {
			entry.Warn("tool call failed")
		}
		return toolError(err.Error())
	}

	text, err := json.Marshal(result)
	if err != nil {
		return toolError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(text)}}}
}

func toolError(msg string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

// owner resolves the tool's owner against the server default.
func (s *Server) owner(args OwnerArgs) (string, error) {
	if owner := strings.TrimSpace(args.OwnerID); owner != "" {
		return owner, nil
	}
	if s.defaultOwner != "" {
		return s.defaultOwner, nil
	}
	return "", fmt.Errorf("%w: owner_id is required (no default owner configured)", storage.ErrInvalidInput)
}

// decodeArgs unmarshals tool arguments. Missing arguments decode as {}.
func decodeArgs(raw json.RawMessage, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: invalid arguments: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) successResponse(id any, result any) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id any, code int, message string, data any) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
