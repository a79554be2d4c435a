// Package mcp implements a Model Context Protocol (MCP) server for Cadence.
// It exposes observation logging, pattern detection and context retrieval as
// JSON-RPC 2.0 tools so an assistant can record behavior and ask what is
// currently relevant about its user.
package mcp

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/scrypster/cadence/pkg/types"
)

// stringList accepts a JSON array of strings, a JSON-encoded array inside a
// string, or a comma-separated string. Some MCP clients send array arguments
// in the string forms.
type stringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *stringList) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return err
		}
		*l = items
		return nil
	}

	items = nil
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*l = items
	return nil
}

// OwnerArgs is embedded by every tool. OwnerID falls back to the server's
// default owner.
type OwnerArgs struct {
	OwnerID string `json:"owner_id,omitempty"`
}

// LogSleepArgs contains arguments for the log_sleep tool.
type LogSleepArgs struct {
	OwnerArgs
	SleepAt time.Time `json:"sleep_at"`          // RFC 3339 (required)
	WakeAt  time.Time `json:"wake_at"`           // RFC 3339 (required)
	Quality *float64  `json:"quality,omitempty"` // [0,1]
	Note    string    `json:"note,omitempty"`
}

// LogActivityArgs contains arguments for the log_activity tool.
type LogActivityArgs struct {
	OwnerArgs
	Tag       string          `json:"tag"`      // required
	StartAt   time.Time       `json:"start_at"` // RFC 3339 (required)
	EndAt     *time.Time      `json:"end_at,omitempty"`
	Location  string          `json:"location,omitempty"`
	Intensity types.Intensity `json:"intensity,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// ObservationResult is returned by the logging tools. DetectionError is set
// when the observation was stored but re-detection failed.
type ObservationResult struct {
	Log            any    `json:"log"`
	Patterns       any    `json:"patterns"`
	DetectionError string `json:"detection_error,omitempty"`
}

// RecordMemoryArgs contains arguments for the record_memory tool.
type RecordMemoryArgs struct {
	OwnerArgs
	Content    string     `json:"content"` // required
	Summary    string     `json:"summary,omitempty"`
	Tags       stringList `json:"tags,omitempty"`
	Importance float64    `json:"importance,omitempty"`
}

// DetectPatternsArgs contains arguments for the detect_patterns tool.
type DetectPatternsArgs struct {
	OwnerArgs
	Kind types.PatternKind `json:"kind"`          // sleep_wake or activity
	Tag  string            `json:"tag,omitempty"` // required for activity
}

// ListPatternsArgs contains arguments for the list_patterns tool.
type ListPatternsArgs struct {
	OwnerArgs
	Kinds           stringList `json:"kinds,omitempty"`
	Recurrence      stringList `json:"recurrence,omitempty"`
	MinConfidence   float64    `json:"min_confidence,omitempty"`
	IncludeInactive bool       `json:"include_inactive,omitempty"`
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
}

// PatternListResult is returned by list_patterns.
type PatternListResult struct {
	Patterns []*types.Pattern `json:"patterns"`
	Count    int              `json:"count"`
}

// DeactivatePatternArgs contains arguments for the deactivate_pattern tool.
type DeactivatePatternArgs struct {
	OwnerArgs
	ID string `json:"id"` // required
}

// GetContextArgs contains arguments for the get_context tool. Memories and
// patterns are included unless explicitly disabled.
type GetContextArgs struct {
	OwnerArgs
	IncludeMemories *bool  `json:"include_memories,omitempty"`
	IncludePatterns *bool  `json:"include_patterns,omitempty"`
	MinRelevance    string `json:"min_relevance,omitempty"` // critical, high, medium, low, minimal
}

// QueryContextArgs contains arguments for the query_context tool.
type QueryContextArgs struct {
	OwnerArgs
	Keywords stringList `json:"keywords,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// UpdateStateArgs contains arguments for the update_state tool.
type UpdateStateArgs struct {
	OwnerArgs
	types.StateFields
}

// CleanupResult is returned by cleanup_context.
type CleanupResult struct {
	Deleted int `json:"deleted"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request. A request without an ID
// is a notification.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeServerError    = -32000
)

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
	Instructions    string                `json:"instructions,omitempty"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
