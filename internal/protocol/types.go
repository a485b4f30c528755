// Package protocol defines the wire types for the stdio tool protocol.
//
// Clients speak line-delimited JSON-RPC 2.0 on stdin/stdout. The bridge
// translates these messages into HTTP calls against a central server.
// Requests without an "id" field are notifications and never receive a
// response.
package protocol

import "encoding/json"

// Version is the JSON-RPC protocol version string.
const Version = "2.0"

// MCPProtocolVersion is the tool-protocol revision the bridge advertises
// in its initialize response.
const MCPProtocolVersion = "2024-11-05"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeInvalidParams  = -32602
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Request is an incoming JSON-RPC request or notification.
// ID is kept raw so responses echo exactly what the client sent
// (string, number, or null).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// must not be answered.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is an outgoing JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewResult builds a success response for the given request id.
func NewResult(id json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response for the given request id.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// CallParams are the params of a tools/call request.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDescriptor describes one tool as served by the central server's
// /api/tools endpoint.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	CanEdit     bool                   `json:"can_edit"`
}

// MCPTool is the tool shape expected by MCP clients in tools/list results.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ContentBlock is one entry of a tools/call result content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result payload of a tools/call response. Tool-level
// failures set IsError; the JSON-RPC layer still reports success so
// clients render the error inline instead of aborting the call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// TextResult wraps a plain string as a tools/call result.
func TextResult(text string, isError bool) CallResult {
	return CallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: isError,
	}
}
