package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/zmcp/odata-mcp/internal/apperr"
	"github.com/zmcp/odata-mcp/internal/constants"
	"github.com/zmcp/odata-mcp/internal/models"
	"github.com/zmcp/odata-mcp/internal/transport"
	"github.com/zmcp/odata-mcp/internal/typesystem"
)

// Tool is the wire shape of one entry in a tools/list response.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler executes one tools/call invocation.
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Request is a parsed incoming MCP request.
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      interface{}            `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type registration struct {
	tool       *Tool
	descriptor *models.ToolDescriptor
	handler    ToolHandler
}

// Server dispatches JSON-RPC 2.0 initialize/tools-list/tools-call requests
// against a fixed, immutable tool table (spec §4.6) over any Transport.
type Server struct {
	name            string
	version         string
	protocolVersion string
	tools           map[string]*registration
	toolOrder       []string
	transport       transport.Transport
	ctx             context.Context
	cancel          context.CancelFunc
	mu              sync.RWMutex
	initialized     bool
}

// NewServer creates an MCP server. stdlib log output is discarded so that
// nothing but the transport itself writes to stdout (spec §4.6 "stderr-only
// diagnostics").
func NewServer(name, version string) *Server {
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		name:            name,
		version:         version,
		protocolVersion: constants.MCPProtocolVersion,
		tools:           make(map[string]*registration),
		toolOrder:       make([]string, 0),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// SetProtocolVersion overrides the advertised MCP protocol version.
func (s *Server) SetProtocolVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
}

// AddToolDescriptor registers one projected tool and its handler, building
// the wire-level JSON-schema input shape from the descriptor's Parameters
// (spec §9: "no code generation needed; argument validation becomes a
// data-driven check against the schema").
func (s *Server) AddToolDescriptor(desc *models.ToolDescriptor, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[desc.Name]; !exists {
		s.toolOrder = append(s.toolOrder, desc.Name)
	}

	s.tools[desc.Name] = &registration{
		tool: &Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: buildInputSchema(desc.Parameters),
		},
		descriptor: desc,
		handler:    handler,
	}
}

// SortToolOrder re-sorts the registered tool names alphabetically in place
// (spec §4.6: "tools/list deterministic order, alphabetical unless
// disabled" / §6 --sort-tools).
func (s *Server) SortToolOrder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.Strings(s.toolOrder)
}

func buildInputSchema(params []models.ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []string
	for _, p := range params {
		properties[p.Name] = map[string]interface{}{
			"type":        typesystem.JSONSchemaType(p.Abstract),
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// SetTransport attaches the transport this server reads requests from and
// writes responses to.
func (s *Server) SetTransport(t transport.Transport) {
	s.transport = t
}

// Run starts the attached transport's read loop.
func (s *Server) Run() error {
	if s.transport == nil {
		return fmt.Errorf("transport not set")
	}
	return s.transport.Start(s.ctx)
}

// Stop cancels the server's context, unblocking the transport's read loop.
func (s *Server) Stop() {
	s.cancel()
}

// HandleMessage processes one transport message end to end.
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.JSONRPC != "2.0" {
		return s.createErrorResponse(msg.ID, -32600, "Invalid Request", "JSON-RPC version must be 2.0"), nil
	}

	req := &Request{JSONRPC: msg.JSONRPC, ID: msg.ID, Method: msg.Method}
	if len(msg.Params) > 0 {
		var params map[string]interface{}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.createErrorResponse(msg.ID, -32700, "Parse error", err.Error()), nil
		}
		req.Params = params
	} else {
		req.Params = make(map[string]interface{})
	}

	if req.Method == "initialized" {
		s.handleInitialized()
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.createResponse(req.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		return s.createResponse(req.ID, map[string]interface{}{"prompts": []interface{}{}})
	case "ping":
		return s.createResponse(req.ID, map[string]interface{}{})
	default:
		return s.createErrorResponse(req.ID, -32601, "Method not found", req.Method), nil
	}
}

func (s *Server) createErrorResponse(id interface{}, code int, message, data string) *transport.Message {
	return &transport.Message{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error: &transport.Error{
			Code:    code,
			Message: message,
			Data:    mustMarshal(data),
		},
	}
}

func (s *Server) createResponse(id interface{}, result interface{}) (*transport.Message, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &transport.Message{JSONRPC: "2.0", ID: normalizeID(id), Result: resultBytes}, nil
}

// normalizeID converts a null/missing request id to 0, a long-standing
// compatibility accommodation for clients (e.g. Claude Desktop) that reject
// a null id on the response.
func normalizeID(id interface{}) json.RawMessage {
	switch v := id.(type) {
	case json.RawMessage:
		if string(v) == "null" || len(v) == 0 {
			return json.RawMessage("0")
		}
		return v
	case nil:
		return json.RawMessage("0")
	default:
		b, _ := json.Marshal(id)
		return b
	}
}

func mustMarshal(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return b
}

func (s *Server) handleInitialize(req *Request) (*transport.Message, error) {
	result := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"prompts":   map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"listChanged": false, "subscribe": false},
			"tools":     map[string]interface{}{"listChanged": true},
		},
		"protocolVersion": s.protocolVersion,
		"serverInfo":      map[string]interface{}{"name": s.name, "version": s.version},
	}
	return s.createResponse(req.ID, result)
}

func (s *Server) handleInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

func (s *Server) handleToolsList(req *Request) (*transport.Message, error) {
	s.mu.RLock()
	tools := make([]*Tool, 0, len(s.tools))
	for _, name := range s.toolOrder {
		if reg, exists := s.tools[name]; exists {
			tools = append(tools, reg.tool)
		}
	}
	s.mu.RUnlock()

	return s.createResponse(req.ID, map[string]interface{}{"tools": tools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) (*transport.Message, error) {
	name, ok := req.Params["name"].(string)
	if !ok {
		return s.createErrorResponse(req.ID, -32602, "Invalid params", "missing tool name"), nil
	}
	args, ok := req.Params["arguments"].(map[string]interface{})
	if !ok {
		args = make(map[string]interface{})
	}

	s.mu.RLock()
	reg, exists := s.tools[name]
	s.mu.RUnlock()
	if !exists {
		return s.createErrorResponse(req.ID, -32602, "Invalid params", fmt.Sprintf("tool not found: %s", name)), nil
	}

	if err := validateArguments(reg.descriptor, args); err != nil {
		code, message, data := errorEnvelope(err, name)
		return s.createErrorResponse(req.ID, code, message, data), nil
	}

	result, err := reg.handler(ctx, args)
	if err != nil {
		code, message, data := errorEnvelope(err, name)
		return s.createErrorResponse(req.ID, code, message, data), nil
	}

	response := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": result},
		},
	}
	return s.createResponse(req.ID, response)
}

// validateArguments checks a tools/call argument map against the
// descriptor's schema: unknown arguments, missing required arguments, and
// type mismatches are all rejected before the handler ever runs (spec §4.6).
func validateArguments(desc *models.ToolDescriptor, args map[string]interface{}) error {
	declared := make(map[string]models.ToolParameter, len(desc.Parameters))
	for _, p := range desc.Parameters {
		declared[p.Name] = p
	}

	for name := range args {
		if _, ok := declared[name]; !ok {
			return apperr.Argument("unknown argument %q for tool %q", name, desc.Name)
		}
	}

	for _, p := range desc.Parameters {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return apperr.Argument("missing required argument %q for tool %q", p.Name, desc.Name)
			}
			continue
		}
		if v == nil {
			continue
		}
		if !matchesType(p.Abstract, v) {
			return apperr.Argument("argument %q for tool %q must be of type %s", p.Name, desc.Name, typesystem.JSONSchemaType(p.Abstract))
		}
	}
	return nil
}

func matchesType(abstract models.AbstractType, v interface{}) bool {
	switch typesystem.JSONSchemaType(abstract) {
	case "integer":
		n, ok := v.(float64)
		return ok && n == float64(int64(n))
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}

// errorEnvelope maps an error into the JSON-RPC {code, message, data} triple
// the dispatcher returns, using the stable per-kind code when err carries a
// typed *apperr.Error and falling back to a generic internal error otherwise.
func errorEnvelope(err error, toolName string) (int, string, string) {
	if appErr := apperr.AsAppError(err); appErr != nil {
		message := fmt.Sprintf("tool %q failed: %s", toolName, appErr.Message)
		data := fmt.Sprintf(`{"tool":%q,"kind":%q}`, toolName, appErr.Kind)
		return appErr.JSONRPCCode(), message, data
	}
	message := fmt.Sprintf("tool %q failed: %s", toolName, err.Error())
	data := fmt.Sprintf(`{"tool":%q}`, toolName)
	return apperr.New(apperr.KindInternal, "").JSONRPCCode(), message, data
}

// SendNotification writes a notification (no id, no response expected).
func (s *Server) SendNotification(method string, params interface{}) error {
	if s.transport == nil {
		return fmt.Errorf("transport not set")
	}
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.transport.WriteMessage(&transport.Message{JSONRPC: "2.0", Method: method, Params: paramsBytes})
}
