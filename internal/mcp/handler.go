package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mnemo-mcp/mnemo/internal/logger"
	"github.com/mnemo-mcp/mnemo/internal/tools"
	"github.com/mnemo-mcp/mnemo/internal/validate"
	"github.com/mnemo-mcp/mnemo/pkg/protocol"
	"github.com/mnemo-mcp/mnemo/pkg/version"
)

var log = logger.ForComponent("mcp")

// Session lifecycle. Until the client sends notifications/initialized,
// only initialize and ping are served; everything else gets
// CodeNotInitialized.
type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
)

type Handler struct {
	registry  *tools.Registry
	startTime time.Time

	mu         sync.Mutex
	state      state
	clientInfo ClientInfo
}

type ClientInfo struct {
	Name    string
	Version string
}

func NewHandler(registry *tools.Registry) *Handler {
	return &Handler{
		registry:  registry,
		startTime: time.Now(),
		state:     stateUninitialized,
	}
}

// Handle processes one request and returns the response to write, or nil
// when the message is a notification. Notifications never produce output,
// not even on error.
func (h *Handler) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.IsNotification() {
		h.handleNotification(req)
		return nil
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		return h.handleInitialize(req)
	case "ping":
		return protocol.NewResponse(req.ID, map[string]interface{}{})
	}

	if !h.ready() {
		return protocol.NewErrorResponse(req.ID, protocol.CodeNotInitialized, "server not initialized")
	}

	switch req.Method {
	case "tools/list":
		return protocol.NewResponse(req.ID, h.handleListTools())
	case "tools/call":
		return h.handleCallTool(ctx, req)
	default:
		return protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (h *Handler) ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateReady
}

func (h *Handler) handleNotification(req *protocol.Request) {
	switch req.Method {
	case "notifications/initialized":
		h.mu.Lock()
		if h.state == stateInitializing {
			h.state = stateReady
		}
		h.mu.Unlock()
		log.Info("client initialized", "client", h.clientInfo.Name)
	default:
		log.Debug("ignoring notification", "method", req.Method)
	}
}

// handleInitialize is accepted in every state; re-initializing drops the
// session back to initializing until the client confirms again.
func (h *Handler) handleInitialize(req *protocol.Request) *protocol.Response {
	var initReq struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
				"initialize params must be an object")
		}
	}

	if initReq.ProtocolVersion == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
			"protocolVersion is required")
	}

	h.mu.Lock()
	h.state = stateInitializing
	h.clientInfo = ClientInfo{Name: initReq.ClientInfo.Name, Version: initReq.ClientInfo.Version}
	h.mu.Unlock()

	negotiated := negotiateProtocolVersion(initReq.ProtocolVersion)
	log.Info("initialize",
		"client", initReq.ClientInfo.Name,
		"client_version", initReq.ClientInfo.Version,
		"protocol", negotiated)

	return protocol.NewResponse(req.ID, map[string]interface{}{
		"protocolVersion": negotiated,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "mnemo",
			"version": version.Version,
		},
	})
}

// negotiateProtocolVersion echoes the client's version when supported and
// falls back to the server's preferred version otherwise.
func negotiateProtocolVersion(clientVersion string) string {
	for _, v := range version.SupportedProtocolVersions {
		if clientVersion == v {
			return v
		}
	}
	return version.ProtocolVersion
}

func (h *Handler) handleListTools() interface{} {
	toolsList := h.registry.List()
	toolsData := make([]map[string]interface{}, len(toolsList))

	for i, t := range toolsList {
		var schema interface{}
		if err := json.Unmarshal(t.Schema(), &schema); err != nil {
			schema = json.RawMessage(t.Schema())
		}

		toolData := map[string]interface{}{
			"name":        t.Name(),
			"description": t.Description(),
			"inputSchema": schema,
		}

		if annotated, ok := t.(tools.AnnotatedTool); ok {
			if title := annotated.Title(); title != "" {
				toolData["title"] = title
			}
			if annotations := annotated.Annotations(); annotations != nil {
				toolData["annotations"] = annotations
			}
		}

		toolsData[i] = toolData
	}

	return map[string]interface{}{
		"tools": toolsData,
	}
}

func (h *Handler) handleCallTool(ctx context.Context, req *protocol.Request) *protocol.Response {
	var callReq struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &callReq); err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
			"tools/call params must be an object")
	}
	if callReq.Name == "" {
		return protocol.NewErrorResponse(req.ID, protocol.CodeInvalidParams,
			"tool name is required")
	}

	// Arguments are validated and defaulted exactly once; the tool sees
	// the normalized form.
	args, err := validate.Arguments(callReq.Name, callReq.Arguments)
	if err != nil {
		return h.errorResponse(req.ID, callReq.Name, err)
	}

	result, err := h.execute(ctx, callReq.Name, args)
	if err != nil {
		return h.errorResponse(req.ID, callReq.Name, err)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		log.Error("result marshal failed", "tool", callReq.Name, "error", err)
		return protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "internal server error")
	}

	return protocol.NewResponse(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": string(resultJSON),
			},
		},
	})
}

// execute dispatches to the registry with panic containment. A panicking
// tool fails its own request only; the session survives.
func (h *Handler) execute(ctx context.Context, name string, args json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool execution panicked: %v", r)
			log.Error("tool panic recovered",
				"tool", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	return h.registry.Execute(ctx, name, args)
}

// errorResponse maps the error taxonomy onto JSON-RPC codes. Validation
// messages travel verbatim; unclassified errors are logged in full and
// replaced with a generic message.
func (h *Handler) errorResponse(id interface{}, tool string, err error) *protocol.Response {
	var ve *validate.Error
	if errors.As(err, &ve) {
		return protocol.NewErrorResponse(id, protocol.CodeInvalidParams, ve.Error())
	}

	var te *tools.ToolError
	if errors.As(err, &te) {
		return protocol.NewErrorResponse(id, te.Code, te.Message)
	}

	log.Error("tool call failed", "tool", tool, "error", err)
	return protocol.NewErrorResponse(id, protocol.CodeInternalError, "internal server error")
}
