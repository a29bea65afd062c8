package tools

import (
	"fmt"

	"github.com/mnemo-mcp/mnemo/pkg/protocol"
)

// ToolError is an operationally expected failure whose message is safe to
// show the caller. Anything else is logged in full and replaced by a
// generic message at the dispatch layer.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

func NewToolNotFoundError(name string) *ToolError {
	return &ToolError{
		Code:    protocol.CodeMethodNotFound,
		Message: fmt.Sprintf("tool not found: %s", name),
	}
}

func NewNotFoundError(what, id string) *ToolError {
	return &ToolError{
		Code:    protocol.CodeInvalidParams,
		Message: fmt.Sprintf("%s not found: %s", what, id),
	}
}

func NewExternalError(service string, err error) *ToolError {
	return &ToolError{
		Code:    protocol.CodeInternalError,
		Message: fmt.Sprintf("%s: %v", service, err),
	}
}
