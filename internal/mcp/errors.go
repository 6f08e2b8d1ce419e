// Package mcp exposes the retrieval engine to AI clients over the Model
// Context Protocol: codebase_retrieve for budgeted context assembly and
// codebase_search for direct identifier lookup.
package mcp

import (
	"context"
	"errors"
	"fmt"

	cerrors "github.com/codectx/codectx/internal/errors"
	"github.com/codectx/codectx/internal/store"
)

// MCP error codes. Negative values below -32000 are implementation-defined;
// the rest are standard JSON-RPC.
const (
	// ErrCodeIndexNotFound indicates no index exists for the project.
	ErrCodeIndexNotFound = -32001

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ProtocolError is an MCP protocol error with a JSON-RPC code.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error with a custom
// message.
func NewInvalidParamsError(msg string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts internal errors to protocol errors so tool failures
// reach the client as structured MCP responses instead of opaque strings.
func MapError(err error) *ProtocolError {
	if err == nil {
		return nil
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}

	var ce *cerrors.Error
	if errors.As(err, &ce) {
		return mapStructuredError(ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ProtocolError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &ProtocolError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, store.ErrNotFound):
		return &ProtocolError{Code: ErrCodeInvalidParams, Message: "No unit matches the given identifier."}
	default:
		return &ProtocolError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapStructuredError(ce *cerrors.Error) *ProtocolError {
	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ce.Message, ce.Suggestion)
	}

	switch ce.Code {
	case cerrors.ErrCodeManifestMissing, cerrors.ErrCodeFileNotFound, cerrors.ErrCodeCorruptCheckpoint:
		return &ProtocolError{
			Code:    ErrCodeIndexNotFound,
			Message: fmt.Sprintf("%s Run 'codectx index' first.", message),
		}
	}

	switch ce.Category {
	case cerrors.CategoryValidation:
		return &ProtocolError{Code: ErrCodeInvalidParams, Message: message}
	case cerrors.CategoryNetwork:
		return &ProtocolError{Code: ErrCodeTimeout, Message: message}
	default:
		return &ProtocolError{Code: ErrCodeInternalError, Message: message}
	}
}
