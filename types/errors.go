// types/errors.go
package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates a configuration error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBridge indicates the conversation loop could not complete
	ErrBridge = errors.New("bridge operation failed")

	// ErrRoundTimeout indicates a round exceeded its deadline
	ErrRoundTimeout = errors.New("round deadline exceeded")

	// ErrLLMResponse indicates the remote model call failed
	ErrLLMResponse = errors.New("invalid LLM response")

	// ErrToolNotFound indicates the requested tool is not registered
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecution indicates a tool execution failure
	ErrToolExecution = errors.New("tool execution failed")

	// ErrInvalidArguments indicates tool arguments do not match the declared schema
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrDuplicateTool indicates a second registration under an existing name
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrDatabaseQuery indicates a database query error
	ErrDatabaseQuery = errors.New("database query failed")
)

// unwrapAll pairs a sentinel with an optional cause for errors.Is/As
func unwrapAll(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}

// ConfigError wraps configuration-related errors
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error in %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() []error {
	return unwrapAll(ErrInvalidConfig, e.Err)
}

// BridgeError wraps orchestration failures that end a conversation
type BridgeError struct {
	Operation string
	Message   string
	Err       error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge error during %s: %s", e.Operation, e.Message)
}

func (e *BridgeError) Unwrap() []error {
	return unwrapAll(ErrBridge, e.Err)
}

// LLMError wraps remote model call failures
type LLMError struct {
	Operation  string
	Message    string
	StatusCode int
	Err        error
}

func (e *LLMError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("LLM error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("LLM error during %s: %s", e.Operation, e.Message)
}

func (e *LLMError) Unwrap() []error {
	return unwrapAll(ErrLLMResponse, e.Err)
}

// ToolNotFoundError is returned when dispatching to an unregistered name
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("Tool '%s' not found.", e.Tool)
}

func (e *ToolNotFoundError) Unwrap() error {
	return ErrToolNotFound
}

// ToolExecutionError wraps any failure raised while running a tool
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("Error executing tool '%s': %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() []error {
	return unwrapAll(ErrToolExecution, e.Err)
}

// DuplicateToolError is returned when a name is registered twice under the reject policy
type DuplicateToolError struct {
	Tool string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Tool)
}

func (e *DuplicateToolError) Unwrap() error {
	return ErrDuplicateTool
}

// DatabaseError wraps database-related errors
type DatabaseError struct {
	Operation string
	Query     string
	Message   string
	Err       error
}

func (e *DatabaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("database error during %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("database error during %s: %s", e.Operation, e.Message)
}

func (e *DatabaseError) Unwrap() []error {
	return unwrapAll(ErrDatabaseQuery, e.Err)
}
