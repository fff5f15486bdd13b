package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanpama/batchgraph/internal/invoker"
)

// ErrorKind classifies a GraphQLError. It is reported to clients as
// extensions.code.
type ErrorKind string

const (
	KindValidation   ErrorKind = "VALIDATION_ERROR"
	KindDepthLimit   ErrorKind = "DEPTH_LIMIT_EXCEEDED"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindCollaborator ErrorKind = "COLLABORATOR_ERROR"
	KindUnavailable  ErrorKind = "COLLABORATOR_UNAVAILABLE"
	KindNonNull      ErrorKind = "NON_NULL_VIOLATION"
	KindTimeout      ErrorKind = "TIMEOUT"
	KindInternal     ErrorKind = "INTERNAL_ERROR"
)

// ErrRequestAborted is returned when the request context is cancelled before
// resolution completes. No partial result is produced.
var ErrRequestAborted = errors.New("executor: request aborted")

// Error lets local resolvers choose the kind reported for their failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// Kind returns the error kind recorded in the extensions.
func (e GraphQLError) Kind() ErrorKind {
	k, _ := e.Extensions["code"].(ErrorKind)
	return k
}

func newError(kind ErrorKind, message string, path Path) GraphQLError {
	return GraphQLError{Message: message, Path: path, Extensions: map[string]any{"code": kind}}
}

// classifyLocal maps an error returned by a local resolver or serializer.
func classifyLocal(err error) (ErrorKind, string) {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind, e.Error()
	}
	if isTimeout(err) {
		return KindTimeout, err.Error()
	}
	return KindInternal, err.Error()
}

// classifyCollaborator maps an error settled on a handle or returned by a
// remote call.
func classifyCollaborator(collaborator string, err error) (ErrorKind, string) {
	var ke *invoker.KeyError
	switch {
	case isTimeout(err):
		return KindTimeout, fmt.Sprintf("collaborator %q timed out", collaborator)
	case errors.Is(err, invoker.ErrUnavailable):
		return KindUnavailable, fmt.Sprintf("collaborator %q is unavailable", collaborator)
	case errors.As(err, &ke):
		return KindCollaborator, ke.Message
	default:
		return KindCollaborator, err.Error()
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, invoker.ErrTimeout)
}
