package grpctp

import "errors"

var (
	// ErrNoEndpoints indicates the provider has no endpoint for a collaborator.
	ErrNoEndpoints = errors.New("grpctp: no endpoints available")
	// ErrClosed is returned by Fetch after Close.
	ErrClosed = errors.New("grpctp: closed")
)
