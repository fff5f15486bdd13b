package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// GRPCClientStart is emitted before a collaborator Fetch goes on the wire.
type GRPCClientStart struct {
	Collaborator string
	Method       string
	Target       string
	Keys         int
}

// GRPCClientFinish is emitted after the Fetch returned.
type GRPCClientFinish struct {
	Collaborator string
	Method       string
	Target       string
	Keys         int
	Code         codes.Code
	Err          error
	Duration     time.Duration
}

// GRPCServerFinish is emitted by collaborator servers after answering a
// Fetch.
type GRPCServerFinish struct {
	Collaborator string
	Keys         int
	Code         codes.Code
	Duration     time.Duration
}
