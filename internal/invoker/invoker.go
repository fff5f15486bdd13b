// Package invoker defines the boundary between the resolution engine and the
// collaborator services it fetches from. One Fetch carries every key a
// collaborator owes the current level; implementations return one entry per
// key they could answer.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnavailable reports that the collaborator could not be reached.
	ErrUnavailable = errors.New("collaborator unavailable")
	// ErrTimeout reports that the collaborator did not answer in time.
	ErrTimeout = errors.New("collaborator timeout")
)

// Key identifies one requested value. Args holds the canonical JSON of the
// arguments that take part in identity, so keys compare with ==.
type Key struct {
	Operation string
	ID        string
	Args      string
}

func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Operation)
	b.WriteByte('(')
	b.WriteString(k.ID)
	if k.Args != "" && k.Args != "{}" {
		b.WriteByte(' ')
		b.WriteString(k.Args)
	}
	b.WriteByte(')')
	return b.String()
}

// DecodeArgs unmarshals the key's arguments.
func (k Key) DecodeArgs() (map[string]any, error) {
	args := map[string]any{}
	if k.Args == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(k.Args), &args); err != nil {
		return nil, fmt.Errorf("key args: %w", err)
	}
	return args, nil
}

// NewKey builds a key from an operation, an id and the participating
// arguments. Arguments are encoded with sorted object keys at every level.
func NewKey(operation, id string, args map[string]any) (Key, error) {
	k := Key{Operation: operation, ID: id}
	if len(args) == 0 {
		return k, nil
	}
	var b strings.Builder
	if err := writeCanonical(&b, args); err != nil {
		return Key{}, err
	}
	k.Args = b.String()
	return k, nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch v := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			name, _ := json.Marshal(k)
			b.Write(name)
			b.WriteByte(':')
			if err := writeCanonical(b, v[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("key args: %w", err)
		}
		b.Write(raw)
	}
	return nil
}

// Request is one downstream call.
type Request struct {
	Collaborator string
	Keys         []Key
	TraceID      string
}

// Result is the outcome for a single key.
type Result struct {
	Value any
	Err   error
}

// Invoker performs batched calls to collaborators. Keys missing from the
// returned map resolve to null. A non-nil error fails every key of the call.
// Implementations must be safe for concurrent use.
//
// The engine calls Fetch through Call: once ctx ends the call is abandoned
// and whatever Fetch returns afterwards is discarded. Implementations should
// still watch ctx so abandoned calls stop consuming resources.
type Invoker interface {
	Fetch(ctx context.Context, req Request) (map[Key]Result, error)
}

type fetchResult struct {
	results map[Key]Result
	err     error
}

// Call runs inv.Fetch bounded by ctx. When ctx ends first it returns
// ctx.Err() without waiting for Fetch to return.
func Call(ctx context.Context, inv Invoker, req Request) (map[Key]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan fetchResult, 1)
	go func() {
		results, err := inv.Fetch(ctx, req)
		done <- fetchResult{results, err}
	}()
	select {
	case r := <-done:
		return r.results, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Func adapts a function to the Invoker interface.
type Func func(ctx context.Context, req Request) (map[Key]Result, error)

func (f Func) Fetch(ctx context.Context, req Request) (map[Key]Result, error) {
	return f(ctx, req)
}

// Set maps collaborator ids to their invokers.
type Set map[string]Invoker

// Lookup returns the invoker registered for collaborator.
func (s Set) Lookup(collaborator string) (Invoker, error) {
	inv, ok := s[collaborator]
	if !ok || inv == nil {
		return nil, fmt.Errorf("no invoker for collaborator %q", collaborator)
	}
	return inv, nil
}

// Missing returns the collaborators in names that have no invoker.
func (s Set) Missing(names []string) []string {
	var out []string
	for _, n := range names {
		if _, err := s.Lookup(n); err != nil {
			out = append(out, n)
		}
	}
	return out
}

// KeyError is a failure reported by a collaborator for one key.
type KeyError struct {
	Code    string
	Message string
}

func (e *KeyError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
