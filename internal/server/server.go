// Package server exposes an executor as a GraphQL-over-HTTP endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"

	eventbus "github.com/hanpama/batchgraph/internal/eventbus"
	events "github.com/hanpama/batchgraph/internal/events"
	executor "github.com/hanpama/batchgraph/internal/executor"
	language "github.com/hanpama/batchgraph/internal/language"
	reqid "github.com/hanpama/batchgraph/internal/reqid"
	"github.com/hanpama/batchgraph/internal/wire"
)

// Handler is an http.Handler that parses GraphQL requests, runs them through
// the executor and writes JSON responses.
type Handler struct {
	exec *executor.Executor
	opt  Options
}

type Options struct {
	// Timeout sets a deadline when the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers forwarded to collaborators as gRPC
	// metadata. Header names are case-insensitive. Default is none.
	MetadataHeaders []string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New returns a handler serving exec.
func New(exec *executor.Executor, opts ...Option) (*Handler, error) {
	if exec == nil {
		return nil, errors.New("server: nil executor")
	}
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: exec, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(executor.KindValidation, "method not allowed"), h.opt.Pretty)
		return
	}

	ctx = metadata.NewOutgoingContext(ctx, h.forwardedMetadata(r, rid))

	reqs, batched, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(executor.KindValidation, err.Error()), h.opt.Pretty)
		return
	}
	if r.Method == http.MethodGet && isMutation(reqs[0]) {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, status, errorResponse(executor.KindValidation, "mutations require POST"), h.opt.Pretty)
		return
	}

	out := make([]any, len(reqs))
	for i := range reqs {
		res, aborted := h.executeOne(ctx, reqs[i])
		if aborted {
			// The client is gone; write nothing.
			status = statusClientClosed
			return
		}
		out[i] = res
	}
	if batched {
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}
	writeJSON(w, status, out[0], h.opt.Pretty)
}

func (h *Handler) forwardedMetadata(r *http.Request, rid int64) metadata.MD {
	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	md[wire.TraceHeader] = []string{reqid.Format(rid)}
	return md
}

// isMutation reports whether req selects a mutation. Unparsable documents
// report false and fail later with their syntax error.
func isMutation(req GraphQLRequest) bool {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return false
	}
	op := selectOperation(doc, req.OperationName)
	return op != nil && op.Operation == language.Mutation
}

func selectOperation(doc *language.QueryDocument, name string) *language.OperationDefinition {
	op := doc.Operations.ForName(name)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	return op
}

// executeOne runs one operation. aborted is set when the client went away.
func (h *Handler) executeOne(ctx context.Context, req GraphQLRequest) (any, bool) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		var ge *language.Error
		if errors.As(err, &ge) {
			return syntaxResponse(ge), false
		}
		return errorResponse(executor.KindValidation, err.Error()), false
	}

	opType := ""
	if opDef := selectOperation(doc, req.OperationName); opDef != nil {
		opType = string(opDef.Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	finish := events.GraphQLFinish{Query: req.Query, OperationName: req.OperationName, OperationType: opType}

	result, err := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	finish.Duration = time.Since(start)
	if err != nil {
		finish.Aborted = errors.Is(err, executor.ErrRequestAborted)
		finish.Errors = []error{err}
		eventbus.Publish(ctx, finish)
		if finish.Aborted {
			return nil, true
		}
		return errorResponse(executor.KindInternal, err.Error()), false
	}
	finish.Errors = make([]error, len(result.Errors))
	for i := range result.Errors {
		finish.Errors[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, finish)
	return toResponse(result), false
}

// GraphQLRequest is one operation as sent by the client.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

var errBodyTooLarge = errors.New("body too large")

// statusClientClosed is reported to subscribers for aborted requests.
const statusClientClosed = 499

// parseRequest returns the operations of r and whether they arrived as a
// JSON array.
func parseRequest(r *http.Request, maxBody int64) ([]GraphQLRequest, bool, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return nil, false, errors.New("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return nil, false, errors.New("invalid 'variables' JSON")
			}
		}
		return []GraphQLRequest{{Query: q, Variables: vars, OperationName: r.URL.Query().Get("operationName")}}, false, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, false, errors.New("unsupported Content-Type")
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, errors.New("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, false, errBodyTooLarge
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return nil, false, errors.New("invalid JSON")
		}
		if len(arr) == 0 {
			return nil, false, errors.New("empty batch")
		}
		return arr, true, nil
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, false, errors.New("invalid JSON")
	}
	if req.Query == "" {
		return nil, false, errors.New("missing 'query'")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return []GraphQLRequest{req}, false, nil
}

type errorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type responseError struct {
	Message    string          `json:"message"`
	Locations  []errorLocation `json:"locations,omitempty"`
	Path       []any           `json:"path,omitempty"`
	Extensions map[string]any  `json:"extensions,omitempty"`
}

type response struct {
	Data   any             `json:"data"`
	Errors []responseError `json:"errors,omitempty"`
}

func errorResponse(kind executor.ErrorKind, message string) response {
	return response{Errors: []responseError{{
		Message:    message,
		Extensions: map[string]any{"code": kind},
	}}}
}

func syntaxResponse(err *language.Error) response {
	se := responseError{Message: err.Message, Extensions: map[string]any{"code": executor.KindValidation}}
	for _, loc := range err.Locations {
		se.Locations = append(se.Locations, errorLocation{Line: loc.Line, Column: loc.Column})
	}
	return response{Errors: []responseError{se}}
}

func toResponse(res *executor.ExecutionResult) response {
	out := response{Data: res.Data}
	if len(res.Errors) == 0 {
		return out
	}
	out.Errors = make([]responseError, len(res.Errors))
	for i, e := range res.Errors {
		se := responseError{Message: e.Message, Extensions: e.Extensions}
		if len(e.Path) > 0 {
			se.Path = make([]any, len(e.Path))
			for j, pe := range e.Path {
				se.Path[j] = pe
			}
		}
		out.Errors[i] = se
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	wildcard := false
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		if o == "*" || o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
