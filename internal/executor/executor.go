package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanpama/batchgraph/internal/batch"
	"github.com/hanpama/batchgraph/internal/invoker"
	language "github.com/hanpama/batchgraph/internal/language"
	"github.com/hanpama/batchgraph/internal/reqid"
	schema "github.com/hanpama/batchgraph/internal/schema"
)

// DefaultMaxDepth bounds selection nesting when no limit is configured.
const DefaultMaxDepth = 12

type Options struct {
	// MaxDepth rejects operations nesting fields deeper than this before
	// anything is resolved. Defaults to DefaultMaxDepth.
	MaxDepth int
	// BatchTimeout bounds each collaborator call. 0 leaves only the request
	// deadline.
	BatchTimeout time.Duration
	// MaxConcurrentFlushes caps parallel collaborator calls within a level.
	// 0 means no cap.
	MaxConcurrentFlushes int
}

type Option func(*Options)

func WithMaxDepth(n int) Option               { return func(o *Options) { o.MaxDepth = n } }
func WithBatchTimeout(d time.Duration) Option { return func(o *Options) { o.BatchTimeout = d } }
func WithMaxConcurrentFlushes(n int) Option   { return func(o *Options) { o.MaxConcurrentFlushes = n } }

// executionState holds the state of one request. Everything except flushes
// runs on the calling goroutine.
type executionState struct {
	ctx            context.Context
	schema         *schema.Schema
	runtime        Runtime
	invokers       invoker.Set
	opts           Options
	document       *language.QueryDocument
	variableValues map[string]any
	batcher        *batch.Batcher
	traceID        string

	frames []*frame
	level  int
	errors []GraphQLError
}

type Executor struct {
	runtime  Runtime
	schema   *schema.Schema
	invokers invoker.Set
	opts     Options
}

// New returns an executor for sch. Every collaborator referenced by the
// schema must have an invoker in invokers. A nil runtime reads fields from
// map sources.
func New(sch *schema.Schema, runtime Runtime, invokers invoker.Set, opts ...Option) (*Executor, error) {
	if sch == nil {
		return nil, errors.New("executor: nil schema")
	}
	if runtime == nil {
		runtime = &SourceRuntime{}
	}
	if missing := invokers.Missing(sch.Collaborators()); len(missing) > 0 {
		return nil, fmt.Errorf("executor: no invoker for collaborators %v", missing)
	}
	o := Options{MaxDepth: DefaultMaxDepth}
	for _, f := range opts {
		f(&o)
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return &Executor{runtime: runtime, schema: sch, invokers: invokers, opts: o}, nil
}

// Schema returns the schema the executor was built with.
func (e *Executor) Schema() *schema.Schema { return e.schema }

// ExecuteRequest runs one operation of document. Pre-resolution failures
// produce a result with null data. Field failures produce partial data with
// located errors. The only error returned is ErrRequestAborted, when ctx is
// cancelled before resolution finishes.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) (*ExecutionResult, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, ErrRequestAborted
	}

	operation, err := getOperation(document, operationName)
	if err != nil {
		return requestError(KindValidation, err.Error()), nil
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		return requestError(KindValidation, "subscription operations are not supported"), nil
	default:
		return requestError(KindValidation, fmt.Sprintf("unsupported operation type: %s", operation.Operation)), nil
	}
	if rootType == nil {
		return requestError(KindValidation, fmt.Sprintf("root type not found for %s operation", operation.Operation)), nil
	}

	coercedVariableValues, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return requestError(KindValidation, err.Error()), nil
	}

	if errs := validateOperation(e.schema, document, rootType, operation, coercedVariableValues, e.opts.MaxDepth); len(errs) > 0 {
		return &ExecutionResult{Errors: errs}, nil
	}

	traceID := reqid.String(ctx)
	state := &executionState{
		ctx:            ctx,
		schema:         e.schema,
		runtime:        e.runtime,
		invokers:       e.invokers,
		opts:           e.opts,
		document:       document,
		variableValues: coercedVariableValues,
		batcher:        batch.New(traceID),
		traceID:        traceID,
		errors:         []GraphQLError{},
	}

	root := newRootNode()
	if operation.Operation == language.Mutation {
		// Root mutation fields run one after another, each with its own
		// read levels drained before the next starts.
		groupedFields := collectFields(state, rootType, operation.SelectionSet)
		for _, collectedField := range groupedFields.orderedFields() {
			if root.dead() {
				break
			}
			state.executeField(rootType, initialValue, collectedField.ResponseName, collectedField.Fields, root)
			if err := state.drain(); err != nil {
				return nil, err
			}
		}
	} else {
		state.executeSelectionSet(rootType, operation.SelectionSet, initialValue, root)
		if err := state.drain(); err != nil {
			return nil, err
		}
	}

	return &ExecutionResult{Data: root.value(), Errors: state.errors}, nil
}

func requestError(kind ErrorKind, message string) *ExecutionResult {
	return &ExecutionResult{Errors: []GraphQLError{newError(kind, message, nil)}}
}

// getOperation retrieves the operation from the document
func getOperation(document *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if operationName == "" {
		switch len(document.Operations) {
		case 0:
			return nil, errors.New("document contains no operations")
		case 1:
			return document.Operations[0], nil
		default:
			return nil, errors.New("operation name is required when the document contains multiple operations")
		}
	}
	for _, op := range document.Operations {
		if op.Name == operationName {
			return op, nil
		}
	}
	return nil, fmt.Errorf("unknown operation %q", operationName)
}
