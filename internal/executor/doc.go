// Package executor implements a request-scoped, level-by-level GraphQL
// executor that resolves collaborator-backed fields in batches, so a query
// costs at most one downstream call per collaborator per resolution level.
//
// # Overview
//
// Every schema field carries a resolution strategy (schema.Resolution):
//   - local: computed synchronously by Runtime.ResolveLocal from the parent
//     value. Local descents never add a level.
//   - composite: the parent value itself is passed to the child selections.
//   - batched: a key is derived from the parent value (or from the key
//     argument) and registered with the request's batch.Batcher; the field is
//     suspended as a frame until the level is flushed.
//   - remote: one direct collaborator call carrying every argument, used by
//     mutations. The returned object completes through the normal read path.
//
// # Preparation
//
// Before anything is resolved the executor selects the operation, coerces
// variables, and validates the selection tree (unknown fields and arguments,
// argument values, missing required arguments, leaf/composite selections and
// the depth limit). Any failure here aborts the request with null data.
// Subscription operations are rejected.
//
// # Levels
//
// Dispatch walks the selection tree, expanding local and composite fields
// immediately and suspending batched and remote ones. Then the scheduler:
//
//	A. Prunes frames whose result position was nulled by Non-Null
//	   propagation and releases their keys.
//	B. Flushes every collaborator with pending keys, concurrently across
//	   collaborators, each under Options.BatchTimeout. Remote frames are
//	   called in the same round.
//	C. Completes the level's frames in registration order. Objects they
//	   produce are dispatched, registering keys for the next level.
//
// The loop ends when no frame is suspended. Mutation root fields run one at a
// time, each draining its own levels before the next starts.
//
// # Results and errors
//
// Values are written into a result tree that mirrors the selection tree, so
// list order and field order never depend on settlement order. Each failure
// is recorded once as a located GraphQLError whose extensions.code is its
// ErrorKind. A null in a Non-Null position nulls the nearest nullable
// ancestor, or the whole data when it reaches the root. A field that failed
// with an error does not additionally report NON_NULL_VIOLATION, and nothing
// is recorded under a subtree that is already null.
//
// If the request context is cancelled the executor returns ErrRequestAborted
// and no result. When its deadline passes, suspended fields fail with
// TIMEOUT and the partial result is returned.
package executor
