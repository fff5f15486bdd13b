// Package batch collects the keys a request owes each collaborator during one
// resolution level and settles them from a single downstream call.
package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/hanpama/batchgraph/internal/invoker"
)

// ErrReleased settles handles whose every holder released them before flush.
var ErrReleased = errors.New("batch: key released before flush")

// Handle is the deferred result of one registered key. It settles exactly
// once; Done is closed at that point.
type Handle struct {
	collaborator string
	key          invoker.Key
	hash         uint64

	loaded chan struct{}
	value  any
	err    error

	// guarded by Batcher.mu
	refs    int
	settled bool
}

func (h *Handle) Key() invoker.Key      { return h.key }
func (h *Handle) Collaborator() string  { return h.collaborator }
func (h *Handle) Done() <-chan struct{} { return h.loaded }

// Result returns the settled value. It must only be called after Done is
// closed.
func (h *Handle) Result() (any, error) { return h.value, h.err }

// Settled reports whether the handle has a result without blocking.
func (h *Handle) Settled() bool {
	select {
	case <-h.loaded:
		return true
	default:
		return false
	}
}

type queue struct {
	pending []*Handle
	index   map[uint64][]*Handle
}

// Batcher is request scoped. Register and Release are called from the
// resolution goroutine while flushes of different collaborators run in
// parallel, so all state is guarded by mu.
type Batcher struct {
	traceID string

	mu     sync.Mutex
	queues map[string]*queue
	order  []string
}

// New returns an empty batcher whose requests carry traceID.
func New(traceID string) *Batcher {
	return &Batcher{traceID: traceID, queues: map[string]*queue{}}
}

func hashKey(k invoker.Key) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.Operation)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(k.ID)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(k.Args)
	return d.Sum64()
}

// Register returns the handle for key, creating and queueing it on first
// sight. Registering an equal key again, even after it settled, returns the
// same handle and adds a reference.
func (b *Batcher) Register(collaborator string, key invoker.Key) *Handle {
	sum := hashKey(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[collaborator]
	if q == nil {
		q = &queue{index: map[uint64][]*Handle{}}
		b.queues[collaborator] = q
	}
	for _, h := range q.index[sum] {
		if h.key == key {
			h.refs++
			return h
		}
	}
	h := &Handle{
		collaborator: collaborator,
		key:          key,
		hash:         sum,
		loaded:       make(chan struct{}),
		refs:         1,
	}
	q.index[sum] = append(q.index[sum], h)
	if len(q.pending) == 0 {
		b.order = append(b.order, collaborator)
	}
	q.pending = append(q.pending, h)
	return h
}

// Release drops one reference to h. A pending key without references is not
// sent at flush.
func (b *Batcher) Release(h *Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

// Pending lists collaborators with queued keys in first-registration order.
func (b *Batcher) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.order))
	for _, c := range b.order {
		if q := b.queues[c]; q != nil && len(q.pending) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// PendingKeys returns the live keys queued for collaborator.
func (b *Batcher) PendingKeys(collaborator string) []invoker.Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[collaborator]
	if q == nil {
		return nil
	}
	var keys []invoker.Key
	for _, h := range q.pending {
		if h.refs > 0 {
			keys = append(keys, h.key)
		}
	}
	return keys
}

// take dequeues collaborator's pending handles, settling released ones.
func (b *Batcher) take(collaborator string) []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[collaborator]
	if q == nil || len(q.pending) == 0 {
		return nil
	}
	live := make([]*Handle, 0, len(q.pending))
	for _, h := range q.pending {
		if h.refs == 0 {
			b.unindex(q, h)
			b.settleLocked(h, nil, ErrReleased)
			continue
		}
		live = append(live, h)
	}
	q.pending = nil
	for i, c := range b.order {
		if c == collaborator {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return live
}

func (b *Batcher) unindex(q *queue, h *Handle) {
	bucket := q.index[h.hash]
	for i, other := range bucket {
		if other == h {
			q.index[h.hash] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(q.index[h.hash]) == 0 {
		delete(q.index, h.hash)
	}
}

func (b *Batcher) settleLocked(h *Handle, value any, err error) {
	if h.settled {
		return
	}
	h.settled = true
	h.value, h.err = value, err
	close(h.loaded)
}

// Flush sends every live pending key of collaborator in one call to inv and
// settles their handles. Keys absent from the response resolve to nil; a per
// key error fails only that handle; a call error fails all of them and is
// returned. When ctx ends before inv answers, every handle fails with
// ctx.Err() and the late answer is dropped. It returns the number of keys
// sent.
func (b *Batcher) Flush(ctx context.Context, collaborator string, inv invoker.Invoker) (int, error) {
	handles := b.take(collaborator)
	if len(handles) == 0 {
		return 0, nil
	}
	keys := make([]invoker.Key, len(handles))
	for i, h := range handles {
		keys[i] = h.key
	}

	results, err := invoker.Call(ctx, inv, invoker.Request{
		Collaborator: collaborator,
		Keys:         keys,
		TraceID:      b.traceID,
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range handles {
		if err != nil {
			b.settleLocked(h, nil, err)
			continue
		}
		r, ok := results[h.key]
		if !ok {
			b.settleLocked(h, nil, nil)
			continue
		}
		b.settleLocked(h, r.Value, r.Err)
	}
	return len(keys), err
}

// Fail settles every pending handle of collaborator with err without a
// downstream call.
func (b *Batcher) Fail(collaborator string, err error) int {
	handles := b.take(collaborator)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range handles {
		b.settleLocked(h, nil, err)
	}
	return len(handles)
}
