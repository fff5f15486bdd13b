package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/batchgraph/internal/eventbus"
	"github.com/hanpama/batchgraph/internal/events"
	"github.com/hanpama/batchgraph/internal/invoker"
)

// drain runs resolution levels until no frame is suspended. Each level
// flushes every collaborator with pending keys once, concurrently across
// collaborators, then completes the level's frames in registration order.
// Frames registered during completion form the next level.
func (s *executionState) drain() error {
	for len(s.frames) > 0 {
		if errors.Is(s.ctx.Err(), context.Canceled) {
			return ErrRequestAborted
		}
		frames := s.frames
		s.frames = nil
		s.level++

		live := s.prune(frames)
		if s.ctx.Err() != nil {
			s.expire(live)
		} else {
			s.flush(live)
		}
		if errors.Is(s.ctx.Err(), context.Canceled) {
			return ErrRequestAborted
		}
		for _, f := range live {
			s.completeFrame(f)
		}
	}
	return nil
}

// prune drops frames whose result position was nulled by Non-Null
// propagation and releases their keys, so keys nobody waits for are not sent.
func (s *executionState) prune(frames []*frame) []*frame {
	live := frames[:0]
	for _, f := range frames {
		if f.node.dead() {
			s.releaseFrame(f)
			continue
		}
		live = append(live, f)
	}
	return live
}

// expire fails everything still pending once the request deadline passed,
// without calling collaborators.
func (s *executionState) expire(live []*frame) {
	for _, c := range s.batcher.Pending() {
		s.batcher.Fail(c, context.DeadlineExceeded)
	}
	for _, f := range live {
		if f.remote != nil {
			f.remote.err = context.DeadlineExceeded
		}
	}
}

func (s *executionState) flush(live []*frame) {
	var g errgroup.Group
	if s.opts.MaxConcurrentFlushes > 0 {
		g.SetLimit(s.opts.MaxConcurrentFlushes)
	}
	for _, collaborator := range s.batcher.Pending() {
		inv, err := s.invokers.Lookup(collaborator)
		if err != nil {
			s.batcher.Fail(collaborator, err)
			continue
		}
		g.Go(func() error {
			s.flushBatch(collaborator, inv)
			return nil
		})
	}
	for _, f := range live {
		if f.remote == nil {
			continue
		}
		rc := f.remote
		inv, err := s.invokers.Lookup(rc.collaborator)
		if err != nil {
			rc.err = err
			continue
		}
		g.Go(func() error {
			s.callRemote(rc, inv)
			return nil
		})
	}
	_ = g.Wait()
}

var batchSeq atomic.Uint64

// batchContext derives the context of one collaborator call and tags it with
// a fresh batch id.
func (s *executionState) batchContext() (context.Context, uint64, context.CancelFunc) {
	id := batchSeq.Add(1)
	ctx := events.WithBatchID(s.ctx, id)
	if s.opts.BatchTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.opts.BatchTimeout)
		return ctx, id, cancel
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, id, cancel
}

func (s *executionState) flushBatch(collaborator string, inv invoker.Invoker) {
	ctx, id, cancel := s.batchContext()
	defer cancel()

	eventbus.Publish(ctx, events.BatchStart{
		ID:           id,
		Collaborator: collaborator,
		Level:        s.level,
		Keys:         len(s.batcher.PendingKeys(collaborator)),
	})
	start := time.Now()
	n, err := s.batcher.Flush(ctx, collaborator, inv)
	eventbus.Publish(ctx, events.BatchFinish{
		ID:           id,
		Collaborator: collaborator,
		Level:        s.level,
		Keys:         n,
		Err:          err,
		Duration:     time.Since(start),
	})
}

func (s *executionState) callRemote(rc *remoteCall, inv invoker.Invoker) {
	ctx, id, cancel := s.batchContext()
	defer cancel()

	eventbus.Publish(ctx, events.BatchStart{ID: id, Collaborator: rc.collaborator, Level: s.level, Keys: 1, Remote: true})
	start := time.Now()
	results, err := invoker.Call(ctx, inv, invoker.Request{
		Collaborator: rc.collaborator,
		Keys:         []invoker.Key{rc.key},
		TraceID:      s.traceID,
	})
	if err == nil {
		if r, ok := results[rc.key]; ok {
			rc.value, err = r.Value, r.Err
		}
	}
	rc.err = err
	eventbus.Publish(ctx, events.BatchFinish{
		ID:           id,
		Collaborator: rc.collaborator,
		Level:        s.level,
		Keys:         1,
		Remote:       true,
		Err:          err,
		Duration:     time.Since(start),
	})
}
