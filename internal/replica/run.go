package replica

import (
	"context"

	"github.com/roach88/boardreplica/internal/block"
)

// Enqueue queues a pushed delta batch for the Run loop. It is safe to call
// from any goroutine and reports false after Stop.
func (r *Replica) Enqueue(batch []block.Block) bool {
	if len(batch) == 0 {
		return true
	}
	return r.queue.enqueue(event{typ: eventDeltas, blocks: batch})
}

// RequestResync queues a full resync through the configured fetcher.
func (r *Replica) RequestResync() bool {
	return r.queue.enqueue(event{typ: eventResync})
}

// Run drains the queue until ctx is cancelled or Stop is called. Batches
// are applied in receipt order. A failed resync is logged and the loop
// keeps going; the next reconnect asks again.
func (r *Replica) Run(ctx context.Context) error {
	r.logger.Info("replica loop starting")

	for {
		if ev, ok := r.queue.tryDequeue(); ok {
			r.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("replica loop stopping: context cancelled")
			r.queue.close()
			return ctx.Err()
		case <-r.queue.wait():
			// The signal channel is closed with the queue.
			if r.queue.len() == 0 && r.queue.isClosed() {
				r.logger.Info("replica loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns once it is drained.
func (r *Replica) Stop() {
	r.queue.close()
}

func (r *Replica) process(ctx context.Context, ev event) {
	switch ev.typ {
	case eventDeltas:
		r.OnDeltas(ev.blocks)
	case eventResync:
		if err := r.Resync(ctx, r.fetcher); err != nil {
			r.logger.Warn("resync failed", "error", err)
		}
	}
}
