package primary

import (
	"context"
	"sync"
)

// Notifier publishes the last committed frame number to any number of
// subscribers without polling, the Go analogue of the original's
// `tokio::sync::watch` channel (spec.md §4.I "a watch channel publishes
// the last committed frame number").
type Notifier struct {
	mu   sync.Mutex
	last uint64
	ch   chan struct{}
}

// NewNotifier returns a Notifier seeded at initial (the log's current top
// frame number, usually start_frame_no+frame_count at Open time).
func NewNotifier(initial uint64) *Notifier {
	return &Notifier{last: initial, ch: make(chan struct{})}
}

// Publish records frameNo as the new last-committed frame number and wakes
// every goroutine blocked in WaitContext.
func (n *Notifier) Publish(frameNo uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if frameNo <= n.last {
		return
	}
	n.last = frameNo
	close(n.ch)
	n.ch = make(chan struct{})
}

// Last returns the most recently published frame number.
func (n *Notifier) Last() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func (n *Notifier) wait(after uint64) (uint64, chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last > after {
		return n.last, nil
	}
	return 0, n.ch
}

// WaitContext blocks until a frame number greater than after is published
// or ctx is done, whichever happens first.
func (n *Notifier) WaitContext(ctx context.Context, after uint64) (uint64, error) {
	for {
		got, ch := n.wait(after)
		if ch == nil {
			return got, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
