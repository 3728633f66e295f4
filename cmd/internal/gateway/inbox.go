package gateway

import (
	"context"
	"sync"

	v1 "teamly/shared/contracts/gateway/v1"
)

// inbox is the unbounded FIFO between the socket reader and the frame handler.
// The reader never waits on the handler, so liveness keeps being recorded
// while a slow frame (READY bootstrap) is handled.
type inbox struct {
	mu     sync.Mutex
	frames []v1.Frame
	wake   chan struct{}
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (q *inbox) push(f v1.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *inbox) pop() (v1.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return v1.Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = v1.Frame{}
	q.frames = q.frames[1:]
	return f, true
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// drain hands queued frames to handle in order until ctx is done.
// Frames still queued at that point are left for the caller to discard.
func (q *inbox) drain(ctx context.Context, handle FrameHandler) {
	for {
		for ctx.Err() == nil {
			f, ok := q.pop()
			if !ok {
				break
			}
			handle(ctx, f)
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}
