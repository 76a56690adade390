package comm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type mailboxKey struct {
	src int
	tag Tag
}

// mailbox buffers incoming messages per source and tag until they are asked
// for. Once failed, it keeps handing out what it already holds and then
// returns the failure. The same holds per source once that source has left.
type mailbox struct {
	mutex sync.Mutex // Protects queues, left and err
	cond  *sync.Cond // Notifies waiting receivers

	queues map[mailboxKey][][]int64
	left   map[int]bool
	err    error
}

func newMailbox() *mailbox {
	mb := &mailbox{
		queues: make(map[mailboxKey][][]int64),
		left:   make(map[int]bool),
	}
	mb.cond = sync.NewCond(&mb.mutex)
	return mb
}

// put appends a message to the queue of its source and tag
func (mb *mailbox) put(src int, tag Tag, data []int64) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	k := mailboxKey{src, tag}
	mb.queues[k] = append(mb.queues[k], data)
	mb.cond.Broadcast()
}

// next returns the oldest message from src with the given tag
func (mb *mailbox) next(ctx context.Context, src int, tag Tag) ([]int64, error) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	// Set up context cancellation to wake up waiters
	unregisterAfterFunc := context.AfterFunc(ctx, func() {
		mb.mutex.Lock()
		defer mb.mutex.Unlock()
		mb.cond.Broadcast()
	})
	defer unregisterAfterFunc()

	k := mailboxKey{src, tag}
	for {
		if q := mb.queues[k]; len(q) > 0 {
			data := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(mb.queues, k)
			} else {
				mb.queues[k] = q[1:]
			}
			return data, nil
		}
		if mb.err != nil {
			return nil, mb.err
		}
		if mb.left[src] {
			return nil, errors.Wrapf(ErrPeerLeft, "waiting for tag %d from rank %d", tag, src)
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "waiting for tag %d from rank %d", tag, src)
		}
		mb.cond.Wait()
	}
}

// leave marks src as gone: nothing more will arrive from it
func (mb *mailbox) leave(src int) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	mb.left[src] = true
	mb.cond.Broadcast()
}

// fail makes every pending and future wait on an empty queue return err.
// Only the first failure is kept.
func (mb *mailbox) fail(err error) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	if mb.err == nil {
		mb.err = err
	}
	mb.cond.Broadcast()
}
