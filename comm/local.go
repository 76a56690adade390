package comm

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// localComm is one member of an in-process group. Members share nothing but
// their mailboxes; every message is copied on send.
type localComm struct {
	rank   int
	boxes  []*mailbox
	closed atomic.Bool
}

// NewLocalGroup returns the members of an in-process group of the given size,
// indexed by rank. Each member is meant to be driven by its own goroutine.
func NewLocalGroup(size int) []Comm {
	if size < 1 {
		panic("group needs at least one member")
	}
	boxes := make([]*mailbox, size)
	for i := range boxes {
		boxes[i] = newMailbox()
	}
	group := make([]Comm, size)
	for i := range group {
		group[i] = &localComm{rank: i, boxes: boxes}
	}
	return group
}

func (c *localComm) Rank() int {
	return c.rank
}

func (c *localComm) Size() int {
	return len(c.boxes)
}

func (c *localComm) Send(ctx context.Context, dst int, tag Tag, data []int64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := checkRank(dst, len(c.boxes)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	c.boxes[dst].put(c.rank, tag, append([]int64(nil), data...))
	return nil
}

func (c *localComm) Recv(ctx context.Context, src int, tag Tag) ([]int64, error) {
	if err := checkRank(src, len(c.boxes)); err != nil {
		return nil, err
	}
	return c.boxes[c.rank].next(ctx, src, tag)
}

func (c *localComm) Broadcast(ctx context.Context, root, group int, tag Tag, data []int64) ([]int64, error) {
	return broadcast(ctx, c, root, group, tag, data)
}

// Close fails the pending receives of this member and tells the other members
// it has left
func (c *localComm) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.boxes[c.rank].fail(ErrClosed)
		for r, box := range c.boxes {
			if r != c.rank {
				box.leave(c.rank)
			}
		}
	}
	return nil
}
