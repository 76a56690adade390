// Package comm is the message-passing layer between the workers of a group.
// Workers are addressed by rank. Messages are flat int64 slices, matched by
// source rank and tag, and delivered in the order they were sent.
package comm

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("comm")

var (
	// ErrClosed is returned by calls on a closed communicator
	ErrClosed = errors.New("communicator closed")
	// ErrPeerLeft is returned when waiting on a rank that has stopped sending
	ErrPeerLeft = errors.New("peer left the group")
)

// Tag tells apart messages of different protocol phases between the same pair
// of ranks.
type Tag uint32

// Comm connects one worker to the rest of its group
type Comm interface {
	// Rank returns the rank of this worker in [0, Size)
	Rank() int
	// Size returns the number of workers in the group
	Size() int

	// Send queues data for dst. The data is copied before Send returns.
	Send(ctx context.Context, dst int, tag Tag, data []int64) error
	// Recv blocks until a message with the given tag arrives from src
	Recv(ctx context.Context, src int, tag Tag) ([]int64, error)
	// Broadcast delivers the data of root to every rank in [0, group). Every
	// member must call it with the same root, group and tag; ranks outside the
	// group must not.
	Broadcast(ctx context.Context, root, group int, tag Tag, data []int64) ([]int64, error)

	Close() error
}

// broadcast is a linear broadcast on top of point-to-point sends. Per-pair
// ordering makes it safe to reuse a tag across rounds.
func broadcast(ctx context.Context, c Comm, root, group int, tag Tag, data []int64) ([]int64, error) {
	if group < 1 || group > c.Size() {
		return nil, errors.Errorf("broadcast group of %d ranks in a group of %d", group, c.Size())
	}
	if root < 0 || root >= group || c.Rank() >= group {
		return nil, errors.Errorf("rank %d cannot take part in a broadcast from %d to %d ranks", c.Rank(), root, group)
	}
	if c.Rank() != root {
		return c.Recv(ctx, root, tag)
	}
	for r := 0; r < group; r++ {
		if r == root {
			continue
		}
		if err := c.Send(ctx, r, tag, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func checkRank(rank, size int) error {
	if rank < 0 || rank >= size {
		return errors.Errorf("rank %d out of range [0, %d)", rank, size)
	}
	return nil
}
