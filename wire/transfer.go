package wire

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

// Mode selects how a row range travels. It is a fixed setting of a run, both
// ends must use the same one.
type Mode int

const (
	// Batched sends the whole encoded range as one message
	Batched Mode = iota
	// PerRow sends the row count, then the entry counts, then one message
	// per row
	PerRow
)

func (m Mode) String() string {
	switch m {
	case Batched:
		return "batched"
	case PerRow:
		return "per-row"
	default:
		return "unknown"
	}
}

func sizesOf(rows []sparse.Row) []int64 {
	sizes := make([]int64, len(rows))
	for i, r := range rows {
		sizes[i] = int64(len(r))
	}
	return sizes
}

// SendRows sends a row range to dst
func SendRows(ctx context.Context, c comm.Comm, dst int, tag comm.Tag, rows []sparse.Row, mode Mode) error {
	if mode == Batched {
		return c.Send(ctx, dst, tag, Encode(rows))
	}
	if err := c.Send(ctx, dst, tag, []int64{int64(len(rows))}); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if err := c.Send(ctx, dst, tag, sizesOf(rows)); err != nil {
		return err
	}
	for _, r := range rows {
		if err := c.Send(ctx, dst, tag, appendEntries(make([]int64, 0, 2*len(r)), r)); err != nil {
			return err
		}
	}
	return nil
}

// RecvRows receives a row range sent by SendRows from src
func RecvRows(ctx context.Context, c comm.Comm, f field.Field, src int, tag comm.Tag, mode Mode) ([]sparse.Row, error) {
	if mode == Batched {
		buf, err := c.Recv(ctx, src, tag)
		if err != nil {
			return nil, err
		}
		return Decode(f, buf)
	}
	return recvPerRow(f, func() ([]int64, error) {
		return c.Recv(ctx, src, tag)
	})
}

// BroadcastRows hands the row range of root to every rank in [0, group). The
// root gets its own rows back untouched.
func BroadcastRows(ctx context.Context, c comm.Comm, f field.Field, root, group int, tag comm.Tag, rows []sparse.Row, mode Mode) ([]sparse.Row, error) {
	isRoot := c.Rank() == root
	if mode == Batched {
		var buf []int64
		if isRoot {
			buf = Encode(rows)
		}
		buf, err := c.Broadcast(ctx, root, group, tag, buf)
		if err != nil || isRoot {
			return rows, err
		}
		return Decode(f, buf)
	}

	if isRoot {
		if _, err := c.Broadcast(ctx, root, group, tag, []int64{int64(len(rows))}); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return rows, nil
		}
		if _, err := c.Broadcast(ctx, root, group, tag, sizesOf(rows)); err != nil {
			return nil, err
		}
		for _, r := range rows {
			if _, err := c.Broadcast(ctx, root, group, tag, appendEntries(nil, r)); err != nil {
				return nil, err
			}
		}
		return rows, nil
	}
	return recvPerRow(f, func() ([]int64, error) {
		return c.Broadcast(ctx, root, group, tag, nil)
	})
}

func recvPerRow(f field.Field, next func() ([]int64, error)) ([]sparse.Row, error) {
	head, err := next()
	if err != nil {
		return nil, err
	}
	if len(head) != 1 || head[0] < 0 {
		return nil, errors.Errorf("invalid row count message %v", head)
	}
	n := int(head[0])
	if n == 0 {
		return nil, nil
	}
	sizes, err := next()
	if err != nil {
		return nil, err
	}
	if len(sizes) != n {
		return nil, errors.Errorf("expected %d row sizes, got %d", n, len(sizes))
	}
	rows := make([]sparse.Row, n)
	for i := range rows {
		pairs, err := next()
		if err != nil {
			return nil, err
		}
		if sizes[i] < 0 || len(pairs)%2 != 0 || int64(len(pairs)/2) != sizes[i] {
			return nil, errors.Errorf("row %d: expected %d entries, got %d values", i, sizes[i], len(pairs))
		}
		if rows[i], err = decodeRow(f, pairs); err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
	}
	return rows, nil
}
