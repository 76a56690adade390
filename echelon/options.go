package echelon

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/wire"
)

// Message tags of the protocol phases
const (
	TagParams comm.Tag = iota + 1
	TagScatter
	TagForward
	TagBackward
	TagGather
)

// Options tunes a reduction. Every worker of a group must use the same values,
// which ShareParams takes care of.
type Options struct {
	// BlockSize is the number of rows a worker contributes per pivot block
	BlockSize int `toml:"blockSize"`
	// InnerBlockSize is the number of pivots fed to one block reduction. One
	// selects row-by-row reduction, zero uses the whole pivot block at once.
	InnerBlockSize int `toml:"innerBlockSize"`
	// UseBatchedTransfer sends a row range as a single message instead of
	// one message per row
	UseBatchedTransfer bool `toml:"batchedTransfer"`
	// RequestDiagonalForm runs the backward pass, leaving the fully reduced
	// matrix on rank 0. Otherwise every worker keeps its shard of a row
	// echelon form.
	RequestDiagonalForm bool `toml:"diagonal"`
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		BlockSize:           32,
		InnerBlockSize:      8,
		UseBatchedTransfer:  true,
		RequestDiagonalForm: true,
	}
}

// Validate checks that the options describe a runnable reduction
func (o Options) Validate() error {
	if o.BlockSize < 1 {
		return errors.Errorf("block size must be positive, got %d", o.BlockSize)
	}
	if o.InnerBlockSize < 0 {
		return errors.Errorf("inner block size must not be negative, got %d", o.InnerBlockSize)
	}
	return nil
}

func (o Options) mode() wire.Mode {
	if o.UseBatchedTransfer {
		return wire.Batched
	}
	return wire.PerRow
}

// Params is the state every worker needs before the first row moves. Order
// and Variables describe the polynomial ring the matrix came from; the
// reduction carries them along for the caller.
type Params struct {
	Modulus   uint64
	Order     uint32
	Variables uint32
	Rows      int
	Options   Options
}

// Field builds the prime field of the parameters
func (p Params) Field() (field.Field, error) {
	return field.New(p.Modulus)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (p Params) encode() []int64 {
	return []int64{
		int64(p.Modulus),
		int64(p.Order),
		int64(p.Variables),
		int64(p.Rows),
		int64(p.Options.BlockSize),
		int64(p.Options.InnerBlockSize),
		boolInt(p.Options.UseBatchedTransfer),
		boolInt(p.Options.RequestDiagonalForm),
	}
}

func decodeParams(buf []int64) (Params, error) {
	if len(buf) != 8 {
		return Params{}, errors.Errorf("parameter message has %d values, expected 8", len(buf))
	}
	for i, v := range buf {
		if v < 0 {
			return Params{}, errors.Errorf("negative parameter %d at position %d", v, i)
		}
	}
	return Params{
		Modulus:   uint64(buf[0]),
		Order:     uint32(buf[1]),
		Variables: uint32(buf[2]),
		Rows:      int(buf[3]),
		Options: Options{
			BlockSize:           int(buf[4]),
			InnerBlockSize:      int(buf[5]),
			UseBatchedTransfer:  buf[6] != 0,
			RequestDiagonalForm: buf[7] != 0,
		},
	}, nil
}

// ShareParams broadcasts the parameters of rank 0 to the whole group. Every
// rank must call it; the argument is ignored everywhere but on rank 0.
func ShareParams(ctx context.Context, c comm.Comm, p Params) (Params, error) {
	var buf []int64
	if c.Rank() == 0 {
		buf = p.encode()
	}
	buf, err := c.Broadcast(ctx, 0, c.Size(), TagParams, buf)
	if err != nil {
		return Params{}, errors.Wrap(err, "sharing parameters")
	}
	return decodeParams(buf)
}
