// Package matgen builds reproducible random sparse matrices for benchmarks,
// tests and the demo mode of the worker binary. The same seed yields the same
// matrix on every platform.
package matgen

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/tuneinsight/lattigo/v4/utils"

	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

// Settings describes a random matrix
type Settings struct {
	Seed    string  `toml:"seed"`
	Rows    int     `toml:"rows"`
	Columns int     `toml:"columns"`
	Density float64 `toml:"density"`
	// Dependent is the number of extra rows that are linear combinations of
	// two generated rows. They cancel to zero during the reduction.
	Dependent int `toml:"dependent"`
}

var defaultSettings = Settings{
	Seed:    "gbreduce",
	Rows:    1000,
	Columns: 800,
	Density: 0.02,
}

// DefaultSettings returns a copy of the default generator settings
func DefaultSettings() *Settings {
	s := defaultSettings
	return &s
}

// Validate checks that the settings describe a matrix that can be built
func (s *Settings) Validate() error {
	switch {
	case s.Rows < 0:
		return errors.Errorf("row count must not be negative, got %d", s.Rows)
	case s.Columns < 1:
		return errors.Errorf("column count must be positive, got %d", s.Columns)
	case s.Density <= 0 || s.Density > 1:
		return errors.Errorf("density must be in (0, 1], got %v", s.Density)
	case s.Dependent < 0:
		return errors.Errorf("dependent row count must not be negative, got %d", s.Dependent)
	case s.Dependent > 0 && s.Rows == 0:
		return errors.New("dependent rows need at least one generated row")
	}
	return nil
}

// Generator draws field elements and rows from a keyed PRNG
type Generator struct {
	f    field.Field
	prng utils.PRNG
	buf  [8]byte
}

// NewGenerator returns a generator over f keyed by seed
func NewGenerator(f field.Field, seed []byte) (*Generator, error) {
	prng, err := utils.NewKeyedPRNG(seed)
	if err != nil {
		return nil, errors.Wrap(err, "creating PRNG")
	}
	return &Generator{f: f, prng: prng}, nil
}

func (g *Generator) uint64() uint64 {
	if _, err := io.ReadFull(g.prng, g.buf[:]); err != nil {
		// The keyed PRNG is an endless XOF stream
		panic(err)
	}
	return binary.LittleEndian.Uint64(g.buf[:])
}

// Uint64n returns a uniform value in [0, n). n must be positive.
func (g *Generator) Uint64n(n uint64) uint64 {
	threshold := (^uint64(0) / n) * n
	for {
		if v := g.uint64(); v < threshold {
			return v % n
		}
	}
}

// Float64 returns a uniform value in [0, 1)
func (g *Generator) Float64() float64 {
	return float64(g.uint64()>>11) / (1 << 53)
}

// Element returns a uniform nonzero element
func (g *Generator) Element() field.Element {
	return field.Element(g.Uint64n(g.f.Modulus()-1) + 1)
}

// Row returns a row of the given width where every column is nonzero with
// probability density
func (g *Generator) Row(width int, density float64) sparse.Row {
	var r sparse.Row
	for c := 0; c < width; c++ {
		if g.Float64() < density {
			r = append(r, sparse.Entry{Col: uint32(c), Val: g.Element()})
		}
	}
	return r
}

// Rows returns n independent draws of Row
func (g *Generator) Rows(n, width int, density float64) []sparse.Row {
	rows := make([]sparse.Row, n)
	for i := range rows {
		rows[i] = g.Row(width, density)
	}
	return rows
}

// Dependent returns a random combination a·x + b·y of two rows of base
func (g *Generator) Dependent(base []sparse.Row) sparse.Row {
	x := base[g.Uint64n(uint64(len(base)))]
	y := base[g.Uint64n(uint64(len(base)))]
	return sparse.Row(nil).AddScaled(g.f, x, g.Element()).AddScaled(g.f, y, g.Element())
}

// Shuffle permutes rows uniformly
func (g *Generator) Shuffle(rows []sparse.Row) {
	for i := len(rows) - 1; i > 0; i-- {
		j := int(g.Uint64n(uint64(i + 1)))
		rows[i], rows[j] = rows[j], rows[i]
	}
}

// Generate builds the matrix described by s over f. Dependent rows are mixed
// in at random positions. Column i of the result maps to term i.
func Generate(f field.Field, s *Settings) (*sparse.Matrix, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	g, err := NewGenerator(f, []byte(s.Seed))
	if err != nil {
		return nil, err
	}

	rows := g.Rows(s.Rows, s.Columns, s.Density)
	for i := 0; i < s.Dependent; i++ {
		rows = append(rows, g.Dependent(rows[:s.Rows]))
	}
	if s.Dependent > 0 {
		g.Shuffle(rows)
	}

	columns := make(sparse.ColumnMap, s.Columns)
	for i := range columns {
		columns[i] = uint64(i)
	}
	return sparse.NewMatrix(rows, columns), nil
}
