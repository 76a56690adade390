package field

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/tuneinsight/lattigo/v4/ring"
)

// MaxModulus bounds the prime modulus. Barrett reduction of wide products
// needs two bits of headroom in a 64-bit word.
const MaxModulus = 1 << 61

// lazyBound is the threshold above which a narrow accumulator is folded back
// into [0, p). Any value below it plus one product below p² stays in uint64.
const lazyBound = 1 << 63

// Element is a residue in [0, p)
type Element uint64

// Field represents the prime field Z/pZ. It is a small value type and is
// passed explicitly to every row and matrix operation.
type Field struct {
	p    uint64   // the prime modulus
	wide bool     // p² does not fit in a signed 64-bit accumulator
	bred []uint64 // Barrett constant for wide products
}

// New creates the prime field of order p
func New(p uint64) (Field, error) {
	if p < 2 || p >= MaxModulus {
		return Field{}, fmt.Errorf("modulus %d out of range [2, 2^61)", p)
	}
	if !new(big.Int).SetUint64(p).ProbablyPrime(20) {
		return Field{}, fmt.Errorf("modulus %d is not prime", p)
	}

	hi, lo := bits.Mul64(p, p)
	return Field{
		p:    p,
		wide: hi != 0 || lo > math.MaxInt64,
		bred: ring.BRedParams(p),
	}, nil
}

// MustNew is like New but panics on an invalid modulus
func MustNew(p uint64) Field {
	f, err := New(p)
	if err != nil {
		panic(err)
	}
	return f
}

// Modulus returns p
func (f Field) Modulus() uint64 {
	return f.p
}

// Wide reports whether p² may overflow the signed 64-bit accumulator, in which
// case every product has to be reduced on its own.
func (f Field) Wide() bool {
	return f.wide
}

// Zero returns the additive identity element (0)
func (f Field) Zero() Element {
	return 0
}

// One returns the multiplicative identity element (1)
func (f Field) One() Element {
	return 1
}

// FromInt maps any integer into [0, p)
func (f Field) FromInt(x int64) Element {
	m := x % int64(f.p)
	if m < 0 {
		m += int64(f.p)
	}
	return Element(m)
}

// FromUint64 maps any unsigned integer into [0, p)
func (f Field) FromUint64(x uint64) Element {
	return Element(x % f.p)
}

// Reduce is an alias of FromUint64 for values coming off the wire
func (f Field) Reduce(x uint64) Element {
	return f.FromUint64(x)
}

// ToInt returns the canonical representative of a in [0, p)
func (f Field) ToInt(a Element) int64 {
	return int64(a)
}

// Contains reports whether a is a fully reduced element
func (f Field) Contains(a Element) bool {
	return uint64(a) < f.p
}

// Add returns a + b
func (f Field) Add(a, b Element) Element {
	s := uint64(a) + uint64(b)
	if s >= f.p {
		s -= f.p
	}
	return Element(s)
}

// Sub returns a - b
func (f Field) Sub(a, b Element) Element {
	if a >= b {
		return a - b
	}
	return Element(f.p - uint64(b) + uint64(a))
}

// Neg returns -a
func (f Field) Neg(a Element) Element {
	if a == 0 {
		return 0
	}
	return Element(f.p - uint64(a))
}

// Mul returns a * b
func (f Field) Mul(a, b Element) Element {
	if f.wide {
		return Element(ring.BRed(uint64(a), uint64(b), f.p, f.bred))
	}
	return Element(uint64(a) * uint64(b) % f.p)
}

// MulAdd returns acc + a*b
func (f Field) MulAdd(acc, a, b Element) Element {
	return f.Add(acc, f.Mul(a, b))
}

// Accumulate adds a*b to an unreduced accumulator. Only valid for narrow
// fields; the accumulator is folded lazily so that a whole column run can be
// summed before the final reduction.
func (f Field) Accumulate(acc uint64, a, b Element) uint64 {
	acc += uint64(a) * uint64(b)
	if acc >= lazyBound {
		acc %= f.p
	}
	return acc
}

// AccumulateOne adds a to an unreduced accumulator
func (f Field) AccumulateOne(acc uint64, a Element) uint64 {
	acc += uint64(a)
	if acc >= lazyBound {
		acc %= f.p
	}
	return acc
}

// Fold reduces an accumulator into [0, p)
func (f Field) Fold(acc uint64) Element {
	return Element(acc % f.p)
}

// Inv returns the multiplicative inverse of a using the extended Euclidean
// algorithm. Inverting zero is a caller bug and panics.
func (f Field) Inv(a Element) Element {
	if uint64(a)%f.p == 0 {
		panic("zero element is not invertible")
	}

	t, newT := int64(0), int64(1)
	r, newR := int64(f.p), int64(uint64(a)%f.p)
	for newR != 0 {
		q := r / newR
		t, newT = newT, t-q*newT
		r, newR = newR, r-q*newR
	}
	if r != 1 {
		panic(fmt.Sprintf("element %d is not invertible modulo %d", a, f.p))
	}
	if t < 0 {
		t += int64(f.p)
	}
	return Element(t)
}

// String returns the name of the field
func (f Field) String() string {
	return fmt.Sprintf("GF(%d)", f.p)
}
