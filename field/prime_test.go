package field

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/tuneinsight/lattigo/v4/ring"
)

const (
	narrowPrime = 2_147_483_647             // 2^31 - 1, p² fits in int64
	widePrime   = 4_294_967_311             // first prime above 2^32
	mersenne61  = 2_305_843_009_213_693_951 // 2^61 - 1
)

func TestNewRejectsBadModulus(t *testing.T) {
	for _, p := range []uint64{0, 1, 4, 100, 1 << 61, 1<<62 + 1} {
		if _, err := New(p); err == nil {
			t.Errorf("expected error for modulus %d", p)
		}
	}
}

func TestWideFlag(t *testing.T) {
	tests := []struct {
		p    uint64
		wide bool
	}{
		{5, false},
		{101, false},
		{narrowPrime, false},
		{3_037_000_493, false}, // largest prime with p² <= MaxInt64
		{3_037_000_507, true},
		{widePrime, true},
		{mersenne61, true},
	}
	for _, tt := range tests {
		f := MustNew(tt.p)
		if f.Wide() != tt.wide {
			t.Errorf("GF(%d): expected wide=%v, got %v", tt.p, tt.wide, f.Wide())
		}
	}
}

func TestBasicOperations(t *testing.T) {
	f := MustNew(101)

	tests := []struct {
		name     string
		a, b     int64
		expected int64
		op       string
	}{
		{"add_basic", 25, 30, 55, "add"},
		{"add_with_reduction", 80, 50, 29, "add"},
		{"sub_basic", 50, 30, 20, "sub"},
		{"sub_with_reduction", 20, 30, 91, "sub"},
		{"mul_basic", 7, 9, 63, "mul"},
		{"mul_with_reduction", 15, 12, 79, "mul"},
		{"neg", 1, 0, 100, "neg"},
		{"neg_zero", 0, 0, 0, "neg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := f.FromInt(tt.a), f.FromInt(tt.b)

			var result Element
			switch tt.op {
			case "add":
				result = f.Add(a, b)
			case "sub":
				result = f.Sub(a, b)
			case "mul":
				result = f.Mul(a, b)
			case "neg":
				result = f.Neg(a)
			default:
				t.Fatalf("unknown operation: %s", tt.op)
			}

			if f.ToInt(result) != tt.expected {
				t.Errorf("%s failed: expected %d, got %d", tt.op, tt.expected, result)
			}
		})
	}
}

func TestFromIntReduces(t *testing.T) {
	f := MustNew(5)
	cases := map[int64]int64{-1: 4, -5: 0, -6: 4, 7: 2, 0: 0, 5: 0}
	for in, want := range cases {
		if got := f.ToInt(f.FromInt(in)); got != want {
			t.Errorf("FromInt(%d): expected %d, got %d", in, want, got)
		}
	}
}

func TestInverse(t *testing.T) {
	for _, p := range []uint64{5, 101, narrowPrime, widePrime, mersenne61} {
		f := MustNew(p)
		rng := rand.New(rand.NewSource(int64(p)))
		for i := 0; i < 200; i++ {
			a := Element(rng.Uint64()%(p-1) + 1)
			inv := f.Inv(a)
			if f.Mul(a, inv) != 1 {
				t.Fatalf("GF(%d): %d * %d != 1", p, a, inv)
			}
			// Fermat's little theorem gives the same answer
			if fermat := Element(ring.ModExp(uint64(a), p-2, p)); fermat != inv {
				t.Fatalf("GF(%d): Euclid inverse %d differs from Fermat inverse %d", p, inv, fermat)
			}
		}
	}
}

func TestInverseOfZeroPanics(t *testing.T) {
	f := MustNew(101)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when inverting zero")
		}
	}()
	f.Inv(f.FromInt(202))
}

func TestWideMultiplicationMatchesBigInt(t *testing.T) {
	for _, p := range []uint64{widePrime, mersenne61} {
		f := MustNew(p)
		bp := new(big.Int).SetUint64(p)
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 1000; i++ {
			a := Element(rng.Uint64() % p)
			b := Element(rng.Uint64() % p)
			want := new(big.Int).Mul(new(big.Int).SetUint64(uint64(a)), new(big.Int).SetUint64(uint64(b)))
			want.Mod(want, bp)
			if got := f.Mul(a, b); uint64(got) != want.Uint64() {
				t.Fatalf("GF(%d): %d*%d expected %s, got %d", p, a, b, want, got)
			}
		}
		// (p-1)² = 1 and the largest products stay below p
		if got := f.Mul(Element(p-1), Element(p-1)); got != 1 {
			t.Fatalf("GF(%d): (p-1)² expected 1, got %d", p, got)
		}
		if got := f.Mul(Element(p-1), 2); uint64(got) != p-2 {
			t.Fatalf("GF(%d): 2(p-1) expected %d, got %d", p, p-2, got)
		}
	}
}

func TestAccumulateMatchesBigInt(t *testing.T) {
	f := MustNew(narrowPrime)
	p := new(big.Int).SetUint64(narrowPrime)

	// Worst case operands so the lazy fold has to kick in
	top := Element(narrowPrime - 1)
	var acc uint64
	want := new(big.Int)
	for i := 0; i < 5000; i++ {
		acc = f.Accumulate(acc, top, top)
		acc = f.AccumulateOne(acc, top)
		want.Add(want, new(big.Int).Mul(big.NewInt(int64(top)), big.NewInt(int64(top))))
		want.Add(want, big.NewInt(int64(top)))
	}
	want.Mod(want, p)
	if got := f.Fold(acc); uint64(got) != want.Uint64() {
		t.Fatalf("expected %s, got %d", want, got)
	}
}

func TestMulAdd(t *testing.T) {
	f := MustNew(17)
	if got := f.MulAdd(3, 4, 5); got != 6 { // 3 + 20 = 23 = 6 mod 17
		t.Fatalf("expected 6, got %d", got)
	}
}
