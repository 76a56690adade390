package sparse

import (
	"math/rand"
	"testing"

	"github.com/ppopth/gbreduce/field"
)

func randomRow(rng *rand.Rand, f field.Field, width int, density float64) Row {
	var r Row
	for c := 0; c < width; c++ {
		if rng.Float64() < density {
			v := field.Element(rng.Uint64()%(f.Modulus()-1) + 1)
			r = append(r, Entry{Col: uint32(c), Val: v})
		}
	}
	return r
}

func TestAddScaledMatchesDense(t *testing.T) {
	for _, p := range []uint64{5, 101, 2_147_483_647, 4_294_967_311} {
		f := field.MustNew(p)
		rng := rand.New(rand.NewSource(int64(p)))
		const width = 40
		for trial := 0; trial < 200; trial++ {
			a := randomRow(rng, f, width, 0.3)
			b := randomRow(rng, f, width, 0.3)
			s := field.Element(rng.Uint64() % p)

			got := a.AddScaled(f, b, s)
			if err := got.Validate(f); err != nil {
				t.Fatalf("GF(%d) trial %d: invalid result: %v", p, trial, err)
			}

			da, db := a.Dense(width), b.Dense(width)
			want := make([]field.Element, width)
			for c := range want {
				want[c] = f.MulAdd(da[c], s, db[c])
			}
			if !got.Equal(NewRowFromDense(want)) {
				t.Fatalf("GF(%d) trial %d: %v + %d*%v = %v, expected %v", p, trial, a, s, b, got, NewRowFromDense(want))
			}
		}
	}
}

func TestAddScaledDoesNotAlias(t *testing.T) {
	f := field.MustNew(7)
	a := Row{{0, 1}, {3, 2}}
	out := a.AddScaled(f, a, 6) // a + (-1)a
	if !out.IsZero() {
		t.Fatalf("expected zero row, got %v", out)
	}
	if len(a) != 2 || a[1].Val != 2 {
		t.Fatalf("input modified: %v", a)
	}

	same := a.AddScaled(f, Row{}, 3)
	same[0].Val = 5
	if a[0].Val != 1 {
		t.Fatal("result shares storage with its input")
	}
}

func TestLinearDependenceCancels(t *testing.T) {
	f := field.MustNew(5)
	r0 := Row{{0, 1}, {1, 2}}
	r1 := Row{{0, 3}, {1, 1}}

	r0.Normalize(f)
	k := f.Neg(f.Mul(r1.CoefficientAt(r0.LeadingColumn()), f.Inv(r0.LeadingCoefficient())))
	r1 = r1.AddScaled(f, r0, k)
	if !r1.IsZero() {
		t.Fatalf("expected the zero row, got %v", r1)
	}
}

func TestNormalize(t *testing.T) {
	f := field.MustNew(101)
	r := Row{{2, 4}, {5, 8}, {9, 100}}
	r.Normalize(f)
	if r.LeadingCoefficient() != 1 {
		t.Fatalf("expected leading coefficient 1, got %d", r.LeadingCoefficient())
	}
	// 8/4 = 2 and 100/4 = -1/4 = -76 = 25
	if r[1].Val != 2 || r[2].Val != 25 {
		t.Fatalf("unexpected normalized row %v", r)
	}
	var zero Row
	zero.Normalize(f)
}

func TestCoefficientAt(t *testing.T) {
	r := Row{{1, 3}, {4, 5}, {10, 7}}
	cases := map[uint32]field.Element{0: 0, 1: 3, 2: 0, 4: 5, 9: 0, 10: 7, 11: 0}
	for col, want := range cases {
		if got := r.CoefficientAt(col); got != want {
			t.Errorf("column %d: expected %d, got %d", col, want, got)
		}
	}
	if (Row{}).CoefficientAt(3) != 0 {
		t.Error("zero row has a nonzero coefficient")
	}
}

func TestLeadingOfEmptyRowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Row{}.LeadingColumn()
}

func TestValidate(t *testing.T) {
	f := field.MustNew(7)
	bad := []Row{
		{{0, 0}},
		{{0, 7}},
		{{3, 1}, {3, 2}},
		{{4, 1}, {2, 2}},
	}
	for _, r := range bad {
		if r.Validate(f) == nil {
			t.Errorf("expected %v to be rejected", r)
		}
	}
	if err := (Row{{0, 1}, {6, 6}}).Validate(f); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRowString(t *testing.T) {
	if s := (Row{{0, 4}, {5, 2}}).String(); s != "{(0,4),(5,2)}" {
		t.Fatalf("unexpected string %q", s)
	}
}
