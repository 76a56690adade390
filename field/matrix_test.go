package field

import (
	"math/rand"
	"testing"
)

func toElements(f Field, rows [][]int64) [][]Element {
	out := make([][]Element, len(rows))
	for i, row := range rows {
		out[i] = make([]Element, len(row))
		for j, v := range row {
			out[i][j] = f.FromInt(v)
		}
	}
	return out
}

func TestRREFKnown(t *testing.T) {
	f := MustNew(5)
	// The second row is 3 times the first one modulo 5
	A := toElements(f, [][]int64{
		{1, 2, 0},
		{3, 1, 0},
		{0, 1, 4},
	})
	R := RREF(A, f)
	expected := toElements(f, [][]int64{
		{1, 0, 2},
		{0, 1, 4},
	})
	if len(R) != len(expected) {
		t.Fatalf("expected rank %d, got %d", len(expected), len(R))
	}
	for i := range R {
		for j := range R[i] {
			if R[i][j] != expected[i][j] {
				t.Fatalf("mismatch at (%d,%d): expected %d, got %d", i, j, expected[i][j], R[i][j])
			}
		}
	}
	// The input must be untouched
	if A[1][0] != 3 {
		t.Fatal("RREF modified its input")
	}
}

func TestRREFIsEchelon(t *testing.T) {
	f := MustNew(101)
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		n, m := 1+rng.Intn(8), 1+rng.Intn(8)
		A := make([][]Element, n)
		for i := range A {
			A[i] = make([]Element, m)
			for j := range A[i] {
				if rng.Intn(3) == 0 {
					A[i][j] = Element(rng.Intn(101))
				}
			}
		}
		R := RREF(A, f)
		prev := -1
		for i, row := range R {
			lead := leadingColumn(row)
			if lead <= prev || row[lead] != 1 {
				t.Fatalf("trial %d: row %d has a bad pivot at column %d", trial, i, lead)
			}
			for k := range R {
				if k != i && R[k][lead] != 0 {
					t.Fatalf("trial %d: pivot column %d not cleared in row %d", trial, lead, k)
				}
			}
			prev = lead
		}
		if Rank(R, f) != len(R) {
			t.Fatalf("trial %d: RREF is not idempotent", trial)
		}
	}
}

func leadingColumn(row []Element) int {
	for j, e := range row {
		if e != 0 {
			return j
		}
	}
	return -1
}
