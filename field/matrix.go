package field

// Dense matrix operations over the prime field. These are quadratic in the
// matrix width and only meant as a reference for the sparse engine.

// RREF computes the reduced row echelon form of a dense matrix. The input is
// left untouched; the result holds only the nonzero rows, ordered by pivot
// column, each with a leading coefficient of one.
func RREF(vectors [][]Element, f Field) [][]Element {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	m := 0
	for _, v := range vectors {
		if len(v) > m {
			m = len(v)
		}
	}

	// Make a deep copy of the matrix, padding short rows with zeros
	A := make([][]Element, n)
	for i := range vectors {
		A[i] = make([]Element, m)
		copy(A[i], vectors[i])
	}

	rank := 0
	for col := 0; col < m && rank < n; col++ {
		// Find pivot
		pivot := -1
		for i := rank; i < n; i++ {
			if A[i][col] != 0 {
				pivot = i
				break
			}
		}
		if pivot == -1 {
			continue // no pivot in this column
		}

		// Swap to current rank position
		if pivot != rank {
			A[rank], A[pivot] = A[pivot], A[rank]
		}

		// Normalize pivot row
		inv := f.Inv(A[rank][col])
		for j := col; j < m; j++ {
			A[rank][j] = f.Mul(A[rank][j], inv)
		}

		// Eliminate below and above
		for i := 0; i < n; i++ {
			if i == rank || A[i][col] == 0 {
				continue
			}
			factor := A[i][col]
			for j := col; j < m; j++ {
				A[i][j] = f.Sub(A[i][j], f.Mul(factor, A[rank][j]))
			}
		}
		rank++
	}
	return A[:rank]
}

// Rank returns the rank of a dense matrix
func Rank(vectors [][]Element, f Field) int {
	return len(RREF(vectors, f))
}
