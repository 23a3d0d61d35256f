// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package bundle

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// Relative pivot below which a column counts as zero
const pivotTolerance = 1e-13

// Square root free LDL^T factorization of a symmetric positive definite
// matrix, N = U^T D U with U unit upper triangular. The upper triangle is
// kept packed in column major order and factored in place: after factoring,
// the diagonal holds D and the strict upper triangle holds U
type ldl struct {
	n int
	a []float64
}

func packedIndex(i, j int) int { return j*(j+1)/2 + i }

// Packs the upper triangle of a
func newLDL(a mat.Symmetric) *ldl {
	n := a.SymmetricDim()
	f := &ldl{n: n, a: make([]float64, n*(n+1)/2)}
	for j := 0; j < n; j++ {
		for i := 0; i <= j; i++ {
			f.a[packedIndex(i, j)] = a.At(i, j)
		}
	}
	return f
}

func (f *ldl) at(i, j int) float64 { return f.a[packedIndex(i, j)] }

// Factors in place. Returns a NumericalError naming the first column whose
// pivot vanishes or turns negative
func (f *ldl) factor() error {
	for j := 0; j < f.n; j++ {
		orig := f.at(j, j)
		// t(i,j) = D(i) U(i,j), computed top down
		for i := 0; i < j; i++ {
			sum := f.at(i, j)
			for k := 0; k < i; k++ {
				sum -= f.at(k, i) * f.at(k, j)
			}
			f.a[packedIndex(i, j)] = sum
		}
		d := orig
		for k := 0; k < j; k++ {
			t := f.at(k, j)
			u := t / f.at(k, k)
			d -= t * u
			f.a[packedIndex(k, j)] = u
		}
		if !(orig > 0) || !(d > pivotTolerance*orig) {
			return &errs.NumericalError{Msg: "normal matrix is not positive definite", ZeroColumn: j, ImageColumn: true}
		}
		f.a[packedIndex(j, j)] = d
	}
	return nil
}

// Solves U^T D U x = b with the factored matrix. b is not modified
func (f *ldl) solve(b []float64) []float64 {
	x := make([]float64, f.n)
	copy(x, b)
	for j := 0; j < f.n; j++ {
		for k := 0; k < j; k++ {
			x[j] -= f.at(k, j) * x[k]
		}
	}
	for j := 0; j < f.n; j++ {
		x[j] /= f.at(j, j)
	}
	for i := f.n - 1; i >= 0; i-- {
		for j := i + 1; j < f.n; j++ {
			x[i] -= f.at(i, j) * x[j]
		}
	}
	return x
}

// Inverse of the factored matrix, one unit vector at a time
func (f *ldl) inverse() *mat.SymDense {
	inv := mat.NewSymDense(f.n, nil)
	e := make([]float64, f.n)
	for j := 0; j < f.n; j++ {
		e[j] = 1
		x := f.solve(e)
		e[j] = 0
		for i := 0; i <= j; i++ {
			inv.SetSym(i, j, x[i])
		}
	}
	return inv
}

type specialKSolver struct{ f *ldl }

func (s *specialKSolver) solve(n *normals) ([]float64, error) {
	a, b := n.dense()
	s.f = newLDL(a)
	if err := s.f.factor(); err != nil {
		return nil, err
	}
	x := s.f.solve(b)
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &errs.NumericalError{Msg: "solution is not finite", ZeroColumn: -1}
		}
	}
	return x, nil
}

func (s *specialKSolver) inverse() (*mat.SymDense, error) { return s.f.inverse(), nil }
