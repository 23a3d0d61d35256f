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
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// Solves the reduced image system and inverts it for error propagation
type solver interface {
	solve(n *normals) ([]float64, error)
	// Inverse of the matrix of the last successful solve
	inverse() (*mat.SymDense, error)
}

func newSolver(m Method, svdThreshold float64) solver {
	switch m {
	case Cholesky:
		return &choleskySolver{}
	case SVD:
		return &svdSolver{threshold: svdThreshold}
	case Sparse:
		return &sparseSolver{}
	}
	return &specialKSolver{}
}

// First column with an empty diagonal, or -1
func zeroDiagonal(a mat.Symmetric) int {
	for i := 0; i < a.SymmetricDim(); i++ {
		if a.At(i, i) == 0 {
			return i
		}
	}
	return -1
}

type choleskySolver struct{ chol mat.Cholesky }

func (s *choleskySolver) solve(n *normals) ([]float64, error) {
	a, b := n.dense()
	if !s.chol.Factorize(a) {
		return nil, &errs.NumericalError{Msg: "cholesky factorization failed", ZeroColumn: zeroDiagonal(a), ImageColumn: true}
	}
	var x mat.VecDense
	if err := s.chol.SolveVecTo(&x, mat.NewVecDense(len(b), b)); err != nil {
		return nil, &errs.NumericalError{Msg: "cholesky solve: " + err.Error(), ZeroColumn: -1}
	}
	return x.RawVector().Data, nil
}

func (s *choleskySolver) inverse() (*mat.SymDense, error) {
	var inv mat.SymDense
	if err := s.chol.InverseTo(&inv); err != nil {
		return nil, &errs.NumericalError{Msg: "cholesky inverse: " + err.Error(), ZeroColumn: -1}
	}
	return &inv, nil
}

// Minimum norm least squares through the singular value decomposition.
// Singular values below threshold times the largest are treated as zero
type svdSolver struct {
	threshold float64
	svd       mat.SVD
	rank      int
}

func (s *svdSolver) solve(n *normals) ([]float64, error) {
	a, b := n.dense()
	if !s.svd.Factorize(a, mat.SVDThin) {
		return nil, &errs.NumericalError{Msg: "singular value decomposition failed", ZeroColumn: -1}
	}
	s.rank = s.svd.Rank(s.threshold)
	if s.rank == 0 {
		return nil, &errs.NumericalError{Msg: "normal matrix has rank zero", ZeroColumn: zeroDiagonal(a), ImageColumn: true}
	}
	var x mat.VecDense
	s.svd.SolveVecTo(&x, mat.NewVecDense(len(b), b), s.rank)
	return x.RawVector().Data, nil
}

// Pseudo inverse V S^+ U^T over the retained singular values
func (s *svdSolver) inverse() (*mat.SymDense, error) {
	var u, v mat.Dense
	s.svd.UTo(&u)
	s.svd.VTo(&v)
	vals := s.svd.Values(nil)
	n := len(vals)
	inv := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for k := 0; k < s.rank; k++ {
				sum += v.At(i, k) * u.At(j, k) / vals[k]
			}
			inv.SetSym(i, j, sum)
		}
	}
	return inv, nil
}
