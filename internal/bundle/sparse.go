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
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// Symmetric matrix in compressed sparse column form, both triangles stored
type csc struct {
	n      int
	colPtr []int
	rowIdx []int
	values []float64
}

// Assembles the reduced image system from its nonzero blocks
func (n *normals) csc() *csc {
	l := n.l
	type entry struct {
		row int
		v   float64
	}
	cols := make([][]entry, l.imageCols)
	add := func(r, c int, v float64) {
		if v != 0 {
			cols[c] = append(cols[c], entry{r, v})
		}
	}
	for key, d := range n.n11 {
		r0, c0 := l.blocks[key.row].col, l.blocks[key.col].col
		for i := 0; i < l.blockCols; i++ {
			for j := 0; j < l.blockCols; j++ {
				v := d.At(i, j)
				if key.row == key.col {
					if j >= i {
						add(r0+i, c0+j, v)
						if j > i {
							add(c0+j, r0+i, v)
						}
					}
					continue
				}
				add(r0+i, c0+j, v)
				add(c0+j, r0+i, v)
			}
		}
	}
	m := &csc{n: l.imageCols, colPtr: make([]int, l.imageCols+1)}
	for c, es := range cols {
		sort.Slice(es, func(a, b int) bool { return es[a].row < es[b].row })
		for _, e := range es {
			m.rowIdx = append(m.rowIdx, e.row)
			m.values = append(m.values, e.v)
		}
		m.colPtr[c+1] = len(m.rowIdx)
	}
	return m
}

// First column without any nonzero entry, or -1
func (m *csc) zeroColumn() int {
	for c := 0; c < m.n; c++ {
		if m.colPtr[c] == m.colPtr[c+1] {
			return c
		}
	}
	return -1
}

func (m *csc) diagonal() []float64 {
	d := make([]float64, m.n)
	for c := 0; c < m.n; c++ {
		for k := m.colPtr[c]; k < m.colPtr[c+1]; k++ {
			if m.rowIdx[k] == c {
				d[c] = m.values[k]
			}
		}
	}
	return d
}

// dst = M x
func (m *csc) mulVec(dst, x []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for c := 0; c < m.n; c++ {
		for k := m.colPtr[c]; k < m.colPtr[c+1]; k++ {
			dst[m.rowIdx[k]] += m.values[k] * x[c]
		}
	}
}

// Jacobi preconditioned conjugate gradients
func (m *csc) solvePCG(b []float64, tol float64, maxIter int) ([]float64, error) {
	diag := m.diagonal()
	for c, d := range diag {
		if !(d > 0) {
			return nil, &errs.NumericalError{Msg: "normal matrix has a non positive diagonal", ZeroColumn: c, ImageColumn: true}
		}
	}
	n := m.n
	x := make([]float64, n)
	r := make([]float64, n)
	copy(r, b)
	z := make([]float64, n)
	floats.DivTo(z, r, diag)
	p := make([]float64, n)
	copy(p, z)
	ap := make([]float64, n)
	rz := floats.Dot(r, z)
	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		return x, nil
	}
	for it := 0; it < maxIter; it++ {
		m.mulVec(ap, p)
		pap := floats.Dot(p, ap)
		if !(pap > 0) {
			return nil, &errs.NumericalError{Msg: "normal matrix is not positive definite", ZeroColumn: -1}
		}
		alpha := rz / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)
		if floats.Norm(r, 2) <= tol*bnorm {
			return x, nil
		}
		floats.DivTo(z, r, diag)
		rzNew := floats.Dot(r, z)
		beta := rzNew / rz
		rz = rzNew
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}
	// stagnation close to machine precision is accepted
	if floats.Norm(r, 2) <= 1e-8*bnorm {
		return x, nil
	}
	return nil, &errs.NumericalError{Msg: "conjugate gradients did not converge", ZeroColumn: -1}
}

// Sparse assembly with zero column diagnosis, solved iteratively. The inverse
// for error propagation goes through the LDL^T factors
type sparseSolver struct {
	n *normals
}

func (s *sparseSolver) solve(n *normals) ([]float64, error) {
	m := n.csc()
	if c := m.zeroColumn(); c >= 0 {
		return nil, &errs.NumericalError{Msg: "normal matrix has an empty column", ZeroColumn: c, ImageColumn: true}
	}
	x, err := m.solvePCG(n.rhs(), 1e-14, 10*m.n+100)
	if err != nil {
		return nil, err
	}
	for _, v := range x {
		if math.IsNaN(v) {
			return nil, &errs.NumericalError{Msg: "solution is not finite", ZeroColumn: -1}
		}
	}
	s.n = n
	return x, nil
}

func (s *sparseSolver) inverse() (*mat.SymDense, error) {
	a, _ := s.n.dense()
	f := newLDL(a)
	if err := f.factor(); err != nil {
		return nil, err
	}
	return f.inverse(), nil
}
