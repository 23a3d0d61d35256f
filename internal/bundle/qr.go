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

// Householder QR of the explicit weighted Jacobian over all unknowns.
// Points are not eliminated, so this is meant for small problems
type qrSystem struct {
	l   *layout
	qr  mat.QR
	n   int
	rhs []float64
}

// Row-scales observations and apriori constraints by the square root of
// their weights
func (l *layout) newQRSystem(obs []*observation) (*qrSystem, error) {
	n := l.total
	var rows [][]float64
	var rhs []float64
	row := func() []float64 {
		r := make([]float64, n)
		rows = append(rows, r)
		return r
	}
	for _, o := range obs {
		if o.m.Rejected {
			continue
		}
		sw := math.Sqrt(l.weight(o.image))
		for _, r := range []struct {
			a []float64
			b [3]float64
			v float64
		}{{o.ax, o.bx, o.vx}, {o.ay, o.by, o.vy}} {
			jr := row()
			if o.block.col >= 0 {
				for c, v := range r.a {
					jr[o.block.col+c] = sw * v
				}
			}
			if o.pt.col >= 0 {
				for k := 0; k < l.coords; k++ {
					jr[o.pt.col+k] = sw * r.b[k]
				}
			}
			rhs = append(rhs, sw*r.v)
		}
	}
	constrain := func(col int, w, cum float64) {
		if w <= 0 {
			return
		}
		sw := math.Sqrt(w)
		row()[col] = sw
		rhs = append(rhs, -sw*cum)
	}
	for _, b := range l.blocks {
		if b.col < 0 {
			continue
		}
		for c, w := range b.weights {
			constrain(b.col+c, w, b.cum[c])
		}
	}
	for _, p := range l.points {
		if p.col < 0 {
			continue
		}
		for k := 0; k < l.coords; k++ {
			constrain(p.col+k, p.weights[k], p.cum[k])
		}
	}

	for c := 0; c < n; c++ {
		empty := true
		for _, r := range rows {
			if r[c] != 0 {
				empty = false
				break
			}
		}
		if empty {
			return nil, &errs.NumericalError{Msg: "jacobian has an empty column", ZeroColumn: c, ImageColumn: c < l.imageCols}
		}
	}
	if len(rows) < n {
		return nil, &errs.NumericalError{Msg: "fewer observations than unknowns", ZeroColumn: -1}
	}

	j := mat.NewDense(len(rows), n, nil)
	for i, r := range rows {
		j.SetRow(i, r)
	}
	s := &qrSystem{l: l, n: n, rhs: rhs}
	s.qr.Factorize(j)

	var rd mat.Dense
	s.qr.RTo(&rd)
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		maxDiag = math.Max(maxDiag, math.Abs(rd.At(i, i)))
	}
	for i := 0; i < n; i++ {
		if math.Abs(rd.At(i, i)) <= 1e-12*maxDiag {
			return nil, &errs.NumericalError{Msg: "jacobian is rank deficient", ZeroColumn: i, ImageColumn: i < l.imageCols}
		}
	}
	return s, nil
}

func (s *qrSystem) solve() ([]float64, error) {
	var x mat.VecDense
	if err := s.qr.SolveVecTo(&x, false, mat.NewVecDense(len(s.rhs), s.rhs)); err != nil {
		return nil, &errs.NumericalError{Msg: "qr solve: " + err.Error(), ZeroColumn: -1}
	}
	return x.RawVector().Data, nil
}

// Covariance of all unknowns, R^-1 R^-T
func (s *qrSystem) covariance() (*mat.SymDense, error) {
	var rd mat.Dense
	s.qr.RTo(&rd)
	r := mat.NewTriDense(s.n, mat.Upper, nil)
	for i := 0; i < s.n; i++ {
		for j := i; j < s.n; j++ {
			r.SetTri(i, j, rd.At(i, j))
		}
	}
	var inv mat.TriDense
	if err := inv.InverseTri(r); err != nil {
		return nil, &errs.NumericalError{Msg: "inverting R: " + err.Error(), ZeroColumn: -1}
	}
	var q mat.SymDense
	q.SymOuterK(1, &inv)
	return &q, nil
}
