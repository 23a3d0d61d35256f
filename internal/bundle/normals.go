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
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

type blockKey struct{ row, col int }

// Normal equation contributions of one point
type pointNormals struct {
	pt     *pointParam
	n22    *mat.SymDense
	n2     *mat.VecDense
	n12    map[int]*mat.Dense // block index to blockCols x coords
	blocks []int              // keys of n12 in ascending order
	q      *mat.SymDense      // inverse of n22
}

// Normal system reduced to the image parameters. Point parameters are
// eliminated block by block and recovered by back substitution
type normals struct {
	l      *layout
	n11    map[blockKey]*mat.Dense // row block <= col block
	n1     []*mat.VecDense         // per block
	points []*pointNormals
}

func (l *layout) newNormals() *normals {
	n := &normals{l: l, n11: map[blockKey]*mat.Dense{}, n1: make([]*mat.VecDense, len(l.blocks))}
	for bi, b := range l.blocks {
		if b.col < 0 {
			continue
		}
		d := mat.NewDense(l.blockCols, l.blockCols, nil)
		n1 := mat.NewVecDense(l.blockCols, nil)
		// apriori weights pull the total correction towards zero
		for c, w := range b.weights {
			d.Set(c, c, w)
			n1.SetVec(c, -w*b.cum[c])
		}
		n.n11[blockKey{bi, bi}] = d
		n.n1[bi] = n1
	}
	return n
}

func (n *normals) newPoint(pt *pointParam) *pointNormals {
	k := n.l.coords
	pn := &pointNormals{pt: pt, n22: mat.NewSymDense(k, nil), n2: mat.NewVecDense(k, nil), n12: map[int]*mat.Dense{}}
	for c := 0; c < k; c++ {
		w := pt.weights[c]
		pn.n22.SetSym(c, c, w)
		pn.n2.SetVec(c, -w*pt.cum[c])
	}
	return pn
}

// Accumulates the observations of one point. Observations must belong to pt
// and be in measure order
func (n *normals) addPoint(pt *pointParam, obs []*observation) {
	l := n.l
	var pn *pointNormals
	if pt.col >= 0 {
		pn = n.newPoint(pt)
	}
	for _, o := range obs {
		if o.m.Rejected {
			continue
		}
		w := l.weight(o.image)
		bi := l.imageBlock[o.image]
		rows := [2]struct {
			a []float64
			b [3]float64
			v float64
		}{{o.ax, o.bx, o.vx}, {o.ay, o.by, o.vy}}

		for _, r := range rows {
			if o.block.col >= 0 {
				nb := n.n11[blockKey{bi, bi}]
				rhs := n.n1[bi]
				for i := 0; i < l.blockCols; i++ {
					if r.a[i] == 0 {
						continue
					}
					rhs.SetVec(i, rhs.AtVec(i)+w*r.a[i]*r.v)
					for j := 0; j < l.blockCols; j++ {
						nb.Set(i, j, nb.At(i, j)+w*r.a[i]*r.a[j])
					}
				}
			}
			if pn == nil {
				continue
			}
			for i := 0; i < l.coords; i++ {
				pn.n2.SetVec(i, pn.n2.AtVec(i)+w*r.b[i]*r.v)
				for j := i; j < l.coords; j++ {
					pn.n22.SetSym(i, j, pn.n22.At(i, j)+w*r.b[i]*r.b[j])
				}
			}
			if o.block.col >= 0 {
				cross, ok := pn.n12[bi]
				if !ok {
					cross = mat.NewDense(l.blockCols, l.coords, nil)
					pn.n12[bi] = cross
					pn.blocks = append(pn.blocks, bi)
				}
				for i := 0; i < l.blockCols; i++ {
					if r.a[i] == 0 {
						continue
					}
					for j := 0; j < l.coords; j++ {
						cross.Set(i, j, cross.At(i, j)+w*r.a[i]*r.b[j])
					}
				}
			}
		}
	}
	if pn != nil {
		sort.Ints(pn.blocks)
		n.points = append(n.points, pn)
	}
}

// Inverts the point blocks and folds them into the image system:
// N11 -= N12 N22^-1 N12^T and n1 -= N12 N22^-1 n2
func (n *normals) reduce() error {
	l := n.l
	for _, pn := range n.points {
		var chol mat.Cholesky
		if !chol.Factorize(pn.n22) {
			col := pn.pt.col
			for c := 0; c < l.coords; c++ {
				if pn.n22.At(c, c) == 0 {
					col = pn.pt.col + c
					break
				}
			}
			return &errs.NumericalError{Msg: "point normal block is not positive definite", ZeroColumn: col}
		}
		pn.q = mat.NewSymDense(l.coords, nil)
		if err := chol.InverseTo(pn.q); err != nil {
			return &errs.NumericalError{Msg: "point normal block is singular", ZeroColumn: pn.pt.col}
		}

		var qn2 mat.VecDense
		qn2.MulVec(pn.q, pn.n2)
		// M_i = N12_i Q
		ms := make([]*mat.Dense, len(pn.blocks))
		for k, bi := range pn.blocks {
			ms[k] = mat.NewDense(l.blockCols, l.coords, nil)
			ms[k].Mul(pn.n12[bi], pn.q)
			var t mat.VecDense
			t.MulVec(pn.n12[bi], &qn2)
			n.n1[bi].SubVec(n.n1[bi], &t)
		}
		for a, bi := range pn.blocks {
			for b := a; b < len(pn.blocks); b++ {
				bj := pn.blocks[b]
				key := blockKey{bi, bj}
				d, ok := n.n11[key]
				if !ok {
					d = mat.NewDense(l.blockCols, l.blockCols, nil)
					n.n11[key] = d
				}
				var t mat.Dense
				t.Mul(ms[a], pn.n12[bj].T())
				d.Sub(d, &t)
			}
		}
	}
	return nil
}

// Reduced image system as a dense symmetric matrix and right hand side
func (n *normals) dense() (*mat.SymDense, []float64) {
	l := n.l
	a := mat.NewSymDense(l.imageCols, nil)
	for key, d := range n.n11 {
		r0, c0 := l.blocks[key.row].col, l.blocks[key.col].col
		for i := 0; i < l.blockCols; i++ {
			for j := 0; j < l.blockCols; j++ {
				if key.row == key.col && j < i {
					continue
				}
				a.SetSym(r0+i, c0+j, d.At(i, j))
			}
		}
	}
	return a, n.rhs()
}

func (n *normals) rhs() []float64 {
	l := n.l
	rhs := make([]float64, l.imageCols)
	for bi, b := range l.blocks {
		if b.col < 0 {
			continue
		}
		for i := 0; i < l.blockCols; i++ {
			rhs[b.col+i] = n.n1[bi].AtVec(i)
		}
	}
	return rhs
}

// Recovers point corrections from the image corrections:
// dp = N22^-1 (n2 - N12^T dx). Writes them into delta
func (n *normals) backSubstitute(delta []float64) {
	l := n.l
	for _, pn := range n.points {
		r := mat.VecDenseCopyOf(pn.n2)
		for _, bi := range pn.blocks {
			b := l.blocks[bi]
			dx := mat.NewVecDense(l.blockCols, delta[b.col:b.col+l.blockCols])
			var t mat.VecDense
			t.MulVec(pn.n12[bi].T(), dx)
			r.SubVec(r, &t)
		}
		var dp mat.VecDense
		dp.MulVec(pn.q, r)
		for k := 0; k < l.coords; k++ {
			delta[pn.pt.col+k] = dp.AtVec(k)
		}
	}
}

// Point covariance Q_pt = Q + M^T Q11 M with M = N12 Q over the point's blocks.
// q11 is the inverse of the reduced image system
func (n *normals) pointCovariance(pn *pointNormals, q11 mat.Symmetric) *mat.SymDense {
	l := n.l
	cov := mat.NewSymDense(l.coords, nil)
	cov.CopySym(pn.q)
	ms := make([]*mat.Dense, len(pn.blocks))
	for k, bi := range pn.blocks {
		ms[k] = mat.NewDense(l.blockCols, l.coords, nil)
		ms[k].Mul(pn.n12[bi], pn.q)
	}
	for a, bi := range pn.blocks {
		for b, bj := range pn.blocks {
			r0, c0 := l.blocks[bi].col, l.blocks[bj].col
			sub := mat.NewDense(l.blockCols, l.blockCols, nil)
			for i := 0; i < l.blockCols; i++ {
				for j := 0; j < l.blockCols; j++ {
					sub.Set(i, j, q11.At(r0+i, c0+j))
				}
			}
			var t, u mat.Dense
			t.Mul(ms[a].T(), sub)
			u.Mul(&t, ms[b])
			for i := 0; i < l.coords; i++ {
				for j := i; j < l.coords; j++ {
					cov.SetSym(i, j, cov.At(i, j)+u.At(i, j))
				}
			}
		}
	}
	return cov
}
