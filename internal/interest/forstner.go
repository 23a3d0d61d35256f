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

package interest

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Forstner roundness-weighted interest: the structure tensor of diagonal
// (Roberts) gradients is summed over the nominal window by FFT convolution,
// and the score at the chip center is det/trace
type Forstner struct{}

func (Forstner) Name() string { return "Forstner" }
func (Forstner) Padding() int { return 2 }

func (f Forstner) Interest(chip []float64, w, h int) float64 {
	for _, v := range chip {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	gw, gh := w-1, h-1
	if gw < 1 || gh < 1 {
		return math.NaN()
	}
	kw, kh := max(gw-f.Padding()+1, 1), max(gh-f.Padding()+1, 1)
	pw, ph := nextPow2(gw+kw), nextPow2(gh+kh)

	uu := make([][]complex128, ph)
	vv := make([][]complex128, ph)
	uv := make([][]complex128, ph)
	for y := range uu {
		uu[y], vv[y], uv[y] = make([]complex128, pw), make([]complex128, pw), make([]complex128, pw)
	}
	for y := 0; y < gh; y++ {
		for x := 0; x < gw; x++ {
			gu := chip[(y+1)*w+x+1] - chip[y*w+x]
			gv := chip[(y+1)*w+x] - chip[y*w+x+1]
			uu[y][x] = complex(gu*gu, 0)
			vv[y][x] = complex(gv*gv, 0)
			uv[y][x] = complex(gu*gv, 0)
		}
	}

	// box kernel centered on the origin, wrapped
	k := make([][]complex128, ph)
	for y := range k {
		k[y] = make([]complex128, pw)
	}
	for dy := -kh / 2; dy < kh-kh/2; dy++ {
		for dx := -kw / 2; dx < kw-kw/2; dx++ {
			k[(dy+ph)%ph][(dx+pw)%pw] = 1
		}
	}

	rows, cols := fourier.NewCmplxFFT(pw), fourier.NewCmplxFFT(ph)
	fft2(k, rows, cols, true)
	cx, cy := gw/2, gh/2
	var s [3]float64
	for i, a := range [3][][]complex128{uu, vv, uv} {
		fft2(a, rows, cols, true)
		for y := range a {
			for x := range a[y] {
				a[y][x] *= k[y][x]
			}
		}
		fft2(a, rows, cols, false)
		s[i] = real(a[cy][cx]) / float64(pw*ph)
	}

	trace := s[0] + s[1]
	if trace <= 1e-12 {
		return 0
	}
	return (s[0]*s[1] - s[2]*s[2]) / trace
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// In-place 2D transform, unnormalized in both directions
func fft2(a [][]complex128, rows, cols *fourier.CmplxFFT, forward bool) {
	for y := range a {
		if forward {
			rows.Coefficients(a[y], a[y])
		} else {
			rows.Sequence(a[y], a[y])
		}
	}
	col := make([]complex128, len(a))
	for x := range a[0] {
		for y := range a {
			col[y] = a[y][x]
		}
		if forward {
			cols.Coefficients(col, col)
		} else {
			cols.Sequence(col, col)
		}
		for y := range a {
			a[y][x] = col[y]
		}
	}
}
