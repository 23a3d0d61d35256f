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

package spice

import (
	"math"

	"github.com/golang/geo/r3"
)

// A 3x3 matrix in row-major order
type Mat3 [3][3]float64

func Identity() Mat3 { return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} }

func (m Mat3) Mul(o Mat3) (res Mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			res[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return res
}

func (m Mat3) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Mat3) Transpose() (res Mat3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			res[i][j] = m[j][i]
		}
	}
	return res
}

// Frame rotation about the X axis
func rot1(a float64) Mat3 {
	s, c := math.Sincos(a)
	return Mat3{{1, 0, 0}, {0, c, s}, {0, -s, c}}
}

func drot1(a float64) Mat3 {
	s, c := math.Sincos(a)
	return Mat3{{0, 0, 0}, {0, -s, c}, {0, -c, -s}}
}

// Frame rotation about the Z axis
func rot3(a float64) Mat3 {
	s, c := math.Sincos(a)
	return Mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
}

func drot3(a float64) Mat3 {
	s, c := math.Sincos(a)
	return Mat3{{-s, c, 0}, {-c, -s, 0}, {0, 0, 0}}
}

// Rotation from the body-fixed frame into the instrument frame for the given
// right ascension, declination and twist in radians. The third row is the
// boresight (cos dec cos ra, cos dec sin ra, sin dec)
func EulerMatrix(ra, dec, twist float64) Mat3 {
	return rot3(twist).Mul(rot1(math.Pi/2 - dec)).Mul(rot3(math.Pi/2 + ra))
}

// Partial derivatives of EulerMatrix with respect to ra, dec and twist
func EulerPartials(ra, dec, twist float64) (dRa, dDec, dTwist Mat3) {
	r3t, r1d, r3r := rot3(twist), rot1(math.Pi/2-dec), rot3(math.Pi/2+ra)
	dRa = r3t.Mul(r1d).Mul(drot3(math.Pi/2 + ra))
	d1 := drot1(math.Pi/2 - dec)
	for i := range d1 {
		for j := range d1[i] {
			d1[i][j] = -d1[i][j]
		}
	}
	dDec = r3t.Mul(d1).Mul(r3r)
	dTwist = drot3(twist).Mul(r1d).Mul(r3r)
	return dRa, dDec, dTwist
}

// Recovers right ascension, declination and twist in radians from a rotation
// produced by EulerMatrix. Right ascension is in [0,2pi)
func EulerAngles(m Mat3) (ra, dec, twist float64) {
	b := r3.Vector{X: m[2][0], Y: m[2][1], Z: m[2][2]}
	dec = math.Asin(math.Max(-1, math.Min(1, b.Z)))
	ra = math.Atan2(b.Y, b.X)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	rest := m.Mul(rot3(math.Pi/2 + ra).Transpose()).Mul(rot1(math.Pi/2 - dec).Transpose())
	twist = math.Atan2(rest[0][1], rest[0][0])
	return ra, dec, twist
}
