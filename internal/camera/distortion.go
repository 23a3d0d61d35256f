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

package camera

import (
	"github.com/pkg/errors"
)

// Brown-Conrady lens distortion on focal plane coordinates in millimeters.
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
type Distortion struct {
	K1, K2, K3 float64 // radial
	P1, P2     float64 // tangential
}

// Creates a distortion model from up to five coefficients k1 k2 k3 p1 p2
func NewDistortion(coefs []float64) (Distortion, error) {
	if len(coefs) > 5 {
		return Distortion{}, errors.Errorf("list of distortion coefficients too long, expected max 5, got %d", len(coefs))
	}
	c := make([]float64, 5)
	copy(c, coefs)
	return Distortion{K1: c[0], K2: c[1], K3: c[2], P1: c[3], P2: c[4]}, nil
}

func (d Distortion) Coefficients() []float64 { return []float64{d.K1, d.K2, d.K3, d.P1, d.P2} }

func (d Distortion) IsZero() bool { return d == Distortion{} }

// Maps undistorted to distorted focal plane coordinates
func (d Distortion) Distort(xu, yu float64) (xd, yd float64) {
	r2 := xu*xu + yu*yu
	rad := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
	xd = xu*rad + 2*d.P1*xu*yu + d.P2*(r2+2*xu*xu)
	yd = yu*rad + 2*d.P2*xu*yu + d.P1*(r2+2*yu*yu)
	return xd, yd
}

// Maps distorted to undistorted focal plane coordinates by Newton-Raphson iteration
// on the forward model, starting from the distorted point
func (d Distortion) Undistort(xd, yd float64) (xu, yu float64) {
	if d.IsZero() {
		return xd, yd
	}
	const maxIterations = 20
	const tolerance = 1e-12

	xu, yu = xd, yd
	for i := 0; i < maxIterations; i++ {
		r2 := xu*xu + yu*yu
		r4 := r2 * r2
		rad := 1 + d.K1*r2 + d.K2*r4 + d.K3*r4*r2

		ex := xu*rad + 2*d.P1*xu*yu + d.P2*(r2+2*xu*xu) - xd
		ey := yu*rad + 2*d.P2*xu*yu + d.P1*(r2+2*yu*yu) - yd
		if ex*ex+ey*ey < tolerance*tolerance {
			break
		}

		dRad := d.K1 + 2*d.K2*r2 + 3*d.K3*r4
		dxx := rad + 2*xu*xu*dRad + 2*d.P1*yu + 6*d.P2*xu
		dxy := 2*xu*yu*dRad + 2*d.P1*xu + 2*d.P2*yu
		dyx := 2*xu*yu*dRad + 2*d.P2*yu + 2*d.P1*xu
		dyy := rad + 2*yu*yu*dRad + 2*d.P2*xu + 6*d.P1*yu

		det := dxx*dyy - dxy*dyx
		if det == 0 {
			break
		}
		xu -= (dyy*ex - dxy*ey) / det
		yu -= (-dyx*ex + dxx*ey) / det
	}
	return xu, yu
}
