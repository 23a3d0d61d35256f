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

// Package spice provides the time dependent instrument state consumed by the
// camera models: polynomials over a normalized time, inlined kernel tables,
// least squares fits of the former to the latter, and Euler rotations.
package spice

import (
	"math"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// A polynomial in normalized time t=(et-Base)/Scale for each of three axes.
// For positions the axes are body-fixed X, Y, Z in kilometers, for pointing they
// are right ascension, declination and twist in radians
type Polynomial struct {
	Coefs [3][]float64
	Base  float64 // time base, ephemeris seconds
	Scale float64 // time scale, seconds
}

// Creates a zero polynomial of the given degree
func NewPolynomial(degree int, base, scale float64) *Polynomial {
	if scale == 0 {
		scale = 1
	}
	p := &Polynomial{Base: base, Scale: scale}
	for a := range p.Coefs {
		p.Coefs[a] = make([]float64, degree+1)
	}
	return p
}

// Creates a constant polynomial
func NewConstant(v [3]float64, base float64) *Polynomial {
	p := NewPolynomial(0, base, 1)
	for a := range v {
		p.Coefs[a][0] = v[a]
	}
	return p
}

func (p *Polynomial) Degree() int { return len(p.Coefs[0]) - 1 }

// Normalized time for the given ephemeris time
func (p *Polynomial) Time(et float64) float64 { return (et - p.Base) / p.Scale }

// Returns t^k, which is the partial derivative of each axis value with respect to coefficient k
func (p *Polynomial) Term(et float64, k int) float64 {
	if k == 0 {
		return 1
	}
	return math.Pow(p.Time(et), float64(k))
}

// Evaluates all three axes at the given ephemeris time
func (p *Polynomial) Eval(et float64) (res [3]float64) {
	t := p.Time(et)
	for a := range p.Coefs {
		v := 0.0
		for k := len(p.Coefs[a]) - 1; k >= 0; k-- { // Horner
			v = v*t + p.Coefs[a][k]
		}
		res[a] = v
	}
	return res
}

// Evaluates the first derivative with respect to ephemeris time
func (p *Polynomial) Rate(et float64) (res [3]float64) {
	t := p.Time(et)
	for a := range p.Coefs {
		v := 0.0
		for k := len(p.Coefs[a]) - 1; k >= 1; k-- {
			v = v*t + float64(k)*p.Coefs[a][k]
		}
		res[a] = v / p.Scale
	}
	return res
}

// Changes the degree, keeping existing coefficients and padding with zeros
func (p *Polynomial) SetDegree(degree int) {
	for a := range p.Coefs {
		c := make([]float64, degree+1)
		copy(c, p.Coefs[a])
		p.Coefs[a] = c
	}
}

func (p *Polynomial) Coefficients(axis int) []float64 {
	return append([]float64(nil), p.Coefs[axis]...)
}

func (p *Polynomial) SetCoefficients(axis int, c []float64) error {
	if len(c) != len(p.Coefs[axis]) {
		return errs.New(errs.Input, "expected %d coefficients, got %d", len(p.Coefs[axis]), len(c))
	}
	copy(p.Coefs[axis], c)
	return nil
}

// Adds a correction to coefficient k of the given axis
func (p *Polynomial) Add(axis, k int, delta float64) {
	p.Coefs[axis][k] += delta
}

func (p *Polynomial) Clone() *Polynomial {
	c := &Polynomial{Base: p.Base, Scale: p.Scale}
	for a := range p.Coefs {
		c.Coefs[a] = append([]float64(nil), p.Coefs[a]...)
	}
	return c
}

// Returns true if both polynomials have bit-identical coefficients and time base
func (p *Polynomial) Equal(o *Polynomial) bool {
	if p.Base != o.Base || p.Scale != o.Scale {
		return false
	}
	for a := range p.Coefs {
		if len(p.Coefs[a]) != len(o.Coefs[a]) {
			return false
		}
		for k := range p.Coefs[a] {
			if math.Float64bits(p.Coefs[a][k]) != math.Float64bits(o.Coefs[a][k]) {
				return false
			}
		}
	}
	return true
}
