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
	"math"

	"github.com/golang/geo/r3"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

// Intrinsic detector parameters
type Detector struct {
	Samples         int
	Lines           int
	FocalLength     float64 // mm
	PixelPitch      float64 // mm
	BoresightSample float64 // one-based pixel
	BoresightLine   float64 // one-based pixel, framing only
	Distortion      Distortion
}

// A spherical target body with a fixed sun direction
type Target struct {
	Name   string
	Radius float64   // km
	Sun    r3.Vector // body-fixed sun position, km
}

// Geometry shared by the framing and line scan models
type model struct {
	id       string
	det      Detector
	target   Target
	position *spice.Polynomial // body-fixed km
	pointing *spice.Polynomial // ra, dec, twist in radians
	start    float64           // ephemeris time of exposure (framing) or of line 0.5 (line scan)

	et        float64
	look      r3.Vector
	ground    geom.Ground
	hasGround bool
	fx, fy    float64
}

func (m *model) InstrumentID() string       { return m.id }
func (m *model) Samples() int               { return m.det.Samples }
func (m *model) Lines() int                 { return m.det.Lines }
func (m *model) PixelPitch() float64        { return m.det.PixelPitch }
func (m *model) Time() float64              { return m.et }
func (m *model) LookDirection() r3.Vector   { return m.look }
func (m *model) FocalPlane() (x, y float64) { return m.fx, m.fy }
func (m *model) Ground() (geom.Ground, bool) {
	return m.ground, m.hasGround
}

func (m *model) Position() *spice.Polynomial     { return m.position }
func (m *model) Pointing() *spice.Polynomial     { return m.pointing }
func (m *model) SetPosition(p *spice.Polynomial) { m.position = p }
func (m *model) SetPointing(p *spice.Polynomial) { m.pointing = p }

func (m *model) SetPolynomialDegree(ckDegree, spkDegree int) {
	m.pointing.SetDegree(ckDegree)
	m.position.SetDegree(spkDegree)
}

func (m *model) cloneModel() model {
	c := *m
	c.position = m.position.Clone()
	c.pointing = m.pointing.Clone()
	return c
}

func (m *model) rotation(et float64) spice.Mat3 {
	a := m.pointing.Eval(et)
	return spice.EulerMatrix(a[0], a[1], a[2])
}

func (m *model) spacecraft(et float64) r3.Vector {
	p := m.position.Eval(et)
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// Converts a pixel offset from the boresight into distorted focal plane mm
func (m *model) pixelToFocal(dSample, dLine float64) (xd, yd float64) {
	return dSample * m.det.PixelPitch, dLine * m.det.PixelPitch
}

// Sets time, look direction and ground intersection from distorted focal plane coordinates
func (m *model) setFocal(et, xd, yd float64) error {
	m.et = et
	m.fx, m.fy = m.det.Distortion.Undistort(xd, yd)
	r := m.rotation(et)
	lookCam := r3.Vector{X: m.fx, Y: m.fy, Z: m.det.FocalLength}.Normalize()
	m.look = r.Transpose().Apply(lookCam)

	p := m.spacecraft(et)
	hit, ok := m.intersect(p, m.look)
	m.hasGround = ok
	if !ok {
		return errs.New(errs.Geometry, "no surface intersection")
	}
	m.ground = geom.FromVector(hit)
	return nil
}

// Intersects the ray p + t*d, t>0 with the target sphere. d must be a unit vector
func (m *model) intersect(p, d r3.Vector) (r3.Vector, bool) {
	b := p.Dot(d)
	c := p.Dot(p) - m.target.Radius*m.target.Radius
	disc := b*b - c
	if disc < 0 {
		return r3.Vector{}, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t <= 0 {
		t = -b + sq
	}
	if t <= 0 {
		return r3.Vector{}, false
	}
	return p.Add(d.Mul(t)), true
}

// Camera frame vector from the instrument to the ground point at time et
func (m *model) cameraVector(g r3.Vector, et float64) r3.Vector {
	return m.rotation(et).Apply(g.Sub(m.spacecraft(et)))
}

func (m *model) projectAt(g geom.Ground, et float64) (x, y float64, err error) {
	vc := m.cameraVector(g.Vector(), et)
	if vc.Z <= 0 {
		return 0, 0, errs.New(errs.Geometry, "ground point behind the camera")
	}
	f := m.det.FocalLength
	return f * vc.X / vc.Z, f * vc.Y / vc.Z, nil
}

func (m *model) ProjectFocal(g geom.Ground) (x, y float64, err error) {
	return m.projectAt(g, m.et)
}

// Reports whether the ground point faces the instrument at time et
func (m *model) visible(g geom.Ground, et float64) bool {
	gv := g.Vector()
	return m.spacecraft(et).Sub(gv).Dot(gv) > 0
}

// Sets the state to the given ground point and undistorted focal plane coordinates
func (m *model) setGroundState(g geom.Ground, et, xu, yu float64) {
	m.et = et
	m.fx, m.fy = xu, yu
	m.ground = g
	m.hasGround = true
	m.look = g.Vector().Sub(m.spacecraft(et)).Normalize()
}

func (m *model) inBounds(sample, line float64) bool {
	return sample >= 0.5 && sample <= float64(m.det.Samples)+0.5 &&
		line >= 0.5 && line <= float64(m.det.Lines)+0.5
}

func (m *model) Angles() (geom.Angles, error) {
	if !m.hasGround {
		return geom.Angles{}, errs.New(errs.Geometry, "no surface intersection")
	}
	g := m.ground.Vector()
	normal := g.Normalize()
	toSC := m.spacecraft(m.et).Sub(g)
	toSun := m.target.Sun.Sub(g)
	a := geom.Angles{
		Emission:   geom.AngleBetween(normal, toSC),
		Incidence:  geom.AngleBetween(normal, toSun),
		Phase:      geom.AngleBetween(toSC, toSun),
		Resolution: geom.Meters(toSC.Norm()) * m.det.PixelPitch / m.det.FocalLength,
	}
	return a, nil
}

// Derivative of undistorted focal plane coordinates for a camera frame vector
// vc and its derivative dvc
func (m *model) focalDerivative(vc, dvc r3.Vector) (dx, dy float64) {
	f := m.det.FocalLength
	z2 := vc.Z * vc.Z
	dx = f * (dvc.X*vc.Z - vc.X*dvc.Z) / z2
	dy = f * (dvc.Y*vc.Z - vc.Y*dvc.Z) / z2
	return dx, dy
}

func (m *model) PositionPartial(g geom.Ground, axis, coef int) (dx, dy float64, err error) {
	if axis < X || axis > Z || coef < 0 || coef > m.position.Degree() {
		return 0, 0, errs.New(errs.Input, "invalid position partial axis %d coefficient %d", axis, coef)
	}
	r := m.rotation(m.et)
	vc := r.Apply(g.Vector().Sub(m.spacecraft(m.et)))
	var e r3.Vector
	switch axis {
	case X:
		e.X = 1
	case Y:
		e.Y = 1
	default:
		e.Z = 1
	}
	dvc := r.Apply(e).Mul(-m.position.Term(m.et, coef))
	dx, dy = m.focalDerivative(vc, dvc)
	return dx, dy, nil
}

func (m *model) OrientationPartial(g geom.Ground, axis, coef int) (dx, dy float64, err error) {
	if axis < RA || axis > Twist || coef < 0 || coef > m.pointing.Degree() {
		return 0, 0, errs.New(errs.Input, "invalid pointing partial axis %d coefficient %d", axis, coef)
	}
	a := m.pointing.Eval(m.et)
	rel := g.Vector().Sub(m.spacecraft(m.et))
	vc := spice.EulerMatrix(a[0], a[1], a[2]).Apply(rel)
	dRa, dDec, dTwist := spice.EulerPartials(a[0], a[1], a[2])
	d := [3]spice.Mat3{dRa, dDec, dTwist}[axis]
	dvc := d.Apply(rel).Mul(m.pointing.Term(m.et, coef))
	dx, dy = m.focalDerivative(vc, dvc)
	return dx, dy, nil
}

func (m *model) PointPartial(g geom.Ground, axis int) (dx, dy float64, err error) {
	if axis < Lat || axis > Radius {
		return 0, 0, errs.New(errs.Input, "invalid point partial axis %d", axis)
	}
	r := m.rotation(m.et)
	vc := r.Apply(g.Vector().Sub(m.spacecraft(m.et)))
	dLat, dLon, dRad := g.Partials()
	dg := [3]r3.Vector{dLat, dLon, dRad}[axis]
	dx, dy = m.focalDerivative(vc, r.Apply(dg))
	return dx, dy, nil
}
