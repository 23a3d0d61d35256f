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
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

var testTarget = Target{Name: "MOON", Radius: 1737.4, Sun: r3.Vector{X: 1.4e8, Y: 3e7, Z: 1e6}}

func testDetector() Detector {
	return Detector{
		Samples:         1024,
		Lines:           1024,
		FocalLength:     500,
		PixelPitch:      0.01,
		BoresightSample: 512.5,
		BoresightLine:   512.5,
	}
}

// Nadir looking framing camera 100km above lat=0, lon=0
func testFraming() *Framing {
	pos := spice.NewConstant([3]float64{1837.4, 0, 0}, 0)
	pnt := spice.NewConstant([3]float64{math.Pi, 0, 0.1}, 0)
	return NewFraming(FramingID, testDetector(), testTarget, 0, pos, pnt)
}

// Push-broom camera moving north at 1.6 km/s with linear pointing drift
func testLineScan() *LineScan {
	pos := spice.NewPolynomial(1, 0, 1)
	pos.Coefs[X] = []float64{1837.4, 0}
	pos.Coefs[Z] = []float64{-1, 1.6}
	pnt := spice.NewPolynomial(1, 0, 1)
	pnt.Coefs[RA] = []float64{math.Pi, 1e-5}
	pnt.Coefs[Twist] = []float64{0.05, 0}
	det := testDetector()
	det.Lines = 1000
	det.BoresightLine = 0
	return NewLineScan(PushbroomID, det, testTarget, 0, 0.00125, pos, pnt)
}

func TestFramingBoresightHitsSubSpacecraftPoint(t *testing.T) {
	c := testFraming()
	require.NoError(t, c.SetImage(512.5, 512.5))
	g, ok := c.Ground()
	require.True(t, ok)
	assert.InDelta(t, 0, g.Lat, 1e-9)
	assert.InDelta(t, 0, geom.WrapLon180(g.Lon), 1e-9)
	assert.InDelta(t, 1737400, g.Radius, 1e-6)

	a, err := c.Angles()
	require.NoError(t, err)
	assert.InDelta(t, 0, a.Emission, 1e-9)
	assert.InDelta(t, 2.0, a.Resolution, 1e-9)
}

func TestFramingRoundTrip(t *testing.T) {
	for _, dist := range []Distortion{{}, {K1: 1e-6, P1: 2e-6, P2: -1e-6}} {
		c := testFraming()
		c.det.Distortion = dist
		for _, px := range [][2]float64{{1, 1}, {100.25, 900.75}, {512.5, 512.5}, {1024, 3}} {
			require.NoError(t, c.SetImage(px[0], px[1]))
			g, ok := c.Ground()
			require.True(t, ok)
			s, l, err := c.SetGround(g, false)
			require.NoError(t, err)
			assert.InDelta(t, px[0], s, 1e-6)
			assert.InDelta(t, px[1], l, 1e-6)
		}
	}
}

func TestFramingOffDetector(t *testing.T) {
	c := testFraming()
	_, _, err := c.SetGround(geom.Ground{Lat: 1, Lon: 0, Radius: 1737400}, false)
	assert.True(t, errs.Is(err, errs.Geometry))

	// far side of the body
	_, _, err = c.SetGround(geom.Ground{Lat: 0, Lon: 180, Radius: 1737400}, false)
	assert.True(t, errs.Is(err, errs.Geometry))
}

func TestSetImageMissesTarget(t *testing.T) {
	pos := spice.NewConstant([3]float64{1837.4, 0, 0}, 0)
	pnt := spice.NewConstant([3]float64{0, 0, 0}, 0) // looking away
	c := NewFraming(FramingID, testDetector(), testTarget, 0, pos, pnt)
	err := c.SetImage(10, 10)
	assert.True(t, errs.Is(err, errs.Geometry))
	_, ok := c.Ground()
	assert.False(t, ok)
	assert.InDelta(t, 1, c.LookDirection().Norm(), 1e-12)
}

func TestLineScanRoundTrip(t *testing.T) {
	c := testLineScan()
	for _, px := range [][2]float64{{1, 1}, {300.5, 20.25}, {512.5, 500}, {1000, 999.5}} {
		require.NoError(t, c.SetImage(px[0], px[1]))
		g, ok := c.Ground()
		require.True(t, ok)

		s, l, err := c.Clone().SetGround(g, false)
		require.NoError(t, err)
		assert.InDelta(t, px[0], s, 1e-5)
		assert.InDelta(t, px[1], l, 1e-5)

		s, l, err = c.SetGround(g, true)
		require.NoError(t, err)
		assert.InDelta(t, px[0], s, 1e-6)
		assert.InDelta(t, px[1], l, 1e-6)
	}
}

// Checks analytic partials against central differences of ProjectFocal
func checkPartials(t *testing.T, c Camera, g geom.Ground) {
	const h = 1e-6
	fd := func(perturb func(sign float64)) (float64, float64) {
		perturb(1)
		x1, y1, err := c.ProjectFocal(g)
		require.NoError(t, err)
		perturb(-2)
		x0, y0, err := c.ProjectFocal(g)
		require.NoError(t, err)
		perturb(1)
		return (x1 - x0) / (2 * h), (y1 - y0) / (2 * h)
	}
	scale := func(v float64) float64 { return 1e-5 * math.Max(1, math.Abs(v)) }

	for axis := X; axis <= Z; axis++ {
		for k := 0; k <= c.Position().Degree(); k++ {
			dx, dy, err := c.PositionPartial(g, axis, k)
			require.NoError(t, err)
			ex, ey := fd(func(s float64) { c.Position().Add(axis, k, s*h) })
			assert.InDelta(t, ex, dx, scale(ex), "position axis %d coef %d", axis, k)
			assert.InDelta(t, ey, dy, scale(ey), "position axis %d coef %d", axis, k)
		}
	}
	for axis := RA; axis <= Twist; axis++ {
		for k := 0; k <= c.Pointing().Degree(); k++ {
			dx, dy, err := c.OrientationPartial(g, axis, k)
			require.NoError(t, err)
			ex, ey := fd(func(s float64) { c.Pointing().Add(axis, k, s*h) })
			assert.InDelta(t, ex, dx, scale(ex), "pointing axis %d coef %d", axis, k)
			assert.InDelta(t, ey, dy, scale(ey), "pointing axis %d coef %d", axis, k)
		}
	}

	orig := g
	perturbs := []func(s float64){
		func(s float64) { g.Lat += geom.Degrees(s * h) },
		func(s float64) { g.Lon += geom.Degrees(s * h) },
		func(s float64) { g.Radius += geom.Meters(s * h) },
	}
	for axis := Lat; axis <= Radius; axis++ {
		dx, dy, err := c.PointPartial(orig, axis)
		require.NoError(t, err)
		ex, ey := fd(perturbs[axis])
		assert.InDelta(t, ex, dx, scale(ex), "point axis %d", axis)
		assert.InDelta(t, ey, dy, scale(ey), "point axis %d", axis)
		g = orig
	}
}

func TestFramingPartials(t *testing.T) {
	c := testFraming()
	require.NoError(t, c.SetImage(200, 800))
	g, _ := c.Ground()
	checkPartials(t, c, g)
}

func TestLineScanPartials(t *testing.T) {
	c := testLineScan()
	c.SetPolynomialDegree(2, 2)
	require.NoError(t, c.SetImage(700, 600))
	g, _ := c.Ground()
	checkPartials(t, c, g)
}

func TestPartialRejectsBadCoefficient(t *testing.T) {
	c := testFraming()
	require.NoError(t, c.SetImage(10, 10))
	g, _ := c.Ground()
	_, _, err := c.PositionPartial(g, X, 1)
	assert.True(t, errs.Is(err, errs.Input))
	_, _, err = c.OrientationPartial(g, 5, 0)
	assert.True(t, errs.Is(err, errs.Input))
}

func TestCloneIsIndependent(t *testing.T) {
	c := testFraming()
	d := c.Clone()
	d.Position().Add(X, 0, 10)
	assert.False(t, c.Position().Equal(d.Position()))
	assert.InDelta(t, 1837.4, c.Position().Coefs[X][0], 1e-12)
}

func TestDistortionInverse(t *testing.T) {
	d, err := NewDistortion([]float64{2e-5, -1e-8, 0, 3e-6, -2e-6})
	require.NoError(t, err)
	for _, p := range [][2]float64{{0, 0}, {1, 2}, {-4.5, 3.25}, {5, -5}} {
		xd, yd := d.Distort(p[0], p[1])
		xu, yu := d.Undistort(xd, yd)
		assert.InDelta(t, p[0], xu, 1e-9)
		assert.InDelta(t, p[1], yu, 1e-9)
	}
	_, err = NewDistortion(make([]float64, 6))
	assert.Error(t, err)
}

func labelFor(t *testing.T, c Camera) *pvl.Document {
	doc := pvl.NewDocument()
	cube := doc.AddObject(pvl.NewObject("IsisCube"))
	core := cube.AddObject(pvl.NewObject("Core"))
	dims := core.AddGroup(pvl.NewGroup("Dimensions"))
	dims.AddInt("Samples", c.Samples())
	dims.AddInt("Lines", c.Lines())
	dims.AddInt("Bands", 1)
	require.NoError(t, WriteLabel(c, cube))
	back, err := pvl.ParseString(doc.String())
	require.NoError(t, err)
	return back
}

func TestLabelRoundTrip(t *testing.T) {
	for _, c := range []Camera{testFraming(), testLineScan()} {
		back, err := FromLabel(labelFor(t, c))
		require.NoError(t, err)
		assert.Equal(t, c.InstrumentID(), back.InstrumentID())
		assert.True(t, c.Position().Equal(back.Position()))
		assert.InDelta(t, c.Pointing().Coefs[RA][0], back.Pointing().Coefs[RA][0], 1e-12)

		require.NoError(t, c.SetImage(123.5, 456.5))
		require.NoError(t, back.SetImage(123.5, 456.5))
		g1, _ := c.Ground()
		g2, _ := back.Ground()
		assert.InDelta(t, g1.Lat, g2.Lat, 1e-9)
		assert.InDelta(t, g1.Lon, g2.Lon, 1e-9)
	}
}

func TestLabelWithTables(t *testing.T) {
	label := `Object = IsisCube
  Object = Core
    Group = Dimensions
      Samples = 1024
      Lines   = 1024
      Bands   = 1
    End_Group
  End_Object
  Group = Instrument
    InstrumentId     = Framing
    TargetName       = Moon
    StartTime        = 2009-07-01T12:00:00.000
    ExposureDuration = 0.002 <seconds>
  End_Group
  Group = Kernels
    FocalLength     = 500 <mm>
    PixelPitch      = 0.01 <mm>
    TargetRadius    = 1737.4 <km>
    SunPosition     = (1.4e8, 3e7, 1e6) <km>
    PositionDegree  = 0
    PointingDegree  = 0
  End_Group
  Object = Table
    Name   = InstrumentPosition
    Record = (300000000, 1837.4, 0, 0)
  End_Object
  Object = Table
    Name   = InstrumentPointing
    Record = (300000000, 180, 0, 0)
  End_Object
End_Object
End
`
	doc, err := pvl.ParseString(label)
	require.NoError(t, err)
	c, err := FromLabel(doc)
	require.NoError(t, err)
	require.NoError(t, c.SetImage(512.5, 512.5))
	g, ok := c.Ground()
	require.True(t, ok)
	assert.InDelta(t, 0, g.Lat, 1e-9)
	assert.InDelta(t, 0, geom.WrapLon180(g.Lon), 1e-9)
}

func TestUnsupportedInstrument(t *testing.T) {
	doc, err := pvl.ParseString("Group = Instrument\n  InstrumentId = HIRISE\nEnd_Group\nEnd\n")
	require.NoError(t, err)
	_, err = FromLabel(doc)
	assert.True(t, errs.Is(err, errs.Unsupported))
	assert.Equal(t, 5, errs.ExitCode(err))
}

func TestRegisterTwicePanics(t *testing.T) {
	assert.Panics(t, func() { Register("framing", newFramingFromLabel) })
}
