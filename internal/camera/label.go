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
	"strings"

	"github.com/golang/geo/r3"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

const (
	FramingID   = "FRAMING"
	PushbroomID = "PUSHBROOM"
)

func init() {
	Register(FramingID, newFramingFromLabel)
	Register(PushbroomID, newLineScanFromLabel)
}

// Label content shared by both built-in models
type labelInfo struct {
	id       string
	det      Detector
	target   Target
	start    float64
	position *spice.Polynomial
	pointing *spice.Polynomial
	inst     *pvl.Group
}

func newFramingFromLabel(label *pvl.Document) (Camera, error) {
	li, err := readLabel(label)
	if err != nil {
		return nil, err
	}
	exposure, err := li.inst.FloatOr("ExposureDuration", 0)
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "framing camera")
	}
	return NewFraming(li.id, li.det, li.target, li.start+exposure/2, li.position, li.pointing), nil
}

func newLineScanFromLabel(label *pvl.Document) (Camera, error) {
	li, err := readLabel(label)
	if err != nil {
		return nil, err
	}
	rate, err := li.inst.Float("LineExposureDuration")
	if err != nil || rate <= 0 {
		return nil, errs.New(errs.Input, "pushbroom camera needs a positive LineExposureDuration")
	}
	return NewLineScan(li.id, li.det, li.target, li.start, rate, li.position, li.pointing), nil
}

func readLabel(label *pvl.Document) (*labelInfo, error) {
	li := &labelInfo{}
	li.inst = label.FindGroupDeep("Instrument")
	kern := label.FindGroupDeep("Kernels")
	dims := label.FindGroupDeep("Dimensions")
	if li.inst == nil || kern == nil || dims == nil {
		return nil, errs.New(errs.Input, "label needs Instrument, Kernels and Dimensions groups")
	}
	wrap := func(err error) error { return errs.Wrap(errs.Input, err, "reading camera label") }

	li.id = li.inst.StringOr("InstrumentId", "")
	var err error
	if li.det.Samples, err = dims.Int("Samples"); err != nil {
		return nil, wrap(err)
	}
	if li.det.Lines, err = dims.Int("Lines"); err != nil {
		return nil, wrap(err)
	}
	if li.det.FocalLength, err = kern.Float("FocalLength"); err != nil {
		return nil, wrap(err)
	}
	if li.det.PixelPitch, err = kern.Float("PixelPitch"); err != nil {
		return nil, wrap(err)
	}
	if li.det.FocalLength <= 0 || li.det.PixelPitch <= 0 {
		return nil, errs.New(errs.Input, "focal length and pixel pitch must be positive")
	}
	if li.det.BoresightSample, err = kern.FloatOr("BoresightSample", float64(li.det.Samples)/2+0.5); err != nil {
		return nil, wrap(err)
	}
	if li.det.BoresightLine, err = kern.FloatOr("BoresightLine", float64(li.det.Lines)/2+0.5); err != nil {
		return nil, wrap(err)
	}
	if kern.Has("Distortion") {
		coefs, err := kern.Floats("Distortion")
		if err != nil {
			return nil, wrap(err)
		}
		if li.det.Distortion, err = NewDistortion(coefs); err != nil {
			return nil, wrap(err)
		}
	}

	li.target.Name = li.inst.StringOr("TargetName", "")
	if li.target.Radius, err = kern.Float("TargetRadius"); err != nil {
		return nil, wrap(err)
	}
	if kern.Has("SunPosition") {
		sun, err := kern.Floats("SunPosition")
		if err != nil || len(sun) != 3 {
			return nil, errs.New(errs.Input, "SunPosition needs three values")
		}
		li.target.Sun = r3.Vector{X: sun[0], Y: sun[1], Z: sun[2]}
	}

	if li.inst.Has("EphemerisTime") {
		if li.start, err = li.inst.Float("EphemerisTime"); err != nil {
			return nil, wrap(err)
		}
	} else if li.inst.Has("StartTime") {
		t, err := spice.ParseUTC(li.inst.StringOr("StartTime", ""))
		if err != nil {
			return nil, wrap(err)
		}
		li.start = spice.UTCToET(t)
	} else {
		return nil, errs.New(errs.Input, "Instrument group needs StartTime or EphemerisTime")
	}

	method, err := spice.ParseVelocityMethod(kern.StringOr("VelocityMethod", ""))
	if err != nil {
		return nil, wrap(err)
	}
	spkDegree, err := kern.IntOr("PositionDegree", 0)
	if err != nil {
		return nil, wrap(err)
	}
	ckDegree, err := kern.IntOr("PointingDegree", 0)
	if err != nil {
		return nil, wrap(err)
	}
	if li.position, err = readState(label, kern, "InstrumentPosition", spkDegree, 1, method); err != nil {
		return nil, err
	}
	if li.pointing, err = readState(label, kern, "InstrumentPointing", ckDegree, geom.Radians(1), method); err != nil {
		return nil, err
	}
	return li, nil
}

// Reads a polynomial object, an inlined table, or a table referenced by a file
// name keyword in the Kernels group. Tables are fitted to the requested degree
func readState(label *pvl.Document, kern *pvl.Group, name string, degree int, unit float64, method spice.VelocityMethod) (*spice.Polynomial, error) {
	if o := findNamed(&label.Object, "Polynomial", name); o != nil {
		return polynomialFromPvl(o, unit)
	}
	tab := findNamed(&label.Object, "Table", name)
	if tab == nil && kern.Has(name) {
		doc, err := pvl.ReadFile(kern.StringOr(name, ""))
		if err != nil {
			return nil, errs.Wrap(errs.Resource, err, "reading kernel %s", name)
		}
		tab = findNamed(&doc.Object, "Table", name)
	}
	if tab == nil {
		return nil, errs.New(errs.Input, "label has no %s kernel", name)
	}
	t, err := spice.TableFromPvl(tab)
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading kernel %s", name)
	}
	p, err := t.Fit(degree, unit, true, method)
	if err != nil {
		return nil, errs.Wrap(errs.Numerical, err, "fitting kernel %s", name)
	}
	return p, nil
}

// Depth first search for an object of the given type whose Name keyword matches
func findNamed(o *pvl.Object, kind, name string) *pvl.Object {
	for _, c := range o.Objects {
		if strings.EqualFold(c.Name, kind) && strings.EqualFold(c.StringOr("Name", ""), name) {
			return c
		}
		if r := findNamed(c, kind, name); r != nil {
			return r
		}
	}
	return nil
}

var axisNames = [3]string{"Axis1", "Axis2", "Axis3"}

func polynomialFromPvl(o *pvl.Object, unit float64) (*spice.Polynomial, error) {
	base, err := o.FloatOr("Base", 0)
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "polynomial")
	}
	scale, err := o.FloatOr("Scale", 1)
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "polynomial")
	}
	var p *spice.Polynomial
	for a, key := range axisNames {
		c, err := o.Floats(key)
		if err != nil {
			return nil, errs.Wrap(errs.Input, err, "polynomial")
		}
		if p == nil {
			p = spice.NewPolynomial(len(c)-1, base, scale)
		}
		for k := range c {
			c[k] *= unit
		}
		if err := p.SetCoefficients(a, c); err != nil {
			return nil, errs.Wrap(errs.Input, err, "polynomial axis %s", key)
		}
	}
	return p, nil
}

func polynomialToPvl(name string, p *spice.Polynomial, unit float64) *pvl.Object {
	o := pvl.NewObject("Polynomial")
	o.Add("Name", name)
	o.AddFloat("Base", p.Base)
	o.AddFloat("Scale", p.Scale)
	for a, key := range axisNames {
		c := p.Coefficients(a)
		for k := range c {
			c[k] /= unit
		}
		o.AddFloats(key, c)
	}
	return o
}

// Writes the Instrument and Kernels groups and the state polynomials of a built-in
// camera into a cube label object. The Dimensions group is written by the cube
func WriteLabel(c Camera, cube *pvl.Object) error {
	var m *model
	inst := pvl.NewGroup("Instrument")
	switch t := c.(type) {
	case *Framing:
		m = &t.model
		inst.Add("InstrumentId", FramingID)
		inst.AddFloat("EphemerisTime", m.start)
		inst.AddFloat("ExposureDuration", 0)
	case *LineScan:
		m = &t.model
		inst.Add("InstrumentId", PushbroomID)
		inst.AddFloat("EphemerisTime", m.start)
		inst.AddFloat("LineExposureDuration", t.lineRate)
	default:
		return errs.New(errs.Unsupported, "cannot write label for instrument %s", c.InstrumentID())
	}
	if m.target.Name != "" {
		inst.Add("TargetName", m.target.Name)
	}
	cube.AddGroup(inst)

	kern := pvl.NewGroup("Kernels")
	kern.AddFloat("FocalLength", m.det.FocalLength).Unit = "mm"
	kern.AddFloat("PixelPitch", m.det.PixelPitch).Unit = "mm"
	kern.AddFloat("BoresightSample", m.det.BoresightSample)
	kern.AddFloat("BoresightLine", m.det.BoresightLine)
	if !m.det.Distortion.IsZero() {
		kern.AddFloats("Distortion", m.det.Distortion.Coefficients())
	}
	kern.AddFloat("TargetRadius", m.target.Radius).Unit = "km"
	kern.AddFloats("SunPosition", []float64{m.target.Sun.X, m.target.Sun.Y, m.target.Sun.Z}).Unit = "km"
	kern.AddInt("PositionDegree", m.position.Degree())
	kern.AddInt("PointingDegree", m.pointing.Degree())
	cube.AddGroup(kern)

	cube.AddObject(polynomialToPvl("InstrumentPosition", m.position, 1))
	cube.AddObject(polynomialToPvl("InstrumentPointing", m.pointing, geom.Radians(1)))
	return nil
}
