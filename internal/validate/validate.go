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

// Package validate decides whether a control measure or an image pixel meets
// configurable photometric, radiometric, edge and residual criteria.
//
// Validators are pure predicates over their inputs. They never modify the
// measure or the cube; evaluating a measure moves the camera state to the
// measure's image coordinate.
package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/cube"
)

// Kind of validation failure
type Kind int

const (
	EmissionAngle Kind = iota
	IncidenceAngle
	PhaseAngle
	DNValue
	Resolution
	PixelsFromEdge
	MetersFromEdge
	ResidualMagnitude
	SampleResidual
	LineResidual
	PixelShift
	SampleShift
	LineShift
	NoIntersection
)

var kindNames = []string{
	"Emission Angle", "Incidence Angle", "Phase Angle", "DN Value", "Resolution",
	"Pixels From Edge", "Meters From Edge", "Residual Magnitude", "Sample Residual",
	"Line Residual", "Pixel Shift", "Sample Shift", "Line Shift", "no surface intersection",
}

func (k Kind) String() string { return kindNames[k] }

// A single failed criterion
type Failure struct {
	Kind  Kind
	Value float64
	Msg   string
}

func (f Failure) String() string { return f.Msg }

// Quantities observed while validating
type Values struct {
	Geometry   bool // the camera intersected the target
	Emission   float64
	Incidence  float64
	Phase      float64
	Resolution float64
	DN         float64
	ValidDN    bool
}

// Outcome of a validation
type Results struct {
	Values   Values
	Failures []Failure
}

func (r Results) Valid() bool { return len(r.Failures) == 0 }

// Reports whether the given criterion failed
func (r Results) Has(k Kind) bool {
	for _, f := range r.Failures {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// Joined failure messages, empty if valid
func (r Results) String() string {
	msgs := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		msgs[i] = f.Msg
	}
	return strings.Join(msgs, ", ")
}

func (r *Results) fail(k Kind, v float64, format string, args ...interface{}) {
	r.Failures = append(r.Failures, Failure{Kind: k, Value: v, Msg: k.String() + " " + fmt.Sprintf(format, args...)})
}

type Validator struct {
	Options
}

// Creates a validator after checking the options
func New(o Options) (*Validator, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.CameraRequired = o.CameraRequired || o.needsCamera()
	o.ValidateDN = o.ValidateDN || o.needsDN()
	return &Validator{o}, nil
}

// Reports whether any photometric or resolution bound differs from its default
func (o Options) needsCamera() bool {
	d := DefaultOptions()
	return o.MinEmission != d.MinEmission || o.MaxEmission != d.MaxEmission ||
		o.MinIncidence != d.MinIncidence || o.MaxIncidence != d.MaxIncidence ||
		o.MinPhase != d.MinPhase || o.MaxPhase != d.MaxPhase ||
		o.MinResolution != d.MinResolution || o.MaxResolution != d.MaxResolution
}

func (o Options) needsDN() bool {
	d := DefaultOptions()
	return o.MinDN != d.MinDN || o.MaxDN != d.MaxDN
}

// Validates a measure against its cube and camera. The cube is only
// consulted when DN criteria are set, the camera only when geometric or
// edge criteria are set
func (v *Validator) ValidMeasure(m *cnet.Measure, c *cube.Cube, cam camera.Camera) Results {
	r := v.ValidPixel(m.Sample, m.Line, c, cam)

	if v.ResidualMagnitude < math.Inf(1) {
		if mag := math.Hypot(m.SampleResidual, m.LineResidual); mag > v.ResidualMagnitude {
			r.fail(ResidualMagnitude, mag, "%g is greater than tolerance %g", mag, v.ResidualMagnitude)
		}
	}
	if sr := math.Abs(m.SampleResidual); sr > v.SampleResidual {
		r.fail(SampleResidual, sr, "%g is greater than tolerance %g", sr, v.SampleResidual)
	}
	if lr := math.Abs(m.LineResidual); lr > v.LineResidual {
		r.fail(LineResidual, lr, "%g is greater than tolerance %g", lr, v.LineResidual)
	}

	var ss, ls float64
	if m.AprioriSample != 0 || m.AprioriLine != 0 {
		ss, ls = m.Sample-m.AprioriSample, m.Line-m.AprioriLine
	}
	if ps := math.Hypot(ss, ls); ps > v.PixelShift {
		r.fail(PixelShift, ps, "%g is greater than tolerance %g", ps, v.PixelShift)
	}
	if a := math.Abs(ss); a > v.SampleShift {
		r.fail(SampleShift, a, "%g is greater than tolerance %g", a, v.SampleShift)
	}
	if a := math.Abs(ls); a > v.LineShift {
		r.fail(LineShift, a, "%g is greater than tolerance %g", a, v.LineShift)
	}
	return r
}

// Validates an image coordinate with photometric, DN and edge criteria
func (v *Validator) ValidPixel(sample, line float64, c *cube.Cube, cam camera.Camera) Results {
	var r Results

	if cam != nil {
		if err := cam.SetImage(sample, line); err == nil {
			if a, err := cam.Angles(); err == nil {
				r.Values.Geometry = true
				r.Values.Emission, r.Values.Incidence = a.Emission, a.Incidence
				r.Values.Phase, r.Values.Resolution = a.Phase, a.Resolution
			}
		}
	}
	if v.CameraRequired {
		if !r.Values.Geometry {
			r.fail(NoIntersection, math.NaN(), "at sample %g line %g", sample, line)
		} else {
			v.checkRange(&r, EmissionAngle, r.Values.Emission, v.MinEmission, v.MaxEmission)
			v.checkRange(&r, IncidenceAngle, r.Values.Incidence, v.MinIncidence, v.MaxIncidence)
			v.checkRange(&r, PhaseAngle, r.Values.Phase, v.MinPhase, v.MaxPhase)
			v.checkRange(&r, Resolution, r.Values.Resolution, v.MinResolution, v.MaxResolution)
		}
	}

	if c != nil {
		r.Values.DN, r.Values.ValidDN = c.DN(sample, line, 1)
	}
	if v.ValidateDN {
		if !r.Values.ValidDN {
			r.fail(DNValue, math.NaN(), "is a special pixel")
		} else {
			v.checkRange(&r, DNValue, r.Values.DN, v.MinDN, v.MaxDN)
		}
	}

	if v.PixelsFromEdge > 0 {
		ns, nl := dims(c, cam)
		s, l := int(sample), int(line)
		px := v.PixelsFromEdge
		if ns-s < px || s-px <= 0 || nl-l < px || l-px <= 0 {
			r.fail(PixelsFromEdge, float64(px), "closer than %d pixels", px)
		}
	}
	if v.MetersFromEdge > 0 && !v.metersFromEdge(sample, line, c, cam) {
		r.fail(MetersFromEdge, v.MetersFromEdge, "closer than %g meters", v.MetersFromEdge)
	}
	return r
}

func (v *Validator) checkRange(r *Results, k Kind, val, min, max float64) {
	if val < min || val > max {
		r.fail(k, val, "%g is not in range [%g, %g]", val, min, max)
	}
}

func dims(c *cube.Cube, cam camera.Camera) (int, int) {
	if c != nil {
		return c.Samples, c.Lines
	}
	if cam != nil {
		return cam.Samples(), cam.Lines()
	}
	return 0, 0
}

// Walks from the pixel towards each image edge, accumulating the local
// resolution until the threshold is reached. Fails if any edge is closer
func (v *Validator) metersFromEdge(sample, line float64, c *cube.Cube, cam camera.Camera) bool {
	if cam == nil {
		return false
	}
	ns, nl := dims(c, cam)
	s0, l0 := int(sample), int(line)
	dirs := [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}}
	for _, d := range dirs {
		dist := 0.0
		s, l := s0, l0
		for dist < v.MetersFromEdge {
			s, l = s+d[0], l+d[1]
			if s < 1 || s > ns || l < 1 || l > nl {
				return false
			}
			if err := cam.SetImage(float64(s), float64(l)); err != nil {
				return false
			}
			a, err := cam.Angles()
			if err != nil {
				return false
			}
			dist += a.Resolution
		}
	}
	return true
}
