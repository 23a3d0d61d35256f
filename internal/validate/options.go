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

package validate

import (
	"math"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// Validity thresholds. Angles in degrees, resolution in meters per pixel,
// residuals and shifts in pixels
type Options struct {
	MinEmission, MaxEmission       float64
	MinIncidence, MaxIncidence     float64
	MinPhase, MaxPhase             float64
	MinDN, MaxDN                   float64
	MinResolution, MaxResolution   float64
	PixelsFromEdge                 int
	MetersFromEdge                 float64
	SampleResidual, LineResidual   float64
	ResidualMagnitude              float64
	SampleShift, LineShift         float64
	PixelShift                     float64

	// Derived from which keywords were given
	CameraRequired bool
	ValidateDN     bool
}

func DefaultOptions() Options {
	inf := math.Inf(1)
	return Options{
		MaxEmission:       135,
		MaxIncidence:      135,
		MaxPhase:          180,
		MinDN:             math.Inf(-1),
		MaxDN:             inf,
		MaxResolution:     inf,
		SampleResidual:    inf,
		LineResidual:      inf,
		ResidualMagnitude: inf,
		SampleShift:       inf,
		LineShift:         inf,
		PixelShift:        inf,
	}
}

var optionKeys = []string{
	"MinEmission", "MaxEmission", "MinIncidence", "MaxIncidence", "MinPhase", "MaxPhase",
	"MinDN", "MaxDN", "MinResolution", "MaxResolution", "PixelsFromEdge", "MetersFromEdge",
	"SampleResidual", "LineResidual", "ResidualMagnitude", "SampleShift", "LineShift", "PixelShift",
}

// Parses options from a ValidMeasure group. A nil group yields the defaults
func ParseOptions(g *pvl.Group) (Options, error) {
	o := DefaultOptions()
	if g == nil {
		return o, nil
	}
	if err := g.CheckKeys(optionKeys...); err != nil {
		return o, errs.Wrap(errs.Input, err, "ValidMeasure")
	}
	floats := []struct {
		key    string
		dst    *float64
		camera bool
		dn     bool
	}{
		{"MinEmission", &o.MinEmission, true, false},
		{"MaxEmission", &o.MaxEmission, true, false},
		{"MinIncidence", &o.MinIncidence, true, false},
		{"MaxIncidence", &o.MaxIncidence, true, false},
		{"MinPhase", &o.MinPhase, true, false},
		{"MaxPhase", &o.MaxPhase, true, false},
		{"MinResolution", &o.MinResolution, true, false},
		{"MaxResolution", &o.MaxResolution, true, false},
		{"MinDN", &o.MinDN, false, true},
		{"MaxDN", &o.MaxDN, false, true},
		{"MetersFromEdge", &o.MetersFromEdge, false, false},
		{"SampleResidual", &o.SampleResidual, false, false},
		{"LineResidual", &o.LineResidual, false, false},
		{"ResidualMagnitude", &o.ResidualMagnitude, false, false},
		{"SampleShift", &o.SampleShift, false, false},
		{"LineShift", &o.LineShift, false, false},
		{"PixelShift", &o.PixelShift, false, false},
	}
	for _, f := range floats {
		if !g.Has(f.key) {
			continue
		}
		v, err := g.Float(f.key)
		if err != nil {
			return o, errs.Wrap(errs.Input, err, "ValidMeasure")
		}
		*f.dst = v
		o.CameraRequired = o.CameraRequired || f.camera
		o.ValidateDN = o.ValidateDN || f.dn
	}
	if g.Has("PixelsFromEdge") {
		v, err := g.Int("PixelsFromEdge")
		if err != nil {
			return o, errs.Wrap(errs.Input, err, "ValidMeasure")
		}
		o.PixelsFromEdge = v
	}

	if g.Has("PixelsFromEdge") && g.Has("MetersFromEdge") {
		return o, errs.New(errs.Input, "ValidMeasure: cannot have both PixelsFromEdge and MetersFromEdge")
	}
	if (g.Has("SampleResidual") || g.Has("LineResidual")) && g.Has("ResidualMagnitude") {
		return o, errs.New(errs.Input, "ValidMeasure: cannot have both Sample/Line Residual and ResidualMagnitude")
	}
	if (g.Has("SampleShift") || g.Has("LineShift")) && g.Has("PixelShift") {
		return o, errs.New(errs.Input, "ValidMeasure: cannot have both Sample/Line Shift and PixelShift")
	}
	return o, o.Validate()
}

// Checks ranges and tolerances
func (o Options) Validate() error {
	ranges := []struct {
		name     string
		min, max float64
		limit    float64
	}{
		{"Emission", o.MinEmission, o.MaxEmission, 135},
		{"Incidence", o.MinIncidence, o.MaxIncidence, 135},
		{"Phase", o.MinPhase, o.MaxPhase, 180},
	}
	for _, r := range ranges {
		if r.min < 0 || r.min > r.limit || r.max < 0 || r.max > r.limit {
			return errs.New(errs.Input, "ValidMeasure: %s angles must be in [0, %g]", r.name, r.limit)
		}
		if r.min > r.max {
			return errs.New(errs.Input, "ValidMeasure: Min%s must not exceed Max%s", r.name, r.name)
		}
	}
	if o.MinResolution < 0 || o.MaxResolution < 0 {
		return errs.New(errs.Input, "ValidMeasure: resolution must not be negative")
	}
	if o.MinResolution > o.MaxResolution {
		return errs.New(errs.Input, "ValidMeasure: MinResolution must not exceed MaxResolution")
	}
	if o.MinDN > o.MaxDN {
		return errs.New(errs.Input, "ValidMeasure: MinDN must not exceed MaxDN")
	}
	tolerances := map[string]float64{
		"PixelsFromEdge": float64(o.PixelsFromEdge), "MetersFromEdge": o.MetersFromEdge,
		"SampleResidual": o.SampleResidual, "LineResidual": o.LineResidual, "ResidualMagnitude": o.ResidualMagnitude,
		"SampleShift": o.SampleShift, "LineShift": o.LineShift, "PixelShift": o.PixelShift,
	}
	for _, k := range optionKeys {
		if v, ok := tolerances[k]; ok && v < 0 {
			return errs.New(errs.Input, "ValidMeasure: %s must not be negative", k)
		}
	}
	return nil
}

// Echoes the effective options as a keyword group, for logs
func (o Options) Pvl() *pvl.Group {
	g := pvl.NewGroup("StandardOptions")
	add := func(k string, v float64) {
		if math.IsInf(v, 0) {
			g.Add(k, "NA")
			return
		}
		g.AddFloat(k, v)
	}
	add("MinEmission", o.MinEmission)
	add("MaxEmission", o.MaxEmission)
	add("MinIncidence", o.MinIncidence)
	add("MaxIncidence", o.MaxIncidence)
	add("MinPhase", o.MinPhase)
	add("MaxPhase", o.MaxPhase)
	add("MinDN", o.MinDN)
	add("MaxDN", o.MaxDN)
	add("MinResolution", o.MinResolution)
	add("MaxResolution", o.MaxResolution)
	g.AddInt("PixelsFromEdge", o.PixelsFromEdge)
	add("MetersFromEdge", o.MetersFromEdge)
	add("SampleResidual", o.SampleResidual)
	add("LineResidual", o.LineResidual)
	add("ResidualMagnitude", o.ResidualMagnitude)
	add("SampleShift", o.SampleShift)
	add("LineShift", o.LineShift)
	add("PixelShift", o.PixelShift)
	return g
}
