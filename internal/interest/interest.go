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

// Package interest locates the most distinctive pixel near a control measure.
//
// The search walks candidate chip centers over a (DeltaSamp, DeltaLine) window
// around the tack pixel. Each center that passes the pixel validator is scored
// by the configured operator on a Samples x Lines chip (plus operator padding).
// The highest score wins; ties go to the center closest to the tack pixel.
package interest

import (
	"math"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

// Search configuration, from the Operator keyword group
type Config struct {
	Name            string
	Samples, Lines  int
	DeltaSamp       int
	DeltaLine       int
	MinimumInterest float64
}

var configKeys = []string{"Name", "DeltaLine", "DeltaSamp", "Samples", "Lines", "MinimumInterest",
	"ValidMinimum", "ValidMaximum", "MinimumDN", "MaximumDN", "ClipPolygon"}

// Parses the Operator group. Keywords of overlap clipping and DN limits
// are accepted and ignored
func ParseConfig(g *pvl.Group) (Config, error) {
	var c Config
	if g == nil {
		return c, errs.New(errs.Input, "missing Operator group")
	}
	wrap := func(err error) error { return errs.Wrap(errs.Input, err, "Operator") }
	if err := g.CheckKeys(configKeys...); err != nil {
		return c, wrap(err)
	}
	var err error
	if c.Name, err = g.String("Name"); err != nil {
		return c, wrap(err)
	}
	ints := []struct {
		key string
		dst *int
	}{{"Samples", &c.Samples}, {"Lines", &c.Lines}, {"DeltaSamp", &c.DeltaSamp}, {"DeltaLine", &c.DeltaLine}}
	for _, i := range ints {
		if *i.dst, err = g.Int(i.key); err != nil {
			return c, wrap(err)
		}
	}
	if c.MinimumInterest, err = g.Float("MinimumInterest"); err != nil {
		return c, wrap(err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Samples < 1 || c.Lines < 1 {
		return errs.New(errs.Input, "Operator: chip must be at least 1x1, got %dx%d", c.Samples, c.Lines)
	}
	if c.DeltaSamp < 0 || c.DeltaLine < 0 {
		return errs.New(errs.Input, "Operator: search deltas must not be negative")
	}
	_, err := NewOperator(c.Name)
	return err
}

// Echoes the configuration as an InterestOptions group
func (c Config) Pvl() *pvl.Group {
	g := pvl.NewGroup("InterestOptions")
	g.Add("Name", c.Name)
	g.AddInt("Samples", c.Samples)
	g.AddInt("Lines", c.Lines)
	g.AddInt("DeltaLine", c.DeltaLine)
	g.AddInt("DeltaSamp", c.DeltaSamp)
	g.AddFloat("MinimumInterest", c.MinimumInterest)
	return g
}

// One-based continuous image coordinate
type Pixel struct {
	Sample, Line float64
}

// Outcome of a search
type Result struct {
	Valid    bool
	Interest float64 // NaN if no candidate could be scored
	Best     Pixel   // equals the tack pixel when not valid
	Tack     Pixel

	DeltaSample, DeltaLine int
	// Observed at the best candidate, or at the tack pixel when not valid
	Values validate.Values
}

type Engine struct {
	Config
	op        Operator
	validator *validate.Validator
}

// Creates a search engine. A nil validator accepts every pixel
func New(cfg Config, v *validate.Validator) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	op, _ := NewOperator(cfg.Name)
	if v == nil {
		v, _ = validate.New(validate.DefaultOptions())
	}
	return &Engine{Config: cfg, op: op, validator: v}, nil
}

func (e *Engine) Operator() Operator { return e.op }

func (e *Engine) Validator() *validate.Validator { return e.validator }

// Scores the neighborhood of a pixel with default validation
func Score(c *cube.Cube, cam camera.Camera, px Pixel, cfg Config) (Result, error) {
	e, err := New(cfg, nil)
	if err != nil {
		return Result{}, err
	}
	return e.Score(c, cam, px)
}

// Searches the neighborhood of a pixel for the most interesting valid location
func (e *Engine) Score(c *cube.Cube, cam camera.Camera, px Pixel) (Result, error) {
	if c == nil {
		return Result{}, errs.New(errs.Input, "interest search needs a cube")
	}
	if cam == nil {
		return Result{}, errs.New(errs.Input, "cannot run interest on image %s without a camera", c.FileName)
	}
	tackS, tackL := math.Floor(px.Sample+0.5), math.Floor(px.Line+0.5)
	res := Result{Interest: math.NaN(), Tack: px, Best: px}

	pad := e.op.Padding()
	w, h := e.Samples+pad, e.Lines+pad
	bestDist := math.Inf(1)
	for dl := -e.DeltaLine; dl <= e.DeltaLine; dl++ {
		for ds := -e.DeltaSamp; ds <= e.DeltaSamp; ds++ {
			s, l := tackS+float64(ds), tackL+float64(dl)
			vr := e.validator.ValidPixel(s, l, c, cam)
			if !vr.Valid() {
				continue
			}
			v := e.op.Interest(c.Chip(s, l, w, h), w, h)
			if math.IsNaN(v) {
				continue
			}
			dist := math.Hypot(float64(ds), float64(dl))
			if !math.IsNaN(res.Interest) {
				if v < res.Interest || (v == res.Interest && dist > bestDist) {
					continue
				}
			}
			res.Interest, bestDist = v, dist
			res.Best = Pixel{s, l}
			res.DeltaSample, res.DeltaLine = abs(ds), abs(dl)
			res.Values = vr.Values
		}
	}

	if math.IsNaN(res.Interest) || res.Interest <= e.MinimumInterest {
		res.Best, res.DeltaSample, res.DeltaLine = px, 0, 0
		res.Values = e.validator.ValidPixel(tackS, tackL, c, cam).Values
		return res, nil
	}
	res.Valid = true
	return res, nil
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
