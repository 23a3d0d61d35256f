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

	"gonum.org/v1/gonum/optimize"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

// A push-broom camera with a single detector line. Each image line is exposed
// at its own time, so position and pointing polynomials of higher degree matter
type LineScan struct {
	model
	lineRate float64 // seconds per line
}

func NewLineScan(id string, det Detector, target Target, start, lineRate float64, position, pointing *spice.Polynomial) *LineScan {
	return &LineScan{
		model: model{
			id:       id,
			det:      det,
			target:   target,
			position: position,
			pointing: pointing,
			start:    start,
			et:       start,
		},
		lineRate: lineRate,
	}
}

// Ephemeris time at the center of the given one-based line
func (c *LineScan) lineTime(line float64) float64 {
	return c.start + (line-0.5)*c.lineRate
}

func (c *LineScan) SetImage(sample, line float64) error {
	xd, yd := c.pixelToFocal(sample-c.det.BoresightSample, 0)
	return c.setFocal(c.lineTime(line), xd, yd)
}

func (c *LineScan) SetGround(g geom.Ground, keepTime bool) (sample, line float64, err error) {
	var et float64
	if keepTime {
		et = c.et
		line = (et-c.start)/c.lineRate + 0.5
	} else {
		line, err = c.findLine(g)
		if err != nil {
			return 0, 0, err
		}
		et = c.lineTime(line)
	}
	if !c.visible(g, et) {
		return 0, 0, errs.New(errs.Geometry, "ground point is behind the target")
	}
	xu, yu, err := c.projectAt(g, et)
	if err != nil {
		return 0, 0, err
	}
	xd, yd := c.det.Distortion.Distort(xu, yu)
	sample = xd/c.det.PixelPitch + c.det.BoresightSample
	if keepTime {
		line += yd / c.det.PixelPitch
	}
	if !c.inBounds(sample, line) {
		return sample, line, errs.New(errs.Geometry, "ground point projects outside the detector")
	}
	c.setGroundState(g, et, xu, yu)
	return sample, line, nil
}

// Finds the line whose exposure images the ground point on the detector line,
// i.e. where the along-track focal plane coordinate vanishes. Uses the secant
// method and falls back to Nelder-Mead on the squared offset
func (c *LineScan) findLine(g geom.Ground) (float64, error) {
	offset := func(line float64) (float64, bool) {
		_, y, err := c.projectAt(g, c.lineTime(line))
		if err != nil {
			return 0, false
		}
		return y / c.det.PixelPitch, true
	}

	l0 := float64(c.det.Lines)/2 + 0.5
	l1 := l0 + 1
	y0, ok0 := offset(l0)
	y1, ok1 := offset(l1)
	if ok0 && ok1 {
		for i := 0; i < 30; i++ {
			if y1 == y0 {
				break
			}
			l2 := l1 - y1*(l1-l0)/(y1-y0)
			if math.IsNaN(l2) || math.IsInf(l2, 0) {
				break
			}
			y2, ok := offset(l2)
			if !ok {
				break
			}
			l0, y0, l1, y1 = l1, y1, l2, y2
			if math.Abs(l1-l0) < 1e-9 || math.Abs(y1) < 1e-9 {
				return l1, nil
			}
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			y, ok := offset(x[0])
			if !ok {
				return math.Inf(1)
			}
			return y * y
		},
	}
	res, err := optimize.Minimize(problem, []float64{float64(c.det.Lines)/2 + 0.5}, nil, &optimize.NelderMead{})
	if err != nil || res == nil || math.IsInf(res.F, 1) || res.F > 1e-6 {
		return 0, errs.New(errs.Geometry, "ground point is not imaged by any line")
	}
	return res.X[0], nil
}

func (c *LineScan) Clone() Camera {
	return &LineScan{model: c.cloneModel(), lineRate: c.lineRate}
}
