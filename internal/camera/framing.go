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
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

// A framing camera exposing the whole detector at a single instant
type Framing struct {
	model
}

// Creates a framing camera. Polynomials are used as given, not copied
func NewFraming(id string, det Detector, target Target, exposure float64, position, pointing *spice.Polynomial) *Framing {
	return &Framing{model{
		id:       id,
		det:      det,
		target:   target,
		position: position,
		pointing: pointing,
		start:    exposure,
		et:       exposure,
	}}
}

func (c *Framing) SetImage(sample, line float64) error {
	xd, yd := c.pixelToFocal(sample-c.det.BoresightSample, line-c.det.BoresightLine)
	return c.setFocal(c.start, xd, yd)
}

func (c *Framing) SetGround(g geom.Ground, keepTime bool) (sample, line float64, err error) {
	et := c.start
	if !c.visible(g, et) {
		return 0, 0, errs.New(errs.Geometry, "ground point is behind the target")
	}
	xu, yu, err := c.projectAt(g, et)
	if err != nil {
		return 0, 0, err
	}
	xd, yd := c.det.Distortion.Distort(xu, yu)
	sample = xd/c.det.PixelPitch + c.det.BoresightSample
	line = yd/c.det.PixelPitch + c.det.BoresightLine
	if !c.inBounds(sample, line) {
		return sample, line, errs.New(errs.Geometry, "ground point projects outside the detector")
	}
	c.setGroundState(g, et, xu, yu)
	return sample, line, nil
}

func (c *Framing) Clone() Camera {
	return &Framing{c.cloneModel()}
}
