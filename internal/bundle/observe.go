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

package bundle

import (
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/errs"
)

// One measure linearized at the current estimate. Coordinates are
// undistorted focal plane mm
type observation struct {
	pt     *pointParam
	m      *cnet.Measure
	image  int
	block  *block
	vx, vy float64 // measured minus computed

	// Partials over the block columns, nil for held blocks
	ax, ay []float64
	// Partials over the point columns, unused for fixed points
	bx, by [3]float64
}

// Residual in pixels
func (o *observation) pixels(pitch float64) (sample, line float64) {
	return o.vx / pitch, o.vy / pitch
}

// Linearizes a measure at the current estimate. The camera time comes from the
// measured pixel and is not re-derived from the ground point. Returns nil when
// the ground point does not project, unless the measure is the reference
func (l *layout) observe(net *cnet.Network, pt *pointParam, m *cnet.Measure, partials bool) (*observation, error) {
	i := l.bySerial[m.Serial]
	cam := l.cams[i]
	// a miss of the target surface leaves time and focal plane valid
	if err := cam.SetImage(m.Sample, m.Line); err != nil && !errs.Is(err, errs.Geometry) {
		return nil, err
	}
	xm, ym := cam.FocalPlane()
	xc, yc, err := cam.ProjectFocal(pt.ground)
	if err != nil {
		if errs.Is(err, errs.Geometry) && !m.IsReference() {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindOf(err), err, "point %s measure %s", net.At(pt.index).ID, m.Serial)
	}
	b := l.blocks[l.imageBlock[i]]
	o := &observation{pt: pt, m: m, image: i, block: b, vx: xm - xc, vy: ym - yc}
	if !partials {
		return o, nil
	}

	if b.col >= 0 {
		o.ax = make([]float64, l.blockCols)
		o.ay = make([]float64, l.blockCols)
		for a := 0; a < 3; a++ {
			for k := 0; k < l.posCoefs; k++ {
				dx, dy, err := cam.PositionPartial(pt.ground, a, k)
				if err != nil {
					return nil, err
				}
				c := l.positionColumn(a, k)
				o.ax[c], o.ay[c] = dx, dy
			}
		}
		for a := 0; a < l.angAxes; a++ {
			for k := 0; k < l.angCoefs; k++ {
				dx, dy, err := cam.OrientationPartial(pt.ground, a, k)
				if err != nil {
					return nil, err
				}
				c := l.pointingColumn(a, k)
				o.ax[c], o.ay[c] = dx, dy
			}
		}
	}
	if pt.col >= 0 {
		for k := 0; k < l.coords; k++ {
			dx, dy, err := cam.PointPartial(pt.ground, k)
			if err != nil {
				return nil, err
			}
			o.bx[k], o.by[k] = dx, dy
		}
	}
	return o, nil
}

// Linearizes all active measures in network order. Rejected measures are
// included so that outlier rejection can bring them back
func (l *layout) observeAll(net *cnet.Network, partials bool) ([]*observation, error) {
	var obs []*observation
	for _, pt := range l.points {
		p := net.At(pt.index)
		for _, m := range p.Measures() {
			if m.Ignored {
				continue
			}
			o, err := l.observe(net, pt, m, partials && !m.Rejected)
			if err != nil {
				return nil, err
			}
			if o != nil {
				obs = append(obs, o)
			}
		}
	}
	return obs, nil
}

// Measurement weight per focal plane coordinate
func (l *layout) weight(image int) float64 {
	s := l.s.PixelSigma * l.cams[image].PixelPitch()
	return 1 / (s * s)
}
