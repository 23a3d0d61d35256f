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
	"fmt"
	"math"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

// Parameters of one image, or of all images of an observation
type block struct {
	id       string
	images   []int
	held     bool
	col      int // first column, -1 when held
	position *spice.Polynomial
	pointing *spice.Polynomial
	weights  []float64 // apriori weight per column, 0 when unconstrained
	cum      []float64 // total correction per column since the start
}

// Ground point state. Fixed points have no columns
type pointParam struct {
	index   int // in the network
	col     int // first column, -1 for fixed points
	ground  geom.Ground
	weights [3]float64 // per rad² for lat and lon, per km² for radius
	cum     [3]float64
}

// Column layout of the normal system: image blocks first, then points
type layout struct {
	s          Settings
	images     []*Image
	cams       []camera.Camera // working duplicates
	bySerial   map[string]int
	blocks     []*block
	imageBlock []int

	posCoefs, angCoefs, angAxes int
	blockCols                   int
	imageCols                   int

	points   []*pointParam
	pointOf  map[int]int // network index to points index
	excluded []string    // IDs of points with too few measures
	coords   int
	total    int
}

func newLayout(images []*Image, net *cnet.Network, s Settings) (*layout, error) {
	l := &layout{
		s:          s,
		images:     images,
		cams:       make([]camera.Camera, len(images)),
		bySerial:   map[string]int{},
		imageBlock: make([]int, len(images)),
		posCoefs:   s.PositionCoefficients(),
		angCoefs:   s.PointingCoefficients(),
		angAxes:    s.pointingAxes(),
		pointOf:    map[int]int{},
		coords:     s.pointCoordinates(),
	}
	l.blockCols = 3*l.posCoefs + l.angAxes*l.angCoefs
	held := map[string]bool{}
	for _, h := range s.Held {
		held[h] = true
	}
	for i, im := range images {
		l.cams[i] = im.Camera.Clone()
		l.bySerial[im.Serial] = i
	}

	for bi, group := range groupImages(images, s.ObservationMode) {
		first := l.cams[group[0]]
		b := &block{
			id:       images[group[0]].Serial,
			images:   group,
			col:      -1,
			position: first.Position(),
			pointing: first.Pointing(),
		}
		if s.ObservationMode && images[group[0]].ObservationID != "" {
			b.id = images[group[0]].ObservationID
		}
		for _, i := range group {
			b.held = b.held || held[images[i].Serial]
			l.imageBlock[i] = bi
		}
		if !b.held {
			if b.pointing.Degree() < s.CKDegree {
				b.pointing.SetDegree(s.CKDegree)
			}
			if b.position.Degree() < s.SPKDegree {
				b.position.SetDegree(s.SPKDegree)
			}
			if l.blockCols > 0 {
				b.col = l.imageCols
				l.imageCols += l.blockCols
			}
			b.weights = l.blockWeights()
			b.cum = make([]float64, l.blockCols)
			// all images of the block evaluate the first image's polynomials
			for _, i := range group[1:] {
				l.cams[i].SetPosition(b.position)
				l.cams[i].SetPointing(b.pointing)
			}
		}
		l.blocks = append(l.blocks, b)
	}

	l.total = l.imageCols
	for pi, p := range net.Points() {
		if p.Ignored {
			continue
		}
		active := 0
		for _, m := range p.Measures() {
			if m.Ignored {
				continue
			}
			if _, ok := l.bySerial[m.Serial]; !ok {
				return nil, errs.New(errs.NetworkConsistency, "point %s: measure on image %s which is not in the image list", p.ID, m.Serial)
			}
			active++
		}
		if active == 0 {
			continue
		}
		pp := &pointParam{index: pi, col: -1, ground: p.Ground()}
		if p.Type != cnet.Fixed {
			pp.weights = l.pointWeights(p)
			// a single ray does not determine a point unless apriori sigmas hold it
			if active < 2 && !l.fullyWeighted(pp.weights) {
				l.excluded = append(l.excluded, p.ID)
				continue
			}
			pp.col = l.total
			l.total += l.coords
		}
		l.pointOf[pi] = len(l.points)
		l.points = append(l.points, pp)
	}
	return l, nil
}

// Column offset within a block
func (l *layout) positionColumn(axis, coef int) int { return axis*l.posCoefs + coef }
func (l *layout) pointingColumn(axis, coef int) int { return 3*l.posCoefs + axis*l.angCoefs + coef }

func (l *layout) blockWeights() []float64 {
	w := make([]float64, l.blockCols)
	for a := 0; a < 3; a++ {
		for k := 0; k < l.posCoefs; k++ {
			if k < len(l.s.PositionSigmas) && l.s.PositionSigmas[k] > 0 {
				sigma := geom.Kilometers(l.s.PositionSigmas[k])
				w[l.positionColumn(a, k)] = 1 / (sigma * sigma)
			}
		}
	}
	for a := 0; a < l.angAxes; a++ {
		for k := 0; k < l.angCoefs; k++ {
			if k < len(l.s.PointingSigmas) && l.s.PointingSigmas[k] > 0 {
				sigma := geom.Radians(l.s.PointingSigmas[k])
				w[l.pointingColumn(a, k)] = 1 / (sigma * sigma)
			}
		}
	}
	return w
}

// Apriori weights from sigmas in meters. Constrained points use their own
// sigmas where set, all others the global ones
func (l *layout) pointWeights(p *cnet.Point) (w [3]float64) {
	g := p.Ground()
	radius := g.Radius
	if radius <= 0 {
		return w
	}
	for k := 0; k < l.coords; k++ {
		sigma := l.s.PointSigmas[k]
		if p.Type == cnet.Constrained && p.AprioriSigmas[k] > 0 {
			sigma = p.AprioriSigmas[k]
		}
		if sigma <= 0 {
			continue
		}
		var s float64
		switch k {
		case camera.Lat:
			s = sigma / radius
		case camera.Lon:
			s = sigma / (radius * math.Max(math.Cos(geom.Radians(g.Lat)), 1e-6))
		default:
			s = geom.Kilometers(sigma)
		}
		w[k] = 1 / (s * s)
	}
	return w
}

func (l *layout) fullyWeighted(w [3]float64) bool {
	for k := 0; k < l.coords; k++ {
		if w[k] <= 0 {
			return false
		}
	}
	return true
}

// Number of columns carrying an apriori weight
func (l *layout) constrained() (image, point int) {
	for _, b := range l.blocks {
		for _, w := range b.weights {
			if w > 0 {
				image++
			}
		}
	}
	for _, p := range l.points {
		for _, w := range p.weights {
			if w > 0 {
				point++
			}
		}
	}
	return image, point
}

func (l *layout) pointColumns() int { return l.total - l.imageCols }

// Names a column of an image block, e.g. "RA0" or "Z1"
func (l *layout) columnName(c int) string {
	if c < 3*l.posCoefs {
		return fmt.Sprintf("%s%d", [...]string{"X", "Y", "Z"}[c/l.posCoefs], c%l.posCoefs)
	}
	c -= 3 * l.posCoefs
	return fmt.Sprintf("%s%d", [...]string{"RA", "DEC", "TWIST"}[c/l.angCoefs], c%l.angCoefs)
}

// Describes the parameter behind a global column for diagnostics
func (l *layout) describe(col int, net *cnet.Network) string {
	if col < l.imageCols {
		b := l.blocks[0]
		for _, cand := range l.blocks {
			if cand.col >= 0 && cand.col <= col {
				b = cand
			}
		}
		return fmt.Sprintf("image %s parameter %s", b.id, l.columnName(col-b.col))
	}
	for _, p := range l.points {
		if p.col >= 0 && col >= p.col && col < p.col+l.coords {
			return fmt.Sprintf("point %s coordinate %s", net.At(p.index).ID, [...]string{"Lat", "Lon", "Radius"}[col-p.col])
		}
	}
	return fmt.Sprintf("column %d", col)
}

// Applies a correction vector over all columns. Image corrections are added
// to the polynomial coefficients, point corrections in radians and
// kilometers to the ground coordinates. Returns the largest absolute correction
func (l *layout) apply(delta []float64) float64 {
	maxAbs := 0.0
	for _, b := range l.blocks {
		if b.col < 0 {
			continue
		}
		for c := 0; c < l.blockCols; c++ {
			d := delta[b.col+c]
			maxAbs = math.Max(maxAbs, math.Abs(d))
			b.cum[c] += d
			if c < 3*l.posCoefs {
				b.position.Add(c/l.posCoefs, c%l.posCoefs, d)
			} else {
				cc := c - 3*l.posCoefs
				b.pointing.Add(cc/l.angCoefs, cc%l.angCoefs, d)
			}
		}
	}
	for _, p := range l.points {
		if p.col < 0 {
			continue
		}
		var d [3]float64
		copy(d[:l.coords], delta[p.col:p.col+l.coords])
		for k := 0; k < l.coords; k++ {
			maxAbs = math.Max(maxAbs, math.Abs(d[k]))
			p.cum[k] += d[k]
		}
		lat, lon := geom.Normalize(p.ground.Lat+geom.Degrees(d[camera.Lat]), p.ground.Lon+geom.Degrees(d[camera.Lon]))
		p.ground = geom.Ground{Lat: lat, Lon: lon, Radius: p.ground.Radius + geom.Meters(d[camera.Radius])}
	}
	return maxAbs
}
