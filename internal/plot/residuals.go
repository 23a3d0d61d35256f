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

// Package plot renders measure residuals as vector maps.
package plot

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/errs"
)

type Options struct {
	Width, Height  int // canvas size in pixels
	Samples, Lines int // image extent the canvas covers
	// Residual vector exaggeration
	Scale float64
	// Top of the color ramp in pixels, 0 uses the largest residual
	MaxResidual float64
	// Draws only measures of this image, empty draws all
	Serial string
}

var (
	background = color.RGBA{16, 16, 16, 255}
	rejected   = color.RGBA{128, 128, 128, 255}
	low, _     = colorful.Hex("#1a9850")
	high, _    = colorful.Hex("#d73027")
)

// Color for a residual magnitude relative to the top of the ramp
func Ramp(magnitude, max float64) color.RGBA {
	t := 0.0
	if max > 0 {
		t = math.Max(0, math.Min(magnitude/max, 1))
	}
	r, g, b := low.BlendHcl(high, t).Clamped().RGB255()
	return color.RGBA{r, g, b, 255}
}

func (o Options) measures(net *cnet.Network, f func(p *cnet.Point, m *cnet.Measure)) {
	for _, p := range net.Points() {
		if p.Ignored {
			continue
		}
		for _, m := range p.Measures() {
			if m.Ignored || (o.Serial != "" && m.Serial != o.Serial) {
				continue
			}
			f(p, m)
		}
	}
}

// Draws each measure as a dot with its residual vector, colored by magnitude.
// Rejected measures are gray
func ResidualMap(net *cnet.Network, o Options) (*image.RGBA, error) {
	if o.Width < 1 || o.Height < 1 || o.Samples < 1 || o.Lines < 1 {
		return nil, errs.New(errs.Input, "residual map needs positive canvas and image sizes")
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	max := o.MaxResidual
	if max <= 0 {
		o.measures(net, func(_ *cnet.Point, m *cnet.Measure) {
			if !m.Rejected {
				max = math.Max(max, math.Hypot(m.SampleResidual, m.LineResidual))
			}
		})
	}

	img := image.NewRGBA(image.Rect(0, 0, o.Width, o.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = background.R, background.G, background.B, background.A
	}
	sx, sy := float64(o.Width)/float64(o.Samples), float64(o.Height)/float64(o.Lines)
	toCanvas := func(sample, line float64) (int, int) {
		return int(math.Floor((sample - 0.5) * sx)), int(math.Floor((line - 0.5) * sy))
	}
	o.measures(net, func(_ *cnet.Point, m *cnet.Measure) {
		c := rejected
		if !m.Rejected {
			c = Ramp(math.Hypot(m.SampleResidual, m.LineResidual), max)
		}
		x0, y0 := toCanvas(m.Sample, m.Line)
		x1, y1 := toCanvas(m.Sample+o.Scale*m.SampleResidual, m.Line+o.Scale*m.LineResidual)
		line(img, x0, y0, x1, y1, c)
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				setIn(img, x0+dx, y0+dy, c)
			}
		}
	})
	return img, nil
}

func setIn(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Rect) {
		img.SetRGBA(x, y, c)
	}
}

// Bresenham line, clipped to the canvas
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	stepX, stepY := 1, 1
	if x0 > x1 {
		stepX = -1
	}
	if y0 > y1 {
		stepY = -1
	}
	e := dx + dy
	for {
		setIn(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += stepX
		}
		if e2 <= dx {
			e += dx
			y0 += stepY
		}
	}
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// Writes the residual map as JPEG with the given quality
func WriteResidualMap(w io.Writer, net *cnet.Network, o Options, quality int) error {
	img, err := ResidualMap(net, o)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return errs.Wrap(errs.Resource, err, "encoding residual map")
	}
	return nil
}

func WriteResidualMapToFile(fileName string, net *cnet.Network, o Options, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "creating %s", fileName)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := WriteResidualMap(writer, net, o, quality); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return errs.Wrap(errs.Resource, err, "writing %s", fileName)
	}
	return nil
}
