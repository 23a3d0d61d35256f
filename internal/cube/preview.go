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

package cube

import (
	"bufio"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// Write a band of the cube to a 16-bit grayscale TIFF, stretching min..max
// linearly. If min>=max, the valid data range of the band is used
func (c *Cube) WritePreviewTIFFToFile(fileName string, band int, min, max float64) error {
	file, err := os.Create(fileName)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "creating preview %s", fileName)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := c.WritePreviewTIFF(writer, band, min, max); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return errs.Wrap(errs.Resource, err, "writing preview %s", fileName)
	}
	return nil
}

func (c *Cube) WritePreviewTIFF(writer io.Writer, band int, min, max float64) error {
	if band < 1 || band > c.Bands {
		return errs.New(errs.Input, "band %d out of range 1..%d", band, c.Bands)
	}
	data := c.Data[(band-1)*c.Samples*c.Lines : band*c.Samples*c.Lines]
	if min >= max {
		min, max = math.Inf(1), math.Inf(-1)
		for _, v := range data {
			if f := float64(v); !math.IsNaN(f) {
				min, max = math.Min(min, f), math.Max(max, f)
			}
		}
		if min >= max {
			max = min + 1
		}
	}

	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{c.Samples, c.Lines}})
	scale := 1 / (max - min)
	for y := 0; y < c.Lines; y++ {
		yoffset := y * c.Samples
		for x := 0; x < c.Samples; x++ {
			gray := (float64(data[yoffset+x]) - min) * scale
			// special pixels export as black
			if math.IsNaN(gray) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}
