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
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// Special pixel encodings for the integer types. All of them read as NaN, and
// NaN is written as the null value
const (
	nullSignedWord   = math.MinInt16
	nullUnsignedByte = 0
	hrsUnsignedByte  = 255
	minSpecialWord   = math.MinInt16 + 4 // values at or below are special
	hrsSignedWord    = math.MaxInt16
	nullReal         = -3.4028226550889045e+38 // values at or below are special
)

// Reads only the label of the cube with the given file name
func ReadLabel(fileName string) (*pvl.Document, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err, "opening cube %s", fileName)
	}
	defer f.Close()
	doc, err := pvl.Read(bufio.NewReader(f))
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading label of %s", fileName)
	}
	return doc, nil
}

// Reads a cube with label and pixel data from the given file
func ReadFile(fileName string) (*Cube, error) {
	buf, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err, "reading cube %s", fileName)
	}
	c, err := Read(buf)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), err, "reading cube %s", fileName)
	}
	c.FileName = fileName
	return c, nil
}

// Decodes a cube from its file contents
func Read(buf []byte) (*Cube, error) {
	label, err := pvl.Read(bytes.NewReader(buf))
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading label")
	}
	c := &Cube{Label: label}
	isis := label.FindObject("IsisCube")
	if isis == nil {
		return nil, errs.New(errs.Input, "label has no IsisCube object")
	}
	core := isis.FindObject("Core")
	if core == nil {
		return nil, errs.New(errs.Input, "label has no Core object")
	}
	if f := core.StringOr("Format", "BandSequential"); !strings.EqualFold(f, "BandSequential") {
		return nil, errs.New(errs.Unsupported, "unsupported cube format %s", f)
	}
	start, err := core.Int("StartByte")
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading Core")
	}
	dims, px := core.FindGroup("Dimensions"), core.FindGroup("Pixels")
	if dims == nil || px == nil {
		return nil, errs.New(errs.Input, "Core needs Dimensions and Pixels groups")
	}
	for key, dst := range map[string]*int{"Samples": &c.Samples, "Lines": &c.Lines, "Bands": &c.Bands} {
		if *dst, err = dims.Int(key); err != nil {
			return nil, errs.Wrap(errs.Input, err, "reading Dimensions")
		}
		if *dst <= 0 {
			return nil, errs.New(errs.Input, "invalid %s %d", key, *dst)
		}
	}
	if c.Type, err = ParsePixelType(px.StringOr("Type", "Real")); err != nil {
		return nil, err
	}
	switch order := px.StringOr("ByteOrder", "Lsb"); strings.ToLower(order) {
	case "lsb":
		c.ByteOrder = binary.LittleEndian
	case "msb":
		c.ByteOrder = binary.BigEndian
	default:
		return nil, errs.New(errs.Input, "invalid byte order %s", order)
	}
	if c.Base, err = px.FloatOr("Base", 0); err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading Pixels")
	}
	if c.Multiplier, err = px.FloatOr("Multiplier", 1); err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading Pixels")
	}

	n := c.Samples * c.Lines * c.Bands
	size := c.Type.Size()
	offset := start - 1
	if offset < 0 || offset+n*size > len(buf) {
		return nil, errs.New(errs.Input, "pixel data truncated: need %d bytes at %d, have %d", n*size, offset, len(buf))
	}
	c.Data = make([]float32, n)
	c.decode(buf[offset : offset+n*size])
	return c, nil
}

func (c *Cube) decode(raw []byte) {
	nan := float32(math.NaN())
	base, mult := float32(c.Base), float32(c.Multiplier)
	switch c.Type {
	case Real:
		for i := range c.Data {
			v := math.Float32frombits(c.ByteOrder.Uint32(raw[4*i:]))
			if v <= nullReal || math.IsInf(float64(v), 0) {
				v = nan
			}
			c.Data[i] = v
		}
	case SignedWord:
		for i := range c.Data {
			v := int16(c.ByteOrder.Uint16(raw[2*i:]))
			if v <= minSpecialWord || v == hrsSignedWord {
				c.Data[i] = nan
				continue
			}
			c.Data[i] = float32(v)*mult + base
		}
	case UnsignedByte:
		for i, v := range raw[:len(c.Data)] {
			if v == nullUnsignedByte || v == hrsUnsignedByte {
				c.Data[i] = nan
				continue
			}
			c.Data[i] = float32(v)*mult + base
		}
	}
}

func (c *Cube) encode() []byte {
	size := c.Type.Size()
	raw := make([]byte, len(c.Data)*size)
	for i, v := range c.Data {
		isNaN := math.IsNaN(float64(v))
		switch c.Type {
		case Real:
			if isNaN {
				v = float32(nullReal)
			}
			c.ByteOrder.PutUint32(raw[4*i:], math.Float32bits(v))
		case SignedWord:
			w := int16(nullSignedWord)
			if !isNaN {
				r := math.Round((float64(v) - c.Base) / c.Multiplier)
				w = int16(math.Max(minSpecialWord+1, math.Min(hrsSignedWord-1, r)))
			}
			c.ByteOrder.PutUint16(raw[2*i:], uint16(w))
		case UnsignedByte:
			b := byte(nullUnsignedByte)
			if !isNaN {
				r := math.Round((float64(v) - c.Base) / c.Multiplier)
				b = byte(math.Max(1, math.Min(hrsUnsignedByte-1, r)))
			}
			raw[i] = b
		}
	}
	return raw
}

// Writes label and pixel data to the given file
func (c *Cube) WriteFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "creating cube %s", fileName)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := c.Write(w); err != nil {
		return errs.Wrap(errs.Resource, err, "writing cube %s", fileName)
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.Resource, err, "writing cube %s", fileName)
	}
	c.FileName = fileName
	return nil
}

const labelBlock = 1024

// Writes the label, padded to a block boundary, followed by the pixel data
func (c *Cube) Write(w io.Writer) error {
	c.syncCore()
	core := c.IsisCube().FindObject("Core")
	start := labelBlock + 1
	var text string
	for {
		core.Set("StartByte", pvl.FormatFloat(float64(start)))
		text = c.Label.String()
		if len(text) < start {
			break
		}
		start = (len(text)/labelBlock+1)*labelBlock + 1
	}
	if _, err := io.WriteString(w, text); err != nil {
		return err
	}
	if _, err := w.Write(make([]byte, start-1-len(text))); err != nil {
		return err
	}
	_, err := w.Write(c.encode())
	return err
}
