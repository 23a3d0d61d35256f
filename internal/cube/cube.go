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

// Package cube reads and writes band sequential image cubes with an attached
// keyword label, and provides pixel access in the one-based continuous image
// coordinates used throughout: the center of the first pixel is 1.0 and its
// outer edge 0.5.
package cube

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

type PixelType int

const (
	Real PixelType = iota
	SignedWord
	UnsignedByte
)

var pixelTypeNames = []string{"Real", "SignedWord", "UnsignedByte"}

func (t PixelType) String() string { return pixelTypeNames[t] }

// Bytes per stored value
func (t PixelType) Size() int {
	switch t {
	case SignedWord:
		return 2
	case UnsignedByte:
		return 1
	default:
		return 4
	}
}

func ParsePixelType(s string) (PixelType, error) {
	for i, n := range pixelTypeNames {
		if strings.EqualFold(n, s) {
			return PixelType(i), nil
		}
	}
	return Real, errs.New(errs.Unsupported, "unsupported pixel type %s", s)
}

// An image cube. Pixel values are stored band sequentially as float32 DNs with
// base and multiplier applied. Special pixels read as NaN
type Cube struct {
	FileName   string
	Label      *pvl.Document
	Samples    int
	Lines      int
	Bands      int
	Type       PixelType
	ByteOrder  binary.ByteOrder
	Base       float64
	Multiplier float64
	Data       []float32

	cam camera.Camera
}

// Creates an empty cube with a minimal label. Pixels are initialized to NaN
func New(samples, lines, bands int, t PixelType) *Cube {
	c := &Cube{
		Label:      pvl.NewDocument(),
		Samples:    samples,
		Lines:      lines,
		Bands:      bands,
		Type:       t,
		ByteOrder:  binary.LittleEndian,
		Base:       0,
		Multiplier: 1,
		Data:       make([]float32, samples*lines*bands),
	}
	for i := range c.Data {
		c.Data[i] = float32(math.NaN())
	}
	isis := c.Label.AddObject(pvl.NewObject("IsisCube"))
	isis.AddObject(pvl.NewObject("Core"))
	c.syncCore()
	return c
}

// The IsisCube object holding Core, Instrument, Kernels and friends
func (c *Cube) IsisCube() *pvl.Object {
	if o := c.Label.FindObject("IsisCube"); o != nil {
		return o
	}
	return c.Label.AddObject(pvl.NewObject("IsisCube"))
}

// Rewrites the Core object keywords from the cube fields
func (c *Cube) syncCore() {
	isis := c.IsisCube()
	core := isis.FindObject("Core")
	if core == nil {
		core = isis.AddObject(pvl.NewObject("Core"))
	}
	core.Set("Format", "BandSequential")
	dims := core.FindGroup("Dimensions")
	if dims == nil {
		dims = core.AddGroup(pvl.NewGroup("Dimensions"))
	}
	dims.Set("Samples", fmt.Sprint(c.Samples))
	dims.Set("Lines", fmt.Sprint(c.Lines))
	dims.Set("Bands", fmt.Sprint(c.Bands))
	px := core.FindGroup("Pixels")
	if px == nil {
		px = core.AddGroup(pvl.NewGroup("Pixels"))
	}
	px.Set("Type", c.Type.String())
	order := "Lsb"
	if c.ByteOrder == binary.BigEndian {
		order = "Msb"
	}
	px.Set("ByteOrder", order)
	px.Set("Base", pvl.FormatFloat(c.Base))
	px.Set("Multiplier", pvl.FormatFloat(c.Multiplier))
}

// Converts a one-based continuous coordinate to a zero-based array index
func Index(coord float64) int {
	return int(math.Floor(coord - 0.5))
}

// Reports whether the coordinate lies on the image
func (c *Cube) InBounds(sample, line float64) bool {
	return sample >= 0.5 && sample < float64(c.Samples)+0.5 &&
		line >= 0.5 && line < float64(c.Lines)+0.5
}

// Returns the DN at the given one-based coordinate and band, nearest neighbor.
// The second result is false off the image or for special pixels
func (c *Cube) DN(sample, line float64, band int) (float64, bool) {
	if !c.InBounds(sample, line) || band < 1 || band > c.Bands {
		return 0, false
	}
	v := c.Data[c.offset(Index(sample), Index(line), band)]
	if math.IsNaN(float64(v)) {
		return 0, false
	}
	return float64(v), true
}

// Sets the DN at the given one-based coordinate and band
func (c *Cube) SetDN(sample, line float64, band int, v float64) {
	if !c.InBounds(sample, line) || band < 1 || band > c.Bands {
		return
	}
	c.Data[c.offset(Index(sample), Index(line), band)] = float32(v)
}

func (c *Cube) offset(s, l, band int) int {
	return ((band-1)*c.Lines+l)*c.Samples + s
}

// Extracts a w*h chip of band 1 centered on the given one-based coordinate,
// row major. Pixels off the image or special are NaN
func (c *Cube) Chip(sample, line float64, w, h int) []float64 {
	res := make([]float64, w*h)
	s0 := Index(sample) - w/2
	l0 := Index(line) - h/2
	for y := 0; y < h; y++ {
		l := l0 + y
		for x := 0; x < w; x++ {
			s := s0 + x
			if s < 0 || s >= c.Samples || l < 0 || l >= c.Lines {
				res[y*w+x] = math.NaN()
				continue
			}
			res[y*w+x] = float64(c.Data[l*c.Samples+s])
		}
	}
	return res
}

// Returns the camera model for this cube, creating it on first use
func (c *Cube) Camera() (camera.Camera, error) {
	if c.cam != nil {
		return c.cam, nil
	}
	cam, err := camera.FromLabel(c.Label)
	if err != nil {
		return nil, err
	}
	c.cam = cam
	return cam, nil
}

// Attaches a camera model and writes its instrument and kernel keywords into the label
func (c *Cube) SetCamera(cam camera.Camera) error {
	isis := c.IsisCube()
	var keep []*pvl.Keyword
	if old := isis.FindGroup("Instrument"); old != nil {
		for _, name := range []string{"SerialNumber", "ObservationId"} {
			if k := old.Find(name); k != nil {
				keep = append(keep, k)
			}
		}
	}
	isis.Groups = removeGroups(isis.Groups, "Instrument", "Kernels")
	isis.Objects = removeObjects(isis.Objects, "Polynomial", "Table")
	if err := camera.WriteLabel(cam, isis); err != nil {
		return err
	}
	inst := isis.FindGroup("Instrument")
	inst.Keywords = append(inst.Keywords, keep...)
	c.cam = cam
	return nil
}

// Uses cam as the camera model without writing it into the label
func (c *Cube) AttachCamera(cam camera.Camera) { c.cam = cam }

// Sets the serial number and observation id keywords of the Instrument group
func (c *Cube) SetSerial(serial, observationID string) {
	isis := c.IsisCube()
	inst := isis.FindGroup("Instrument")
	if inst == nil {
		inst = isis.AddGroup(pvl.NewGroup("Instrument"))
	}
	inst.Set("SerialNumber", serial)
	if observationID != "" {
		inst.Set("ObservationId", observationID)
	}
}

func removeGroups(gs []*pvl.Group, names ...string) []*pvl.Group {
	res := gs[:0]
	for _, g := range gs {
		keep := true
		for _, n := range names {
			if strings.EqualFold(g.Name, n) {
				keep = false
			}
		}
		if keep {
			res = append(res, g)
		}
	}
	return res
}

func removeObjects(objs []*pvl.Object, names ...string) []*pvl.Object {
	res := objs[:0]
	for _, o := range objs {
		keep := true
		for _, n := range names {
			if strings.EqualFold(o.Name, n) {
				keep = false
			}
		}
		if keep {
			res = append(res, o)
		}
	}
	return res
}

// Serial number identifying the image within a control network. Uses
// Instrument/SerialNumber if present, else instrument id and start time,
// else the file base name
func (c *Cube) Serial() string {
	return serialOf(c.Label, c.FileName)
}

func serialOf(label *pvl.Document, fileName string) string {
	if inst := label.FindGroupDeep("Instrument"); inst != nil {
		if s := inst.StringOr("SerialNumber", ""); s != "" {
			return s
		}
		id := inst.StringOr("InstrumentId", "")
		t := inst.StringOr("StartTime", inst.StringOr("EphemerisTime", ""))
		if id != "" && t != "" {
			return id + "/" + t
		}
	}
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Observation id grouping images exposed together. Defaults to the serial
func (c *Cube) ObservationID() string {
	if inst := c.Label.FindGroupDeep("Instrument"); inst != nil {
		if s := inst.StringOr("ObservationId", ""); s != "" {
			return s
		}
	}
	return c.Serial()
}

func (c *Cube) String() string {
	return fmt.Sprintf("%s (%dx%dx%d %s)", c.FileName, c.Samples, c.Lines, c.Bands, c.Type)
}
