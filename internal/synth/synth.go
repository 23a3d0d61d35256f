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

// Package synth builds seeded synthetic scenes: a strip of nadir framing
// images over a spherical target, textured cubes carrying perturbed cameras,
// and a control network tying the images together.
package synth

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

var Moon = camera.Target{Name: "MOON", Radius: 1737.4, Sun: r3.Vector{X: 1.4e8, Y: 3e7, Z: 1e6}}

type Options struct {
	Seed   uint32
	Target camera.Target
	Images int
	// Longitude step between image centers in degrees
	Spacing  float64
	Altitude float64 // km
	// Detector size in pixels; focal length 500mm and pitch 0.01mm
	Samples, Lines int
	// Ground points per image along and across track
	PointsPerImage int
	// Uniform pointing error bound in radians applied to every image but the first
	PointingNoise float64
	// Uniform measurement error bound in pixels
	MeasureNoise float64
	// Fills the cubes with a random texture, otherwise all DNs are zero
	Texture bool
}

func DefaultOptions() Options {
	return Options{
		Seed:           1,
		Target:         Moon,
		Images:         3,
		Spacing:        0.015,
		Altitude:       100,
		Samples:        512,
		Lines:          512,
		PointsPerImage: 4,
		PointingNoise:  3e-5,
		Texture:        true,
	}
}

type Scene struct {
	Options
	// True cameras, and the perturbed ones attached to the cubes
	Truth   []camera.Camera
	Cubes   []*cube.Cube
	Serials []string
	Network *cnet.Network
}

// Uniform in [-1, 1]
func symmetric(rng *fastrand.RNG) float64 {
	return float64(rng.Uint32())/float64(math.MaxUint32)*2 - 1
}

func (o Options) detector() camera.Detector {
	return camera.Detector{
		Samples:         o.Samples,
		Lines:           o.Lines,
		FocalLength:     500,
		PixelPitch:      0.01,
		BoresightSample: float64(o.Samples)/2 + 0.5,
		BoresightLine:   float64(o.Lines)/2 + 0.5,
	}
}

// Framing camera above the equator at lonDeg looking straight down, apart
// from the given pointing offsets in radians
func (o Options) Nadir(lonDeg, dRA, dDec float64) *camera.Framing {
	lon := geom.Radians(lonDeg)
	r := o.Target.Radius + o.Altitude
	pos := spice.NewConstant([3]float64{r * math.Cos(lon), r * math.Sin(lon), 0}, 0)
	pnt := spice.NewConstant([3]float64{math.Pi + lon + dRA, dDec, 0}, 0)
	return camera.NewFraming(camera.FramingID, o.detector(), o.Target, 0, pos, pnt)
}

func (o Options) check() error {
	if o.Images < 1 || o.Samples < 8 || o.Lines < 8 || o.PointsPerImage < 1 {
		return errs.New(errs.Input, "synthetic scene needs at least one image of 8x8 pixels and one point per image")
	}
	if o.Altitude <= 0 || o.Target.Radius <= 0 {
		return errs.New(errs.Input, "synthetic scene needs positive altitude and target radius")
	}
	return nil
}

// Generates a scene. The same options always yield the same scene
func Generate(o Options) (*Scene, error) {
	if err := o.check(); err != nil {
		return nil, err
	}
	rng := fastrand.RNG{}
	rng.Seed(o.Seed)
	s := &Scene{Options: o, Network: cnet.New("synthetic", o.Target.Name)}

	for i := 0; i < o.Images; i++ {
		lon := float64(i) * o.Spacing
		serial := fmt.Sprintf("SYNTH/%03d", i)
		truth := o.Nadir(lon, 0, 0)
		var dRA, dDec float64
		if i > 0 {
			dRA, dDec = o.PointingNoise*symmetric(&rng), o.PointingNoise*symmetric(&rng)
		}
		c := cube.New(o.Samples, o.Lines, 1, cube.Real)
		c.FileName = fmt.Sprintf("synth%03d.cub", i)
		if err := c.SetCamera(o.Nadir(lon, dRA, dDec)); err != nil {
			return nil, err
		}
		c.SetSerial(serial, "")
		s.Truth = append(s.Truth, truth)
		s.Cubes = append(s.Cubes, c)
		s.Serials = append(s.Serials, serial)
	}
	if o.Texture {
		s.texture(&rng)
	}
	if err := s.tie(&rng); err != nil {
		return nil, err
	}
	return s, nil
}

// Smooth random DN field per cube: a sum of a few random sinusoids plus noise,
// sampled on ground coordinates so overlapping images agree
func (s *Scene) texture(rng *fastrand.RNG) {
	type wave struct{ kx, ky, phase, amp float64 }
	waves := make([]wave, 6)
	for i := range waves {
		waves[i] = wave{
			kx:    1e5 * (1.5 + symmetric(rng)),
			ky:    1e5 * (1.5 + symmetric(rng)),
			phase: math.Pi * symmetric(rng),
			amp:   0.1 + 0.05*symmetric(rng),
		}
	}
	for k, c := range s.Cubes {
		cam := s.Truth[k]
		for l := 0; l < s.Lines; l++ {
			for smp := 0; smp < s.Samples; smp++ {
				v := 0.5
				if cam.SetImage(float64(smp)+1, float64(l)+1) == nil {
					if g, ok := cam.Ground(); ok {
						for _, w := range waves {
							v += w.amp * math.Sin(w.kx*geom.Radians(g.Lon)+w.ky*geom.Radians(g.Lat)+w.phase)
						}
					}
				}
				v += 0.01 * symmetric(rng)
				c.Data[l*s.Samples+smp] = float32(v)
			}
		}
	}
}

// Ground points on a regular grid across the strip, measured in every true
// camera that sees them. Points seen by fewer than two images are skipped
func (s *Scene) tie(rng *fastrand.RNG) error {
	o := s.Options
	// half of the along track footprint in degrees
	ifov := o.detector().PixelPitch / o.detector().FocalLength
	halfLon := geom.Degrees(ifov*float64(o.Samples)/2*o.Altitude/o.Target.Radius) * 0.9
	halfLat := geom.Degrees(ifov*float64(o.Lines)/2*o.Altitude/o.Target.Radius) * 0.9
	cols := o.PointsPerImage * o.Images
	lonMin, lonMax := -halfLon, float64(o.Images-1)*o.Spacing+halfLon
	radius := geom.Meters(o.Target.Radius)

	id := 0
	for r := 0; r < o.PointsPerImage; r++ {
		lat := -halfLat + (float64(r)+0.5)*2*halfLat/float64(o.PointsPerImage)
		for c := 0; c < cols; c++ {
			lon := lonMin + (float64(c)+0.5)*(lonMax-lonMin)/float64(cols)
			nlat, nlon := geom.Normalize(lat, lon)
			g := geom.Ground{Lat: nlat, Lon: nlon, Radius: radius}
			p := cnet.NewPoint(fmt.Sprintf("P%04d", id), cnet.Free)
			p.Apriori = g
			for k, cam := range s.Truth {
				smp, ln, err := cam.SetGround(g, false)
				if err != nil {
					continue
				}
				smp += o.MeasureNoise * symmetric(rng)
				ln += o.MeasureNoise * symmetric(rng)
				if err := p.AddMeasure(&cnet.Measure{Serial: s.Serials[k], Sample: smp, Line: ln}); err != nil {
					return err
				}
			}
			if p.Len() < 2 {
				continue
			}
			if err := p.SetReference(0); err != nil {
				return err
			}
			if err := s.Network.AddPoint(p); err != nil {
				return err
			}
			id++
		}
	}
	if s.Network.Len() == 0 && o.Images > 1 {
		return errs.New(errs.Input, "synthetic images do not overlap, reduce the spacing")
	}
	return nil
}

// Cubes by serial number
func (s *Scene) CubeMap() map[string]*cube.Cube {
	res := make(map[string]*cube.Cube, len(s.Cubes))
	for i, c := range s.Cubes {
		res[s.Serials[i]] = c
	}
	return res
}

// Writes the cubes, a cube list and the network into dir. Cube file names
// become relative to dir
func (s *Scene) WriteTo(dir string, f cnet.Format) (listFile, netFile string, err error) {
	var list strings.Builder
	for _, c := range s.Cubes {
		name := filepath.Base(c.FileName)
		if err := c.WriteFile(filepath.Join(dir, name)); err != nil {
			return "", "", err
		}
		fmt.Fprintln(&list, name)
	}
	listFile = filepath.Join(dir, "cubes.lis")
	if err := os.WriteFile(listFile, []byte(list.String()), 0644); err != nil {
		return "", "", errs.Wrap(errs.Resource, err, "writing %s", listFile)
	}
	netFile = filepath.Join(dir, "synthetic.net")
	if err := s.Network.WriteFile(netFile, f); err != nil {
		return "", "", err
	}
	return listFile, netFile, nil
}
