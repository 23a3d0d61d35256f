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

// Package camera adapts heterogeneous camera models to the small capability
// set the reference selector and the bundle adjustment need: forward and
// inverse projection, photometric angles, and partial derivatives of undistorted
// focal plane coordinates with respect to position, pointing and ground point.
//
// Image coordinates are one-based continuous pixels: the center of the upper
// left pixel is (1,1) and its outer corner is (0.5,0.5).
//
// A Camera holds evaluation state and is not safe for concurrent use. Use
// Clone to obtain per-worker duplicates.
package camera

import (
	"strings"
	"sync"

	"github.com/golang/geo/r3"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

// Body-fixed position axes
const (
	X = iota
	Y
	Z
)

// Pointing axes
const (
	RA = iota
	Dec
	Twist
)

// Ground point axes
const (
	Lat = iota
	Lon
	Radius
)

type Camera interface {
	InstrumentID() string

	// Detector size in pixels
	Samples() int
	Lines() int
	PixelPitch() float64

	// Sets the state from an image coordinate: time, look direction and, if the
	// ray hits the target, the ground point. Returns a Geometry error when there
	// is no surface intersection; time and look direction are still valid then.
	SetImage(sample, line float64) error
	Time() float64
	LookDirection() r3.Vector
	Ground() (geom.Ground, bool)
	// Undistorted focal plane coordinates in mm of the last SetImage
	FocalPlane() (x, y float64)

	// Projects a ground point into the image. With keepTime the projection uses the
	// time of the last SetImage; otherwise line-scan models search for the imaging time.
	// Returns a Geometry error if the point is behind the target or off the detector
	SetGround(g geom.Ground, keepTime bool) (sample, line float64, err error)

	// Photometric angles and resolution at the current ground point
	Angles() (geom.Angles, error)

	// Undistorted focal plane coordinates of a ground point at the current time
	ProjectFocal(g geom.Ground) (x, y float64, err error)

	// Partial derivatives of undistorted focal plane x,y (mm) at the current time
	// with respect to position coefficient coef of axis X|Y|Z (per km),
	// pointing coefficient coef of axis RA|Dec|Twist (per radian),
	// and ground point axis Lat|Lon (per radian) or Radius (per km)
	PositionPartial(g geom.Ground, axis, coef int) (dx, dy float64, err error)
	OrientationPartial(g geom.Ground, axis, coef int) (dx, dy float64, err error)
	PointPartial(g geom.Ground, axis int) (dx, dy float64, err error)

	// Polynomial handles. Bundle adjustment updates their coefficients in place
	Position() *spice.Polynomial
	Pointing() *spice.Polynomial
	SetPosition(p *spice.Polynomial)
	SetPointing(p *spice.Polynomial)
	SetPolynomialDegree(ckDegree, spkDegree int)

	// Returns an independent duplicate including deep copies of the polynomials
	Clone() Camera
}

// Creates a camera from a cube label
type Factory func(label *pvl.Document) (Camera, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Registers a camera factory for an instrument id. Panics on re-registration
func Register(instrumentID string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	key := strings.ToUpper(instrumentID)
	if _, ok := factories[key]; ok {
		panic("camera: re-registering instrument " + instrumentID)
	}
	factories[key] = f
}

// Creates the camera model for the label's Instrument/InstrumentId
func FromLabel(label *pvl.Document) (Camera, error) {
	inst := label.FindGroupDeep("Instrument")
	if inst == nil {
		return nil, errs.New(errs.Input, "label has no Instrument group")
	}
	id, err := inst.String("InstrumentId")
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading instrument")
	}
	factoriesMu.RLock()
	f := factories[strings.ToUpper(id)]
	factoriesMu.RUnlock()
	if f == nil {
		return nil, errs.New(errs.Unsupported, "unsupported instrument %s", id)
	}
	return f(label)
}
