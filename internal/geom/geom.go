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

// Package geom holds body-fixed ground coordinates, the unit conversions used
// at the API boundary, and latitude/longitude normalization.
package geom

import (
	"math"

	"github.com/golang/geo/r3"
)

const deg2rad = math.Pi / 180

// Converts degrees to radians
func Radians(deg float64) float64 { return deg * deg2rad }

// Converts radians to degrees. Dividing by the same constant Radians multiplies
// with keeps the round trip within one unit in the last place
func Degrees(rad float64) float64 { return rad / deg2rad }

// Converts meters to kilometers
func Kilometers(m float64) float64 { return m / 1000 }

// Converts kilometers to meters
func Meters(km float64) float64 { return km * 1000 }

// A planetocentric ground coordinate. Latitude and longitude are in degrees,
// radius in meters
type Ground struct {
	Lat    float64
	Lon    float64
	Radius float64
}

// Returns the body-fixed rectangular position in kilometers
func (g Ground) Vector() r3.Vector {
	lat, lon, r := Radians(g.Lat), Radians(g.Lon), Kilometers(g.Radius)
	return r3.Vector{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Cos(lat) * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}

// Converts a body-fixed position in kilometers to a ground coordinate with
// longitude in [0,360)
func FromVector(v r3.Vector) Ground {
	r := v.Norm()
	if r == 0 {
		return Ground{}
	}
	lat := math.Asin(v.Z / r)
	lon := math.Atan2(v.Y, v.X)
	return Ground{Lat: Degrees(lat), Lon: WrapLon360(Degrees(lon)), Radius: Meters(r)}
}

// Partial derivatives of the rectangular position (km) with respect to latitude
// and longitude in radians and radius in kilometers
func (g Ground) Partials() (dLat, dLon, dRad r3.Vector) {
	lat, lon, r := Radians(g.Lat), Radians(g.Lon), Kilometers(g.Radius)
	sl, cl := math.Sin(lat), math.Cos(lat)
	so, co := math.Sin(lon), math.Cos(lon)
	dLat = r3.Vector{X: -r * sl * co, Y: -r * sl * so, Z: r * cl}
	dLon = r3.Vector{X: -r * cl * so, Y: r * cl * co, Z: 0}
	dRad = r3.Vector{X: cl * co, Y: cl * so, Z: sl}
	return dLat, dLon, dRad
}

// Wraps a longitude into [0,360)
func WrapLon360(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon < 0 {
		lon += 360
	}
	if lon >= 360 {
		lon = 0
	}
	return lon
}

// Wraps a longitude into (-180,180]
func WrapLon180(lon float64) float64 {
	lon = WrapLon360(lon)
	if lon > 180 {
		lon -= 360
	}
	return lon
}

// Applies a latitude/longitude correction in degrees. Crossing a pole
// reflects the latitude back into [-90,90] and moves the longitude by 180.
// The resulting longitude lies in [0,360)
func Normalize(lat, lon float64) (float64, float64) {
	if lat < -90 {
		lat = -180 - lat
		lon += 180
	} else if lat > 90 {
		lat = 180 - lat
		lon += 180
	}
	return lat, WrapLon360(lon)
}

// Photometric angles in degrees and local resolution in meters per pixel
type Angles struct {
	Incidence  float64
	Emission   float64
	Phase      float64
	Resolution float64
}

// Returns the angle between two vectors in degrees
func AngleBetween(a, b r3.Vector) float64 {
	return Degrees(float64(a.Angle(b)))
}
