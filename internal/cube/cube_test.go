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
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/spice"
)

func TestIndex(t *testing.T) {
	assert.Equal(t, 0, Index(0.5))
	assert.Equal(t, 0, Index(1))
	assert.Equal(t, 0, Index(1.499))
	assert.Equal(t, 1, Index(1.5))
	assert.Equal(t, 9, Index(10))
	assert.Equal(t, -1, Index(0.49))
}

func ramp(t PixelType, order binary.ByteOrder) *Cube {
	c := New(7, 5, 2, t)
	c.ByteOrder = order
	if t != Real {
		c.Base, c.Multiplier = 10, 0.5
	}
	for i := range c.Data {
		c.Data[i] = float32(10 + 0.5*float64(i%50+1))
	}
	c.Data[3] = float32(math.NaN())
	return c
}

func TestReadWriteRoundTrip(t *testing.T) {
	for _, pt := range []PixelType{Real, SignedWord, UnsignedByte} {
		for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
			c := ramp(pt, order)
			var buf bytes.Buffer
			require.NoError(t, c.Write(&buf))

			back, err := Read(buf.Bytes())
			require.NoError(t, err, "%s %s", pt, order)
			assert.Equal(t, pt, back.Type)
			assert.Equal(t, order, back.ByteOrder)
			assert.Equal(t, 7, back.Samples)
			assert.Equal(t, 5, back.Lines)
			assert.Equal(t, 2, back.Bands)
			require.Len(t, back.Data, len(c.Data))
			for i := range c.Data {
				if i == 3 {
					assert.True(t, math.IsNaN(float64(back.Data[i])))
					continue
				}
				assert.InDelta(t, c.Data[i], back.Data[i], 1e-6, "%s index %d", pt, i)
			}
		}
	}
}

func TestDNOneBased(t *testing.T) {
	c := New(4, 3, 1, Real)
	for i := range c.Data {
		c.Data[i] = float32(i)
	}
	v, ok := c.DN(1, 1, 1)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	v, ok = c.DN(4.4, 3.4, 1)
	require.True(t, ok)
	assert.Equal(t, 11.0, v)
	v, ok = c.DN(2.6, 1, 1)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	_, ok = c.DN(0.4, 1, 1)
	assert.False(t, ok)
	_, ok = c.DN(4.5, 1, 1)
	assert.False(t, ok)
	_, ok = c.DN(1, 1, 2)
	assert.False(t, ok)

	c.SetDN(2, 2, 1, 99)
	v, _ = c.DN(2, 2, 1)
	assert.Equal(t, 99.0, v)
}

func TestChip(t *testing.T) {
	c := New(4, 4, 1, Real)
	for i := range c.Data {
		c.Data[i] = float32(i)
	}
	chip := c.Chip(1, 1, 3, 3)
	assert.True(t, math.IsNaN(chip[0]))
	assert.Equal(t, 0.0, chip[4])
	assert.Equal(t, 5.0, chip[8])
}

func TestReadErrors(t *testing.T) {
	c := New(3, 3, 1, Real)
	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	_, err := Read(buf.Bytes()[:buf.Len()-4])
	assert.True(t, errs.Is(err, errs.Input))

	c.IsisCube().FindObject("Core").Set("Format", "Tile")
	label := c.Label.String()
	_, err = Read([]byte(label))
	assert.True(t, errs.Is(err, errs.Unsupported))

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.cub"))
	assert.True(t, errs.Is(err, errs.Resource))
}

func testCamera() camera.Camera {
	det := camera.Detector{Samples: 64, Lines: 48, FocalLength: 500, PixelPitch: 0.01, BoresightSample: 32.5, BoresightLine: 24.5}
	target := camera.Target{Name: "MOON", Radius: 1737.4, Sun: r3.Vector{X: 1.5e8}}
	pos := spice.NewConstant([3]float64{1837.4, 0, 0}, 0)
	pnt := spice.NewConstant([3]float64{math.Pi, 0, 0}, 0)
	return camera.NewFraming(camera.FramingID, det, target, 100, pos, pnt)
}

func TestCameraAndSerialSurviveFile(t *testing.T) {
	c := New(64, 48, 1, SignedWord)
	c.SetSerial("TEST/0001", "OBS1")
	require.NoError(t, c.SetCamera(testCamera()))
	fn := filepath.Join(t.TempDir(), "a.cub")
	require.NoError(t, c.WriteFile(fn))

	back, err := ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "TEST/0001", back.Serial())
	assert.Equal(t, "OBS1", back.ObservationID())
	cam, err := back.Camera()
	require.NoError(t, err)
	require.NoError(t, cam.SetImage(32.5, 24.5))
	g, ok := cam.Ground()
	require.True(t, ok)
	assert.InDelta(t, 0, g.Lat, 1e-9)

	label, err := ReadLabel(fn)
	require.NoError(t, err)
	assert.NotNil(t, label.FindGroupDeep("Kernels"))
}

func TestEntriesRejectDuplicateSerials(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for _, n := range []string{"a.cub", "b.cub"} {
		c := New(2, 2, 1, UnsignedByte)
		c.SetSerial("SAME", "")
		fn := filepath.Join(dir, n)
		require.NoError(t, c.WriteFile(fn))
		names = append(names, fn)
	}
	_, err := Entries(names)
	assert.True(t, errs.Is(err, errs.NetworkConsistency))

	list := filepath.Join(dir, "cubes.lis")
	require.NoError(t, os.WriteFile(list, []byte("# images\na.cub\n\n"+names[1]+"\n"), 0o644))
	files, err := ReadList(list)
	require.NoError(t, err)
	assert.Equal(t, names, files)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	opened := 0
	cache := NewCache(1)
	cache.budget = 2 * 100
	cache.open = func(name string) (*Cube, error) {
		opened++
		return New(5, 5, 1, Real), nil
	}

	_, err := cache.Get("a")
	require.NoError(t, err)
	_, err = cache.Get("b")
	require.NoError(t, err)
	_, err = cache.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, opened)

	_, err = cache.Get("c") // evicts b
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, int64(200), cache.Bytes())

	_, err = cache.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 3, opened)
	_, err = cache.Get("b")
	require.NoError(t, err)
	assert.Equal(t, 4, opened)
}

func TestPreviewTIFF(t *testing.T) {
	c := New(8, 4, 1, Real)
	for i := range c.Data {
		c.Data[i] = float32(i)
	}
	var buf bytes.Buffer
	require.NoError(t, c.WritePreviewTIFF(&buf, 1, 0, 0))
	img, err := tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	r, _, _, _ := img.At(7, 3).RGBA()
	assert.Equal(t, uint32(65535), r)
	r, _, _, _ = img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)

	assert.Error(t, c.WritePreviewTIFF(&buf, 2, 0, 1))
}
