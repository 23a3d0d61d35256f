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

package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
)

func small() Options {
	o := DefaultOptions()
	o.Samples, o.Lines = 64, 64
	o.Spacing = 0.0017
	o.Texture = false
	return o
}

func TestGenerateTiesOverlaps(t *testing.T) {
	s, err := Generate(small())
	require.NoError(t, err)
	require.Len(t, s.Cubes, 3)
	require.Greater(t, s.Network.Len(), 0)
	for _, p := range s.Network.Points() {
		assert.GreaterOrEqual(t, p.Len(), 2, p.ID)
		assert.Equal(t, 0, p.RefIndex())
		for _, m := range p.Measures() {
			k := indexOf(s.Serials, m.Serial)
			smp, ln, err := s.Truth[k].SetGround(p.Apriori, false)
			require.NoError(t, err)
			assert.InDelta(t, smp, m.Sample, 1e-9)
			assert.InDelta(t, ln, m.Line, 1e-9)
		}
	}
	// the first image carries the true pointing, the others are perturbed
	cam0, err := s.Cubes[0].Camera()
	require.NoError(t, err)
	assert.Equal(t, s.Truth[0].Pointing().Coefficients(0), cam0.Pointing().Coefficients(0))
	cam1, err := s.Cubes[1].Camera()
	require.NoError(t, err)
	assert.NotEqual(t, s.Truth[1].Pointing().Coefficients(0), cam1.Pointing().Coefficients(0))
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}

func TestGenerateIsSeeded(t *testing.T) {
	o := small()
	o.MeasureNoise = 0.3
	a, err := Generate(o)
	require.NoError(t, err)
	b, err := Generate(o)
	require.NoError(t, err)
	assert.Equal(t, a.Network.Pvl().String(), b.Network.Pvl().String())

	o.Seed = 2
	c, err := Generate(o)
	require.NoError(t, err)
	assert.NotEqual(t, a.Network.Pvl().String(), c.Network.Pvl().String())
}

func TestTextureAgreesAcrossImages(t *testing.T) {
	o := small()
	o.Texture = true
	s, err := Generate(o)
	require.NoError(t, err)
	var lo, hi float32 = 1e9, -1e9
	for _, v := range s.Cubes[0].Data {
		lo, hi = min(lo, v), max(hi, v)
	}
	assert.Less(t, lo, hi)
}

func TestGenerateRejects(t *testing.T) {
	o := small()
	o.Images = 0
	_, err := Generate(o)
	assert.Equal(t, errs.Input, errs.KindOf(err))

	o = small()
	o.Spacing = 10
	_, err = Generate(o)
	assert.Equal(t, errs.Input, errs.KindOf(err))
}

func TestWriteTo(t *testing.T) {
	s, err := Generate(small())
	require.NoError(t, err)
	dir := t.TempDir()
	list, netFile, err := s.WriteTo(dir, cnet.FormatBinary)
	require.NoError(t, err)

	names, err := cube.ReadList(list)
	require.NoError(t, err)
	entries, err := cube.Entries(names)
	require.NoError(t, err)
	require.Len(t, entries, len(s.Serials))
	for i, e := range entries {
		assert.Equal(t, s.Serials[i], e.Serial)
	}

	net, err := cnet.ReadFile(netFile)
	require.NoError(t, err)
	assert.Equal(t, s.Network.Len(), net.Len())
}
