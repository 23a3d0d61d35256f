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

package plot

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/errs"
)

func residualNet(t *testing.T) *cnet.Network {
	net := cnet.New("test", "Moon")
	add := func(id, serial string, s, l, ds, dl float64, rejected bool) {
		p := cnet.NewPoint(id, cnet.Free)
		require.NoError(t, p.AddMeasure(&cnet.Measure{Serial: serial, Sample: s, Line: l,
			SampleResidual: ds, LineResidual: dl, Rejected: rejected}))
		require.NoError(t, net.AddPoint(p))
	}
	add("quiet", "A", 10.5, 10.5, 0, 0, false)
	add("loud", "A", 50.5, 50.5, 3, 4, false)
	add("out", "A", 80.5, 20.5, 0, 0, true)
	add("other", "B", 20.5, 80.5, 1, 0, false)
	return net
}

func TestRampEnds(t *testing.T) {
	assert.Equal(t, Ramp(0, 5), Ramp(-1, 5))
	assert.Equal(t, Ramp(5, 5), Ramp(50, 5))
	assert.NotEqual(t, Ramp(0, 5), Ramp(5, 5))
	lowR, _, _ := low.RGB255()
	assert.Equal(t, lowR, Ramp(0, 0).R)
}

func TestResidualMapColors(t *testing.T) {
	net := residualNet(t)
	img, err := ResidualMap(net, Options{Width: 100, Height: 100, Samples: 100, Lines: 100})
	require.NoError(t, err)

	assert.Equal(t, Ramp(0, 5), img.RGBAAt(10, 10))
	assert.Equal(t, Ramp(5, 5), img.RGBAAt(50, 50))
	assert.Equal(t, rejected, img.RGBAAt(80, 20))
	// residual vector drawn from the measure towards its end point
	assert.Equal(t, Ramp(5, 5), img.RGBAAt(53, 54))
	assert.Equal(t, background, img.RGBAAt(95, 95))
}

func TestResidualMapSingleImage(t *testing.T) {
	net := residualNet(t)
	img, err := ResidualMap(net, Options{Width: 100, Height: 100, Samples: 100, Lines: 100, Serial: "B"})
	require.NoError(t, err)
	assert.Equal(t, background, img.RGBAAt(10, 10))
	assert.Equal(t, Ramp(1, 1), img.RGBAAt(20, 80))
}

func TestWriteResidualMap(t *testing.T) {
	var buf bytes.Buffer
	o := Options{Width: 64, Height: 32, Samples: 100, Lines: 100, Scale: 2}
	require.NoError(t, WriteResidualMap(&buf, residualNet(t), o, 90))
	cfg, err := jpeg.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)

	_, err = ResidualMap(residualNet(t), Options{})
	assert.Equal(t, errs.Input, errs.KindOf(err))
}
