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

package interest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

type stubCamera struct {
	camera.Camera
}

func (stubCamera) SetImage(sample, line float64) error { return nil }
func (stubCamera) Angles() (geom.Angles, error) {
	return geom.Angles{Emission: 10, Incidence: 20, Phase: 30, Resolution: 5}, nil
}
func (stubCamera) Samples() int { return 100 }
func (stubCamera) Lines() int   { return 100 }

func flatCube(dn float32) *cube.Cube {
	c := cube.New(100, 100, 1, cube.Real)
	for i := range c.Data {
		c.Data[i] = dn
	}
	return c
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"Forstner", "Gradient", "Moravec", "NoOp", "StandardDeviation"}, Operators())
	op, err := NewOperator("standarddeviation")
	require.NoError(t, err)
	assert.Equal(t, "StandardDeviation", op.Name())
	_, err = NewOperator("Harris")
	assert.True(t, errs.Is(err, errs.Input))
	assert.Panics(t, func() { Register("NoOp", func() Operator { return NoOp{} }) })
}

func TestNoOpPrefersTack(t *testing.T) {
	cfg := Config{Name: "NoOp", Samples: 3, Lines: 3, DeltaSamp: 4, DeltaLine: 4}
	res, err := Score(flatCube(1), stubCamera{}, Pixel{50.3, 49.8}, cfg)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, math.Pi*math.E, res.Interest)
	assert.Equal(t, Pixel{50, 50}, res.Best)
	assert.Equal(t, 0, res.DeltaSample)
	assert.Equal(t, 10.0, res.Values.Emission)
}

func TestStandardDeviationFindsFeature(t *testing.T) {
	c := flatCube(10)
	c.SetDN(53, 50, 1, 1000)
	cfg := Config{Name: "StandardDeviation", Samples: 3, Lines: 3, DeltaSamp: 5, DeltaLine: 5}
	res, err := Score(c, stubCamera{}, Pixel{50, 50}, cfg)
	require.NoError(t, err)
	require.True(t, res.Valid)
	// every center whose chip covers the feature ties; the closest wins
	assert.Equal(t, Pixel{52, 50}, res.Best)
	assert.Equal(t, 2, res.DeltaSample)
	assert.Equal(t, 0, res.DeltaLine)
	assert.Greater(t, res.Interest, 0.0)
}

func TestMinimumInterest(t *testing.T) {
	cfg := Config{Name: "StandardDeviation", Samples: 3, Lines: 3, DeltaSamp: 2, DeltaLine: 2, MinimumInterest: 1}
	res, err := Score(flatCube(10), stubCamera{}, Pixel{40.2, 40.2}, cfg)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 0.0, res.Interest)
	assert.Equal(t, Pixel{40.2, 40.2}, res.Best)
	assert.Equal(t, 5.0, res.Values.Resolution)
}

func TestValidatorRestrictsCandidates(t *testing.T) {
	c := flatCube(10)
	c.SetDN(53, 50, 1, 1000)
	c.SetDN(52, 50, 1, 5000) // out of DN range, so this center is skipped
	v, err := validate.New(validate.Options{
		MaxEmission: 135, MaxIncidence: 135, MaxPhase: 180, MinDN: 0, MaxDN: 2000, MaxResolution: math.Inf(1),
		SampleResidual: math.Inf(1), LineResidual: math.Inf(1), ResidualMagnitude: math.Inf(1),
		SampleShift: math.Inf(1), LineShift: math.Inf(1), PixelShift: math.Inf(1), ValidateDN: true,
	})
	require.NoError(t, err)
	e, err := New(Config{Name: "NoOp", Samples: 1, Lines: 1, DeltaSamp: 3}, v)
	require.NoError(t, err)
	res, err := e.Score(c, stubCamera{}, Pixel{52, 50})
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.NotEqual(t, Pixel{52, 50}, res.Best)
	assert.Equal(t, 1, res.DeltaSample)
}

func TestNeedsCamera(t *testing.T) {
	_, err := Score(flatCube(1), nil, Pixel{1, 1}, Config{Name: "NoOp", Samples: 1, Lines: 1})
	assert.True(t, errs.Is(err, errs.Input))
}

func pattern(w, h int, f func(x, y int) float64) []float64 {
	res := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			res[y*w+x] = f(x, y)
		}
	}
	return res
}

func TestOperatorsOnPatterns(t *testing.T) {
	const n = 9
	flat := pattern(n, n, func(x, y int) float64 { return 7 })
	edge := pattern(n, n, func(x, y int) float64 {
		if x >= 4 {
			return 100
		}
		return 0
	})
	corner := pattern(n, n, func(x, y int) float64 {
		if x >= 4 && y >= 4 {
			return 100
		}
		return 0
	})

	for _, op := range []Operator{Gradient{}, Moravec{}, Forstner{}, StandardDeviation{}} {
		assert.InDelta(t, 0, op.Interest(flat, n, n), 1e-9, op.Name())
		assert.Greater(t, op.Interest(corner, n, n), 1e-3, op.Name())
	}
	assert.InDelta(t, 0, Moravec{}.Interest(edge, n, n), 1e-9)
	assert.InDelta(t, 0, Forstner{}.Interest(edge, n, n), 1e-3)
	assert.Greater(t, Gradient{}.Interest(edge, n, n), 0.0)

	withHole := append([]float64{}, corner...)
	withHole[0] = math.NaN()
	assert.True(t, math.IsNaN(Forstner{}.Interest(withHole, n, n)))
	assert.False(t, math.IsNaN(Gradient{}.Interest(withHole, n, n)))
	assert.True(t, math.IsNaN(StandardDeviation{}.Interest([]float64{math.NaN(), 1}, 2, 1)))
}

func TestGradientPairsMirrorPixels(t *testing.T) {
	symmetric := []float64{
		1, 2, 3,
		4, 5, 4,
		3, 2, 1,
	}
	assert.Equal(t, 0.0, Gradient{}.Interest(symmetric, 3, 3))

	ramp := []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	// |1-9| + |2-8| + |3-7| + |4-6|
	assert.Equal(t, 20.0, Gradient{}.Interest(ramp, 3, 3))

	// outer ring pairs 1-16, 2-15, 3-14, 4-13, 5-12, 8-9, inner ring 6-11, 7-10
	seq := pattern(4, 4, func(x, y int) float64 { return float64(y*4 + x + 1) })
	assert.Equal(t, 15.0+13+11+9+7+1+5+3, Gradient{}.Interest(seq, 4, 4))

	ramp[0] = math.NaN()
	assert.Equal(t, 12.0, Gradient{}.Interest(ramp, 3, 3))
	assert.True(t, math.IsNaN(Gradient{}.Interest([]float64{5}, 1, 1)))
}

func TestMoravecUsesEightDirections(t *testing.T) {
	// only the left neighbor is close to the center
	chip := []float64{
		0, 0, 0,
		4, 5, 0,
		0, 0, 0,
	}
	assert.Equal(t, 1.0, Moravec{}.Interest(chip, 3, 3))

	ramp := []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	assert.Equal(t, 1.0, Moravec{}.Interest(ramp, 3, 3))
}

func TestInterestAtThresholdRejected(t *testing.T) {
	cfg := Config{Name: "NoOp", Samples: 3, Lines: 3, DeltaSamp: 1, DeltaLine: 1, MinimumInterest: math.Pi * math.E}
	res, err := Score(flatCube(1), stubCamera{}, Pixel{50, 50}, cfg)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, math.Pi*math.E, res.Interest)

	cfg.MinimumInterest = math.Nextafter(math.Pi*math.E, 0)
	res, err = Score(flatCube(1), stubCamera{}, Pixel{50, 50}, cfg)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestParseConfig(t *testing.T) {
	parse := func(text string) (Config, error) {
		doc, err := pvl.ParseString("Group = Operator\n" + text + "End_Group\nEnd\n")
		require.NoError(t, err)
		return ParseConfig(doc.FindGroup("Operator"))
	}
	c, err := parse("Name = Forstner\nSamples = 15\nLines = 15\nDeltaSamp = 5\nDeltaLine = 6\nMinimumInterest = 0.01\nValidMinimum = 0\nClipPolygon = none\n")
	require.NoError(t, err)
	assert.Equal(t, Config{Name: "Forstner", Samples: 15, Lines: 15, DeltaSamp: 5, DeltaLine: 6, MinimumInterest: 0.01}, c)
	assert.Equal(t, "6", c.Pvl().StringOr("DeltaLine", ""))

	for name, text := range map[string]string{
		"unknown operator": "Name = Harris\nSamples = 1\nLines = 1\nDeltaSamp = 0\nDeltaLine = 0\nMinimumInterest = 0\n",
		"unknown key":      "Name = NoOp\nSamples = 1\nLines = 1\nDeltaSamp = 0\nDeltaLine = 0\nMinimumInterest = 0\nFoo = 1\n",
		"missing key":      "Name = NoOp\nSamples = 1\nLines = 1\nDeltaSamp = 0\nMinimumInterest = 0\n",
		"empty chip":       "Name = NoOp\nSamples = 0\nLines = 1\nDeltaSamp = 0\nDeltaLine = 0\nMinimumInterest = 0\n",
		"negative delta":   "Name = NoOp\nSamples = 1\nLines = 1\nDeltaSamp = -1\nDeltaLine = 0\nMinimumInterest = 0\n",
	} {
		_, err := parse(text)
		assert.True(t, errs.Is(err, errs.Input), "%s: %v", name, err)
	}
	_, err = ParseConfig(nil)
	assert.True(t, errs.Is(err, errs.Input))
}
