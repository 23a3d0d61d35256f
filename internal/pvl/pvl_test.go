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

package pvl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLabel = `/* cube label */
Object = IsisCube
  Object = Core
    StartByte = 65537
    Format    = BandSequential
    Group = Dimensions
      Samples = 128
      Lines   = 64
      Bands   = 1
    End_Group
  End_Object

  Group = Instrument
    InstrumentId = FRAMING
    FocalLength  = 1000.5 <mm>
    Note         = "two
                    lines"
  End_Group
End_Object

Group = Kernels
  Radii = (1737.4, 1737.4, 1737.4) <km>
End_Group
End
trailing binary data is never parsed`

func TestReadLabel(t *testing.T) {
	doc, err := ParseString(sampleLabel)
	require.NoError(t, err)

	cube := doc.FindObject("isiscube")
	require.NotNil(t, cube)
	core := cube.FindObject("Core")
	require.NotNil(t, core)
	start, err := core.Int("StartByte")
	require.NoError(t, err)
	assert.Equal(t, 65537, start)

	dims := doc.FindGroupDeep("Dimensions")
	require.NotNil(t, dims)
	samples, err := dims.Int("Samples")
	require.NoError(t, err)
	assert.Equal(t, 128, samples)

	inst := cube.FindGroup("Instrument")
	require.NotNil(t, inst)
	focal := inst.Find("FocalLength")
	require.NotNil(t, focal)
	assert.Equal(t, "mm", focal.Unit)
	assert.Equal(t, "two lines", inst.StringOr("Note", ""))

	radii, err := doc.FindGroup("Kernels").Floats("Radii")
	require.NoError(t, err)
	assert.Equal(t, []float64{1737.4, 1737.4, 1737.4}, radii)
}

func TestRoundTripIsStable(t *testing.T) {
	doc, err := ParseString(sampleLabel)
	require.NoError(t, err)
	first := doc.String()

	again, err := ParseString(first)
	require.NoError(t, err)
	assert.Equal(t, first, again.String())
}

func TestFloatsSurviveRoundTrip(t *testing.T) {
	vals := []float64{0.1, 1.0 / 3.0, -2.5e-17, 123456789.123456789}
	doc := NewDocument()
	g := doc.AddGroup(NewGroup("Numbers"))
	g.AddFloats("Values", vals)

	back, err := ParseString(doc.String())
	require.NoError(t, err)
	got, err := back.FindGroup("Numbers").Floats("Values")
	require.NoError(t, err)
	assert.Equal(t, vals, got)
}

func TestCheckKeys(t *testing.T) {
	g := NewGroup("Operator")
	g.Add("Name", "StandardDeviation")
	g.Add("DeltaLine", "5")
	assert.NoError(t, g.CheckKeys("Name", "DeltaLine", "DeltaSamp"))

	g.Add("Bogus", "1")
	err := g.CheckKeys("Name", "DeltaLine", "DeltaSamp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bogus")
}

func TestReadErrors(t *testing.T) {
	tcs := []string{
		"Group = A\n  X = 1\n",          // unterminated group
		"Object = A\n End_Group\nEnd\n", // mismatched end
		"X 1\nEnd\n",                    // missing equals
		"X = \"open\nEnd\n",             // unterminated string
	}
	for _, tc := range tcs {
		_, err := ParseString(tc)
		assert.Error(t, err, tc)
	}
}
