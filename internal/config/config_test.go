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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/bundle"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/refselect"
)

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
workers: 4
logging:
  level: debug
  format: json
select:
  criterion: NearestResolution
  resolution: 25
bundle:
  method: Cholesky
  solveRadius: true
  pointSigmas: [100, 100, 500]
  held: [A, B]
  commit: LastIteration
`))
	require.NoError(t, err)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, refselect.NearestResolution, c.Select.Criterion)
	assert.Equal(t, bundle.Cholesky, c.Bundle.Method)
	assert.True(t, c.Bundle.SolveRadius)
	assert.Equal(t, [3]float64{100, 100, 500}, c.Bundle.PointSigmas)
	assert.Equal(t, []string{"A", "B"}, c.Bundle.Held)
	assert.Equal(t, bundle.LastIteration, c.Bundle.Commit)
	// untouched keys keep their defaults
	assert.Equal(t, bundle.AnglesOnly, c.Bundle.Pointing)
	assert.Equal(t, 50, c.Bundle.MaxIterations)
	assert.Equal(t, ":8080", c.Listen)

	r, err := c.Refselect()
	require.NoError(t, err)
	assert.Equal(t, 25.0, r.Resolution)
	assert.Equal(t, 4, r.Workers)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown method":    "bundle:\n  method: LU\n",
		"unknown criterion": "select:\n  criterion: Brightest\n",
		"zero workers":      "workers: 0\n",
		"log format":        "logging:\n  format: xml\n",
		"missing target":    "select:\n  criterion: NearestResolution\n",
		"negative sigma":    "bundle:\n  pointSigmas: [-1, 0, 0]\n",
		"broken yaml":       "bundle: [\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(text))
			require.Error(t, err)
			assert.Equal(t, errs.Input, errs.KindOf(err))
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	c := Default()
	c.Workers = 3
	c.Bundle.Method = bundle.QR
	c.Bundle.Held = []string{"X"}
	c.Select.Criterion = refselect.ResolutionRange
	c.Select.MinResolution, c.Select.MaxResolution = 10, 20
	c.Select.Strict = true
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.Workers, got.Workers)
	assert.Equal(t, c.Bundle.Method, got.Bundle.Method)
	assert.Equal(t, c.Bundle.Held, got.Bundle.Held)
	assert.Equal(t, c.Select, got.Select)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, errs.Input, errs.KindOf(err))
}

func TestDefinitionFile(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "def.pvl")
	require.NoError(t, os.WriteFile(def, []byte(`Object = Definition
  Group = ValidMeasure
    MaxEmission = 40
  End_Group
  Group = Operator
    Name = StandardDeviation
    Samples = 5
    Lines = 5
    DeltaSamp = 2
    DeltaLine = 2
    MinimumInterest = 0.01
  End_Group
End_Object
End
`), 0644))

	c := Default()
	c.Select.Criterion = refselect.Interest
	c.Select.Definition = def
	r, err := c.Refselect()
	require.NoError(t, err)
	assert.Equal(t, 40.0, r.Validate.MaxEmission)
	assert.Equal(t, 5, r.Interest.Samples)

	c.Select.Definition = ""
	_, err = c.Refselect()
	assert.Equal(t, errs.Input, errs.KindOf(err))
}
