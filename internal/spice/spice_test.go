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

package spice

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

func TestPolynomialEvalAndRate(t *testing.T) {
	p := NewPolynomial(2, 100, 10)
	require.NoError(t, p.SetCoefficients(0, []float64{1, 2, 3}))
	v := p.Eval(120) // t=2
	assert.InDelta(t, 1+2*2+3*4, v[0], 1e-12)
	r := p.Rate(120)
	assert.InDelta(t, (2+2*3*2)/10.0, r[0], 1e-12)

	p.SetDegree(3)
	assert.Equal(t, 3, p.Degree())
	assert.Equal(t, []float64{1, 2, 3, 0}, p.Coefficients(0))
	assert.InDelta(t, 8.0, p.Term(120, 3), 1e-12)
	assert.True(t, errs.Is(p.SetCoefficients(1, []float64{1}), errs.Input))
}

func TestPolynomialCloneEqual(t *testing.T) {
	p := NewConstant([3]float64{1, 2, 3}, 5)
	c := p.Clone()
	assert.True(t, p.Equal(c))
	c.Add(1, 0, 1e-9)
	assert.Equal(t, 2+1e-9, c.Coefficients(1)[0])
	assert.False(t, p.Equal(c))
	assert.Equal(t, 2.0, p.Coefficients(1)[0])
}

func TestEulerBoresight(t *testing.T) {
	ra, dec, tw := 0.3, -0.4, 1.1
	m := EulerMatrix(ra, dec, tw)
	b := r3.Vector{X: m[2][0], Y: m[2][1], Z: m[2][2]}
	want := r3.Vector{X: math.Cos(dec) * math.Cos(ra), Y: math.Cos(dec) * math.Sin(ra), Z: math.Sin(dec)}
	assert.InDelta(t, 0, b.Sub(want).Norm(), 1e-14)

	ra2, dec2, tw2 := EulerAngles(m)
	assert.InDelta(t, ra, ra2, 1e-12)
	assert.InDelta(t, dec, dec2, 1e-12)
	assert.InDelta(t, tw, tw2, 1e-12)
}

func TestEulerPartials(t *testing.T) {
	ra, dec, tw := 2.0, 0.25, -0.6
	dRa, dDec, dTw := EulerPartials(ra, dec, tw)
	h := 1e-7
	fd := func(f func(float64) Mat3, x float64) Mat3 {
		a, b := f(x+h), f(x-h)
		var res Mat3
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				res[i][j] = (a[i][j] - b[i][j]) / (2 * h)
			}
		}
		return res
	}
	cases := []struct {
		got  Mat3
		want Mat3
	}{
		{dRa, fd(func(x float64) Mat3 { return EulerMatrix(x, dec, tw) }, ra)},
		{dDec, fd(func(x float64) Mat3 { return EulerMatrix(ra, x, tw) }, dec)},
		{dTw, fd(func(x float64) Mat3 { return EulerMatrix(ra, dec, x) }, tw)},
	}
	for _, c := range cases {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				assert.InDelta(t, c.want[i][j], c.got[i][j], 1e-7)
			}
		}
	}
}

const positionTable = `Object = Table
  Name   = InstrumentPosition
  Record = (10, 1, 2, 3)
  Record = (0, 0, 2, 3)
  Record = (20, 2, 2, 3)
End_Object
End`

func TestTableFitAndVelocity(t *testing.T) {
	doc, err := pvl.ParseString(positionTable)
	require.NoError(t, err)
	tab, err := TableFromPvl(doc.FindObject("Table"))
	require.NoError(t, err)
	start, end := tab.Span()
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 20.0, end)

	v, err := tab.Velocity(1, CentralDifference)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, v[0], 1e-12)
	v, err = tab.Velocity(2, ForwardDifference)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, v[0], 1e-12)
	_, err = tab.Velocity(0, Provided)
	assert.Error(t, err)

	p, err := tab.Fit(1, 1000, false, CentralDifference)
	require.NoError(t, err)
	got := p.Eval(15)
	assert.InDelta(t, 1500, got[0], 1e-9)
	assert.InDelta(t, 2000, got[1], 1e-9)
}

func TestFitWithVelocityRows(t *testing.T) {
	tab := &Table{Name: "InstrumentPosition", Records: []Record{{ET: 0, Values: []float64{5, 0, 0, 2, 0, 0}}}}
	p, err := tab.Fit(1, 1, true, Provided)
	require.NoError(t, err)
	assert.InDelta(t, 5+2*3, p.Eval(3)[0], 1e-12)

	// without velocities the single sample holds
	p, err = tab.Fit(1, 1, true, CentralDifference)
	require.NoError(t, err)
	assert.InDelta(t, 5, p.Eval(3)[0], 1e-12)
}

func TestTimeConversion(t *testing.T) {
	assert.InDelta(t, 0, UTCToET(j2000), 1e-9)

	utc, err := ParseUTC("2017-06-01T00:00:00")
	require.NoError(t, err)
	et := UTCToET(utc)
	back := ETToUTC(et)
	assert.InDelta(t, 0, back.Sub(utc).Seconds(), 1e-6)

	// five leap seconds were inserted between 2000 and mid 2017
	naive := utc.Sub(j2000).Seconds()
	assert.InDelta(t, 5, et-naive, 1e-9)

	_, err = ParseUTC("yesterday")
	assert.Error(t, err)
	_, err = ParseUTC("2008-05-17T09:37:24.7300819")
	assert.NoError(t, err)
}
