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

package stats

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBasicStats(t *testing.T) {
	s := CalcBasicStats([]float64{1, 2, 3, 4, 100})
	assert.Equal(t, 5, s.N)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.Equal(t, 22.0, s.Mean)
	assert.Equal(t, 3.0, s.Median)
	assert.InDelta(t, 1.4826, s.MAD, 1e-12)
	assert.InDelta(t, math.Sqrt((1+4+9+16+10000)/5.0), s.RMS, 1e-12)
	assert.Contains(t, s.String(), "Median 3")
	assert.Equal(t, 8, len(strings.Split(s.ToCSVLine(), ",")))

	assert.Equal(t, 0, CalcBasicStats(nil).N)
}

func TestMedianAndMADKeepsInput(t *testing.T) {
	data := []float64{5, 1, 4, 2}
	median, mad := MedianAndMAD(data)
	assert.Equal(t, 3.0, median)
	assert.InDelta(t, 1.5*MADScale, mad, 1e-12) // deviations 2,2,1,1
	assert.Equal(t, []float64{5, 1, 4, 2}, data)
}

func TestRejectionLimit(t *testing.T) {
	res := []float64{1, 1, 1, 1, 1, 10}
	assert.Equal(t, 1.0, RejectionLimit(res, 3)) // MAD is zero
	res = []float64{1, 2, 3}
	assert.InDelta(t, 2+2*MADScale, RejectionLimit(res, 2), 1e-12)
}

func TestHistogram(t *testing.T) {
	bins := make([]int32, 4)
	Histogram([]float64{-1, 0, 0.3, 1.1, 2.6, 3.9, 4, 9, math.NaN()}, 0, 4, bins)
	assert.Equal(t, []int32{3, 1, 1, 3}, bins)
	x, n := GetPeak(bins, 0, 4)
	assert.Equal(t, 0.5, x)
	assert.Equal(t, int32(3), n)
	assert.Equal(t, []float64{0, 1, 2, 3}, BinEdges(0, 4, 4))
}
