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

// Package stats computes residual statistics: basic moments, median and
// median absolute deviation, rejection limits and histograms.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/mlnoga/cnetbundle/internal/qsort"
)

// Scales a median absolute deviation to a standard deviation for normal data
const MADScale = 1.4826

// Basic statistics on data arrays
type BasicStats struct {
	N      int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64 // population standard deviation
	RMS    float64
	Median float64
	MAD    float64 // scaled by MADScale
}

// Pretty print basic stats to string
func (s *BasicStats) String() string {
	return fmt.Sprintf("N %d Min %.6g Max %.6g Mean %.6g StdDev %.6g RMS %.6g Median %.6g MAD %.6g",
		s.N, s.Min, s.Max, s.Mean, s.StdDev, s.RMS, s.Median, s.MAD)
}

// Pretty print basic stats to CSV header
func (s *BasicStats) ToCSVHeader() string {
	return "N,Min,Max,Mean,StdDev,RMS,Median,MAD"
}

// Pretty print basic stats to CSV line item
func (s *BasicStats) ToCSVLine() string {
	return fmt.Sprintf("%d,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g",
		s.N, s.Min, s.Max, s.Mean, s.StdDev, s.RMS, s.Median, s.MAD)
}

// Calculate basic statistics for a data array. Returns zero stats for empty data
func CalcBasicStats(data []float64) *BasicStats {
	s := &BasicStats{N: len(data)}
	if len(data) == 0 {
		return s
	}
	s.Min, s.Max = floats.Min(data), floats.Max(data)
	s.Mean = floats.Sum(data) / float64(len(data))
	variance, sumSq := 0.0, 0.0
	for _, d := range data {
		diff := d - s.Mean
		variance += diff * diff
		sumSq += d * d
	}
	s.StdDev = math.Sqrt(variance / float64(len(data)))
	s.RMS = math.Sqrt(sumSq / float64(len(data)))
	s.Median, s.MAD = MedianAndMAD(data)
	return s
}

// Median and scaled median absolute deviation. The input is not modified
func MedianAndMAD(data []float64) (median, mad float64) {
	if len(data) == 0 {
		return 0, 0
	}
	tmp := make([]float64, len(data))
	copy(tmp, data)
	median = qsort.QSelectMedianFloat64(tmp) // reorders, doesnt matter
	for i, d := range data {
		tmp[i] = math.Abs(d - median)
	}
	mad = qsort.QSelectMedianFloat64(tmp) * MADScale
	return median, mad
}

// Outlier rejection limit median + multiplier*MAD of the given residual magnitudes
func RejectionLimit(magnitudes []float64, multiplier float64) float64 {
	median, mad := MedianAndMAD(magnitudes)
	return median + multiplier*mad
}

// Root mean square of the data, 0 for empty data
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}
