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

import "math"

// Calculate histogram of data between min and max into given bins.
// Values outside the range are clamped into the first or last bin
func Histogram(data []float64, min, max float64, bins []int32) {
	for i := range bins {
		bins[i] = 0
	}
	if len(bins) == 0 {
		return
	}
	scale := 0.0
	if max > min {
		scale = float64(len(bins)) / (max - min)
	}
	for _, d := range data {
		if math.IsNaN(d) {
			continue
		}
		index := int((d - min) * scale)
		if index < 0 {
			index = 0
		} else if index >= len(bins) {
			index = len(bins) - 1
		}
		bins[index]++
	}
}

// Returns the lower edge of each bin
func BinEdges(min, max float64, numBins int) []float64 {
	edges := make([]float64, numBins)
	for i := range edges {
		edges[i] = min + float64(i)*(max-min)/float64(numBins)
	}
	return edges
}

// Returns the center location and the count of the histogram peak
func GetPeak(bins []int32, min, max float64) (x float64, count int32) {
	maxIndex, maxValue := -1, int32(math.MinInt32)
	for i, v := range bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	if maxIndex < 0 {
		return math.NaN(), 0
	}
	x = min + (float64(maxIndex)+0.5)*(max-min)/float64(len(bins))
	return x, maxValue
}
