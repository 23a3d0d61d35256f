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

package qsort

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fastrand"
)

// Random permutation of 1..n
func permutation(rng *fastrand.RNG, n int) []float64 {
	arr := make([]float64, n)
	for j := range arr {
		arr[j] = float64(j + 1)
	}
	for j := range arr {
		k := rng.Uint32n(uint32(n))
		arr[j], arr[k] = arr[k], arr[j]
	}
	return arr
}

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	for i := 1; i < 1000; i++ {
		arr := permutation(&rng, i)

		var expect float64
		if (i & 1) != 0 {
			expect = float64((i + 1) / 2)
		} else {
			expect = 0.5 * (float64(i/2) + float64(i/2+1))
		}

		res := QSelectMedianFloat64(arr)
		if res != expect {
			t.Fatalf("median(1..%d) got %f expect %f", i, res, expect)
		}
	}
	assert.Equal(t, 0.0, QSelectMedianFloat64(nil))
}

func TestSelect(t *testing.T) {
	rng := fastrand.RNG{}
	arr := permutation(&rng, 257)
	for _, k := range []int{1, 2, 100, 256, 257} {
		assert.Equal(t, float64(k), QSelectFloat64(arr, k))
	}
}

func TestSortWithDuplicates(t *testing.T) {
	rng := fastrand.RNG{}
	arr := make([]float64, 500)
	for i := range arr {
		arr[i] = float64(rng.Uint32n(20))
	}
	QSortFloat64(arr)
	assert.True(t, sort.Float64sAreSorted(arr))
}
