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
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// An interest operator scores a row-major chip of w*h pixels. Larger is more
// interesting. NaN pixels are invalid; a chip without enough valid pixels
// scores NaN
type Operator interface {
	Name() string
	Interest(chip []float64, w, h int) float64
	// Extra border pixels the operator needs around the nominal window
	Padding() int
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Operator{}
)

// Registers an operator constructor by name. Panics on re-registration
func Register(name string, f func() Operator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	key := strings.ToLower(name)
	if _, ok := registry[key]; ok {
		panic("interest: re-registering operator " + name)
	}
	registry[key] = f
}

// Returns a new operator by case-insensitive name
func NewOperator(name string) (Operator, error) {
	registryMu.RLock()
	f := registry[strings.ToLower(name)]
	registryMu.RUnlock()
	if f == nil {
		return nil, errs.New(errs.Input, "unknown interest operator %s", name)
	}
	return f(), nil
}

// Names of all registered operators, sorted
func Operators() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	res := make([]string, 0, len(registry))
	for _, f := range registry {
		res = append(res, f().Name())
	}
	sort.Strings(res)
	return res
}

func init() {
	Register("StandardDeviation", func() Operator { return StandardDeviation{} })
	Register("Gradient", func() Operator { return Gradient{} })
	Register("Moravec", func() Operator { return Moravec{} })
	Register("Forstner", func() Operator { return Forstner{} })
	Register("NoOp", func() Operator { return NoOp{} })
}

// Standard deviation of the valid pixels
type StandardDeviation struct{}

func (StandardDeviation) Name() string { return "StandardDeviation" }
func (StandardDeviation) Padding() int { return 0 }

func (StandardDeviation) Interest(chip []float64, w, h int) float64 {
	valid := make([]float64, 0, len(chip))
	for _, v := range chip {
		if !math.IsNaN(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < 2 {
		return math.NaN()
	}
	return stat.StdDev(valid, nil)
}

// Sum of absolute differences between each pixel and its mirror image through
// the chip center, accumulated ring by ring from the border inward. A chip
// that is point-symmetric about its center scores zero
type Gradient struct{}

func (Gradient) Name() string { return "Gradient" }
func (Gradient) Padding() int { return 0 }

func (Gradient) Interest(chip []float64, w, h int) float64 {
	sum, n := 0.0, 0
	rings := (min(w, h) + 1) / 2
	for r := 0; r < rings; r++ {
		for y := r; y < h-r; y++ {
			for x := r; x < w-r; x++ {
				if y != r && y != h-1-r && x != r && x != w-1-r {
					continue // inner pixel, visited with a later ring
				}
				i, j := y*w+x, (h-1-y)*w+(w-1-x)
				if i >= j {
					continue // each pair once, the center not at all
				}
				a, b := chip[i], chip[j]
				if math.IsNaN(a) || math.IsNaN(b) {
					continue
				}
				sum += math.Abs(a - b)
				n++
			}
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum
}

// Minimum over eight directions of summed squared differences between each
// interior pixel and its neighbor in that direction
type Moravec struct{}

func (Moravec) Name() string { return "Moravec" }
func (Moravec) Padding() int { return 2 }

var moravecShifts = [8][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {1, 1}, {-1, -1}, {1, -1}, {-1, 1}}

func (Moravec) Interest(chip []float64, w, h int) float64 {
	best := math.Inf(1)
	for _, d := range moravecShifts {
		sum, n := 0.0, 0
		for y := 1; y < h-1; y++ {
			for x := 1; x < w-1; x++ {
				a, b := chip[y*w+x], chip[(y+d[1])*w+x+d[0]]
				if math.IsNaN(a) || math.IsNaN(b) {
					continue
				}
				sum += (a - b) * (a - b)
				n++
			}
		}
		if n == 0 {
			return math.NaN()
		}
		best = math.Min(best, sum)
	}
	return best
}

// Constant score of pi times e for testing the search
type NoOp struct{}

func (NoOp) Name() string { return "NoOp" }
func (NoOp) Padding() int { return 0 }

func (NoOp) Interest(chip []float64, w, h int) float64 { return math.Pi * math.E }
