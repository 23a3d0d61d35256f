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
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// How velocities are obtained for a cached position table
type VelocityMethod int

const (
	CentralDifference VelocityMethod = iota // two-point central difference of neighboring samples (default)
	ForwardDifference                       // forward difference to the next sample
	Provided                                // velocity columns 4..6 of the table
)

var velocityMethodNames = map[string]VelocityMethod{
	"centraldifference": CentralDifference,
	"forwarddifference": ForwardDifference,
	"provided":          Provided,
}

func ParseVelocityMethod(s string) (VelocityMethod, error) {
	if s == "" {
		return CentralDifference, nil
	}
	if m, ok := velocityMethodNames[strings.ToLower(s)]; ok {
		return m, nil
	}
	return CentralDifference, errs.New(errs.Input, "unknown velocity method %s", s)
}

// One cached sample of a kernel table
type Record struct {
	ET     float64
	Values []float64
}

// An inlined kernel table: cached samples keyed by ephemeris time, sorted ascending
type Table struct {
	Name    string
	Records []Record
}

// Parses a table object of the form
//
//	Object = Table
//	  Name   = InstrumentPosition
//	  Record = (et, x, y, z[, vx, vy, vz])
//	  ...
//	End_Object
func TableFromPvl(o *pvl.Object) (*Table, error) {
	name, err := o.String("Name")
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name}
	for _, k := range o.Keywords {
		if !strings.EqualFold(k.Name, "Record") {
			continue
		}
		if len(k.Values) < 4 {
			return nil, errs.New(errs.Input, "table %s: record with %d values, need at least 4", name, len(k.Values))
		}
		rec := Record{Values: make([]float64, len(k.Values)-1)}
		if rec.ET, err = k.Float(0); err != nil {
			return nil, err
		}
		for i := range rec.Values {
			if rec.Values[i], err = k.Float(i + 1); err != nil {
				return nil, err
			}
		}
		t.Records = append(t.Records, rec)
	}
	if len(t.Records) == 0 {
		return nil, errs.New(errs.Input, "table %s has no records", name)
	}
	sort.SliceStable(t.Records, func(i, j int) bool { return t.Records[i].ET < t.Records[j].ET })
	return t, nil
}

// Writes the table as a PVL object
func (t *Table) Pvl() *pvl.Object {
	o := pvl.NewObject("Table")
	o.Add("Name", t.Name)
	for _, r := range t.Records {
		o.AddFloats("Record", append([]float64{r.ET}, r.Values...))
	}
	return o
}

// Time span covered by the table
func (t *Table) Span() (start, end float64) {
	return t.Records[0].ET, t.Records[len(t.Records)-1].ET
}

// Returns the velocity of the first three columns at sample i
func (t *Table) Velocity(i int, method VelocityMethod) ([3]float64, error) {
	var v [3]float64
	n := len(t.Records)
	if i < 0 || i >= n {
		return v, errs.New(errs.Input, "table %s: sample %d out of range", t.Name, i)
	}
	if method == Provided {
		r := t.Records[i]
		if len(r.Values) < 6 {
			return v, errs.New(errs.Input, "table %s has no velocity columns", t.Name)
		}
		copy(v[:], r.Values[3:6])
		return v, nil
	}
	if n < 2 {
		return v, errs.New(errs.Input, "table %s: need two samples for finite differences", t.Name)
	}
	lo, hi := i, i+1
	if method == CentralDifference {
		lo, hi = i-1, i+1
	}
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if hi == lo {
		lo = hi - 1
	}
	dt := t.Records[hi].ET - t.Records[lo].ET
	if dt == 0 {
		return v, errs.New(errs.Input, "table %s: duplicate sample times", t.Name)
	}
	for a := 0; a < 3; a++ {
		v[a] = (t.Records[hi].Values[a] - t.Records[lo].Values[a]) / dt
	}
	return v, nil
}

// Fits a polynomial of the given degree to the first three columns of the
// table by linear least squares. The time base is the table midpoint and the
// scale its half span. If the table has fewer samples than coefficients and
// useVelocity is set, velocity rows from the chosen method complete the system.
// Values are multiplied by unit before fitting
func (t *Table) Fit(degree int, unit float64, useVelocity bool, method VelocityMethod) (*Polynomial, error) {
	start, end := t.Span()
	base, scale := (start+end)/2, (end-start)/2
	if scale == 0 {
		scale = 1
	}
	p := NewPolynomial(degree, base, scale)
	nc := degree + 1

	rows := len(t.Records)
	var vels [][3]float64
	if useVelocity && degree > 0 && len(t.Records) < nc {
		for i := range t.Records {
			vel, err := t.Velocity(i, method)
			if err != nil {
				vels = nil // no velocities available, fall back to positions only
				break
			}
			vels = append(vels, vel)
		}
	}
	withVel := vels != nil
	if withVel {
		rows *= 2
	}
	if rows < nc {
		// underdetermined: hold the nearest-midpoint value, higher terms zero
		mid := t.Records[len(t.Records)/2]
		for a := 0; a < 3; a++ {
			p.Coefs[a][0] = mid.Values[a] * unit
		}
		return p, nil
	}

	a := mat.NewDense(rows, nc, nil)
	b := mat.NewDense(rows, 3, nil)
	for i, r := range t.Records {
		tn := p.Time(r.ET)
		pow := 1.0
		for k := 0; k < nc; k++ {
			a.Set(i, k, pow)
			pow *= tn
		}
		for ax := 0; ax < 3; ax++ {
			b.Set(i, ax, r.Values[ax]*unit)
		}
		if withVel {
			vel := vels[i]
			row := len(t.Records) + i
			pow = 1.0
			for k := 1; k < nc; k++ {
				a.Set(row, k, float64(k)*pow/scale)
				pow *= tn
			}
			for ax := 0; ax < 3; ax++ {
				b.Set(row, ax, vel[ax]*unit)
			}
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var x mat.Dense
	if err := qr.SolveTo(&x, false, b); err != nil {
		return nil, errs.Wrap(errs.Numerical, err, "table %s: polynomial fit failed", t.Name)
	}
	for ax := 0; ax < 3; ax++ {
		for k := 0; k < nc; k++ {
			p.Coefs[ax][k] = x.At(k, ax)
		}
	}
	return p, nil
}
