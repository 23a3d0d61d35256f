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

package cnet

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

func testNetwork(t *testing.T) *Network {
	n := New("TestNet", "Moon")
	n.UserName = "tester"
	n.Created = "2024-01-02T03:04:05"
	n.LastModified = "2024-01-02T03:04:05"
	n.Description = "unit test network"

	p := NewPoint("P001", Free)
	p.Apriori = geom.Ground{Lat: 1.0 / 3, Lon: -45.123456789012345, Radius: 1737400.25}
	p.AprioriSigmas = [3]float64{10, 10, 50}
	p.ChooserName = "tester"
	p.Comment = "has a comment"
	require.NoError(t, p.AddMeasure(&Measure{Serial: "IMG/A", Sample: 100.5, Line: 200.25, Diameter: 12.5}))
	require.NoError(t, p.AddMeasure(&Measure{Serial: "IMG/B", Sample: 1e-17, Line: math.Pi, SampleResidual: -0.1, LineResidual: 0.2}))
	require.NoError(t, p.AddMeasure(&Measure{Serial: "IMG/C", Sample: 3, Line: 4, Ignored: true, EditLocked: true}))
	require.NoError(t, p.SetReference(1))
	require.NoError(t, n.AddPoint(p))

	q := NewPoint("P002", Fixed)
	q.Apriori = geom.Ground{Lat: -10, Lon: 170, Radius: 1737000}
	q.Adjusted = geom.Ground{Lat: -10.000001, Lon: 170.000002, Radius: 1737001}
	q.AdjustedSigmas = [3]float64{0.5, 0.25, 1.125}
	q.EditLocked = true
	require.NoError(t, q.AddMeasure(&Measure{Serial: "IMG/A", Sample: 10, Line: 20, ChooserName: "x", DateTime: "2024-01-01T00:00:00"}))
	require.NoError(t, n.AddPoint(q))

	r := NewPoint("P003", Constrained)
	r.Ignored = true
	require.NoError(t, r.AddMeasure(&Measure{Serial: "IMG/B", Sample: 1, Line: 1}))
	require.NoError(t, n.AddPoint(r))
	return n
}

func TestUniqueness(t *testing.T) {
	n := testNetwork(t)
	err := n.AddPoint(NewPoint("P001", Free))
	assert.True(t, errs.Is(err, errs.NetworkConsistency))

	err = n.Point("P001").AddMeasure(&Measure{Serial: "IMG/A"})
	assert.True(t, errs.Is(err, errs.NetworkConsistency))
	assert.NoError(t, n.Check())
}

func TestLookupAndOrder(t *testing.T) {
	n := testNetwork(t)
	assert.Equal(t, 3, n.Len())
	assert.Equal(t, "P002", n.At(1).ID)
	p := n.Point("P001")
	require.NotNil(t, p)
	assert.Equal(t, 1, p.MeasureIndex("IMG/B"))
	assert.Equal(t, -1, p.MeasureIndex("IMG/Z"))
	assert.Nil(t, n.Point("nope"))
	assert.Equal(t, 0, p.Measure("IMG/C").Parent())
	assert.Equal(t, []string{"IMG/A", "IMG/B", "IMG/C"}, n.Serials())

	total, valid := n.NumMeasures()
	assert.Equal(t, 5, total)
	assert.Equal(t, 4, valid)
	assert.Equal(t, 1, n.NumIgnored())
}

func TestReferenceNeverIgnored(t *testing.T) {
	p := testNetwork(t).Point("P001")
	assert.Equal(t, Reference, p.At(1).Type())
	assert.Equal(t, Candidate, p.At(0).Type())
	assert.Equal(t, IgnoredMeasure, p.At(2).Type())

	err := p.SetReference(2)
	assert.True(t, errs.Is(err, errs.NetworkConsistency))
	assert.Equal(t, 1, p.RefIndex())

	p.SetMeasureIgnored(1, true)
	assert.Equal(t, -1, p.RefIndex())
	assert.Equal(t, IgnoredMeasure, p.At(1).Type())
	assert.Nil(t, p.Reference())
	assert.NoError(t, p.Check())

	// bypassing the setter is caught
	require.NoError(t, p.SetReference(0))
	p.At(0).Ignored = true
	assert.Error(t, p.Check())
}

func TestRemovePointReindexes(t *testing.T) {
	n := testNetwork(t)
	require.NoError(t, n.RemovePoint("P001"))
	assert.Equal(t, 2, n.Len())
	assert.Equal(t, 0, n.Point("P002").Measures()[0].Parent())
	assert.Equal(t, 1, n.Point("P003").Measures()[0].Parent())
	assert.NoError(t, n.Check())
	assert.True(t, errs.Is(n.RemovePoint("P001"), errs.NetworkConsistency))
}

func TestRemoveMeasureShiftsReference(t *testing.T) {
	p := testNetwork(t).Point("P001")
	require.NoError(t, p.RemoveMeasure("IMG/A"))
	assert.Equal(t, 0, p.RefIndex())
	assert.Equal(t, "IMG/B", p.Reference().Serial)
	assert.NoError(t, p.Check())
}

func TestDeleteIgnored(t *testing.T) {
	n := testNetwork(t)
	points, measures := n.DeleteIgnored()
	assert.Equal(t, 1, points)
	assert.Equal(t, 1, measures)
	assert.Equal(t, 2, n.Len())
	assert.Nil(t, n.Point("P003"))
	assert.Equal(t, 2, n.Point("P001").Len())
	assert.Equal(t, "IMG/B", n.Point("P001").Reference().Serial)
	assert.NoError(t, n.Check())
}

func TestCloneIsDeep(t *testing.T) {
	n := testNetwork(t)
	c := n.Clone()
	c.Point("P001").At(0).Sample = 999
	require.NoError(t, c.Point("P001").SetReference(0))
	require.NoError(t, c.AddPoint(NewPoint("P004", Free)))

	assert.Equal(t, 100.5, n.Point("P001").At(0).Sample)
	assert.Equal(t, 1, n.Point("P001").RefIndex())
	assert.Equal(t, 3, n.Len())
	assert.Nil(t, n.Point("P004"))
}

func TestPvlRoundTripIsByteIdentical(t *testing.T) {
	n := testNetwork(t)
	var first bytes.Buffer
	require.NoError(t, n.Write(&first, FormatPvl))

	back, err := Read(first.Bytes())
	require.NoError(t, err)
	var second bytes.Buffer
	require.NoError(t, back.Write(&second, FormatPvl))
	assert.Equal(t, first.String(), second.String())

	p := back.Point("P001")
	assert.Equal(t, math.Float64bits(1.0/3), math.Float64bits(p.Apriori.Lat))
	assert.Equal(t, 1, p.RefIndex())
	assert.True(t, p.At(2).EditLocked)
	assert.Equal(t, Fixed, back.Point("P002").Type)
}

func TestBinaryRoundTripIsBitExact(t *testing.T) {
	n := testNetwork(t)
	fn := filepath.Join(t.TempDir(), "net.bin")
	require.NoError(t, n.WriteFile(fn, FormatBinary))

	back, err := ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, n.Pvl().String(), back.Pvl().String())
	assert.Equal(t, n.Description, back.Description)
	for i, p := range n.Points() {
		q := back.At(i)
		assert.Equal(t, p.Apriori, q.Apriori)
		assert.Equal(t, p.Adjusted, q.Adjusted)
		assert.Equal(t, p.AdjustedSigmas, q.AdjustedSigmas)
		assert.Equal(t, p.RefIndex(), q.RefIndex())
		for j, m := range p.Measures() {
			assert.Equal(t, *m, *q.At(j))
		}
	}

	var a, b bytes.Buffer
	require.NoError(t, n.WriteBinary(&a))
	require.NoError(t, back.WriteBinary(&b))
	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.True(t, IsBinary(a.Bytes()))
}

func TestBinaryRejectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, testNetwork(t).WriteBinary(&buf))
	_, err := ReadBinary(buf.Bytes()[:buf.Len()-3])
	assert.True(t, errs.Is(err, errs.Input))
}

func TestPvlErrors(t *testing.T) {
	tcs := []struct {
		name string
		text string
		kind errs.Kind
	}{
		{"unknown key", "Object = ControlNetwork\n Object = ControlPoint\n PointId = A\n Bogus = 1\n End_Object\nEnd_Object\nEnd\n", errs.Input},
		{"ignored reference", "Object = ControlNetwork\n Object = ControlPoint\n PointId = A\n Group = ControlMeasure\n SerialNumber = S\n Reference = True\n Ignore = True\n Sample = 1\n Line = 1\n End_Group\n End_Object\nEnd_Object\nEnd\n", errs.NetworkConsistency},
		{"duplicate serial", "Object = ControlNetwork\n Object = ControlPoint\n PointId = A\n Group = ControlMeasure\n SerialNumber = S\n End_Group\n Group = ControlMeasure\n SerialNumber = S\n End_Group\n End_Object\nEnd_Object\nEnd\n", errs.NetworkConsistency},
		{"bad type", "Object = ControlNetwork\n Object = ControlPoint\n PointId = A\n PointType = Weird\n End_Object\nEnd_Object\nEnd\n", errs.Input},
		{"no network", "Object = Foo\nEnd_Object\nEnd\n", errs.Input},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := pvl.ParseString(tc.text)
			require.NoError(t, err)
			_, err = FromPvl(doc)
			assert.True(t, errs.Is(err, tc.kind), "got %v", err)
		})
	}
}
