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

// Package cnet holds the control network: ground points observed by measures in
// several images. Points live in an arena owned by the Network and are
// referenced by index; measures know the index of their point and nothing else.
package cnet

import (
	"strings"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
)

type PointType int

const (
	Free PointType = iota
	Fixed
	Constrained
)

var pointTypeNames = []string{"Free", "Fixed", "Constrained"}

func (t PointType) String() string { return pointTypeNames[t] }

func ParsePointType(s string) (PointType, error) {
	for i, n := range pointTypeNames {
		if strings.EqualFold(n, s) {
			return PointType(i), nil
		}
	}
	// legacy names
	switch strings.ToLower(s) {
	case "tie":
		return Free, nil
	case "ground":
		return Fixed, nil
	}
	return Free, errs.New(errs.Input, "invalid point type %s", s)
}

type MeasureType int

const (
	Candidate MeasureType = iota
	Reference
	IgnoredMeasure
)

func (t MeasureType) String() string {
	return [...]string{"Candidate", "Reference", "Ignored"}[t]
}

// One image observation of a control point
type Measure struct {
	Serial         string
	Sample         float64 // one-based continuous
	Line           float64
	AprioriSample  float64 // position before relocation, zero if never moved
	AprioriLine    float64
	SampleResidual float64 // pixels
	LineResidual   float64
	Diameter       float64
	Ignored        bool
	EditLocked     bool
	ChooserName    string
	DateTime       string

	// Set by outlier rejection during bundle adjustment, never persisted
	Rejected bool

	reference bool
	parent    int
}

// Derived measure type. An ignored measure is never the reference
func (m *Measure) Type() MeasureType {
	if m.Ignored {
		return IgnoredMeasure
	}
	if m.reference {
		return Reference
	}
	return Candidate
}

func (m *Measure) IsReference() bool { return m.reference && !m.Ignored }

// Index of the owning point in its network, or -1 if detached
func (m *Measure) Parent() int { return m.parent }

func (m *Measure) clone() *Measure {
	c := *m
	return &c
}

// A ground point and its measures in insertion order
type Point struct {
	ID             string
	Type           PointType
	Apriori        geom.Ground
	AprioriSigmas  [3]float64 // lat, lon, radius in meters; zero means unconstrained
	Adjusted       geom.Ground
	AdjustedSigmas [3]float64
	Ignored        bool
	EditLocked     bool
	ChooserName    string
	DateTime       string
	Comment        string

	measures []*Measure
	bySerial map[string]int
	refIndex int
	index    int
}

func NewPoint(id string, t PointType) *Point {
	return &Point{ID: id, Type: t, bySerial: map[string]int{}, refIndex: -1, index: -1}
}

// Appends a measure. Serials must be unique within the point
func (p *Point) AddMeasure(m *Measure) error {
	if m.Serial == "" {
		return errs.New(errs.Input, "point %s: measure without serial number", p.ID)
	}
	if p.bySerial == nil {
		p.bySerial = map[string]int{}
	}
	if _, ok := p.bySerial[m.Serial]; ok {
		return errs.New(errs.NetworkConsistency, "point %s: duplicate measure for serial %s", p.ID, m.Serial)
	}
	m.parent = p.index
	m.reference = false
	p.bySerial[m.Serial] = len(p.measures)
	p.measures = append(p.measures, m)
	return nil
}

// Removes the measure for the given serial, keeping order of the others
func (p *Point) RemoveMeasure(serial string) error {
	i, ok := p.bySerial[serial]
	if !ok {
		return errs.New(errs.NetworkConsistency, "point %s has no measure for serial %s", p.ID, serial)
	}
	p.measures[i].parent = -1
	p.measures = append(p.measures[:i], p.measures[i+1:]...)
	delete(p.bySerial, serial)
	for j := i; j < len(p.measures); j++ {
		p.bySerial[p.measures[j].Serial] = j
	}
	switch {
	case p.refIndex == i:
		p.refIndex = -1
	case p.refIndex > i:
		p.refIndex--
	}
	return nil
}

func (p *Point) Measures() []*Measure { return p.measures }
func (p *Point) Len() int             { return len(p.measures) }
func (p *Point) At(i int) *Measure    { return p.measures[i] }

// Returns the measure for the given serial, or nil
func (p *Point) Measure(serial string) *Measure {
	if i, ok := p.bySerial[serial]; ok {
		return p.measures[i]
	}
	return nil
}

// Returns the index of the measure for the given serial, or -1
func (p *Point) MeasureIndex(serial string) int {
	if i, ok := p.bySerial[serial]; ok {
		return i
	}
	return -1
}

// Index of the reference measure or -1
func (p *Point) RefIndex() int { return p.refIndex }

// Returns the reference measure, or nil
func (p *Point) Reference() *Measure {
	if p.refIndex < 0 {
		return nil
	}
	return p.measures[p.refIndex]
}

// Makes the measure at index i the reference and clears the flag on all
// others. An index of -1 clears the reference
func (p *Point) SetReference(i int) error {
	if i < -1 || i >= len(p.measures) {
		return errs.New(errs.NetworkConsistency, "point %s: reference index %d out of range", p.ID, i)
	}
	if i >= 0 && p.measures[i].Ignored {
		return errs.New(errs.NetworkConsistency, "point %s: ignored measure %s cannot be the reference", p.ID, p.measures[i].Serial)
	}
	for j, m := range p.measures {
		m.reference = j == i
	}
	p.refIndex = i
	return nil
}

// Sets or clears the ignored flag of measure i. Ignoring the reference clears it
func (p *Point) SetMeasureIgnored(i int, ignored bool) {
	m := p.measures[i]
	m.Ignored = ignored
	if ignored && p.refIndex == i {
		m.reference = false
		p.refIndex = -1
	}
}

// Number of measures that are not ignored
func (p *Point) ValidMeasures() int {
	n := 0
	for _, m := range p.measures {
		if !m.Ignored {
			n++
		}
	}
	return n
}

// Reports whether the point and all its measures are edit locked
func (p *Point) FullyLocked() bool {
	if !p.EditLocked {
		return false
	}
	for _, m := range p.measures {
		if !m.EditLocked {
			return false
		}
	}
	return true
}

// Best available ground coordinate: adjusted if set, else apriori
func (p *Point) Ground() geom.Ground {
	if p.Adjusted.Radius != 0 {
		return p.Adjusted
	}
	return p.Apriori
}

// Deep copy of the point and its measures
func (p *Point) Clone() *Point {
	c := *p
	c.measures = make([]*Measure, len(p.measures))
	c.bySerial = make(map[string]int, len(p.bySerial))
	for i, m := range p.measures {
		c.measures[i] = m.clone()
		c.bySerial[m.Serial] = i
	}
	return &c
}

// Copies state and measures of o into p, keeping p's position in its network
func (p *Point) CopyFrom(o *Point) {
	idx := p.index
	*p = *o.Clone()
	p.index = idx
	for _, m := range p.measures {
		m.parent = idx
	}
}

// Checks the per-point invariants
func (p *Point) Check() error {
	if len(p.bySerial) != len(p.measures) {
		return errs.New(errs.NetworkConsistency, "point %s: duplicate measure serials", p.ID)
	}
	refs := 0
	for i, m := range p.measures {
		if m.reference {
			refs++
			if i != p.refIndex {
				return errs.New(errs.NetworkConsistency, "point %s: reference flag on measure %s disagrees with reference index", p.ID, m.Serial)
			}
			if m.Ignored {
				return errs.New(errs.NetworkConsistency, "point %s: reference measure %s is ignored", p.ID, m.Serial)
			}
		}
	}
	if refs > 1 {
		return errs.New(errs.NetworkConsistency, "point %s has %d reference measures", p.ID, refs)
	}
	if refs == 0 && p.refIndex >= 0 {
		return errs.New(errs.NetworkConsistency, "point %s: reference index %d without flag", p.ID, p.refIndex)
	}
	return nil
}
