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
	"sort"

	"go.uber.org/multierr"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// A control network. Points are kept in insertion order
type Network struct {
	NetworkID    string
	TargetName   string
	UserName     string
	Created      string
	LastModified string
	Description  string

	points []*Point
	byID   map[string]int
}

func New(id, target string) *Network {
	return &Network{NetworkID: id, TargetName: target, byID: map[string]int{}}
}

// Appends a point. Point IDs must be unique
func (n *Network) AddPoint(p *Point) error {
	if p.ID == "" {
		return errs.New(errs.Input, "point without id")
	}
	if n.byID == nil {
		n.byID = map[string]int{}
	}
	if _, ok := n.byID[p.ID]; ok {
		return errs.New(errs.NetworkConsistency, "duplicate point id %s", p.ID)
	}
	if p.bySerial == nil {
		p.bySerial = map[string]int{}
		for i, m := range p.measures {
			p.bySerial[m.Serial] = i
		}
	}
	p.setIndex(len(n.points))
	n.byID[p.ID] = len(n.points)
	n.points = append(n.points, p)
	return nil
}

func (p *Point) setIndex(i int) {
	p.index = i
	for _, m := range p.measures {
		m.parent = i
	}
}

// Removes the point with the given id, keeping order of the others
func (n *Network) RemovePoint(id string) error {
	i, ok := n.byID[id]
	if !ok {
		return errs.New(errs.NetworkConsistency, "no point with id %s", id)
	}
	n.points[i].setIndex(-1)
	n.points = append(n.points[:i], n.points[i+1:]...)
	delete(n.byID, id)
	for j := i; j < len(n.points); j++ {
		n.points[j].setIndex(j)
		n.byID[n.points[j].ID] = j
	}
	return nil
}

// Returns the point with the given id, or nil
func (n *Network) Point(id string) *Point {
	if i, ok := n.byID[id]; ok {
		return n.points[i]
	}
	return nil
}

func (n *Network) Points() []*Point { return n.points }
func (n *Network) Len() int         { return len(n.points) }
func (n *Network) At(i int) *Point  { return n.points[i] }

// Total number of measures, and of those that are not ignored
func (n *Network) NumMeasures() (total, valid int) {
	for _, p := range n.points {
		total += p.Len()
		valid += p.ValidMeasures()
	}
	return total, valid
}

// Number of ignored points
func (n *Network) NumIgnored() int {
	res := 0
	for _, p := range n.points {
		if p.Ignored {
			res++
		}
	}
	return res
}

// Sorted unique serial numbers referenced by any measure
func (n *Network) Serials() []string {
	seen := map[string]bool{}
	for _, p := range n.points {
		for _, m := range p.measures {
			seen[m.Serial] = true
		}
	}
	res := make([]string, 0, len(seen))
	for s := range seen {
		res = append(res, s)
	}
	sort.Strings(res)
	return res
}

// Deep copy
func (n *Network) Clone() *Network {
	c := *n
	c.points = make([]*Point, len(n.points))
	c.byID = make(map[string]int, len(n.byID))
	for i, p := range n.points {
		c.points[i] = p.Clone()
		c.byID[p.ID] = i
	}
	return &c
}

// Replaces the content of n with a deep copy of o
func (n *Network) CopyFrom(o *Network) {
	*n = *o.Clone()
}

// Verifies the network invariants, returning all violations combined
func (n *Network) Check() error {
	var err error
	if len(n.byID) != len(n.points) {
		err = multierr.Append(err, errs.New(errs.NetworkConsistency, "duplicate point ids"))
	}
	for i, p := range n.points {
		if p.index != i {
			err = multierr.Append(err, errs.New(errs.NetworkConsistency, "point %s has stale index %d, expected %d", p.ID, p.index, i))
		}
		err = multierr.Append(err, p.Check())
	}
	if err != nil {
		return errs.Wrap(errs.NetworkConsistency, err, "network %s", n.NetworkID)
	}
	return nil
}

// Deletes ignored points, and ignored measures of the remaining points.
// Returns the number of points and measures deleted
func (n *Network) DeleteIgnored() (points, measures int) {
	kept := n.points[:0]
	n.byID = map[string]int{}
	for _, p := range n.points {
		if p.Ignored {
			points++
			p.setIndex(-1)
			continue
		}
		for i := p.Len() - 1; i >= 0; i-- {
			if m := p.measures[i]; m.Ignored {
				_ = p.RemoveMeasure(m.Serial)
				measures++
			}
		}
		p.setIndex(len(kept))
		n.byID[p.ID] = len(kept)
		kept = append(kept, p)
	}
	n.points = kept
	return points, measures
}
