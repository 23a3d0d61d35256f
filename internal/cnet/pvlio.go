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
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

var (
	aprioriKeys      = [3]string{"AprioriLatitude", "AprioriLongitude", "AprioriRadius"}
	aprioriSigmaKeys = [3]string{"AprioriLatitudeSigma", "AprioriLongitudeSigma", "AprioriRadiusSigma"}
	adjustedKeys     = [3]string{"AdjustedLatitude", "AdjustedLongitude", "AdjustedRadius"}
	adjustedSigmaKey = [3]string{"AdjustedLatitudeSigma", "AdjustedLongitudeSigma", "AdjustedRadiusSigma"}
	groundUnits      = [3]string{"degrees", "degrees", "meters"}
)

// Converts the network to its keyword document form
func (n *Network) Pvl() *pvl.Document {
	doc := pvl.NewDocument()
	o := doc.AddObject(pvl.NewObject("ControlNetwork"))
	o.Add("NetworkId", n.NetworkID)
	o.Add("TargetName", n.TargetName)
	o.Add("UserName", n.UserName)
	o.Add("Created", n.Created)
	o.Add("LastModified", n.LastModified)
	o.Add("Description", n.Description)
	o.Add("Version", "2")
	for _, p := range n.points {
		o.AddObject(pointPvl(p))
	}
	return doc
}

func addGround(c *pvl.Container, keys [3]string, g geom.Ground) {
	for i, v := range [3]float64{g.Lat, g.Lon, g.Radius} {
		c.AddFloat(keys[i], v).Unit = groundUnits[i]
	}
}

func addSigmas(c *pvl.Container, keys [3]string, s [3]float64) {
	if s == [3]float64{} {
		return
	}
	for i, v := range s {
		c.AddFloat(keys[i], v).Unit = "meters"
	}
}

func addFlag(c *pvl.Container, name string, b bool) {
	if b {
		c.Add(name, "True")
	}
}

func addNonZero(c *pvl.Container, name string, v float64) {
	if v != 0 {
		c.AddFloat(name, v)
	}
}

func addNonEmpty(c *pvl.Container, name, v string) {
	if v != "" {
		c.Add(name, v)
	}
}

func pointPvl(p *Point) *pvl.Object {
	o := pvl.NewObject("ControlPoint")
	c := &o.Container
	c.Add("PointType", p.Type.String())
	c.Add("PointId", p.ID)
	addNonEmpty(c, "ChooserName", p.ChooserName)
	addNonEmpty(c, "DateTime", p.DateTime)
	addFlag(c, "Ignore", p.Ignored)
	addFlag(c, "EditLock", p.EditLocked)
	if p.Apriori.Radius != 0 {
		addGround(c, aprioriKeys, p.Apriori)
	}
	addSigmas(c, aprioriSigmaKeys, p.AprioriSigmas)
	if p.Adjusted.Radius != 0 {
		addGround(c, adjustedKeys, p.Adjusted)
	}
	addSigmas(c, adjustedSigmaKey, p.AdjustedSigmas)
	addNonEmpty(c, "Comment", p.Comment)

	for _, m := range p.measures {
		g := o.AddGroup(pvl.NewGroup("ControlMeasure"))
		mc := &g.Container
		mc.Add("SerialNumber", m.Serial)
		mc.Add("MeasureType", "Candidate")
		addFlag(mc, "Reference", m.reference)
		addFlag(mc, "Ignore", m.Ignored)
		addFlag(mc, "EditLock", m.EditLocked)
		addNonEmpty(mc, "ChooserName", m.ChooserName)
		addNonEmpty(mc, "DateTime", m.DateTime)
		mc.AddFloat("Sample", m.Sample)
		mc.AddFloat("Line", m.Line)
		addNonZero(mc, "AprioriSample", m.AprioriSample)
		addNonZero(mc, "AprioriLine", m.AprioriLine)
		addNonZero(mc, "SampleResidual", m.SampleResidual)
		addNonZero(mc, "LineResidual", m.LineResidual)
		addNonZero(mc, "Diameter", m.Diameter)
	}
	return o
}

// Parses a network from its keyword document form
func FromPvl(doc *pvl.Document) (*Network, error) {
	o := doc.FindObject("ControlNetwork")
	if o == nil {
		return nil, errs.New(errs.Input, "document has no ControlNetwork object")
	}
	if err := o.CheckKeys("NetworkId", "TargetName", "UserName", "Created", "LastModified", "Description", "Version"); err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading network")
	}
	n := New(o.StringOr("NetworkId", ""), o.StringOr("TargetName", ""))
	n.UserName = o.StringOr("UserName", "")
	n.Created = o.StringOr("Created", "")
	n.LastModified = o.StringOr("LastModified", "")
	n.Description = o.StringOr("Description", "")
	for _, po := range o.ObjectsNamed("ControlPoint") {
		p, err := pointFromPvl(po)
		if err != nil {
			return nil, err
		}
		if err := n.AddPoint(p); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func readGround(c *pvl.Container, keys [3]string) (g geom.Ground, ok bool, err error) {
	if !c.Has(keys[0]) {
		return g, false, nil
	}
	var v [3]float64
	for i, k := range keys {
		if v[i], err = c.Float(k); err != nil {
			return g, false, err
		}
	}
	return geom.Ground{Lat: v[0], Lon: v[1], Radius: v[2]}, true, nil
}

func readSigmas(c *pvl.Container, keys [3]string) (s [3]float64, err error) {
	for i, k := range keys {
		if s[i], err = c.FloatOr(k, 0); err != nil {
			return s, err
		}
	}
	return s, nil
}

var pointKeys = []string{"PointType", "PointId", "ChooserName", "DateTime", "Ignore", "EditLock", "Comment"}

func pointFromPvl(o *pvl.Object) (*Point, error) {
	c := &o.Container
	allowed := append([]string{}, pointKeys...)
	for _, ks := range [][3]string{aprioriKeys, aprioriSigmaKeys, adjustedKeys, adjustedSigmaKey} {
		allowed = append(allowed, ks[:]...)
	}
	id, err := c.String("PointId")
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "reading control point")
	}
	wrap := func(err error) error { return errs.Wrap(errs.Input, err, "reading control point %s", id) }
	if err := c.CheckKeys(allowed...); err != nil {
		return nil, wrap(err)
	}
	t, err := ParsePointType(c.StringOr("PointType", "Free"))
	if err != nil {
		return nil, wrap(err)
	}
	p := NewPoint(id, t)
	p.ChooserName = c.StringOr("ChooserName", "")
	p.DateTime = c.StringOr("DateTime", "")
	p.Comment = c.StringOr("Comment", "")
	if p.Ignored, err = c.BoolOr("Ignore", false); err != nil {
		return nil, wrap(err)
	}
	if p.EditLocked, err = c.BoolOr("EditLock", false); err != nil {
		return nil, wrap(err)
	}
	if p.Apriori, _, err = readGround(c, aprioriKeys); err != nil {
		return nil, wrap(err)
	}
	if p.AprioriSigmas, err = readSigmas(c, aprioriSigmaKeys); err != nil {
		return nil, wrap(err)
	}
	if p.Adjusted, _, err = readGround(c, adjustedKeys); err != nil {
		return nil, wrap(err)
	}
	if p.AdjustedSigmas, err = readSigmas(c, adjustedSigmaKey); err != nil {
		return nil, wrap(err)
	}

	ref := -1
	for i, g := range o.Groups {
		m, isRef, err := measureFromPvl(g)
		if err != nil {
			return nil, wrap(err)
		}
		if err := p.AddMeasure(m); err != nil {
			return nil, err
		}
		if isRef {
			if ref >= 0 {
				return nil, errs.New(errs.NetworkConsistency, "point %s has more than one reference measure", id)
			}
			ref = i
		}
	}
	if ref >= 0 {
		if err := p.SetReference(ref); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var measureKeys = []string{"SerialNumber", "MeasureType", "Reference", "Ignore", "EditLock", "ChooserName",
	"DateTime", "Sample", "Line", "AprioriSample", "AprioriLine", "SampleResidual", "LineResidual", "Diameter"}

func measureFromPvl(g *pvl.Group) (m *Measure, isRef bool, err error) {
	c := &g.Container
	if err := c.CheckKeys(measureKeys...); err != nil {
		return nil, false, err
	}
	m = &Measure{ChooserName: c.StringOr("ChooserName", ""), DateTime: c.StringOr("DateTime", "")}
	if m.Serial, err = c.String("SerialNumber"); err != nil {
		return nil, false, err
	}
	if isRef, err = c.BoolOr("Reference", false); err != nil {
		return nil, false, err
	}
	if m.Ignored, err = c.BoolOr("Ignore", false); err != nil {
		return nil, false, err
	}
	if m.EditLocked, err = c.BoolOr("EditLock", false); err != nil {
		return nil, false, err
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"Sample", &m.Sample}, {"Line", &m.Line},
		{"AprioriSample", &m.AprioriSample}, {"AprioriLine", &m.AprioriLine},
		{"SampleResidual", &m.SampleResidual}, {"LineResidual", &m.LineResidual},
		{"Diameter", &m.Diameter},
	}
	for _, f := range floats {
		if *f.dst, err = c.FloatOr(f.key, 0); err != nil {
			return nil, false, err
		}
	}
	return m, isRef, nil
}
