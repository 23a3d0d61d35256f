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

package pvl

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// A keyword with one or more values and an optional unit
type Keyword struct {
	Name   string
	Values []string
	Unit   string
}

// Returns the first value, or the empty string if there is none
func (k *Keyword) Value() string {
	if k == nil || len(k.Values) == 0 {
		return ""
	}
	return k.Values[0]
}

// Returns the i-th value parsed as a floating point number
func (k *Keyword) Float(i int) (float64, error) {
	if i < 0 || i >= len(k.Values) {
		return 0, fmt.Errorf("keyword %s has no value at index %d", k.Name, i)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(k.Values[i]), 64)
	if err != nil {
		return 0, fmt.Errorf("keyword %s: value '%s' is not a number", k.Name, k.Values[i])
	}
	return v, nil
}

// Keywords of a group or object, kept in insertion order.
// Lookups are case insensitive as in the PVL standard.
type Container struct {
	Name     string
	Keywords []*Keyword
}

// Returns the keyword with the given name, or nil
func (c *Container) Find(name string) *Keyword {
	for _, k := range c.Keywords {
		if strings.EqualFold(k.Name, name) {
			return k
		}
	}
	return nil
}

func (c *Container) Has(name string) bool { return c.Find(name) != nil }

// Appends a keyword. Does not check for duplicates
func (c *Container) Add(name string, values ...string) *Keyword {
	k := &Keyword{Name: name, Values: values}
	c.Keywords = append(c.Keywords, k)
	return k
}

// Replaces the values of an existing keyword, or appends a new one
func (c *Container) Set(name string, values ...string) *Keyword {
	if k := c.Find(name); k != nil {
		k.Values = values
		return k
	}
	return c.Add(name, values...)
}

// Appends a keyword with a single number, formatted with the shortest exact representation
func (c *Container) AddFloat(name string, v float64) *Keyword {
	return c.Add(name, FormatFloat(v))
}

func (c *Container) AddInt(name string, v int) *Keyword {
	return c.Add(name, strconv.Itoa(v))
}

// Appends a keyword with a list of numbers
func (c *Container) AddFloats(name string, vs []float64) *Keyword {
	strs := make([]string, len(vs))
	for i, v := range vs {
		strs[i] = FormatFloat(v)
	}
	return c.Add(name, strs...)
}

func (c *Container) Delete(name string) {
	o := 0
	for _, k := range c.Keywords {
		if !strings.EqualFold(k.Name, name) {
			c.Keywords[o] = k
			o++
		}
	}
	c.Keywords = c.Keywords[:o]
}

func (c *Container) String(name string) (string, error) {
	k := c.Find(name)
	if k == nil {
		return "", fmt.Errorf("%s is missing keyword %s", c.Name, name)
	}
	return k.Value(), nil
}

// Returns the value of the keyword, or the default if the keyword is absent
func (c *Container) StringOr(name, def string) string {
	if k := c.Find(name); k != nil {
		return k.Value()
	}
	return def
}

func (c *Container) Float(name string) (float64, error) {
	k := c.Find(name)
	if k == nil {
		return 0, fmt.Errorf("%s is missing keyword %s", c.Name, name)
	}
	return k.Float(0)
}

func (c *Container) FloatOr(name string, def float64) (float64, error) {
	k := c.Find(name)
	if k == nil {
		return def, nil
	}
	return k.Float(0)
}

func (c *Container) Int(name string) (int, error) {
	k := c.Find(name)
	if k == nil {
		return 0, fmt.Errorf("%s is missing keyword %s", c.Name, name)
	}
	v, err := strconv.Atoi(strings.TrimSpace(k.Value()))
	if err != nil {
		return 0, fmt.Errorf("%s: keyword %s value '%s' is not an integer", c.Name, name, k.Value())
	}
	return v, nil
}

func (c *Container) IntOr(name string, def int) (int, error) {
	if !c.Has(name) {
		return def, nil
	}
	return c.Int(name)
}

// Returns all values of the keyword parsed as numbers
func (c *Container) Floats(name string) ([]float64, error) {
	k := c.Find(name)
	if k == nil {
		return nil, fmt.Errorf("%s is missing keyword %s", c.Name, name)
	}
	res := make([]float64, len(k.Values))
	for i := range k.Values {
		v, err := k.Float(i)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// Returns true for Yes/True/1 and false for No/False/0
func (c *Container) BoolOr(name string, def bool) (bool, error) {
	k := c.Find(name)
	if k == nil {
		return def, nil
	}
	switch strings.ToLower(k.Value()) {
	case "yes", "true", "1", "on":
		return true, nil
	case "no", "false", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("%s: keyword %s value '%s' is not a boolean", c.Name, name, k.Value())
}

// Returns an error naming the first keyword not in the allowed set
func (c *Container) CheckKeys(allowed ...string) error {
	for _, k := range c.Keywords {
		ok := false
		for _, a := range allowed {
			if strings.EqualFold(a, k.Name) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("keyword %s is not valid in %s", k.Name, c.Name)
		}
	}
	return nil
}

// A named group of keywords. Groups do not nest
type Group struct {
	Container
}

func NewGroup(name string) *Group { return &Group{Container{Name: name}} }

// A named object holding keywords, groups and nested objects
type Object struct {
	Container
	Groups  []*Group
	Objects []*Object
}

func NewObject(name string) *Object { return &Object{Container: Container{Name: name}} }

func (o *Object) FindGroup(name string) *Group {
	for _, g := range o.Groups {
		if strings.EqualFold(g.Name, name) {
			return g
		}
	}
	return nil
}

// Searches this object and its children depth first for the named group
func (o *Object) FindGroupDeep(name string) *Group {
	if g := o.FindGroup(name); g != nil {
		return g
	}
	for _, c := range o.Objects {
		if g := c.FindGroupDeep(name); g != nil {
			return g
		}
	}
	return nil
}

func (o *Object) FindObject(name string) *Object {
	for _, c := range o.Objects {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// Returns all direct child objects with the given name, in order
func (o *Object) ObjectsNamed(name string) []*Object {
	var res []*Object
	for _, c := range o.Objects {
		if strings.EqualFold(c.Name, name) {
			res = append(res, c)
		}
	}
	return res
}

func (o *Object) AddGroup(g *Group) *Group {
	o.Groups = append(o.Groups, g)
	return g
}

func (o *Object) AddObject(c *Object) *Object {
	o.Objects = append(o.Objects, c)
	return c
}

// A PVL document. The root object is unnamed
type Document struct {
	Object
}

func NewDocument() *Document { return &Document{} }

// Formats a number with the shortest representation that parses back to the identical value
func FormatFloat(v float64) string {
	if math.IsInf(v, 1) {
		return "Inf"
	} else if math.IsInf(v, -1) {
		return "-Inf"
	} else if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
