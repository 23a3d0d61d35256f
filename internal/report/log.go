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

// Package report collects decision logs and writes bundle adjustment outputs.
//
// A Log mirrors every change made to a network as keyword groups grouped per
// control point, followed by run statistics. Its layout depends only on the
// order entries were added in, so identical runs give identical bytes.
package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// One locally handled decision or failure
type Entry struct {
	PointID string
	Serial  string // empty for point level entries
	Cause   string
	Before  string
	After   string
}

type Log struct {
	name    string
	options []*pvl.Group
	points  []*pvl.Object
	entries []Entry
	stats   *pvl.Group
}

// Creates an empty log with the given root object name
func NewLog(name string) *Log { return &Log{name: name} }

// Adds a group echoing run options, written before the point details
func (l *Log) AddOptions(g *pvl.Group) { l.options = append(l.options, g) }

// Appends a PointDetails object
func (l *Log) AddPoint(o *pvl.Object) { l.points = append(l.points, o) }

// Appends any other object, written in order with the point details
func (l *Log) AddObject(o *pvl.Object) { l.points = append(l.points, o) }

func (l *Log) Points() []*pvl.Object { return l.points }

func (l *Log) Record(e Entry) { l.entries = append(l.entries, e) }

func (l *Log) Entries() []Entry { return l.entries }

func (l *Log) SetStatistics(g *pvl.Group) { l.stats = g }

func (l *Log) Statistics() *pvl.Group { return l.stats }

// Assembles the log document
func (l *Log) Document() *pvl.Document {
	doc := pvl.NewDocument()
	root := doc.AddObject(pvl.NewObject(l.name))
	for _, g := range l.options {
		root.AddGroup(g)
	}
	if l.stats != nil {
		root.AddGroup(l.stats)
	}
	for _, p := range l.points {
		root.AddObject(p)
	}
	return doc
}

func (l *Log) Write(w io.Writer) error {
	if err := l.Document().Write(w); err != nil {
		return errs.Wrap(errs.Resource, err, "writing log")
	}
	return nil
}

func (l *Log) WriteFile(fileName string) error {
	if err := l.Document().WriteFile(fileName); err != nil {
		return errs.Wrap(errs.Resource, err, "writing log %s", fileName)
	}
	return nil
}

func (l *Log) String() string { return l.Document().String() }

// Formats a metric value for the log. Integral values keep one decimal
func FormatMetric(v float64) string {
	s := pvl.FormatFloat(v)
	if strings.ContainsAny(s, ".eEIN") {
		return s
	}
	return s + ".0"
}

// Formats an image location as "sample, line"
func Location(sample, line float64) string {
	return FormatMetric(sample) + ", " + FormatMetric(line)
}

// Adds a comment keyword with a running number, e.g. Comment1
func AddComment(c *pvl.Container, n *int, text string) {
	*n++
	c.Add("Comment"+strconv.Itoa(*n), text)
}
