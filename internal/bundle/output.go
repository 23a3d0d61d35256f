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

package bundle

import (
	"io"
	"strconv"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/report"
)

// Summary document: settings, final statistics, one group per iteration and
// one object per parameter block. Pointing is reported in degrees, position in meters
func (sol *Solution) Pvl() *pvl.Document {
	doc := pvl.NewDocument()
	root := doc.AddObject(pvl.NewObject("BundleResults"))
	root.AddGroup(sol.Settings.Pvl())
	root.AddGroup(sol.Stats.Pvl())
	for _, st := range sol.Iterations {
		g := pvl.NewGroup("Iteration")
		g.AddInt("Number", st.Iteration)
		g.AddFloat("Sigma0", st.Sigma0)
		g.AddFloat("RmsSample", st.RMSx)
		g.AddFloat("RmsLine", st.RMSy)
		g.AddFloat("MaxCorrection", st.MaxCorrection)
		g.AddInt("Observations", st.Observations)
		g.AddInt("RejectedObservations", st.RejectedObservations)
		root.AddGroup(g)
	}
	for _, ic := range sol.Images {
		o := pvl.NewObject("Image")
		o.Add("Id", ic.ID)
		o.Add("SerialNumbers", ic.Serials...)
		o.Add("Held", boolString(ic.Held))
		for c, name := range ic.Names {
			g := pvl.NewGroup(name)
			g.AddFloat("Correction", boundaryUnits(name, ic.Corrections[c]))
			if ic.Sigmas != nil {
				g.AddFloat("Sigma", boundaryUnits(name, ic.Sigmas[c]))
			}
			o.AddGroup(g)
		}
		root.AddObject(o)
	}
	return doc
}

// Converts radians to degrees for pointing and km to meters for position
func boundaryUnits(name string, v float64) float64 {
	switch name[0] {
	case 'X', 'Y', 'Z':
		return geom.Meters(v)
	}
	return geom.Degrees(v)
}

func (sol *Solution) WriteSummary(w io.Writer) error {
	if err := sol.Pvl().Write(w); err != nil {
		return errs.Wrap(errs.Resource, err, "writing bundle summary")
	}
	return nil
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Residuals of all non-ignored measures of non-ignored points
func ResidualTable(net *cnet.Network) *report.Table {
	t := report.NewTable("PointId", "Serial", "Sample", "Line", "SampleResidual", "LineResidual", "Rejected")
	for _, p := range net.Points() {
		if p.Ignored {
			continue
		}
		for _, m := range p.Measures() {
			if m.Ignored {
				continue
			}
			t.Append(p.ID, m.Serial, fmtFloat(m.Sample), fmtFloat(m.Line),
				fmtFloat(m.SampleResidual), fmtFloat(m.LineResidual), strconv.FormatBool(m.Rejected))
		}
	}
	return t
}

func WriteResiduals(w io.Writer, net *cnet.Network) error { return ResidualTable(net).Write(w) }

// Adjusted ground coordinates and sigmas of all non-ignored points
func PointTable(net *cnet.Network) *report.Table {
	t := report.NewTable("PointId", "Type", "Latitude", "Longitude", "Radius",
		"SigmaLatitude", "SigmaLongitude", "SigmaRadius", "Measures")
	for _, p := range net.Points() {
		if p.Ignored {
			continue
		}
		g := p.Ground()
		t.Append(p.ID, p.Type.String(), fmtFloat(g.Lat), fmtFloat(g.Lon), fmtFloat(g.Radius),
			fmtFloat(p.AdjustedSigmas[0]), fmtFloat(p.AdjustedSigmas[1]), fmtFloat(p.AdjustedSigmas[2]),
			strconv.Itoa(p.ValidMeasures()))
	}
	return t
}

func WritePoints(w io.Writer, net *cnet.Network) error { return PointTable(net).Write(w) }
