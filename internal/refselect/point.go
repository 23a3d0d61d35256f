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

package refselect

import (
	"math"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/interest"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/report"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

type outcomeKind int

const (
	outcomeProcessed outcomeKind = iota
	outcomeSkipped
	outcomeLocked
	outcomeFixed
)

func (k outcomeKind) String() string {
	return [...]string{"processed", "skipped", "locked", "fixed"}[k]
}

// Result of processing one point, applied to the network in point order
type outcome struct {
	point            *cnet.Point
	details          *pvl.Object
	entries          []report.Entry
	kind             outcomeKind
	modified         bool
	refChanged       bool
	measuresModified int
	measuresIgnored  int
}

// Per measure state while processing a point
type evaluation struct {
	valid   bool
	results validate.Results
	cause   string
	group   *pvl.Group
}

func (s *selector) processPoint(p *cnet.Point, w *worker) *outcome {
	o := &outcome{point: p.Clone(), details: pvl.NewObject("PointDetails")}
	d := &o.details.Container
	d.Add("PointId", p.ID)

	comments := 0
	switch {
	case p.Ignored:
		report.AddComment(d, &comments, "Point was originally Ignored")
		o.kind = outcomeSkipped
		return o
	case p.Type != cnet.Free:
		report.AddComment(d, &comments, "Not a Free Point")
		o.kind = outcomeFixed
		return o
	case p.Len() == 0:
		report.AddComment(d, &comments, "No Measures in the Point")
		o.kind = outcomeSkipped
		return o
	}

	evals := s.evaluate(p, w)
	defer func() {
		for _, e := range evals {
			o.details.AddGroup(e.group)
		}
	}()
	if p.EditLocked || lockedMeasures(p) > 0 {
		o.kind = outcomeLocked
		s.logLocked(o, p, evals)
		return o
	}

	var valid []int
	for i, e := range evals {
		if e.valid {
			valid = append(valid, i)
		}
	}

	best, note := -1, ""
	if s.engine == nil {
		best, note = s.pick(evals, valid)
		if note != "" {
			d.Add("Note", note)
		}
		if best < 0 && note != "" && s.cfg.Strict {
			return o
		}
	}

	for i, e := range evals {
		if !p.At(i).Ignored && !e.valid {
			s.ignore(o, i, e.cause)
			e.group.Add("Ignored", e.cause)
		}
	}

	if s.engine != nil {
		s.chooseByInterest(o, p, w, evals, valid)
	} else if best >= 0 {
		if s.cfg.Criterion == MeanResolution && len(valid) > 2 {
			d.Add("MeanResolution", report.FormatMetric(s.meanResolution(evals, valid)))
		}
		s.setReference(o, p, best, func(i int) string {
			if i < 0 || !evals[i].results.Values.Geometry {
				return "NA"
			}
			return report.FormatMetric(s.metric(evals[i].results.Values))
		})
	}
	s.finish(o, p, evals)
	return o
}

// Runs the validator over all non-ignored measures
func (s *selector) evaluate(p *cnet.Point, w *worker) []*evaluation {
	evals := make([]*evaluation, p.Len())
	for i, m := range p.Measures() {
		e := &evaluation{group: pvl.NewGroup("MeasureDetails")}
		evals[i] = e
		e.group.Add("SerialNum", m.Serial)
		e.group.Add("OriginalLocation", report.Location(m.Sample, m.Line))
		if m.Ignored {
			e.group.Add("Ignored", "Originally Ignored")
			continue
		}
		c, cam, err := w.image(m.Serial)
		if err != nil {
			e.cause = err.Error()
			continue
		}
		e.results = s.validator.ValidMeasure(m, c, cam)
		v := e.results.Values
		if v.Geometry {
			e.group.Add("EmissionAngle", report.FormatMetric(v.Emission))
			e.group.Add("IncidenceAngle", report.FormatMetric(v.Incidence))
			e.group.Add("Resolution", report.FormatMetric(v.Resolution))
		}
		if v.ValidDN {
			e.group.Add("DNValue", report.FormatMetric(v.DN))
		}
		switch {
		case !e.results.Valid():
			e.cause = e.results.String()
		case !v.Geometry:
			e.cause = validate.NoIntersection.String()
		default:
			e.valid = true
		}
	}
	return evals
}

func lockedMeasures(p *cnet.Point) int {
	n := 0
	for _, m := range p.Measures() {
		if m.EditLocked {
			n++
		}
	}
	return n
}

// Locked points are reported but never modified
func (s *selector) logLocked(o *outcome, p *cnet.Point, evals []*evaluation) {
	d := &o.details.Container
	ref := p.Reference()
	switch {
	case p.EditLocked:
		d.Add("Reference", "Point is EditLocked")
	case ref == nil || !ref.EditLocked:
		d.Add("Error", "Point has a Measure with EditLock set to true but not a Reference")
	default:
		d.Add("Reference", "Locked")
	}
	for i, e := range evals {
		m := p.At(i)
		if m.Ignored || e.valid {
			continue
		}
		if m.EditLocked {
			e.group.Add("Error", "Failed Validation Test but Measure is Locked: "+e.cause)
		} else {
			e.group.Add("UnIgnored", "Failed Validation Test but not Ignored as Point is Locked: "+e.cause)
		}
		o.entries = append(o.entries, report.Entry{PointID: p.ID, Serial: m.Serial, Cause: e.cause, Before: "Valid", After: "Valid"})
	}
	if p.ValidMeasures() < 2 {
		d.Add("UnIgnored", "Good Measures less than 2 but Point is Locked")
	}
}

func (s *selector) metric(v validate.Values) float64 {
	switch s.cfg.Criterion {
	case LeastEmission:
		return v.Emission
	case LeastIncidence:
		return v.Incidence
	}
	return v.Resolution
}

func (s *selector) meanResolution(evals []*evaluation, valid []int) float64 {
	mean := 0.0
	for _, i := range valid {
		mean += evals[i].results.Values.Resolution
	}
	return mean / float64(len(valid))
}

// Picks the best among valid measures by a geometric metric. Ties keep the
// earliest. A non-empty note explains a fallback or a refusal
func (s *selector) pick(evals []*evaluation, valid []int) (best int, note string) {
	if len(valid) == 0 {
		return -1, ""
	}
	val := func(i int) float64 { return s.metric(evals[i].results.Values) }
	argmin := func(cands []int, f func(i int) float64) int {
		best := -1
		for _, i := range cands {
			if best < 0 || f(i) < f(best) {
				best = i
			}
		}
		return best
	}

	switch s.cfg.Criterion {
	case LeastEmission, LeastIncidence:
		var nonNeg []int
		for _, i := range valid {
			if val(i) >= 0 {
				nonNeg = append(nonNeg, i)
			}
		}
		return argmin(nonNeg, val), ""
	case HighestResolution:
		return argmin(valid, val), ""
	case LowestResolution:
		return argmin(valid, func(i int) float64 { return -val(i) }), ""
	case MeanResolution:
		if len(valid) == 2 {
			return valid[0], ""
		}
		mean := s.meanResolution(evals, valid)
		return argmin(valid, func(i int) float64 { return math.Abs(val(i) - mean) }), ""
	case NearestResolution:
		return argmin(valid, func(i int) float64 { return math.Abs(val(i) - s.cfg.Resolution) }), ""
	case ResolutionRange:
		for _, i := range valid {
			if r := val(i); r >= s.cfg.MinResolution && r <= s.cfg.MaxResolution {
				return i, ""
			}
		}
		if s.cfg.Strict {
			return -1, "No measure in resolution range, point left unchanged"
		}
		return valid[0], "No measure in resolution range, defaulted to the first valid measure"
	}
	return -1, ""
}

// Makes best the reference of the working copy and logs the change
func (s *selector) setReference(o *outcome, p *cnet.Point, best int, metric func(i int) string) {
	np := o.point
	orig := p.RefIndex()
	if best == orig {
		o.details.Add("Reference", "No Change")
		return
	}
	if orig >= 0 {
		s.audit(np.At(orig))
	}
	_ = np.SetReference(best)
	s.audit(np.At(best))
	o.refChanged = true

	prevKey, newKey := s.cfg.Criterion.metricKey()
	g := pvl.NewGroup("ReferenceChangeDetails")
	if orig >= 0 {
		g.Add("PrevSerialNumber", p.At(orig).Serial)
		g.Add(prevKey, metric(orig))
	} else {
		g.Add("PrevSerialNumber", "None")
	}
	g.Add("NewSerialNumber", np.At(best).Serial)
	g.Add(newKey, metric(best))
	o.details.AddGroup(g)
}

// Interest mode: score every valid measure, move the best one to its most
// interesting pixel, and relocate the others onto the same ground point
func (s *selector) chooseByInterest(o *outcome, p *cnet.Point, w *worker, evals []*evaluation, valid []int) {
	np := o.point
	results := make([]interest.Result, p.Len())
	best := -1
	bestDist := math.Inf(1)
	for _, i := range valid {
		m := p.At(i)
		c, cam, _ := w.image(m.Serial)
		r, err := s.engine.Score(c, cam, interest.Pixel{Sample: m.Sample, Line: m.Line})
		if err != nil {
			evals[i].group.Add("Error", err.Error())
			continue
		}
		results[i] = r
		evals[i].group.Add("BestInterest", report.FormatMetric(r.Interest))
		if !r.Valid {
			continue
		}
		dist := math.Hypot(float64(r.DeltaSample), float64(r.DeltaLine))
		if best < 0 || r.Interest > results[best].Interest || (r.Interest == results[best].Interest && dist < bestDist) {
			best, bestDist = i, dist
		}
	}

	var ground geom.Ground
	if best >= 0 {
		_, cam, _ := w.image(p.At(best).Serial)
		r := results[best]
		ok := cam.SetImage(r.Best.Sample, r.Best.Line) == nil
		if ok {
			ground, ok = cam.Ground()
		}
		if !ok {
			best = -1
		}
	}
	if best < 0 {
		o.details.Add("Note", "No measure met the minimum interest")
		return
	}

	r := results[best]
	s.move(np.At(best), r.Best.Sample, r.Best.Line)
	g := evals[best].group
	g.Add("NewLocation", report.Location(r.Best.Sample, r.Best.Line))
	g.AddInt("DeltaSample", r.DeltaSample)
	g.AddInt("DeltaLine", r.DeltaLine)

	op := s.engine.Operator()
	cw, ch := s.engine.Samples+op.Padding(), s.engine.Lines+op.Padding()
	for _, i := range valid {
		if i == best {
			continue
		}
		m := np.At(i)
		g := evals[i].group
		c, cam, _ := w.image(m.Serial)
		sample, line, err := cam.SetGround(ground, false)
		if err != nil || !c.InBounds(sample, line) {
			s.ignore(o, i, "New location is not in the Image")
			g.Add("Ignored", "New location is not in the Image")
			continue
		}
		g.Add("NewLocation", report.Location(sample, line))
		g.AddInt("DeltaSample", absInt(int(sample)-int(m.Sample)))
		g.AddInt("DeltaLine", absInt(int(line)-int(m.Line)))
		if vr := s.engine.Validator().ValidPixel(sample, line, c, cam); !vr.Valid() {
			cause := "Failed Validation Test: " + vr.String()
			s.ignore(o, i, cause)
			g.Add("Ignored", cause)
			continue
		}
		g.Add("Interest", report.FormatMetric(op.Interest(c.Chip(sample, line, cw, ch), cw, ch)))
		s.move(m, sample, line)
	}

	s.setReference(o, p, best, func(i int) string {
		if i < 0 || math.IsNaN(results[i].Interest) {
			return "NA"
		}
		return report.FormatMetric(results[i].Interest)
	})
}

// Applies the two measure rule and tallies changes against the original
func (s *selector) finish(o *outcome, p *cnet.Point, evals []*evaluation) {
	np := o.point
	if np.ValidMeasures() < 2 {
		np.Ignored = true
		o.details.Add("Ignored", "Good Measures less than 2")
		o.refChanged = false
	}
	for i, m := range np.Measures() {
		old := p.At(i)
		if m.Ignored != old.Ignored || m.IsReference() != old.IsReference() || m.Sample != old.Sample || m.Line != old.Line {
			o.measuresModified++
		}
		if !m.Ignored {
			evals[i].group.Add("Reference", boolString(m.IsReference()))
		}
	}
	o.modified = o.measuresModified > 0 || np.Ignored != p.Ignored
}

func (s *selector) ignore(o *outcome, i int, cause string) {
	m := o.point.At(i)
	o.point.SetMeasureIgnored(i, true)
	s.audit(m)
	o.measuresIgnored++
	o.entries = append(o.entries, report.Entry{PointID: o.point.ID, Serial: m.Serial, Cause: cause, Before: "Valid", After: "Ignored"})
}

// Moves a measure, keeping the first original location as apriori
func (s *selector) move(m *cnet.Measure, sample, line float64) {
	if m.Sample == sample && m.Line == line {
		return
	}
	if m.AprioriSample == 0 && m.AprioriLine == 0 {
		m.AprioriSample, m.AprioriLine = m.Sample, m.Line
	}
	m.Sample, m.Line = sample, line
	s.audit(m)
}

func (s *selector) audit(m *cnet.Measure) {
	m.ChooserName = s.chooser
	m.DateTime = s.stamp
}

func absInt(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
