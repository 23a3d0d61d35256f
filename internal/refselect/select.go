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

// Package refselect chooses the reference measure of every control point.
//
// Each Free point is copied, its measures validated, and the best valid
// measure under the configured criterion becomes the reference. Measures
// failing validation are ignored, and points left with fewer than two valid
// measures are ignored as well. Every decision is mirrored into a report.Log.
//
// Points may be processed concurrently. Workers only read the network and
// own private camera duplicates; results are applied in point order, so the
// log and the network are the same for any worker count.
package refselect

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/interest"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/report"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

const (
	ChooserReference = "cnetbundle(reference)"
	ChooserInterest  = "cnetbundle(interest)"
	timeFormat       = "2006-01-02T15:04:05"
)

// Counts of a selection run
type Statistics struct {
	TotalPoints      int
	PointsIgnored    int
	PointsModified   int
	ReferenceChanged int
	TotalMeasures    int
	MeasuresModified int
	MeasuresIgnored  int
	PointsLocked     int
	PointsFixed      int
}

func (s Statistics) Pvl() *pvl.Group {
	g := pvl.NewGroup("Statistics")
	g.AddInt("TotalPoints", s.TotalPoints)
	g.AddInt("PointsIgnored", s.PointsIgnored)
	g.AddInt("PointsModified", s.PointsModified)
	g.AddInt("ReferenceChanged", s.ReferenceChanged)
	g.AddInt("TotalMeasures", s.TotalMeasures)
	g.AddInt("MeasuresModified", s.MeasuresModified)
	g.AddInt("MeasuresIgnored", s.MeasuresIgnored)
	g.AddInt("PointsLocked", s.PointsLocked)
	g.AddInt("PointsFixed", s.PointsFixed)
	return g
}

type selector struct {
	cfg       Config
	validator *validate.Validator
	engine    *interest.Engine
	images    map[string]*cube.Cube
	cams      map[string]camera.Camera
	camErrs   map[string]error
	stamp     string
	chooser   string
}

// Per-worker camera duplicates, created on first use
type worker struct {
	s    *selector
	cams map[string]camera.Camera
}

func (w *worker) image(serial string) (*cube.Cube, camera.Camera, error) {
	c := w.s.images[serial]
	if c == nil {
		return nil, nil, errs.New(errs.Resource, "no image for serial %s", serial)
	}
	if err := w.s.camErrs[serial]; err != nil {
		return c, nil, err
	}
	cam := w.cams[serial]
	if cam == nil {
		cam = w.s.cams[serial].Clone()
		w.cams[serial] = cam
	}
	return c, cam, nil
}

// Chooses reference measures for all points of the network, which is updated
// in place. Images are keyed by serial number. On error or cancellation the
// network is left unchanged
func SelectReferences(ctx context.Context, net *cnet.Network, images map[string]*cube.Cube, cfg Config, log *report.Log) (Statistics, error) {
	cfg = cfg.withDefaults()
	if err := cfg.check(); err != nil {
		return Statistics{}, err
	}
	v, err := validate.New(cfg.Validate)
	if err != nil {
		return Statistics{}, err
	}
	s := &selector{
		cfg:       cfg,
		validator: v,
		images:    images,
		cams:      map[string]camera.Camera{},
		camErrs:   map[string]error{},
		stamp:     cfg.Clock.Now().UTC().Format(timeFormat),
		chooser:   ChooserReference,
	}
	if cfg.Criterion == Interest {
		if s.engine, err = interest.New(cfg.Interest, v); err != nil {
			return Statistics{}, err
		}
		s.chooser = ChooserInterest
	}

	// cameras are created lazily on the cube, so materialize them before fanning out
	for _, serial := range net.Serials() {
		c := images[serial]
		if c == nil {
			continue
		}
		if s.cams[serial], err = c.Camera(); err != nil {
			s.camErrs[serial] = err
		}
	}

	log.AddOptions(cfg.Pvl())
	log.AddOptions(v.Pvl())
	if s.engine != nil {
		log.AddOptions(cfg.Interest.Pvl())
	}

	start := cfg.Clock.Now()
	outcomes, err := s.run(ctx, net)
	if err != nil {
		cfg.Metrics.RunDone("select", errs.KindOf(err).String())
		return Statistics{}, err
	}

	var st Statistics
	for i, o := range outcomes {
		p := net.At(i)
		if o.modified {
			p.CopyFrom(o.point)
			st.PointsModified++
		}
		log.AddPoint(o.details)
		for _, e := range o.entries {
			log.Record(e)
			cfg.Logger.Debug(ctx, "measure decision", logging.String("point", e.PointID),
				logging.String("serial", e.Serial), logging.String("cause", e.Cause))
		}
		switch o.kind {
		case outcomeLocked:
			st.PointsLocked++
		case outcomeFixed:
			st.PointsFixed++
		}
		if o.refChanged {
			st.ReferenceChanged++
		}
		st.MeasuresModified += o.measuresModified
		st.MeasuresIgnored += o.measuresIgnored
		cfg.Metrics.Point(o.kind.String(), o.refChanged, o.measuresIgnored)
	}
	st.TotalPoints = net.Len()
	st.TotalMeasures, _ = net.NumMeasures()
	st.PointsIgnored = net.NumIgnored()
	log.SetStatistics(st.Pvl())

	cfg.Logger.Info(ctx, "reference selection done",
		logging.String("criterion", cfg.Criterion.String()),
		logging.Int("points", st.TotalPoints),
		logging.Int("modified", st.PointsModified),
		logging.Int("referenceChanged", st.ReferenceChanged),
		logging.Any("elapsed", cfg.Clock.Since(start).Round(time.Millisecond)))
	cfg.Metrics.RunDone("select", "ok")
	return st, nil
}

// Processes all points with a limiter channel of cfg.Workers slots
func (s *selector) run(ctx context.Context, net *cnet.Network) ([]*outcome, error) {
	outcomes := make([]*outcome, net.Len())
	workers := make(chan *worker, s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		workers <- &worker{s: s, cams: map[string]camera.Camera{}}
	}
	limiter := make(chan bool, s.cfg.Workers)
	panics := make(chan error, net.Len())

	for i, p := range net.Points() {
		if ctx.Err() != nil {
			break
		}
		limiter <- true
		go func(i int, p *cnet.Point) {
			defer func() { <-limiter }()
			w := <-workers
			defer func() { workers <- w }()
			defer func() {
				if r := recover(); r != nil {
					panics <- errs.New(errs.Other, "point %s: %v", p.ID, r)
				}
			}()
			outcomes[i] = s.processPoint(p, w)
		}(i, p)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	close(panics)

	var err error
	for e := range panics {
		err = multierr.Append(err, e)
	}
	if err != nil {
		return nil, err
	}
	if err := errs.FromContext(ctx); err != nil {
		return nil, err
	}
	return outcomes, nil
}
