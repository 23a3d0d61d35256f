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

// Package bundle refines camera pointing, camera position and ground point
// coordinates by weighted nonlinear least squares against the measured image
// coordinates of a control network.
//
// Each iteration linearizes every active measure at the current estimate,
// accumulates the normal equations with the point parameters eliminated per
// point, solves the reduced image system, recovers the point corrections and
// applies all of them. Work happens on duplicates of the network and the
// cameras; results are written back only when the run succeeds, or after a
// failure when the commit policy asks for the last completed iteration.
package bundle

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/report"
)

// Statistics after one iteration. Residuals are in pixels
type Stats struct {
	Iteration int
	RMSx      float64
	RMSy      float64
	RMSxy     float64
	Sigma0    float64

	ImageParameters            int
	PointParameters            int
	ConstrainedImageParameters int
	ConstrainedPointParameters int
	Observations               int // two per measure
	RejectedObservations       int
	DegreesOfFreedom           int

	MaxResidual    float64
	MaxCorrection  float64
	RejectionLimit float64
	Converged      bool
	Sigma0History  []float64
}

func (s Stats) Pvl() *pvl.Group {
	g := pvl.NewGroup("Statistics")
	g.AddInt("Iterations", s.Iteration)
	g.Add("Converged", boolString(s.Converged))
	g.AddFloat("Sigma0", s.Sigma0)
	g.AddFloat("RmsSample", s.RMSx)
	g.AddFloat("RmsLine", s.RMSy)
	g.AddFloat("RmsTotal", s.RMSxy)
	g.AddFloat("MaxResidual", s.MaxResidual)
	g.AddFloat("MaxCorrection", s.MaxCorrection)
	g.AddInt("ImageParameters", s.ImageParameters)
	g.AddInt("PointParameters", s.PointParameters)
	g.AddInt("ConstrainedImageParameters", s.ConstrainedImageParameters)
	g.AddInt("ConstrainedPointParameters", s.ConstrainedPointParameters)
	g.AddInt("Observations", s.Observations)
	g.AddInt("RejectedObservations", s.RejectedObservations)
	g.AddInt("DegreesOfFreedom", s.DegreesOfFreedom)
	if s.RejectionLimit > 0 {
		g.AddFloat("RejectionLimit", s.RejectionLimit)
	}
	if len(s.Sigma0History) > 0 {
		g.AddFloats("Sigma0History", s.Sigma0History)
	}
	return g
}

// Corrections of one parameter block: radians for pointing, km for position
type ImageCorrection struct {
	ID          string // serial, or observation id in observation mode
	Serials     []string
	Held        bool
	Names       []string
	Corrections []float64
	Sigmas      []float64 // nil without error propagation
}

type Solution struct {
	Stats      Stats
	Iterations []Stats
	Images     []ImageCorrection
	Settings   Settings
}

type adjuster struct {
	s      Settings
	net    *cnet.Network // work copy
	l      *layout
	solver solver
	log    *report.Log
	ctx    context.Context
	sigma0 float64 // after the latest iteration
}

// Adjusts the network against the images. On success the network receives
// adjusted coordinates, sigmas and residuals, and the cameras of the images
// receive the adjusted polynomials. On failure nothing is written unless
// settings.Commit is LastIteration. With MaxIterations zero the current state
// is only evaluated. log may be nil
func Adjust(ctx context.Context, net *cnet.Network, images []*Image, settings Settings, log *report.Log) (*Solution, error) {
	s := settings.withDefaults()
	if log == nil {
		log = report.NewLog("BundleAdjust")
	}
	sol, err := adjust(ctx, net, images, s, log)
	if err != nil {
		s.Metrics.RunDone("bundle", errs.KindOf(err).String())
		s.Logger.Error(ctx, "bundle adjustment failed", logging.Err(err))
		return sol, err
	}
	s.Metrics.RunDone("bundle", "ok")
	return sol, nil
}

func adjust(ctx context.Context, net *cnet.Network, images []*Image, s Settings, log *report.Log) (*Solution, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := checkImages(images, s.Held); err != nil {
		return nil, err
	}
	if err := net.Check(); err != nil {
		return nil, err
	}
	work := net.Clone()
	for _, p := range work.Points() {
		for _, m := range p.Measures() {
			m.Rejected = false
		}
	}
	l, err := newLayout(images, work, s)
	if err != nil {
		return nil, err
	}
	log.AddOptions(s.Pvl())
	for _, id := range l.excluded {
		log.Record(report.Entry{PointID: id, Cause: "fewer than two active measures, excluded from the adjustment"})
	}
	a := &adjuster{s: s, net: work, l: l, solver: newSolver(s.Method, s.SVDThreshold), log: log, ctx: ctx}
	sol := &Solution{Settings: s}

	if s.MaxIterations == 0 {
		obs, err := l.observeAll(work, false)
		if err != nil {
			return nil, err
		}
		sol.Stats = a.statistics(obs, 0)
		sol.Images = a.corrections(nil)
		log.SetStatistics(sol.Stats.Pvl())
		return sol, nil
	}

	var history []float64
	completed := false
	for it := 1; it <= s.MaxIterations; it++ {
		if err := errs.FromContext(ctx); err != nil {
			return a.fail(sol, net, images, completed, err)
		}
		maxCorr, err := a.iterate()
		if err != nil {
			return a.fail(sol, net, images, completed, err)
		}
		completed = true

		obs, err := l.observeAll(work, false)
		if err != nil {
			return a.fail(sol, net, images, completed, err)
		}
		st := a.statistics(obs, it)
		st.MaxCorrection = maxCorr
		a.sigma0 = st.Sigma0
		changed := 0
		if s.OutlierRejection {
			st.RejectionLimit, changed = l.rejectOutliers(work, obs, s.RejectionMultiplier, log)
		}
		history = append(history, st.Sigma0)
		st.Sigma0History = append([]float64(nil), history...)

		switch s.Criterion {
		case Sigma0Criterion:
			st.Converged = it > 1 && math.Abs(history[it-1]-history[it-2]) <= s.Threshold
		case ParameterCorrections:
			st.Converged = maxCorr <= s.Threshold
		}
		if changed > 0 {
			st.Converged = false
		}
		sol.Iterations = append(sol.Iterations, st)
		sol.Stats = st

		rejected := 0
		for _, o := range obs {
			if o.m.Rejected {
				rejected++
			}
		}
		s.Metrics.Iteration(st.Sigma0, rejected)
		s.Logger.Info(ctx, "bundle iteration", logging.Int("iteration", it),
			logging.Float("sigma0", st.Sigma0), logging.Float("rms", st.RMSxy),
			logging.Float("maxCorrection", maxCorr), logging.Int("rejected", rejected))
		if s.Progress != nil {
			s.Progress(s.MaxIterations, it)
		}

		if st.Converged {
			var q11 *mat.SymDense
			if s.ErrorPropagation {
				if q11, err = a.propagate(st.Sigma0); err != nil {
					return a.fail(sol, net, images, completed, err)
				}
			}
			sol.Images = a.corrections(q11)
			sol.Stats.Sigma0History = history
			a.commit(net, images, obs)
			log.SetStatistics(sol.Stats.Pvl())
			return sol, nil
		}
	}

	last := sol.Stats
	err = &errs.ConvergenceError{Iterations: last.Iteration, Sigma0: last.Sigma0, MaxResidual: last.MaxResidual}
	return a.fail(sol, net, images, completed, err)
}

// Ends a failed run. The last completed iteration is written back if the
// commit policy asks for it
func (a *adjuster) fail(sol *Solution, net *cnet.Network, images []*Image, completed bool, err error) (*Solution, error) {
	sol.Images = a.corrections(nil)
	a.log.SetStatistics(sol.Stats.Pvl())
	if a.s.Commit == LastIteration && completed {
		obs, oerr := a.l.observeAll(a.net, false)
		if oerr == nil {
			a.commit(net, images, obs)
		}
	}
	return sol, err
}

// Runs one linearize, solve and update step. Returns the largest correction
func (a *adjuster) iterate() (float64, error) {
	l := a.l
	obs, err := l.observeAll(a.net, true)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	delta, err := a.solve(obs)
	if err != nil {
		return 0, errs.Wrap(errs.Numerical, a.describe(err), "solving normal equations")
	}
	a.s.Metrics.Solved(a.s.Method.String(), time.Since(start))
	return l.apply(delta), nil
}

// Names the parameter behind a zero column in the error message
func (a *adjuster) describe(err error) error {
	if ne, ok := err.(*errs.NumericalError); ok && ne.ZeroColumn >= 0 {
		ne.Msg += " at " + a.l.describe(ne.ZeroColumn, a.net)
	}
	return err
}

func (a *adjuster) solve(obs []*observation) ([]float64, error) {
	l := a.l
	if a.s.Method == QR {
		sys, err := l.newQRSystem(obs)
		if err != nil {
			return nil, err
		}
		return sys.solve()
	}
	n, err := a.normals(obs)
	if err != nil {
		return nil, err
	}
	delta := make([]float64, l.total)
	if l.imageCols > 0 {
		x, err := a.solver.solve(n)
		if err != nil {
			return nil, err
		}
		copy(delta, x)
	}
	n.backSubstitute(delta)
	return delta, nil
}

func (a *adjuster) normals(obs []*observation) (*normals, error) {
	n := a.l.newNormals()
	for k, group := range a.l.byPoint(obs) {
		n.addPoint(a.l.points[k], group)
	}
	return n, n.reduce()
}

// Weighted residual statistics at the current estimate
func (a *adjuster) statistics(obs []*observation, it int) Stats {
	l := a.l
	ci, cp := l.constrained()
	st := Stats{
		Iteration:                  it,
		ImageParameters:            l.imageCols,
		PointParameters:            l.pointColumns(),
		ConstrainedImageParameters: ci,
		ConstrainedPointParameters: cp,
	}
	var vtpv, sx, sy float64
	n := 0
	for _, o := range obs {
		if o.m.Rejected {
			st.RejectedObservations += 2
			continue
		}
		w := l.weight(o.image)
		vtpv += w * (o.vx*o.vx + o.vy*o.vy)
		ps, pl := o.pixels(l.cams[o.image].PixelPitch())
		sx += ps * ps
		sy += pl * pl
		st.MaxResidual = math.Max(st.MaxResidual, math.Hypot(ps, pl))
		n++
	}
	for _, b := range l.blocks {
		for c, w := range b.weights {
			vtpv += w * b.cum[c] * b.cum[c]
		}
	}
	for _, p := range l.points {
		for k, w := range p.weights {
			vtpv += w * p.cum[k] * p.cum[k]
		}
	}
	st.Observations = 2 * n
	if n > 0 {
		st.RMSx = math.Sqrt(sx / float64(n))
		st.RMSy = math.Sqrt(sy / float64(n))
		st.RMSxy = math.Sqrt((sx + sy) / float64(2*n))
	}
	st.DegreesOfFreedom = st.Observations + ci + cp - l.total
	if st.DegreesOfFreedom > 0 {
		st.Sigma0 = math.Sqrt(vtpv / float64(st.DegreesOfFreedom))
	} else {
		st.Sigma0 = math.Sqrt(vtpv)
	}
	return st
}

// Linearizes at the final estimate and inverts the normal matrix. Point
// sigmas are written into the work network in meters. Returns the image
// parameter covariance
func (a *adjuster) propagate(sigma0 float64) (*mat.SymDense, error) {
	l := a.l
	obs, err := l.observeAll(a.net, true)
	if err != nil {
		return nil, err
	}
	s2 := sigma0 * sigma0
	setSigmas := func(pt *pointParam, cov mat.Symmetric, off int) {
		p := a.net.At(pt.index)
		r := pt.ground.Radius
		var sig [3]float64
		for k := 0; k < l.coords; k++ {
			sig[k] = math.Sqrt(math.Max(cov.At(off+k, off+k), 0) * s2)
		}
		p.AdjustedSigmas = [3]float64{
			sig[0] * r,
			sig[1] * r * math.Cos(geom.Radians(pt.ground.Lat)),
			geom.Meters(sig[2]),
		}
	}

	if a.s.Method == QR {
		sys, err := l.newQRSystem(obs)
		if err != nil {
			return nil, a.describe(err)
		}
		q, err := sys.covariance()
		if err != nil {
			return nil, err
		}
		for _, pt := range l.points {
			if pt.col >= 0 {
				setSigmas(pt, q, pt.col)
			}
		}
		q11 := mat.NewSymDense(l.imageCols, nil)
		for i := 0; i < l.imageCols; i++ {
			for j := i; j < l.imageCols; j++ {
				q11.SetSym(i, j, q.At(i, j))
			}
		}
		return q11, nil
	}

	n, err := a.normals(obs)
	if err != nil {
		return nil, a.describe(err)
	}
	q11 := mat.NewSymDense(l.imageCols, nil)
	if l.imageCols > 0 {
		if _, err := a.solver.solve(n); err != nil {
			return nil, a.describe(err)
		}
		if q11, err = a.solver.inverse(); err != nil {
			return nil, err
		}
	}
	for _, pn := range n.points {
		setSigmas(pn.pt, n.pointCovariance(pn, q11), 0)
	}
	return q11, nil
}

// Total corrections per block, with sigmas when q11 is given
func (a *adjuster) corrections(q11 *mat.SymDense) []ImageCorrection {
	l := a.l
	res := make([]ImageCorrection, len(l.blocks))
	for bi, b := range l.blocks {
		ic := ImageCorrection{ID: b.id, Held: b.held || b.col < 0}
		for _, i := range b.images {
			ic.Serials = append(ic.Serials, l.images[i].Serial)
		}
		if b.col >= 0 {
			for c := 0; c < l.blockCols; c++ {
				ic.Names = append(ic.Names, l.columnName(c))
				ic.Corrections = append(ic.Corrections, b.cum[c])
				if q11 != nil {
					v := q11.At(b.col+c, b.col+c) * a.sigma0 * a.sigma0
					ic.Sigmas = append(ic.Sigmas, math.Sqrt(math.Max(v, 0)))
				}
			}
		}
		res[bi] = ic
	}
	return res
}

// Writes the work state into net and the cameras of the images
func (a *adjuster) commit(net *cnet.Network, images []*Image, obs []*observation) {
	l := a.l
	for _, o := range obs {
		o.m.SampleResidual, o.m.LineResidual = o.pixels(l.cams[o.image].PixelPitch())
	}
	for _, pt := range l.points {
		if pt.col < 0 {
			continue
		}
		lat, lon := geom.Normalize(pt.ground.Lat, pt.ground.Lon)
		a.net.At(pt.index).Adjusted = geom.Ground{Lat: lat, Lon: lon, Radius: pt.ground.Radius}
	}
	if a.s.DeleteIgnored {
		points, measures := a.net.DeleteIgnored()
		a.s.Logger.Info(a.ctx, "deleted ignored", logging.Int("points", points), logging.Int("measures", measures))
	}
	net.CopyFrom(a.net)
	for _, b := range l.blocks {
		if b.col < 0 {
			continue
		}
		for _, i := range b.images {
			images[i].Camera.SetPosition(b.position.Clone())
			images[i].Camera.SetPointing(b.pointing.Clone())
		}
	}
}
