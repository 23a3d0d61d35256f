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

// Package metrics bundles the Prometheus collectors for selection and
// adjustment runs. All methods are safe on a nil *Collector.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	gatherer prometheus.Gatherer

	Runs             *prometheus.CounterVec
	Iterations       prometheus.Counter
	Sigma0           prometheus.Gauge
	SolveDuration    *prometheus.HistogramVec
	ReferenceChanges prometheus.Counter
	MeasuresIgnored  prometheus.Counter
	MeasuresRejected prometheus.Gauge
	Points           *prometheus.CounterVec
}

// Registers the collectors against reg, defaulting to the global registry when nil.
// Registering twice against the same registry returns the existing collectors
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &Collector{gatherer: gatherer}
	var err error

	if c.Runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cnetbundle_runs_total",
		Help: "Completed runs, labeled by process and result kind.",
	}, []string{"process", "result"})); err != nil {
		return nil, err
	}
	if c.Iterations, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cnetbundle_bundle_iterations_total",
		Help: "Bundle adjustment iterations performed.",
	})); err != nil {
		return nil, err
	}
	if c.Sigma0, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cnetbundle_bundle_sigma0",
		Help: "Standard deviation of unit weight after the latest iteration, in pixels.",
	})); err != nil {
		return nil, err
	}
	if c.SolveDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cnetbundle_solve_duration_seconds",
		Help:    "Time to solve one reduced normal system, labeled by solve method.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"method"})); err != nil {
		return nil, err
	}
	if c.ReferenceChanges, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cnetbundle_reference_changes_total",
		Help: "Control points whose reference measure changed.",
	})); err != nil {
		return nil, err
	}
	if c.MeasuresIgnored, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cnetbundle_measures_ignored_total",
		Help: "Measures set to ignored by reference selection.",
	})); err != nil {
		return nil, err
	}
	if c.MeasuresRejected, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cnetbundle_bundle_measures_rejected",
		Help: "Measures currently rejected as outliers.",
	})); err != nil {
		return nil, err
	}
	if c.Points, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cnetbundle_points_processed_total",
		Help: "Control points visited by reference selection, labeled by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("collector already registered with incompatible type: %v", err)
		}
		return existing, nil
	}
	return c, nil
}

// Serves the metrics of the underlying gatherer
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) RunDone(process, result string) {
	if c == nil {
		return
	}
	c.Runs.WithLabelValues(process, result).Inc()
}

func (c *Collector) Iteration(sigma0 float64, rejected int) {
	if c == nil {
		return
	}
	c.Iterations.Inc()
	c.Sigma0.Set(sigma0)
	c.MeasuresRejected.Set(float64(rejected))
}

func (c *Collector) Solved(method string, d time.Duration) {
	if c == nil {
		return
	}
	c.SolveDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (c *Collector) Point(outcome string, referenceChanged bool, measuresIgnored int) {
	if c == nil {
		return
	}
	c.Points.WithLabelValues(outcome).Inc()
	if referenceChanged {
		c.ReferenceChanges.Inc()
	}
	c.MeasuresIgnored.Add(float64(measuresIgnored))
}
