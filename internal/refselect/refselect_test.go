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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/geom"
	"github.com/mlnoga/cnetbundle/internal/interest"
	"github.com/mlnoga/cnetbundle/internal/metrics"
	"github.com/mlnoga/cnetbundle/internal/report"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Camera seeing the same angles at every pixel. Ground points project to at
type stubCamera struct {
	camera.Camera
	angles geom.Angles
	at     [2]float64
}

func (c *stubCamera) Clone() camera.Camera { d := *c; return &d }
func (c *stubCamera) Samples() int         { return 100 }
func (c *stubCamera) Lines() int           { return 100 }

func (c *stubCamera) SetImage(sample, line float64) error { return nil }
func (c *stubCamera) Angles() (geom.Angles, error)        { return c.angles, nil }
func (c *stubCamera) Ground() (geom.Ground, bool)         { return geom.Ground{Radius: 1737400}, true }
func (c *stubCamera) SetGround(g geom.Ground, keepTime bool) (float64, float64, error) {
	return c.at[0], c.at[1], nil
}

type scene struct {
	images map[string]*cube.Cube
}

func serial(i int) string { return fmt.Sprintf("IMG/%d", i) }

func newScene(angles ...geom.Angles) *scene {
	s := &scene{images: map[string]*cube.Cube{}}
	for i, a := range angles {
		c := cube.New(100, 100, 1, cube.Real)
		for j := range c.Data {
			c.Data[j] = 1
		}
		cam := &stubCamera{angles: a, at: [2]float64{40, 41}}
		c.AttachCamera(cam)
		s.images[serial(i)] = c
	}
	return s
}

func emissions(es ...float64) []geom.Angles {
	as := make([]geom.Angles, len(es))
	for i, e := range es {
		as[i] = geom.Angles{Emission: e, Incidence: 30, Phase: 40, Resolution: 10 + e}
	}
	return as
}

// Adds a Free point measured at (50,50) in images 0..n-1 with the given reference
func addPoint(t *testing.T, net *cnet.Network, id string, n, ref int) *cnet.Point {
	p := cnet.NewPoint(id, cnet.Free)
	for i := 0; i < n; i++ {
		require.NoError(t, p.AddMeasure(&cnet.Measure{Serial: serial(i), Sample: 50, Line: 50}))
	}
	require.NoError(t, p.SetReference(ref))
	require.NoError(t, net.AddPoint(p))
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Clock = clock.NewMock()
	return cfg
}

func run(t *testing.T, net *cnet.Network, sc *scene, cfg Config) (Statistics, *report.Log) {
	log := report.NewLog("ReferenceSelection")
	st, err := SelectReferences(context.Background(), net, sc.images, cfg, log)
	require.NoError(t, err)
	require.NoError(t, net.Check())
	return st, log
}

func TestLeastEmissionPicksSmallest(t *testing.T) {
	sc := newScene(emissions(20, 5, 60)...)
	net := cnet.New("n", "Moon")
	addPoint(t, net, "P1", 3, 0)

	cfg := testConfig()
	reg := prometheus.NewRegistry()
	var err error
	cfg.Metrics, err = metrics.New(reg)
	require.NoError(t, err)

	st, log := run(t, net, sc, cfg)
	p := net.At(0)
	assert.Equal(t, 1, p.RefIndex())
	assert.Equal(t, ChooserReference, p.At(1).ChooserName)
	assert.Equal(t, "1970-01-01T00:00:00", p.At(1).DateTime)
	assert.Equal(t, 1, st.ReferenceChanged)
	assert.Equal(t, 1, st.PointsModified)
	assert.Equal(t, 2, st.MeasuresModified)
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.ReferenceChanges))

	details := log.Points()[0]
	g := details.FindGroup("ReferenceChangeDetails")
	require.NotNil(t, g)
	assert.Equal(t, "IMG/0", g.Find("PrevSerialNumber").Value())
	assert.Equal(t, "20.0", g.Find("PrevEmAngle").Value())
	assert.Equal(t, "IMG/1", g.Find("NewSerialNumber").Value())
	assert.Equal(t, "5.0", g.Find("NewLeastEmAngle").Value())
	assert.Contains(t, log.String(), "NewLeastEmAngle")
}

func TestCriteria(t *testing.T) {
	as := []geom.Angles{
		{Emission: 10, Incidence: 50, Resolution: 30},
		{Emission: 20, Incidence: 40, Resolution: 10},
		{Emission: 30, Incidence: 60, Resolution: 20},
		{Emission: 40, Incidence: 45, Resolution: 60},
	}
	for _, tc := range []struct {
		cfg  func(c *Config)
		want int
	}{
		{func(c *Config) { c.Criterion = LeastEmission }, 0},
		{func(c *Config) { c.Criterion = LeastIncidence }, 1},
		{func(c *Config) { c.Criterion = HighestResolution }, 1},
		{func(c *Config) { c.Criterion = LowestResolution }, 3},
		{func(c *Config) { c.Criterion = MeanResolution }, 0}, // mean is 30
		{func(c *Config) { c.Criterion, c.Resolution = NearestResolution, 22 }, 2},
		{func(c *Config) { c.Criterion, c.MinResolution, c.MaxResolution = ResolutionRange, 15, 25 }, 2},
	} {
		cfg := testConfig()
		tc.cfg(&cfg)
		t.Run(cfg.Criterion.String(), func(t *testing.T) {
			net := cnet.New("n", "Moon")
			addPoint(t, net, "P1", 4, 3)
			run(t, net, newScene(as...), cfg)
			assert.Equal(t, tc.want, net.At(0).RefIndex())
		})
	}
}

func TestResolutionRangeStrict(t *testing.T) {
	as := emissions(10, 20) // resolutions 20 and 30
	cfg := testConfig()
	cfg.Criterion, cfg.MinResolution, cfg.MaxResolution = ResolutionRange, 100, 200

	net := cnet.New("n", "Moon")
	addPoint(t, net, "P1", 2, 1)
	run(t, net, newScene(as...), cfg)
	assert.Equal(t, 0, net.At(0).RefIndex())

	cfg.Strict = true
	net = cnet.New("n", "Moon")
	addPoint(t, net, "P1", 2, 1)
	st, log := run(t, net, newScene(as...), cfg)
	assert.Equal(t, 1, net.At(0).RefIndex())
	assert.Equal(t, 0, st.PointsModified)
	assert.Contains(t, log.Points()[0].StringOr("Note", ""), "left unchanged")
}

func TestInvalidMeasuresIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Validate.MaxEmission = 30

	net := cnet.New("n", "Moon")
	addPoint(t, net, "P1", 3, 2)
	addPoint(t, net, "P2", 3, 0)
	sc := newScene(emissions(20, 50, 25)...)
	st, log := run(t, net, sc, cfg)

	p := net.At(0)
	assert.False(t, p.Ignored)
	assert.True(t, p.At(1).Ignored)
	assert.Equal(t, 0, p.RefIndex())
	assert.Equal(t, 2, st.MeasuresIgnored)
	require.Len(t, log.Entries(), 2)
	e := log.Entries()[0]
	assert.Equal(t, "P1", e.PointID)
	assert.Equal(t, "IMG/1", e.Serial)
	assert.Equal(t, "Ignored", e.After)
	assert.Contains(t, e.Cause, "Emission Angle")

	// a point left with two images but one invalid loses its last pair
	net = cnet.New("n", "Moon")
	addPoint(t, net, "P1", 2, 0)
	st, _ = run(t, net, newScene(emissions(50, 20)...), cfg)
	assert.True(t, net.At(0).Ignored)
	assert.Equal(t, 1, st.PointsIgnored)
	assert.Equal(t, 0, st.ReferenceChanged)
}

func TestLockedAndFixedPointsUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.Validate.MaxEmission = 30
	sc := newScene(emissions(25, 5, 60)...)

	net := cnet.New("n", "Moon")
	locked := addPoint(t, net, "LOCKED", 3, 0)
	locked.EditLocked = true
	fixed := addPoint(t, net, "FIXED", 3, 0)
	fixed.Type = cnet.Fixed
	ignored := addPoint(t, net, "IGNORED", 3, 0)
	ignored.Ignored = true
	before := net.Clone()

	st, log := run(t, net, sc, cfg)
	for i := 0; i < net.Len(); i++ {
		p, q := net.At(i), before.At(i)
		assert.Equal(t, q.RefIndex(), p.RefIndex(), p.ID)
		for j := range p.Measures() {
			assert.Equal(t, *q.At(j), *p.At(j), p.ID)
		}
	}
	assert.Equal(t, 1, st.PointsLocked)
	assert.Equal(t, 1, st.PointsFixed)
	assert.Equal(t, 0, st.PointsModified)
	assert.Equal(t, "Point is EditLocked", log.Points()[0].StringOr("Reference", ""))
	assert.Equal(t, "Not a Free Point", log.Points()[1].StringOr("Comment1", ""))
	assert.Equal(t, "Point was originally Ignored", log.Points()[2].StringOr("Comment1", ""))
}

func TestInterestMovesMeasures(t *testing.T) {
	cfg := testConfig()
	cfg.Criterion = Interest
	cfg.Interest = interest.Config{Name: "NoOp", Samples: 5, Lines: 5, DeltaSamp: 2, DeltaLine: 2}

	net := cnet.New("n", "Moon")
	addPoint(t, net, "P1", 3, -1)
	st, log := run(t, net, newScene(emissions(10, 20, 30)...), cfg)

	p := net.At(0)
	assert.Equal(t, 0, p.RefIndex())
	assert.Equal(t, 50.0, p.At(0).Sample)
	for _, m := range p.Measures()[1:] {
		assert.Equal(t, 40.0, m.Sample)
		assert.Equal(t, 41.0, m.Line)
		assert.Equal(t, 50.0, m.AprioriSample)
		assert.Equal(t, ChooserInterest, m.ChooserName)
	}
	assert.Equal(t, 3, st.MeasuresModified)
	g := log.Points()[0].FindGroup("ReferenceChangeDetails")
	require.NotNil(t, g)
	assert.Equal(t, "None", g.Find("PrevSerialNumber").Value())
	assert.NotNil(t, g.Find("NewBestInterest"))
}

// Builds a network mixing all outcomes
func mixedNetwork(t *testing.T) *cnet.Network {
	net := cnet.New("n", "Moon")
	for i := 0; i < 40; i++ {
		p := addPoint(t, net, fmt.Sprintf("P%03d", i), 2+i%4, i%2)
		switch i % 7 {
		case 3:
			p.EditLocked = true
		case 5:
			p.Type = cnet.Constrained
		}
	}
	return net
}

func TestParallelMatchesSerial(t *testing.T) {
	sc := newScene(emissions(25, 5, 60, 12, 40)...)
	cfg := testConfig()
	cfg.Validate.MaxEmission = 30

	serialNet := mixedNetwork(t)
	_, serialLog := run(t, serialNet, sc, cfg)

	cfg.Workers = 4
	parallelNet := mixedNetwork(t)
	_, parallelLog := run(t, parallelNet, sc, cfg)

	assert.Equal(t, serialLog.String(), parallelLog.String())
	for i := 0; i < serialNet.Len(); i++ {
		p, q := serialNet.At(i), parallelNet.At(i)
		assert.Equal(t, p.Ignored, q.Ignored)
		assert.Equal(t, p.RefIndex(), q.RefIndex())
		for j := range p.Measures() {
			assert.Equal(t, *p.At(j), *q.At(j))
		}
	}
}

func TestIdempotent(t *testing.T) {
	sc := newScene(emissions(25, 5, 60, 12, 40)...)
	cfg := testConfig()
	cfg.Validate.MaxEmission = 30
	net := mixedNetwork(t)
	run(t, net, sc, cfg)
	once := net.Clone()

	cfg.Clock.(*clock.Mock).Add(time.Hour)
	st, _ := run(t, net, sc, cfg)
	assert.Equal(t, 0, st.PointsModified)
	assert.Equal(t, 0, st.ReferenceChanged)
	for i := 0; i < net.Len(); i++ {
		for j := range net.At(i).Measures() {
			assert.Equal(t, *once.At(i).At(j), *net.At(i).At(j))
		}
	}
}

func TestCancelledLeavesNetworkUnchanged(t *testing.T) {
	sc := newScene(emissions(25, 5, 60)...)
	net := cnet.New("n", "Moon")
	addPoint(t, net, "P1", 3, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig()
	cfg.Workers = 3
	_, err := SelectReferences(ctx, net, sc.images, cfg, report.NewLog("x"))
	assert.True(t, errs.Is(err, errs.Cancellation))
	assert.Equal(t, 0, net.At(0).RefIndex())
}

func TestMissingImage(t *testing.T) {
	net := cnet.New("n", "Moon")
	addPoint(t, net, "P1", 3, 0)
	sc := newScene(emissions(20, 10)...) // no IMG/2
	st, log := run(t, net, sc, testConfig())
	assert.Equal(t, 1, net.At(0).RefIndex())
	assert.True(t, net.At(0).At(2).Ignored)
	assert.Equal(t, 1, st.MeasuresIgnored)
	assert.Contains(t, log.Entries()[0].Cause, "no image")
}

func TestConfigErrors(t *testing.T) {
	for _, f := range []func(c *Config){
		func(c *Config) { c.Criterion = NearestResolution },
		func(c *Config) { c.Criterion, c.MinResolution, c.MaxResolution = ResolutionRange, 5, 1 },
		func(c *Config) { c.Criterion = Interest },
		func(c *Config) { c.Validate.MinEmission = 100; c.Validate.MaxEmission = 10 },
	} {
		cfg := testConfig()
		f(&cfg)
		_, err := SelectReferences(context.Background(), cnet.New("n", "Moon"), nil, cfg, report.NewLog("x"))
		assert.True(t, errs.Is(err, errs.Input), "%v", err)
	}

	c, err := ParseCriterion("leastincidence")
	require.NoError(t, err)
	assert.Equal(t, LeastIncidence, c)
	_, err = ParseCriterion("best")
	assert.Error(t, err)
}
