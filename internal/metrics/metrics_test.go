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

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.Iteration(0.25, 3)
	c.Iteration(0.125, 1)
	c.Point("modified", true, 2)
	c.Point("unchanged", false, 0)
	c.Solved("SpecialK", 2*time.Millisecond)
	c.RunDone("bundle", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Iterations))
	assert.Equal(t, 0.125, testutil.ToFloat64(c.Sigma0))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MeasuresRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ReferenceChanges))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.MeasuresIgnored))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Points.WithLabelValues("modified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Runs.WithLabelValues("bundle", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.SolveDuration))
}

func TestRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	require.NoError(t, err)
	b, err := New(reg)
	require.NoError(t, err)
	a.Iteration(1, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Iterations))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.Iteration(1, 1)
		c.Point("x", true, 1)
		c.Solved("QR", time.Second)
		c.RunDone("select", "ok")
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.Iteration(0.5, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cnetbundle_bundle_sigma0 0.5"))
}
