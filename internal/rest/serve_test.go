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

package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/metrics"
	"github.com/mlnoga/cnetbundle/internal/ops"
)

func testServer(t *testing.T) *Server {
	gin.SetMode(gin.TestMode)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	c := ops.NewContext(&bytes.Buffer{})
	c.Cache = cube.NewCache(64)
	c.Metrics = m
	return NewServer(c)
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w := do(testServer(t), http.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestOperators(t *testing.T) {
	w := do(testServer(t), http.MethodGet, "/api/v1/operators", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct{ Operators []string }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Subset(t, res.Operators, []string{"bundleAdjust", "interestScore", "selectReferences", "synthesize", "seq"})
}

func TestRunSequenceStreamsLog(t *testing.T) {
	s := testServer(t)
	body := `{"type":"seq","active":true,"steps":[
		{"type":"synthesize","active":true,"images":2,"samples":128,"lines":128,"spacing":0.004,"texture":false},
		{"type":"bundleAdjust","active":true,"settings":{"ckDegree":0,"ckSolveDegree":0,"criterion":"ParameterCorrections",
			"threshold":1e-10,"maxIterations":10,"held":["SYNTH/000"]}}]}`
	w := do(s, http.MethodPost, "/api/v1/run", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	out := w.Body.String()
	assert.Contains(t, out, "Arguments:")
	assert.Contains(t, out, "Synthesized 2 images")
	assert.Contains(t, out, "Converged after")
	assert.True(t, strings.HasSuffix(out, "ok\n"), out)

	m := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), `result="ok"`)
}

func TestRunRejectsBadSequence(t *testing.T) {
	w := do(testServer(t), http.MethodPost, "/api/v1/run", `{"type":"seq","steps":[{"type":"nope"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown operator type")
}

func TestSandboxRejectsAbsolutePaths(t *testing.T) {
	w := do(testServer(t), http.MethodPost, "/api/v1/bundle", `{"network":"/etc/passwd","cubeList":"cubes.lis"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "error: Input")
	assert.Contains(t, w.Body.String(), "outside current directory tree")
}

func TestBadJSON(t *testing.T) {
	s := testServer(t)
	for _, path := range []string{"/api/v1/select", "/api/v1/bundle", "/api/v1/interest", "/api/v1/synthesize"} {
		w := do(s, http.MethodPost, path, `{"network":`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}
