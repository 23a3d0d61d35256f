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

// Package rest serves the process API over HTTP. Requests stream their
// human-readable progress log as plain text.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/ops"
	"github.com/mlnoga/cnetbundle/internal/ops/adjust"
	"github.com/mlnoga/cnetbundle/internal/ops/ref"
	"github.com/mlnoga/cnetbundle/internal/ops/scene"
	"github.com/mlnoga/cnetbundle/internal/ops/score"
)

type Server struct {
	base   ops.Context
	engine *gin.Engine
	// serializes runs, which share the cube cache
	mu sync.Mutex
}

// Creates a server whose runs inherit the settings of base, with file names
// confined to the working directory tree
func NewServer(base *ops.Context) *Server {
	s := &Server{base: *base}
	s.base.Sandboxed = true

	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/operators", getOperators)
			v1.POST("/run", s.postRun)
			v1.POST("/select", s.postSelect)
			v1.POST("/bundle", s.postBundle)
			v1.POST("/interest", s.postInterest)
			v1.POST("/synthesize", s.postSynthesize)
		}
	}
	r.GET("/metrics", gin.WrapH(base.Metrics.Handler()))
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Listens and serves on addr, e.g. ":8080"
func (s *Server) Run(addr string) error {
	if err := s.engine.Run(addr); err != nil {
		return errs.Wrap(errs.Resource, err, "serving on %s", addr)
	}
	return nil
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func getOperators(c *gin.Context) {
	c.JSON(200, gin.H{"operators": ops.OperatorTypes()})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Runs seq with the request's log stream. The last line is "ok", or "error" with kind and message
func (s *Server) stream(c *gin.Context, args interface{}, seq *ops.OpSequence) {
	logWriter := c.Writer
	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	oc := s.base
	oc.Log = logWriter
	ctx := c.Request.Context()
	if oc.Logger == nil {
		oc.Logger = logging.Noop()
	}
	err := seq.Run(ctx, ops.NewState(), &oc)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s: %s\n", errs.KindOf(err), err.Error())
	} else {
		fmt.Fprintf(logWriter, "ok\n")
	}
	logWriter.Flush()
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// Arbitrary operator sequence as JSON
func (s *Server) postRun(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	seq, err := ops.ParseSequence(raw)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.stream(c, seq, seq)
}

// Inputs and outputs shared by the process endpoints
type files struct {
	Network  string   `json:"network"`
	CubeList string   `json:"cubeList"`
	Cubes    []string `json:"cubes"`
	Output   string   `json:"output"`
	Format   string   `json:"format"`
	LogFile  string   `json:"logFile"`
}

func (f *files) sequence(process ops.Operator) *ops.OpSequence {
	seq := ops.NewOpSequence(ops.NewOpLoadNetwork(f.Network), ops.NewOpLoadCubes(f.CubeList, f.Cubes), process)
	if f.Output != "" || f.LogFile != "" {
		save := ops.NewOpSaveNetwork(f.Output, f.LogFile)
		save.Format = f.Format
		seq.Append(save)
	}
	return seq
}

type postSelectArgs struct {
	files
	Select *ref.OpSelectReferences `json:"select"`
}

func (s *Server) postSelect(c *gin.Context) {
	args := postSelectArgs{Select: ref.NewOpSelectReferencesDefault()}
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	s.stream(c, args, args.sequence(args.Select))
}

type postBundleArgs struct {
	files
	Bundle *adjust.OpBundleAdjust `json:"bundle"`
}

func (s *Server) postBundle(c *gin.Context) {
	args := postBundleArgs{Bundle: adjust.NewOpBundleAdjustDefault()}
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	s.stream(c, args, args.sequence(args.Bundle))
}

type postInterestArgs struct {
	files
	Interest *score.OpInterestScore `json:"interest"`
}

func (s *Server) postInterest(c *gin.Context) {
	args := postInterestArgs{Interest: score.NewOpInterestScoreDefault()}
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	s.stream(c, args, args.sequence(args.Interest))
}

func (s *Server) postSynthesize(c *gin.Context) {
	op := scene.NewOpSynthesizeDefault()
	if err := c.ShouldBindJSON(op); err != nil {
		badRequest(c, err)
		return
	}
	s.stream(c, op, ops.NewOpSequence(op))
}
