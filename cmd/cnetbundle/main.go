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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/mlnoga/cnetbundle/internal/bundle"
	"github.com/mlnoga/cnetbundle/internal/config"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/metrics"
	"github.com/mlnoga/cnetbundle/internal/ops"
	"github.com/mlnoga/cnetbundle/internal/ops/adjust"
	"github.com/mlnoga/cnetbundle/internal/ops/ref"
	"github.com/mlnoga/cnetbundle/internal/ops/scene"
	"github.com/mlnoga/cnetbundle/internal/ops/score"
	"github.com/mlnoga/cnetbundle/internal/refselect"
	"github.com/mlnoga/cnetbundle/internal/rest"
	"github.com/mlnoga/cnetbundle/internal/synth"
)

const version = "0.1.0"

// Command line settings. Flags given explicitly override the YAML configuration
type options struct {
	fs *flag.FlagSet

	cpuprofile string
	memprofile string

	config string
	log    string

	cnet    string
	cubes   string
	onet    string
	format  string
	runLog  string
	workers int

	criterion  string
	resolution float64
	minRes     float64
	maxRes     float64
	strict     bool
	def        string

	method     string
	pointing   string
	twist      bool
	radius     bool
	held       string
	ckDegree   int
	ckSolve    int
	maxIter    int
	converge   string
	threshold  float64
	pixelSigma float64
	outliers   bool
	rejectMult float64
	errorProp  bool
	commit     string
	summary    string
	residuals  string
	points     string
	resMap     string
	update     bool

	scores   string
	previews string

	seed    uint
	images  int
	spacing float64
	size    int
	dir     string

	listen string
	chroot string
	setuid int
}

func newOptions(out io.Writer) *options {
	o := &options{fs: flag.NewFlagSet("cnetbundle", flag.ContinueOnError)}
	fs := o.fs
	fs.SetOutput(out)
	def := config.Default()
	syn := synth.DefaultOptions()

	fs.StringVar(&o.cpuprofile, "cpuprofile", "", "write cpu profile to `file`")
	fs.StringVar(&o.memprofile, "memprofile", "", "write memory profile to `file`")

	fs.StringVar(&o.config, "config", "", "read settings from YAML `file`, flags given explicitly take precedence")
	fs.StringVar(&o.log, "log", "%auto", "save console output to `file`. `%auto` replaces suffix of output network with .log")

	fs.StringVar(&o.cnet, "cnet", "", "read control network from `file`")
	fs.StringVar(&o.cubes, "cubes", "", "read cube file names from list `file`, one per line")
	fs.StringVar(&o.onet, "onet", "", "save output control network to `file`")
	fs.StringVar(&o.format, "format", "pvl", "output network format, pvl or binary")
	fs.StringVar(&o.runLog, "runLog", "", "save PVL run log to `file`")
	fs.IntVar(&o.workers, "workers", def.Workers, "concurrent points during reference selection")

	fs.StringVar(&o.criterion, "criterion", def.Select.Criterion.String(), "reference criterion, one of LeastEmission, LeastIncidence, LowestResolution, HighestResolution, MeanResolution, NearestResolution, ResolutionRange, Interest")
	fs.Float64Var(&o.resolution, "resolution", 0, "target resolution in meters per pixel for NearestResolution")
	fs.Float64Var(&o.minRes, "minRes", 0, "lower resolution bound in meters per pixel for ResolutionRange")
	fs.Float64Var(&o.maxRes, "maxRes", 0, "upper resolution bound in meters per pixel for ResolutionRange")
	fs.BoolVar(&o.strict, "strict", false, "ResolutionRange: leave points without a measure in range unchanged")
	fs.StringVar(&o.def, "def", "", "PVL definition `file` with ValidMeasure and Operator groups")

	b := def.Bundle
	fs.StringVar(&o.method, "method", b.Method.String(), "solve method, one of SpecialK, Cholesky, QR, SVD, Sparse")
	fs.StringVar(&o.pointing, "pointing", b.Pointing.String(), "pointing solve type, one of None, AnglesOnly, AnglesVelocity, AnglesVelocityAcceleration, All")
	fs.BoolVar(&o.twist, "twist", b.SolveTwist, "solve for twist")
	fs.BoolVar(&o.radius, "radius", b.SolveRadius, "solve for point radii")
	fs.IntVar(&o.ckDegree, "ckDegree", b.CKDegree, "degree of the pointing polynomial")
	fs.IntVar(&o.ckSolve, "ckSolveDegree", b.CKSolveDegree, "degree of the pointing polynomial solved for")
	fs.StringVar(&o.held, "held", "", "comma separated serial numbers of images to hold fixed")
	fs.IntVar(&o.maxIter, "maxIter", b.MaxIterations, "maximum iterations, 0=report residuals only")
	fs.StringVar(&o.converge, "converge", b.Criterion.String(), "convergence criterion, Sigma0 or ParameterCorrections")
	fs.Float64Var(&o.threshold, "threshold", b.Threshold, "convergence threshold")
	fs.Float64Var(&o.pixelSigma, "pixelSigma", b.PixelSigma, "measurement sigma in pixels")
	fs.BoolVar(&o.outliers, "outliers", b.OutlierRejection, "reject outlier measures")
	fs.Float64Var(&o.rejectMult, "rejectMult", b.RejectionMultiplier, "outlier rejection multiplier")
	fs.BoolVar(&o.errorProp, "errorProp", b.ErrorPropagation, "propagate errors into parameter and point sigmas")
	fs.StringVar(&o.commit, "commit", b.Commit.String(), "commit policy on convergence failure, Transactional or LastIteration")
	fs.StringVar(&o.summary, "summary", "", "save PVL bundle summary to `file`")
	fs.StringVar(&o.residuals, "residuals", "", "save measure residuals as CSV to `file`")
	fs.StringVar(&o.points, "points", "", "save adjusted points as CSV to `file`")
	fs.StringVar(&o.resMap, "map", "", "save residual map as JPEG to `file`")
	fs.BoolVar(&o.update, "update", false, "write adjusted cameras back into the cube files")

	fs.StringVar(&o.scores, "scores", "", "save interest scores as CSV to `file`")
	fs.StringVar(&o.previews, "previews", "", "save a TIFF of each scored chip to `dir`")

	fs.UintVar(&o.seed, "seed", uint(syn.Seed), "random seed for synthetic scenes")
	fs.IntVar(&o.images, "images", syn.Images, "number of synthetic images")
	fs.Float64Var(&o.spacing, "spacing", syn.Spacing, "longitude spacing of synthetic images in degrees")
	fs.IntVar(&o.size, "size", syn.Samples, "synthetic image width and height in pixels")
	fs.StringVar(&o.dir, "dir", ".", "write synthetic scene to `directory`")

	fs.StringVar(&o.listen, "listen", def.Listen, "serve REST API on `address`")
	fs.StringVar(&o.chroot, "chroot", "", "chroot to `directory` before serving, requires root")
	fs.IntVar(&o.setuid, "setuid", -1, "change user ID before serving, -1=keep")

	fs.Usage = func() {
		fmt.Fprintf(out, `cnetbundle Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: cnetbundle [-flag value] (select|bundle|interest|synth|run|serve|config|legal|version) (args)

Commands:
  select   Choose reference measures for all points of a control network
  bundle   Bundle adjust images and points of a control network
  interest Score the measures of a control network with an interest operator
  synth    Write a synthetic scene with cubes and a control network
  run      Run operator sequences from JSON files given as arguments
  serve    Serve the REST API
  config   Print the effective configuration as YAML
  legal    Show license and attribution information
  version  Show version information

Cube file names may be given as arguments in addition to -cubes.

Flags:
`)
		fs.PrintDefaults()
	}
	return o
}

// Folds explicitly given flags into the configuration
func (o *options) apply(cfg *config.Config) (err error) {
	set := map[string]bool{}
	o.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["workers"] {
		cfg.Workers = o.workers
	}
	s := &cfg.Select
	if set["criterion"] {
		if s.Criterion, err = refselect.ParseCriterion(o.criterion); err != nil {
			return err
		}
	}
	if set["resolution"] {
		s.Resolution = o.resolution
	}
	if set["minRes"] {
		s.MinResolution = o.minRes
	}
	if set["maxRes"] {
		s.MaxResolution = o.maxRes
	}
	if set["strict"] {
		s.Strict = o.strict
	}
	if set["def"] {
		s.Definition = o.def
	}

	b := &cfg.Bundle
	if set["method"] {
		if b.Method, err = bundle.ParseMethod(o.method); err != nil {
			return err
		}
	}
	if set["pointing"] {
		if b.Pointing, err = bundle.ParsePointingSolve(o.pointing); err != nil {
			return err
		}
	}
	if set["converge"] {
		if b.Criterion, err = bundle.ParseCriterion(o.converge); err != nil {
			return err
		}
	}
	if set["commit"] {
		if b.Commit, err = bundle.ParseCommit(o.commit); err != nil {
			return err
		}
	}
	if set["twist"] {
		b.SolveTwist = o.twist
	}
	if set["radius"] {
		b.SolveRadius = o.radius
	}
	if set["ckDegree"] {
		b.CKDegree = o.ckDegree
	}
	if set["ckSolveDegree"] {
		b.CKSolveDegree = o.ckSolve
	}
	if set["held"] {
		b.Held = splitList(o.held)
	}
	if set["maxIter"] {
		b.MaxIterations = o.maxIter
	}
	if set["threshold"] {
		b.Threshold = o.threshold
	}
	if set["pixelSigma"] {
		b.PixelSigma = o.pixelSigma
	}
	if set["outliers"] {
		b.OutlierRejection = o.outliers
	}
	if set["rejectMult"] {
		b.RejectionMultiplier = o.rejectMult
	}
	if set["errorProp"] {
		b.ErrorPropagation = o.errorProp
	}
	if set["listen"] {
		cfg.Listen = o.listen
	}
	return cfg.Validate()
}

func splitList(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// Runs the command line and returns the process exit code
func run(ctx context.Context, args []string, stdout io.Writer) int {
	start := time.Now()
	o := newOptions(stdout)
	if err := o.fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return errs.ExitCode(errs.Wrap(errs.Input, err, "parsing flags"))
	}
	cmdArgs := o.fs.Args()
	if len(cmdArgs) < 1 {
		o.fs.Usage()
		return 0
	}
	switch cmdArgs[0] {
	case "legal":
		fmt.Fprint(stdout, legal)
		return 0
	case "version":
		fmt.Fprintf(stdout, "Version %s\n", version)
		return 0
	case "help", "?":
		o.fs.Usage()
		return 0
	}

	// Initialize logging to file in addition to stdout, if selected
	if o.log == "%auto" {
		if o.onet != "" {
			o.log = strings.TrimSuffix(o.onet, filepath.Ext(o.onet)) + ".log"
		} else {
			o.log = ""
		}
	}
	tee := logging.NewTee(stdout)
	defer tee.Close()
	if o.log != "" {
		if err := tee.AlsoToFile(o.log); err != nil {
			fmt.Fprintf(stdout, "Unable to open logfile '%s': %s\n", o.log, err)
			return errs.ExitCode(errs.Wrap(errs.Resource, err, "opening log file"))
		}
	}

	// Enable CPU profiling if flagged
	if o.cpuprofile != "" {
		f, err := os.Create(o.cpuprofile)
		if err != nil {
			fmt.Fprintf(tee, "Could not create CPU profile: %s\n", err)
			return errs.ExitCode(errs.Wrap(errs.Resource, err, "creating CPU profile"))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(tee, "Could not start CPU profile: %s\n", err)
			return errs.ExitCode(errs.Wrap(errs.Resource, err, "starting CPU profile"))
		}
		defer pprof.StopCPUProfile()
	}

	err := dispatch(ctx, o, cmdArgs, tee)
	if err != nil {
		fmt.Fprintf(tee, "Error: %s: %s\n", errs.KindOf(err), err)
	}

	// Store memory profile if flagged
	if o.memprofile != "" {
		f, perr := os.Create(o.memprofile)
		if perr != nil {
			fmt.Fprintf(tee, "Could not create memory profile: %s\n", perr)
		} else {
			runtime.GC()
			if perr := pprof.WriteHeapProfile(f); perr != nil {
				fmt.Fprintf(tee, "Could not write memory profile: %s\n", perr)
			}
			f.Close()
		}
	}

	fmt.Fprintf(tee, "Done after %v\n", time.Since(start))
	return errs.ExitCode(err)
}

func dispatch(ctx context.Context, o *options, args []string, logWriter io.Writer) error {
	cfg := config.Default()
	if o.config != "" {
		var err error
		if cfg, err = config.Load(o.config); err != nil {
			return err
		}
	}
	if err := o.apply(cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "creating logger")
	}
	defer logger.Sync()
	ctx = logging.WithRunID(ctx, fmt.Sprintf("%s-%d", args[0], time.Now().UnixNano()))

	c := ops.NewContext(logWriter)
	c.Logger = logger
	if cfg.MemoryMB > 0 {
		c.CacheMB = cfg.MemoryMB
		c.Cache = cube.NewCache(cfg.MemoryMB)
	}

	var seq *ops.OpSequence
	switch args[0] {
	case "select":
		op := ref.NewOpSelectReferences(cfg.Select.Criterion)
		op.Resolution = cfg.Select.Resolution
		op.MinResolution, op.MaxResolution = cfg.Select.MinResolution, cfg.Select.MaxResolution
		op.Strict = cfg.Select.Strict
		op.Definition = cfg.Select.Definition
		op.Workers = cfg.Workers
		seq = o.sequence(args[1:], op)

	case "bundle":
		op := adjust.NewOpBundleAdjust(cfg.Bundle)
		op.SummaryFile, op.ResidualFile, op.PointFile = o.summary, o.residuals, o.points
		op.ResidualMap = o.resMap
		op.UpdateCubes = o.update
		seq = o.sequence(args[1:], op)

	case "interest":
		if cfg.Select.Definition == "" {
			return errs.New(errs.Input, "interest needs a definition file with an Operator group, see -def")
		}
		op := score.NewOpInterestScore(cfg.Select.Definition, o.scores)
		op.PreviewDir = o.previews
		seq = o.sequence(args[1:], op)

	case "synth":
		so := synth.DefaultOptions()
		so.Seed, so.Images, so.Spacing = uint32(o.seed), o.images, o.spacing
		so.Samples, so.Lines = o.size, o.size
		op := scene.NewOpSynthesize(so)
		op.Dir, op.Format = o.dir, o.format
		seq = ops.NewOpSequence(op)

	case "run":
		if len(args) < 2 {
			return errs.New(errs.Input, "run needs at least one JSON sequence file")
		}
		seq = ops.NewOpSequence()
		for _, fn := range args[1:] {
			data, err := os.ReadFile(fn)
			if err != nil {
				return errs.Wrap(errs.Input, err, "reading sequence %s", fn)
			}
			s, err := ops.ParseSequence(data)
			if err != nil {
				return errs.Wrap(errs.KindOf(err), err, "parsing sequence %s", fn)
			}
			seq.Append(s)
		}

	case "serve":
		return serve(o, cfg, c)

	case "config":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return errs.Wrap(errs.Input, err, "marshaling configuration")
		}
		_, err = logWriter.Write(out)
		return err

	default:
		return errs.New(errs.Input, "unknown command %s", args[0])
	}

	return seq.Run(ctx, ops.NewState(), c)
}

// Loads network and cubes, runs the process and saves the network if requested
func (o *options) sequence(cubeFiles []string, process ops.Operator) *ops.OpSequence {
	seq := ops.NewOpSequence(ops.NewOpLoadNetwork(o.cnet), ops.NewOpLoadCubes(o.cubes, cubeFiles), process)
	if o.onet != "" || o.runLog != "" {
		save := ops.NewOpSaveNetwork(o.onet, o.runLog)
		save.Format = o.format
		seq.Append(save)
	}
	return seq
}

func serve(o *options, cfg *config.Config, c *ops.Context) error {
	if o.chroot != "" || o.setuid >= 0 {
		if err := rest.MakeSandbox(c.Log, o.chroot, o.setuid); err != nil {
			return err
		}
	} else if cfg.Sandbox != "" {
		if err := os.Chdir(cfg.Sandbox); err != nil {
			return errs.Wrap(errs.Resource, err, "changing to sandbox %s", cfg.Sandbox)
		}
	}
	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "registering metrics")
	}
	c.Metrics = m
	fmt.Fprintf(c.Log, "Serving REST API on %s\n", cfg.Listen)
	return rest.NewServer(c).Run(cfg.Listen)
}
