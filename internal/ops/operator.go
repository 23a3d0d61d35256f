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

package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pbnjay/memory"
	"go.uber.org/multierr"

	"github.com/mlnoga/cnetbundle/internal/bundle"
	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/metrics"
	"github.com/mlnoga/cnetbundle/internal/report"
)

// An execution context for operators
type Context struct {
	Log        io.Writer
	MemoryMB   int // memory.TotalMemory()/1024/1024
	CacheMB    int // MemoryMB/4
	MaxThreads int `json:"maxThreads"`
	// Confines file names to the current directory tree
	Sandboxed bool

	Logger  logging.Logger
	Metrics *metrics.Collector
	Cache   *cube.Cache
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:        log,
		MemoryMB:   memoryMB,
		CacheMB:    memoryMB / 4,
		MaxThreads: runtime.GOMAXPROCS(0),
		Logger:     logging.Noop(),
		Cache:      cube.NewCache(memoryMB / 4),
	}
}

// The data a sequence of operators works on
type State struct {
	Network     *cnet.Network
	NetworkFile string
	// Opened images by serial number, and the serials in list order
	Cubes   map[string]*cube.Cube
	Serials []string

	// Log of the most recent selection or adjustment
	Log      *report.Log
	Solution *bundle.Solution
}

func NewState() *State { return &State{Cubes: map[string]*cube.Cube{}} }

// Opened cubes in list order
func (s *State) CubeList() []*cube.Cube {
	res := make([]*cube.Cube, 0, len(s.Serials))
	for _, serial := range s.Serials {
		res = append(res, s.Cubes[serial])
	}
	return res
}

func (s *State) needNetwork(op string) error {
	if s.Network == nil {
		return errs.New(errs.Input, "%s operator needs a network, load one first", op)
	}
	return nil
}

// A processing step on the shared state
type Operator interface {
	GetType() string
	IsActive() bool
	Run(ctx context.Context, s *State, c *Context) error
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Registered operator type strings, sorted
func OperatorTypes() []string {
	res := make([]string, 0, len(operatorFactories))
	for t := range operatorFactories {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false
	}
	if strings.Contains(p, "..") {
		return false
	}
	return true
}

// Checks a file name against the sandbox of the context
func (c *Context) CheckPath(p string) error {
	if c.Sandboxed && !isPathAllowed(p) {
		return errs.New(errs.Input, "file name %s outside current directory tree, aborting", p)
	}
	return nil
}

// Loads a control network. Takes no network, produces one
type OpLoadNetwork struct {
	OpBase
	FileName string `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadNetworkDefault() }) } // register the operator for JSON decoding

func NewOpLoadNetworkDefault() *OpLoadNetwork { return NewOpLoadNetwork("") }

func NewOpLoadNetwork(fileName string) *OpLoadNetwork {
	return &OpLoadNetwork{
		OpBase:   OpBase{Type: "loadNetwork", Active: true},
		FileName: fileName,
	}
}

func (op *OpLoadNetwork) Run(ctx context.Context, s *State, c *Context) error {
	if err := c.CheckPath(op.FileName); err != nil {
		return err
	}
	net, err := cnet.ReadFile(op.FileName)
	if err != nil {
		return err
	}
	total, valid := net.NumMeasures()
	fmt.Fprintf(c.Log, "Loaded network %s with %d points and %d measures (%d valid) from %s\n",
		net.NetworkID, net.Len(), total, valid, op.FileName)
	s.Network, s.NetworkFile = net, op.FileName
	return nil
}

// Opens the cubes named in a list file, or the given file names.
// Serial numbers must be unique
type OpLoadCubes struct {
	OpBase
	ListFile  string   `json:"listFile"`
	FileNames []string `json:"fileNames"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadCubesDefault() }) } // register the operator for JSON decoding

func NewOpLoadCubesDefault() *OpLoadCubes { return NewOpLoadCubes("", nil) }

func NewOpLoadCubes(listFile string, fileNames []string) *OpLoadCubes {
	return &OpLoadCubes{
		OpBase:    OpBase{Type: "loadCubes", Active: true},
		ListFile:  listFile,
		FileNames: fileNames,
	}
}

func (op *OpLoadCubes) Run(ctx context.Context, s *State, c *Context) error {
	names := append([]string(nil), op.FileNames...)
	if op.ListFile != "" {
		if err := c.CheckPath(op.ListFile); err != nil {
			return err
		}
		listed, err := cube.ReadList(op.ListFile)
		if err != nil {
			return err
		}
		names = append(names, listed...)
	}
	if len(names) == 0 {
		return errs.New(errs.Input, "%s operator with no cubes to load", op.Type)
	}
	for _, n := range names {
		if err := c.CheckPath(n); err != nil {
			return err
		}
	}

	cubes, err := LoadAll(ctx, names, c)
	if err != nil {
		return err
	}
	for _, cb := range cubes {
		serial := cb.Serial()
		if prev, ok := s.Cubes[serial]; ok && prev.FileName != cb.FileName {
			return errs.New(errs.NetworkConsistency, "serial %s used by both %s and %s", serial, prev.FileName, cb.FileName)
		}
		if _, ok := s.Cubes[serial]; !ok {
			s.Serials = append(s.Serials, serial)
		}
		s.Cubes[serial] = cb
	}
	fmt.Fprintf(c.Log, "Opened %d cubes.\n", len(cubes))
	return nil
}

// Reads cubes with the concurrency limit of the context. Cubes already in
// the context's cache are reused, newly read ones are added to it
func LoadAll(ctx context.Context, names []string, c *Context) ([]*cube.Cube, error) {
	outs := make([]*cube.Cube, len(names))
	var missing []int
	for i, n := range names {
		if c.Cache != nil {
			if cb, ok := c.Cache.Lookup(n); ok {
				outs[i] = cb
				continue
			}
		}
		missing = append(missing, i)
	}

	maxThreads := c.MaxThreads
	if maxThreads < 1 {
		maxThreads = 1
	}
	limiter := make(chan bool, maxThreads)
	failures := make([]error, len(names))
	for _, i := range missing {
		if ctx.Err() != nil {
			break
		}
		limiter <- true
		go func(i int) {
			defer func() { <-limiter }()
			outs[i], failures[i] = cube.ReadFile(names[i])
		}(i)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	if err := errs.FromContext(ctx); err != nil {
		return nil, err
	}
	var err error
	for _, e := range failures {
		err = multierr.Append(err, e)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(multierr.Errors(err)[0]), err, "loading cubes")
	}
	if c.Cache != nil {
		for _, i := range missing {
			c.Cache.Put(names[i], outs[i])
		}
	}
	return outs, nil
}

// Saves the network, and optionally the log of the last process
type OpSaveNetwork struct {
	OpBase
	FileName string `json:"fileName"`
	Format   string `json:"format"` // pvl or binary
	LogFile  string `json:"logFile"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveNetworkDefault() }) } // register the operator for JSON decoding

func NewOpSaveNetworkDefault() *OpSaveNetwork { return NewOpSaveNetwork("", "") }

func NewOpSaveNetwork(fileName, logFile string) *OpSaveNetwork {
	return &OpSaveNetwork{
		OpBase:   OpBase{Type: "saveNetwork", Active: fileName != "" || logFile != ""},
		FileName: fileName,
		LogFile:  logFile,
	}
}

func (op *OpSaveNetwork) Run(ctx context.Context, s *State, c *Context) error {
	if op.FileName != "" {
		if err := s.needNetwork(op.Type); err != nil {
			return err
		}
		if err := c.CheckPath(op.FileName); err != nil {
			return err
		}
		f, err := cnet.ParseFormat(op.Format)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "Writing network with %d points to %s\n", s.Network.Len(), op.FileName)
		if err := s.Network.WriteFile(op.FileName, f); err != nil {
			return err
		}
	}
	if op.LogFile != "" && s.Log != nil {
		if err := c.CheckPath(op.LogFile); err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "Writing log with %d entries to %s\n", len(s.Log.Entries()), op.LogFile)
		if err := s.Log.WriteFile(op.LogFile); err != nil {
			return err
		}
	}
	return nil
}

// Applies a sequence of operators to the state, stopping at the first error
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return errs.Wrap(errs.Input, err, "decoding sequence")
	}

	for _, raw := range op.StepsRaw {
		var step OpBase
		if err := json.Unmarshal(raw, &step); err != nil {
			return errs.Wrap(errs.Input, err, "decoding step")
		}
		factory := GetOperatorFactory(step.Type)
		if factory == nil {
			return errs.New(errs.Input, "unknown operator type '%s' in raw JSON message '%s'", step.Type, string(raw))
		}
		i := factory()
		if err := json.Unmarshal(raw, i); err != nil {
			return errs.Wrap(errs.Input, err, "decoding %s step", step.Type)
		}
		op.Steps = append(op.Steps, i)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
	op.Active = op.Active || len(steps) > 0
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	inner, err = json.Marshal(op.Steps)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) Run(ctx context.Context, s *State, c *Context) error {
	for i, step := range op.Steps {
		if !step.IsActive() {
			continue
		}
		if err := errs.FromContext(ctx); err != nil {
			return err
		}
		if err := step.Run(ctx, s, c); err != nil {
			c.Logger.Error(ctx, "step failed", logging.Int("step", i), logging.String("type", step.GetType()), logging.Err(err))
			op.flushLog(ctx, s, c, op.Steps[i+1:])
			return err
		}
	}
	return nil
}

// Writes the log of a failed step to the log file of the first pending
// save step, so a failed selection or adjustment still leaves its record
func (op *OpSequence) flushLog(ctx context.Context, s *State, c *Context, pending []Operator) {
	if s.Log == nil {
		return
	}
	for _, step := range pending {
		save, ok := step.(*OpSaveNetwork)
		if !ok || !save.IsActive() || save.LogFile == "" {
			continue
		}
		if c.CheckPath(save.LogFile) != nil {
			return
		}
		fmt.Fprintf(c.Log, "Writing log with %d entries to %s\n", len(s.Log.Entries()), save.LogFile)
		if err := s.Log.WriteFile(save.LogFile); err != nil {
			c.Logger.Error(ctx, "writing log of failed run", logging.String("file", save.LogFile), logging.Err(err))
		}
		return
	}
}

// Decodes a JSON sequence of operators
func ParseSequence(b []byte) (*OpSequence, error) {
	seq := NewOpSequenceDefault()
	if err := json.Unmarshal(b, seq); err != nil {
		return nil, errs.Wrap(errs.Input, err, "decoding operator sequence")
	}
	return seq, nil
}
