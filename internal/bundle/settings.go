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

package bundle

import (
	"strings"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/metrics"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// Parses a case-insensitive enum name
func parseEnum(names []string, what, s string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, errs.New(errs.Input, "unknown %s %s, expected one of %s", what, s, strings.Join(names, ", "))
}

// How the reduced normal system is solved
type Method int

const (
	SpecialK Method = iota // square root free LDLT
	Cholesky
	QR
	SVD
	Sparse
)

var methodNames = []string{"SpecialK", "Cholesky", "QR", "SVD", "Sparse"}

func (m Method) String() string { return methodNames[m] }

func ParseMethod(s string) (Method, error) {
	i, err := parseEnum(methodNames, "solve method", s)
	return Method(i), err
}

func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Method) UnmarshalText(b []byte) (err error) {
	*m, err = ParseMethod(string(b))
	return err
}

// Which spacecraft position coefficients are solved for
type PositionSolve int

const (
	NoPosition PositionSolve = iota
	Position
	Velocity
	Acceleration
	AllPosition // SPKSolveDegree+1 coefficients
)

var positionNames = []string{"None", "Position", "Velocity", "Acceleration", "All"}

func (p PositionSolve) String() string { return positionNames[p] }

func ParsePositionSolve(s string) (PositionSolve, error) {
	i, err := parseEnum(positionNames, "position solve type", s)
	return PositionSolve(i), err
}

func (p PositionSolve) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PositionSolve) UnmarshalText(b []byte) (err error) {
	*p, err = ParsePositionSolve(string(b))
	return err
}

// Which camera pointing coefficients are solved for
type PointingSolve int

const (
	NoPointing PointingSolve = iota
	AnglesOnly
	AnglesVelocity
	AnglesVelocityAcceleration
	AllPointing // CKSolveDegree+1 coefficients
)

var pointingNames = []string{"None", "AnglesOnly", "AnglesVelocity", "AnglesVelocityAcceleration", "All"}

func (p PointingSolve) String() string { return pointingNames[p] }

func ParsePointingSolve(s string) (PointingSolve, error) {
	i, err := parseEnum(pointingNames, "pointing solve type", s)
	return PointingSolve(i), err
}

func (p PointingSolve) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PointingSolve) UnmarshalText(b []byte) (err error) {
	*p, err = ParsePointingSolve(string(b))
	return err
}

// When to stop iterating
type Criterion int

const (
	Sigma0Criterion      Criterion = iota // change of sigma0 below threshold
	ParameterCorrections                  // largest parameter correction below threshold
)

var criterionNames = []string{"Sigma0", "ParameterCorrections"}

func (c Criterion) String() string { return criterionNames[c] }

func ParseCriterion(s string) (Criterion, error) {
	i, err := parseEnum(criterionNames, "convergence criterion", s)
	return Criterion(i), err
}

func (c Criterion) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Criterion) UnmarshalText(b []byte) (err error) {
	*c, err = ParseCriterion(string(b))
	return err
}

// What is written back when a run fails
type Commit int

const (
	Transactional Commit = iota // nothing
	LastIteration               // state after the last completed iteration
)

var commitNames = []string{"Transactional", "LastIteration"}

func (c Commit) String() string { return commitNames[c] }

func ParseCommit(s string) (Commit, error) {
	i, err := parseEnum(commitNames, "commit policy", s)
	return Commit(i), err
}

func (c Commit) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Commit) UnmarshalText(b []byte) (err error) {
	*c, err = ParseCommit(string(b))
	return err
}

type Settings struct {
	Method          Method `yaml:"method" json:"method"`
	ObservationMode bool   `yaml:"observationMode" json:"observationMode"`
	SolveTwist      bool   `yaml:"solveTwist" json:"solveTwist"`
	SolveRadius     bool   `yaml:"solveRadius" json:"solveRadius"`

	Pointing       PointingSolve `yaml:"pointing" json:"pointing"`
	CKDegree       int           `yaml:"ckDegree" json:"ckDegree"`
	CKSolveDegree  int           `yaml:"ckSolveDegree" json:"ckSolveDegree"`
	Position       PositionSolve `yaml:"position" json:"position"`
	SPKDegree      int           `yaml:"spkDegree" json:"spkDegree"`
	SPKSolveDegree int           `yaml:"spkSolveDegree" json:"spkSolveDegree"`

	// Apriori sigmas per coefficient: degrees, degrees per time unit, ...
	// Zero or missing entries leave a coefficient unconstrained
	PointingSigmas []float64 `yaml:"pointingSigmas" json:"pointingSigmas"`
	// Apriori sigmas per coefficient: meters, meters per time unit, ...
	PositionSigmas []float64 `yaml:"positionSigmas" json:"positionSigmas"`
	// Global apriori point sigmas for latitude, longitude and radius in meters.
	// Constrained points use their own sigmas where set
	PointSigmas [3]float64 `yaml:"pointSigmas" json:"pointSigmas"`

	// Measurement sigma in pixels
	PixelSigma float64 `yaml:"pixelSigma" json:"pixelSigma"`

	Criterion     Criterion `yaml:"criterion" json:"criterion"`
	Threshold     float64   `yaml:"threshold" json:"threshold"`
	MaxIterations int       `yaml:"maxIterations" json:"maxIterations"`

	OutlierRejection    bool    `yaml:"outlierRejection" json:"outlierRejection"`
	RejectionMultiplier float64 `yaml:"rejectionMultiplier" json:"rejectionMultiplier"`

	ErrorPropagation bool `yaml:"errorPropagation" json:"errorPropagation"`
	// Relative singular value threshold for the SVD method
	SVDThreshold float64 `yaml:"svdThreshold" json:"svdThreshold"`

	// Serial numbers of images whose parameters stay fixed
	Held []string `yaml:"held" json:"held"`

	Commit        Commit `yaml:"commit" json:"commit"`
	DeleteIgnored bool   `yaml:"deleteIgnored" json:"deleteIgnored"`

	// Called after each iteration with the iteration limit and the iterations done
	Progress func(total, done int) `yaml:"-" json:"-"`
	Logger   logging.Logger        `yaml:"-" json:"-"`
	Metrics  *metrics.Collector    `yaml:"-" json:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		Method:              SpecialK,
		SolveTwist:          true,
		Pointing:            AnglesOnly,
		CKDegree:            2,
		CKSolveDegree:       2,
		Position:            NoPosition,
		SPKDegree:           2,
		SPKSolveDegree:      2,
		PixelSigma:          1,
		Criterion:           Sigma0Criterion,
		Threshold:           1e-10,
		MaxIterations:       50,
		RejectionMultiplier: 3,
		SVDThreshold:        1e-12,
	}
}

func (s Settings) withDefaults() Settings {
	if s.Logger == nil {
		s.Logger = logging.Noop()
	}
	if s.PixelSigma == 0 {
		s.PixelSigma = 1
	}
	if s.SVDThreshold == 0 {
		s.SVDThreshold = 1e-12
	}
	return s
}

// Pointing coefficients solved per axis
func (s Settings) PointingCoefficients() int {
	switch s.Pointing {
	case AnglesOnly:
		return 1
	case AnglesVelocity:
		return 2
	case AnglesVelocityAcceleration:
		return 3
	case AllPointing:
		return s.CKSolveDegree + 1
	}
	return 0
}

// Position coefficients solved per axis
func (s Settings) PositionCoefficients() int {
	switch s.Position {
	case Position:
		return 1
	case Velocity:
		return 2
	case Acceleration:
		return 3
	case AllPosition:
		return s.SPKSolveDegree + 1
	}
	return 0
}

func (s Settings) pointingAxes() int {
	if s.PointingCoefficients() == 0 {
		return 0
	}
	if s.SolveTwist {
		return 3
	}
	return 2
}

func (s Settings) pointCoordinates() int {
	if s.SolveRadius {
		return 3
	}
	return 2
}

func (s Settings) Validate() error {
	if s.Method < SpecialK || s.Method > Sparse {
		return errs.New(errs.Input, "invalid solve method %d", int(s.Method))
	}
	if s.CKDegree < 0 || s.SPKDegree < 0 || s.CKSolveDegree < 0 || s.SPKSolveDegree < 0 {
		return errs.New(errs.Input, "polynomial degrees must not be negative")
	}
	if n := s.PointingCoefficients(); n > s.CKDegree+1 {
		return errs.New(errs.Input, "pointing solve type %s needs %d coefficients, but CK degree %d has %d", s.Pointing, n, s.CKDegree, s.CKDegree+1)
	}
	if n := s.PositionCoefficients(); n > s.SPKDegree+1 {
		return errs.New(errs.Input, "position solve type %s needs %d coefficients, but SPK degree %d has %d", s.Position, n, s.SPKDegree, s.SPKDegree+1)
	}
	if s.PixelSigma < 0 {
		return errs.New(errs.Input, "pixel sigma must not be negative, got %g", s.PixelSigma)
	}
	if s.Threshold <= 0 {
		return errs.New(errs.Input, "convergence threshold must be positive, got %g", s.Threshold)
	}
	if s.MaxIterations < 0 {
		return errs.New(errs.Input, "maximum iterations must not be negative, got %d", s.MaxIterations)
	}
	if s.OutlierRejection && s.RejectionMultiplier <= 0 {
		return errs.New(errs.Input, "rejection multiplier must be positive, got %g", s.RejectionMultiplier)
	}
	for _, sigmas := range [][]float64{s.PointingSigmas, s.PositionSigmas, s.PointSigmas[:]} {
		for _, v := range sigmas {
			if v < 0 {
				return errs.New(errs.Input, "apriori sigmas must not be negative, got %g", v)
			}
		}
	}
	return nil
}

// Echoes the settings for the log
func (s Settings) Pvl() *pvl.Group {
	g := pvl.NewGroup("BundleSettings")
	g.Add("SolveMethod", s.Method.String())
	g.Add("ObservationMode", boolString(s.ObservationMode))
	g.Add("SolveTwist", boolString(s.SolveTwist))
	g.Add("SolveRadius", boolString(s.SolveRadius))
	g.Add("CameraSolveOption", s.Pointing.String())
	g.AddInt("CKDegree", s.CKDegree)
	g.AddInt("CKSolveDegree", s.CKSolveDegree)
	g.Add("SpacecraftSolveOption", s.Position.String())
	g.AddInt("SPKDegree", s.SPKDegree)
	g.AddInt("SPKSolveDegree", s.SPKSolveDegree)
	if len(s.PointingSigmas) > 0 {
		g.AddFloats("PointingSigmas", s.PointingSigmas)
	}
	if len(s.PositionSigmas) > 0 {
		g.AddFloats("PositionSigmas", s.PositionSigmas)
	}
	g.AddFloats("PointSigmas", s.PointSigmas[:])
	g.AddFloat("PixelSigma", s.PixelSigma)
	g.Add("ConvergenceCriterion", s.Criterion.String())
	g.AddFloat("ConvergenceThreshold", s.Threshold)
	g.AddInt("MaxIterations", s.MaxIterations)
	g.Add("OutlierRejection", boolString(s.OutlierRejection))
	if s.OutlierRejection {
		g.AddFloat("RejectionMultiplier", s.RejectionMultiplier)
	}
	g.Add("ErrorPropagation", boolString(s.ErrorPropagation))
	if len(s.Held) > 0 {
		g.Add("HeldImages", s.Held...)
	}
	g.Add("Commit", s.Commit.String())
	return g
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
