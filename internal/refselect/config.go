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
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/interest"
	"github.com/mlnoga/cnetbundle/internal/logging"
	"github.com/mlnoga/cnetbundle/internal/metrics"
	"github.com/mlnoga/cnetbundle/internal/pvl"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

// How the reference measure of a point is chosen
type Criterion int

const (
	LeastEmission Criterion = iota
	LeastIncidence
	LowestResolution  // coarsest, largest meters per pixel
	HighestResolution // finest, smallest meters per pixel
	MeanResolution
	NearestResolution
	ResolutionRange
	Interest
)

var criterionNames = []string{"LeastEmission", "LeastIncidence", "LowestResolution", "HighestResolution",
	"MeanResolution", "NearestResolution", "ResolutionRange", "Interest"}

func (c Criterion) String() string { return criterionNames[c] }

func ParseCriterion(s string) (Criterion, error) {
	for i, n := range criterionNames {
		if strings.EqualFold(n, s) {
			return Criterion(i), nil
		}
	}
	return LeastEmission, errs.New(errs.Input, "unknown reference criterion %s", s)
}

func (c Criterion) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Criterion) UnmarshalText(b []byte) (err error) {
	*c, err = ParseCriterion(string(b))
	return err
}

// Keyword suffix of the ranking metric in change details
func (c Criterion) metricKey() (prev, next string) {
	switch c {
	case LeastEmission:
		return "PrevEmAngle", "NewLeastEmAngle"
	case LeastIncidence:
		return "PrevIncAngle", "NewLeastIncAngle"
	case LowestResolution:
		return "PrevResolution", "NewLowestResolution"
	case HighestResolution:
		return "PrevResolution", "NewHighestResolution"
	case Interest:
		return "PrevBestInterest", "NewBestInterest"
	}
	return "PrevResolution", "NewResolution"
}

type Config struct {
	Criterion Criterion
	// Target for NearestResolution, meters per pixel
	Resolution float64
	// Bounds for ResolutionRange, meters per pixel
	MinResolution, MaxResolution float64
	// With ResolutionRange, leave points unchanged when no measure is in range
	Strict bool

	Validate validate.Options
	Interest interest.Config

	// Points processed concurrently, each worker with its own camera duplicates
	Workers int

	Clock   clock.Clock
	Logger  logging.Logger
	Metrics *metrics.Collector
}

func DefaultConfig() Config {
	return Config{
		Criterion: LeastEmission,
		Validate:  validate.DefaultOptions(),
		Workers:   1,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logging.Noop()
	}
	return c
}

func (c Config) check() error {
	if c.Criterion < LeastEmission || c.Criterion > Interest {
		return errs.New(errs.Input, "invalid reference criterion %d", int(c.Criterion))
	}
	switch c.Criterion {
	case NearestResolution:
		if c.Resolution <= 0 {
			return errs.New(errs.Input, "NearestResolution needs a positive target resolution")
		}
	case ResolutionRange:
		if c.MinResolution < 0 || c.MinResolution > c.MaxResolution {
			return errs.New(errs.Input, "ResolutionRange needs 0 <= min <= max, got [%g, %g]", c.MinResolution, c.MaxResolution)
		}
	case Interest:
		if err := c.Interest.Validate(); err != nil {
			return err
		}
	}
	return c.Validate.Validate()
}

// Echoes the selection settings for the log
func (c Config) Pvl() *pvl.Group {
	g := pvl.NewGroup("ReferenceOptions")
	g.Add("Criterion", c.Criterion.String())
	switch c.Criterion {
	case NearestResolution:
		g.AddFloat("Resolution", c.Resolution)
	case ResolutionRange:
		g.AddFloat("MinResolution", c.MinResolution)
		g.AddFloat("MaxResolution", c.MaxResolution)
		g.Add("Strict", boolString(c.Strict))
	}
	return g
}

func boolString(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Reports inconsistent selection settings as input errors
func (c Config) Check() error { return c.check() }
