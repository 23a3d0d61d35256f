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

package ref

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mlnoga/cnetbundle/internal/config"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/ops"
	"github.com/mlnoga/cnetbundle/internal/refselect"
	"github.com/mlnoga/cnetbundle/internal/report"
)

// Chooses reference measures for all points of the loaded network, using the loaded cubes
type OpSelectReferences struct {
	ops.OpBase
	Criterion     refselect.Criterion `json:"criterion"`
	Resolution    float64             `json:"resolution"`
	MinResolution float64             `json:"minResolution"`
	MaxResolution float64             `json:"maxResolution"`
	Strict        bool                `json:"strict"`
	// PVL file with ValidMeasure and Operator groups, or the same given inline
	Definition     string `json:"definition"`
	DefinitionText string `json:"definitionText"`
	// Concurrent points, 0 uses the context's thread limit
	Workers int `json:"workers"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSelectReferencesDefault() }) } // register the operator for JSON decoding

func NewOpSelectReferencesDefault() *OpSelectReferences {
	return NewOpSelectReferences(refselect.LeastEmission)
}

func NewOpSelectReferences(criterion refselect.Criterion) *OpSelectReferences {
	return &OpSelectReferences{
		OpBase:    ops.OpBase{Type: "selectReferences", Active: true},
		Criterion: criterion,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSelectReferences) UnmarshalJSON(data []byte) error {
	type defaults OpSelectReferences
	def := defaults(*NewOpSelectReferencesDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSelectReferences(def)
	return nil
}

// Selection settings for the given context
func (op *OpSelectReferences) Config(c *ops.Context) (refselect.Config, error) {
	cfg := refselect.DefaultConfig()
	cfg.Criterion = op.Criterion
	cfg.Resolution = op.Resolution
	cfg.MinResolution, cfg.MaxResolution = op.MinResolution, op.MaxResolution
	cfg.Strict = op.Strict
	doc, err := c.ReadDefinition(op.Definition, op.DefinitionText)
	if err != nil {
		return cfg, err
	}
	if doc != nil {
		if err := config.ApplyDefinition(&cfg, &doc.Object); err != nil {
			return cfg, err
		}
	} else if cfg.Criterion == refselect.Interest {
		return cfg, errs.New(errs.Input, "criterion Interest needs a definition with an Operator group")
	}
	cfg.Workers = op.Workers
	if cfg.Workers < 1 {
		cfg.Workers = c.MaxThreads
	}
	cfg.Logger = c.Logger
	cfg.Metrics = c.Metrics
	return cfg, cfg.Check()
}

func (op *OpSelectReferences) Run(ctx context.Context, s *ops.State, c *ops.Context) error {
	if s.Network == nil {
		return errs.New(errs.Input, "%s operator needs a network, load one first", op.Type)
	}
	cfg, err := op.Config(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Selecting references for %d points by %s with %d workers...\n",
		s.Network.Len(), cfg.Criterion, cfg.Workers)

	log := report.NewLog("ReferenceSelection")
	st, err := refselect.SelectReferences(ctx, s.Network, s.Cubes, cfg, log)
	s.Log = log
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Log, "Modified %d of %d points, changed %d references, ignored %d measures.\n",
		st.PointsModified, st.TotalPoints, st.ReferenceChanged, st.MeasuresIgnored)
	if st.PointsLocked > 0 || st.PointsFixed > 0 {
		fmt.Fprintf(c.Log, "Left %d edit locked and %d fixed points unchanged.\n", st.PointsLocked, st.PointsFixed)
	}
	return nil
}
