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

package adjust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/mlnoga/cnetbundle/internal/bundle"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/ops"
	"github.com/mlnoga/cnetbundle/internal/plot"
	"github.com/mlnoga/cnetbundle/internal/report"
)

// Bundle adjusts the loaded network against the loaded cubes that it references
type OpBundleAdjust struct {
	ops.OpBase
	Settings bundle.Settings `json:"settings"`

	SummaryFile  string `json:"summaryFile"`
	ResidualFile string `json:"residualFile"`
	PointFile    string `json:"pointFile"`
	// JPEG residual map, all images overlaid in detector coordinates
	ResidualMap string  `json:"residualMap"`
	MapScale    float64 `json:"mapScale"`
	// Writes the adjusted cameras back into the cube labels and files
	UpdateCubes bool `json:"updateCubes"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBundleAdjustDefault() }) } // register the operator for JSON decoding

func NewOpBundleAdjustDefault() *OpBundleAdjust { return NewOpBundleAdjust(bundle.DefaultSettings()) }

func NewOpBundleAdjust(settings bundle.Settings) *OpBundleAdjust {
	return &OpBundleAdjust{
		OpBase:   ops.OpBase{Type: "bundleAdjust", Active: true},
		Settings: settings,
		MapScale: 100,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpBundleAdjust) UnmarshalJSON(data []byte) error {
	type defaults OpBundleAdjust
	def := defaults(*NewOpBundleAdjustDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpBundleAdjust(def)
	return nil
}

func (op *OpBundleAdjust) Run(ctx context.Context, s *ops.State, c *ops.Context) error {
	if s.Network == nil {
		return errs.New(errs.Input, "%s operator needs a network, load one first", op.Type)
	}
	for _, fn := range []string{op.SummaryFile, op.ResidualFile, op.PointFile, op.ResidualMap} {
		if fn == "" {
			continue
		}
		if err := c.CheckPath(fn); err != nil {
			return err
		}
	}

	used := lo.SliceToMap(s.Network.Serials(), func(serial string) (string, bool) { return serial, true })
	cubes := lo.Filter(s.CubeList(), func(cb *cube.Cube, _ int) bool { return used[cb.Serial()] })
	images, err := bundle.ImagesFromCubes(cubes)
	if err != nil {
		return err
	}

	settings := op.Settings
	settings.Logger = c.Logger
	settings.Metrics = c.Metrics
	settings.Progress = func(total, done int) {
		fmt.Fprintf(c.Log, "Iteration %d of at most %d done.\n", done, total)
	}
	fmt.Fprintf(c.Log, "Adjusting %d points on %d images with %s...\n",
		s.Network.Len(), len(images), settings.Method)

	log := report.NewLog("BundleAdjust")
	sol, err := bundle.Adjust(ctx, s.Network, images, settings, log)
	s.Log, s.Solution = log, sol
	if err != nil {
		var ce *errs.ConvergenceError
		if errors.As(err, &ce) {
			fmt.Fprintf(c.Log, "No convergence after %d iterations, sigma0 %.6g, max residual %.3g px.\n",
				ce.Iterations, ce.Sigma0, ce.MaxResidual)
		}
		return err
	}
	fmt.Fprintf(c.Log, "Converged after %d iterations with sigma0 %.6g, rms %.3g px, %d of %d observations rejected.\n",
		sol.Stats.Iteration, sol.Stats.Sigma0, sol.Stats.RMSxy, sol.Stats.RejectedObservations, sol.Stats.Observations)

	if err := op.writeOutputs(s, c, sol, images); err != nil {
		return err
	}
	if op.UpdateCubes {
		for i, cb := range cubes {
			if err := cb.SetCamera(images[i].Camera); err != nil {
				return err
			}
			if cb.FileName == "" {
				continue
			}
			fmt.Fprintf(c.Log, "Updating camera of %s\n", cb.FileName)
			if err := cb.WriteFile(cb.FileName); err != nil {
				return err
			}
		}
	}
	return nil
}

func (op *OpBundleAdjust) writeOutputs(s *ops.State, c *ops.Context, sol *bundle.Solution, images []*bundle.Image) error {
	if op.SummaryFile != "" {
		fmt.Fprintf(c.Log, "Writing bundle summary to %s\n", op.SummaryFile)
		if err := sol.Pvl().WriteFile(op.SummaryFile); err != nil {
			return err
		}
	}
	if op.ResidualFile != "" {
		fmt.Fprintf(c.Log, "Writing residuals to %s\n", op.ResidualFile)
		if err := bundle.ResidualTable(s.Network).WriteFile(op.ResidualFile); err != nil {
			return err
		}
	}
	if op.PointFile != "" {
		fmt.Fprintf(c.Log, "Writing adjusted points to %s\n", op.PointFile)
		if err := bundle.PointTable(s.Network).WriteFile(op.PointFile); err != nil {
			return err
		}
	}
	if op.ResidualMap != "" && len(images) > 0 {
		cam := images[0].Camera
		o := plot.Options{Width: cam.Samples(), Height: cam.Lines(), Samples: cam.Samples(), Lines: cam.Lines(), Scale: op.MapScale}
		fmt.Fprintf(c.Log, "Writing residual map to %s\n", op.ResidualMap)
		if err := plot.WriteResidualMapToFile(op.ResidualMap, s.Network, o, 95); err != nil {
			return err
		}
	}
	return nil
}
