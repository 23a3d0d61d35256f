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

package score

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/interest"
	"github.com/mlnoga/cnetbundle/internal/ops"
	"github.com/mlnoga/cnetbundle/internal/report"
	"github.com/mlnoga/cnetbundle/internal/validate"
)

// Scores the neighborhood of every valid measure of the loaded network with an
// interest operator and writes the results as a table. The network is not changed
type OpInterestScore struct {
	ops.OpBase
	// PVL definition with an Operator group and an optional ValidMeasure group
	Definition     string `json:"definition"`
	DefinitionText string `json:"definitionText"`
	FileName       string `json:"fileName"`
	// Directory for 16-bit TIFF previews of each scored chip, centered on the best pixel
	PreviewDir string `json:"previewDir"`

	Table *report.Table `json:"-"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpInterestScoreDefault() }) } // register the operator for JSON decoding

func NewOpInterestScoreDefault() *OpInterestScore { return NewOpInterestScore("", "") }

func NewOpInterestScore(definition, fileName string) *OpInterestScore {
	return &OpInterestScore{
		OpBase:     ops.OpBase{Type: "interestScore", Active: true},
		Definition: definition,
		FileName:   fileName,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpInterestScore) UnmarshalJSON(data []byte) error {
	type defaults OpInterestScore
	def := defaults(*NewOpInterestScoreDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpInterestScore(def)
	return nil
}

func (op *OpInterestScore) engine(c *ops.Context) (*interest.Engine, error) {
	doc, err := c.ReadDefinition(op.Definition, op.DefinitionText)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errs.New(errs.Input, "%s operator needs a definition with an Operator group", op.Type)
	}
	cfg, err := interest.ParseConfig(doc.FindGroupDeep("Operator"))
	if err != nil {
		return nil, err
	}
	vo, err := validate.ParseOptions(doc.FindGroupDeep("ValidMeasure"))
	if err != nil {
		return nil, err
	}
	v, err := validate.New(vo)
	if err != nil {
		return nil, err
	}
	return interest.New(cfg, v)
}

func (op *OpInterestScore) Run(ctx context.Context, s *ops.State, c *ops.Context) error {
	if s.Network == nil {
		return errs.New(errs.Input, "%s operator needs a network, load one first", op.Type)
	}
	for _, fn := range []string{op.FileName, op.PreviewDir} {
		if fn == "" {
			continue
		}
		if err := c.CheckPath(fn); err != nil {
			return err
		}
	}
	if op.PreviewDir != "" {
		if err := os.MkdirAll(op.PreviewDir, 0755); err != nil {
			return errs.Wrap(errs.Resource, err, "creating preview directory %s", op.PreviewDir)
		}
	}
	e, err := op.engine(c)
	if err != nil {
		return err
	}

	t := report.NewTable("PointId", "Serial", "Sample", "Line", "Interest", "BestSample", "BestLine", "Valid")
	scored, valid := 0, 0
	for _, p := range s.Network.Points() {
		if err := errs.FromContext(ctx); err != nil {
			return err
		}
		if p.Ignored {
			continue
		}
		for _, m := range p.Measures() {
			if m.Ignored {
				continue
			}
			cb := s.Cubes[m.Serial]
			if cb == nil {
				return errs.New(errs.NetworkConsistency, "point %s: no cube for serial %s", p.ID, m.Serial)
			}
			cam, err := cb.Camera()
			if err != nil {
				return err
			}
			res, err := e.Score(cb, cam, interest.Pixel{Sample: m.Sample, Line: m.Line})
			if err != nil {
				return err
			}
			scored++
			if res.Valid {
				valid++
			}
			if op.PreviewDir != "" {
				if err := op.writePreview(e, cb, p.ID, m.Serial, res.Best); err != nil {
					return err
				}
			}
			t.Append(p.ID, m.Serial, fmtFloat(m.Sample), fmtFloat(m.Line), fmtFloat(res.Interest),
				fmtFloat(res.Best.Sample), fmtFloat(res.Best.Line), strconv.FormatBool(res.Valid))
		}
	}
	op.Table = t
	fmt.Fprintf(c.Log, "Scored %d measures with %s, %d above the minimum interest.\n", scored, e.Name, valid)
	if op.FileName != "" {
		fmt.Fprintf(c.Log, "Writing interest scores to %s\n", op.FileName)
		return t.WriteFile(op.FileName)
	}
	return nil
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

// Writes the chip the operator saw at px as <point>_<serial>.tif
func (op *OpInterestScore) writePreview(e *interest.Engine, cb *cube.Cube, pointID, serial string, px interest.Pixel) error {
	pad := e.Operator().Padding()
	w, h := e.Samples+pad, e.Lines+pad
	chip := cube.New(w, h, 1, cube.Real)
	for i, v := range cb.Chip(px.Sample, px.Line, w, h) {
		chip.Data[i] = float32(v)
	}
	fn := filepath.Join(op.PreviewDir, fileNameReplacer.Replace(pointID+"_"+serial)+".tif")
	return chip.WritePreviewTIFFToFile(fn, 1, 0, 0)
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
