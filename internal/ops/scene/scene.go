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

package scene

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mlnoga/cnetbundle/internal/cnet"
	"github.com/mlnoga/cnetbundle/internal/ops"
	"github.com/mlnoga/cnetbundle/internal/synth"
)

// Replaces the state with a seeded synthetic scene, optionally writing it to a directory
type OpSynthesize struct {
	ops.OpBase
	Seed           uint32  `json:"seed"`
	Images         int     `json:"images"`
	Spacing        float64 `json:"spacing"`
	Samples        int     `json:"samples"`
	Lines          int     `json:"lines"`
	PointsPerImage int     `json:"pointsPerImage"`
	PointingNoise  float64 `json:"pointingNoise"`
	MeasureNoise   float64 `json:"measureNoise"`
	Texture        bool    `json:"texture"`
	Dir            string  `json:"dir"`
	Format         string  `json:"format"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSynthesizeDefault() }) } // register the operator for JSON decoding

func NewOpSynthesizeDefault() *OpSynthesize { return NewOpSynthesize(synth.DefaultOptions()) }

func NewOpSynthesize(o synth.Options) *OpSynthesize {
	return &OpSynthesize{
		OpBase:         ops.OpBase{Type: "synthesize", Active: true},
		Seed:           o.Seed,
		Images:         o.Images,
		Spacing:        o.Spacing,
		Samples:        o.Samples,
		Lines:          o.Lines,
		PointsPerImage: o.PointsPerImage,
		PointingNoise:  o.PointingNoise,
		MeasureNoise:   o.MeasureNoise,
		Texture:        o.Texture,
	}
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSynthesize) UnmarshalJSON(data []byte) error {
	type defaults OpSynthesize
	def := defaults(*NewOpSynthesizeDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSynthesize(def)
	return nil
}

func (op *OpSynthesize) Options() synth.Options {
	o := synth.DefaultOptions()
	o.Seed, o.Images, o.Spacing = op.Seed, op.Images, op.Spacing
	o.Samples, o.Lines, o.PointsPerImage = op.Samples, op.Lines, op.PointsPerImage
	o.PointingNoise, o.MeasureNoise, o.Texture = op.PointingNoise, op.MeasureNoise, op.Texture
	return o
}

func (op *OpSynthesize) Run(ctx context.Context, s *ops.State, c *ops.Context) error {
	f, err := cnet.ParseFormat(op.Format)
	if err != nil {
		return err
	}
	sc, err := synth.Generate(op.Options())
	if err != nil {
		return err
	}
	total, _ := sc.Network.NumMeasures()
	fmt.Fprintf(c.Log, "Synthesized %d images with %d points and %d measures from seed %d\n",
		len(sc.Cubes), sc.Network.Len(), total, op.Seed)

	netFile := ""
	if op.Dir != "" {
		if err := c.CheckPath(op.Dir); err != nil {
			return err
		}
		var list string
		if list, netFile, err = sc.WriteTo(op.Dir, f); err != nil {
			return err
		}
		fmt.Fprintf(c.Log, "Wrote cube list %s and network %s\n", list, netFile)
	}

	*s = ops.State{Network: sc.Network, NetworkFile: netFile, Cubes: sc.CubeMap(), Serials: sc.Serials}
	if c.Cache != nil {
		for _, cb := range sc.Cubes {
			c.Cache.Put(cb.FileName, cb)
		}
	}
	return nil
}
