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
	"github.com/samber/lo"

	"github.com/mlnoga/cnetbundle/internal/camera"
	"github.com/mlnoga/cnetbundle/internal/cube"
	"github.com/mlnoga/cnetbundle/internal/errs"
)

// An image taking part in the adjustment
type Image struct {
	Serial        string
	Path          string
	ObservationID string // images sharing an id share their polynomials in observation mode
	Camera        camera.Camera
}

// Builds the image list from opened cubes, creating their camera models
func ImagesFromCubes(cubes []*cube.Cube) ([]*Image, error) {
	images := make([]*Image, 0, len(cubes))
	for _, c := range cubes {
		cam, err := c.Camera()
		if err != nil {
			return nil, errs.Wrap(errs.KindOf(err), err, "camera for %s", c.FileName)
		}
		images = append(images, &Image{
			Serial:        c.Serial(),
			Path:          c.FileName,
			ObservationID: c.ObservationID(),
			Camera:        cam,
		})
	}
	return images, nil
}

func checkImages(images []*Image, held []string) error {
	seen := map[string]bool{}
	for _, im := range images {
		if im.Camera == nil {
			return errs.New(errs.Input, "image %s has no camera model", im.Serial)
		}
		if seen[im.Serial] {
			return errs.New(errs.NetworkConsistency, "duplicate image serial %s", im.Serial)
		}
		seen[im.Serial] = true
	}
	if missing := lo.Filter(held, func(s string, _ int) bool { return !seen[s] }); len(missing) > 0 {
		return errs.New(errs.NetworkConsistency, "held images not in the image list: %v", missing)
	}
	return nil
}

// Groups image indices into parameter blocks: one per observation in
// observation mode, else one per image. Blocks keep the order of their first image
func groupImages(images []*Image, observationMode bool) [][]int {
	key := func(im *Image) string {
		if observationMode && im.ObservationID != "" {
			return im.ObservationID
		}
		return im.Serial
	}
	groups := lo.GroupBy(lo.Range(len(images)), func(i int) string { return key(images[i]) })
	keys := lo.Uniq(lo.Map(images, func(im *Image, _ int) string { return key(im) }))
	return lo.Map(keys, func(k string, _ int) []int { return groups[k] })
}
