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
	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

// Reads a PVL definition given inline or as a file name. Returns nil if neither is set
func (c *Context) ReadDefinition(fileName, text string) (*pvl.Document, error) {
	switch {
	case text != "":
		doc, err := pvl.ParseString(text)
		if err != nil {
			return nil, errs.Wrap(errs.Input, err, "parsing inline definition")
		}
		return doc, nil
	case fileName != "":
		if err := c.CheckPath(fileName); err != nil {
			return nil, err
		}
		doc, err := pvl.ReadFile(fileName)
		if err != nil {
			return nil, errs.Wrap(errs.Input, err, "reading definition %s", fileName)
		}
		return doc, nil
	}
	return nil, nil
}
