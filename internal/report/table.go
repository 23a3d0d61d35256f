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

package report

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// A CSV table with a header row
type Table struct {
	Header []string
	Rows   [][]string
}

func NewTable(header ...string) *Table { return &Table{Header: header} }

// Appends a row. Missing cells are left empty, extra cells are an error at write time
func (t *Table) Append(cells ...string) { t.Rows = append(t.Rows, cells) }

func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return errs.Wrap(errs.Resource, err, "writing table header")
	}
	for i, r := range t.Rows {
		if len(r) > len(t.Header) {
			return errs.New(errs.Input, "row %d has %d cells for %d columns", i, len(r), len(t.Header))
		}
		for len(r) < len(t.Header) {
			r = append(r, "")
		}
		if err := cw.Write(r); err != nil {
			return errs.Wrap(errs.Resource, err, "writing table row %d", i)
		}
	}
	cw.Flush()
	return errs.Wrap(errs.Resource, cw.Error(), "writing table")
}

func (t *Table) WriteFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "creating %s", fileName)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := t.Write(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.Resource, err, "writing %s", fileName)
	}
	return nil
}
