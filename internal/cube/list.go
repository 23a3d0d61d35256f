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

package cube

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/errs"
)

// Reads a cube list: one file name per line, blank lines and # comments skipped.
// Relative names are resolved against the list's directory
func ReadList(fileName string) ([]string, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err, "opening cube list %s", fileName)
	}
	defer f.Close()

	dir := filepath.Dir(fileName)
	var res []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		res = append(res, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.Resource, err, "reading cube list %s", fileName)
	}
	return res, nil
}

// An image entry of a cube list, identified by serial number
type Entry struct {
	Serial        string
	ObservationID string
	FileName      string
}

// Reads the labels of the given cubes and returns their entries in order.
// Duplicate serial numbers are an error
func Entries(fileNames []string) ([]Entry, error) {
	seen := map[string]string{}
	res := make([]Entry, 0, len(fileNames))
	for _, fn := range fileNames {
		label, err := ReadLabel(fn)
		if err != nil {
			return nil, err
		}
		c := &Cube{FileName: fn, Label: label}
		e := Entry{Serial: c.Serial(), ObservationID: c.ObservationID(), FileName: fn}
		if prev, ok := seen[e.Serial]; ok {
			return nil, errs.New(errs.NetworkConsistency, "serial %s used by both %s and %s", e.Serial, prev, fn)
		}
		seen[e.Serial] = fn
		res = append(res, e)
	}
	return res, nil
}
