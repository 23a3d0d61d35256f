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

package cnet

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/mlnoga/cnetbundle/internal/errs"
	"github.com/mlnoga/cnetbundle/internal/pvl"
)

type Format int

const (
	FormatPvl Format = iota
	FormatBinary
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "pvl":
		return FormatPvl, nil
	case "binary", "protobuf":
		return FormatBinary, nil
	}
	return FormatPvl, errs.New(errs.Input, "unknown network format %s", s)
}

// Reads a network file in either form
func ReadFile(fileName string) (*Network, error) {
	buf, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errs.Wrap(errs.Resource, err, "reading network %s", fileName)
	}
	n, err := Read(buf)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), err, "reading network %s", fileName)
	}
	return n, nil
}

// Decodes a network in either form
func Read(buf []byte) (*Network, error) {
	if IsBinary(buf) {
		return ReadBinary(buf)
	}
	doc, err := pvl.Read(bytes.NewReader(buf))
	if err != nil {
		return nil, errs.Wrap(errs.Input, err, "parsing network")
	}
	return FromPvl(doc)
}

func (n *Network) Write(w io.Writer, f Format) error {
	if f == FormatBinary {
		return n.WriteBinary(w)
	}
	if err := n.Pvl().Write(w); err != nil {
		return errs.Wrap(errs.Resource, err, "writing network")
	}
	return nil
}

func (n *Network) WriteFile(fileName string, f Format) error {
	file, err := os.Create(fileName)
	if err != nil {
		return errs.Wrap(errs.Resource, err, "creating network %s", fileName)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err := n.Write(w, f); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(errs.Resource, err, "writing network %s", fileName)
	}
	return nil
}
