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

package pvl

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const indentStep = "  "

// Writes the document in a canonical layout: keywords first, then groups,
// then objects, each level indented by two spaces and with aligned equals signs.
// Output depends only on document content, so identical documents produce identical bytes.
func (d *Document) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeBody(bw, &d.Object, "")
	bw.WriteString("End\n")
	return bw.Flush()
}

func (d *Document) WriteFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *Document) String() string {
	b := strings.Builder{}
	d.Write(&b)
	return b.String()
}

func writeBody(w *bufio.Writer, o *Object, indent string) {
	writeKeywords(w, &o.Container, indent)
	for _, g := range o.Groups {
		w.WriteString(indent + "Group = " + quote(g.Name) + "\n")
		writeKeywords(w, &g.Container, indent+indentStep)
		w.WriteString(indent + "End_Group\n")
		w.WriteString("\n")
	}
	for _, c := range o.Objects {
		w.WriteString(indent + "Object = " + quote(c.Name) + "\n")
		writeBody(w, c, indent+indentStep)
		w.WriteString(indent + "End_Object\n")
		w.WriteString("\n")
	}
}

func writeKeywords(w *bufio.Writer, c *Container, indent string) {
	width := 0
	for _, k := range c.Keywords {
		if len(k.Name) > width {
			width = len(k.Name)
		}
	}
	for _, k := range c.Keywords {
		w.WriteString(indent)
		w.WriteString(k.Name)
		w.WriteString(strings.Repeat(" ", width-len(k.Name)))
		w.WriteString(" = ")
		if len(k.Values) == 1 {
			w.WriteString(quote(k.Values[0]))
		} else {
			w.WriteByte('(')
			for i, v := range k.Values {
				if i > 0 {
					w.WriteString(", ")
				}
				w.WriteString(quote(v))
			}
			w.WriteByte(')')
		}
		if k.Unit != "" {
			w.WriteString(" <" + k.Unit + ">")
		}
		w.WriteByte('\n')
	}
}

// Quotes values that would not survive a round trip as a bare word
func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\r\n=(){},<>\"'#") || strings.Contains(v, "/*") {
		return "\"" + strings.ReplaceAll(v, "\"", "'") + "\""
	}
	return v
}
