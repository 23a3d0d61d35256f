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
	"fmt"
	"io"
	"os"
	"strings"
)

// Token kinds of the PVL lexer
type tokenKind int

const (
	tokWord   tokenKind = iota // unquoted word
	tokString                  // quoted string
	tokEquals                  // =
	tokOpen                    // ( or {
	tokClose                   // ) or }
	tokComma                   // ,
	tokUnit                    // <unit>
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	line int
}

type lexer struct {
	r    *bufio.Reader
	line int
	peek *token
}

// Parses a PVL document from the given file
func ReadFile(fileName string) (*Document, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func ParseString(s string) (*Document, error) {
	return Read(strings.NewReader(s))
}

// Parses a PVL document. Reading stops at the End statement, so a label
// attached to binary data can be parsed from the start of the file.
func Read(r io.Reader) (*Document, error) {
	lx := &lexer{r: bufio.NewReader(r), line: 1}
	doc := NewDocument()
	if err := parseBody(lx, &doc.Object, "", true); err != nil {
		return nil, err
	}
	return doc, nil
}

// Parses keywords, groups and objects into o until the closing statement
func parseBody(lx *lexer, o *Object, closer string, root bool) error {
	for {
		t, err := lx.next()
		if err != nil {
			return err
		}
		if t.kind == tokEOF {
			if root {
				return nil
			}
			return fmt.Errorf("line %d: unexpected end of input in object %s", t.line, o.Name)
		}
		if t.kind != tokWord {
			return fmt.Errorf("line %d: expected keyword, got '%s'", t.line, t.text)
		}
		name := t.text
		switch {
		case strings.EqualFold(name, "End"):
			if !root {
				return fmt.Errorf("line %d: End inside object %s", t.line, o.Name)
			}
			return nil
		case isEnd(name, "Object"):
			if closer != "Object" {
				return fmt.Errorf("line %d: unbalanced %s", t.line, name)
			}
			lx.skipOptionalValue()
			return nil
		case isEnd(name, "Group"):
			return fmt.Errorf("line %d: unbalanced %s", t.line, name)
		}

		values, unit, err := parseAssignment(lx, name)
		if err != nil {
			return err
		}
		switch {
		case strings.EqualFold(name, "Object"):
			child := NewObject(firstOf(values))
			if err := parseBody(lx, child, "Object", false); err != nil {
				return err
			}
			o.AddObject(child)
		case strings.EqualFold(name, "Group"):
			g := NewGroup(firstOf(values))
			if err := parseGroup(lx, g); err != nil {
				return err
			}
			o.AddGroup(g)
		default:
			k := o.Add(name, values...)
			k.Unit = unit
		}
	}
}

func parseGroup(lx *lexer, g *Group) error {
	for {
		t, err := lx.next()
		if err != nil {
			return err
		}
		if t.kind == tokEOF {
			return fmt.Errorf("line %d: unexpected end of input in group %s", t.line, g.Name)
		}
		if t.kind != tokWord {
			return fmt.Errorf("line %d: expected keyword, got '%s'", t.line, t.text)
		}
		if isEnd(t.text, "Group") {
			lx.skipOptionalValue()
			return nil
		}
		if strings.EqualFold(t.text, "Group") || strings.EqualFold(t.text, "Object") || strings.EqualFold(t.text, "End") {
			return fmt.Errorf("line %d: %s not allowed inside group %s", t.line, t.text, g.Name)
		}
		values, unit, err := parseAssignment(lx, t.text)
		if err != nil {
			return err
		}
		k := g.Add(t.text, values...)
		k.Unit = unit
	}
}

// Parses "= value [<unit>]" or "= (v1, v2, ...) [<unit>]"
func parseAssignment(lx *lexer, name string) (values []string, unit string, err error) {
	t, err := lx.next()
	if err != nil {
		return nil, "", err
	}
	if t.kind != tokEquals {
		return nil, "", fmt.Errorf("line %d: expected '=' after %s", t.line, name)
	}
	t, err = lx.next()
	if err != nil {
		return nil, "", err
	}
	switch t.kind {
	case tokWord, tokString:
		values = []string{t.text}
	case tokOpen:
		values, err = parseList(lx)
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", fmt.Errorf("line %d: missing value for %s", t.line, name)
	}
	if p, err := lx.peekToken(); err == nil && p.kind == tokUnit {
		lx.peek = nil
		unit = p.text
	}
	return values, unit, nil
}

func parseList(lx *lexer) ([]string, error) {
	values := []string{}
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		switch t.kind {
		case tokClose:
			return values, nil
		case tokComma:
			continue
		case tokWord, tokString:
			values = append(values, t.text)
			if p, err := lx.peekToken(); err == nil && p.kind == tokUnit {
				lx.peek = nil // per-element units are dropped
			}
		default:
			return nil, fmt.Errorf("line %d: unexpected '%s' in list", t.line, t.text)
		}
	}
}

func isEnd(word, what string) bool {
	return strings.EqualFold(word, "End_"+what) || strings.EqualFold(word, "End"+what)
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Consumes an "= name" following an End_Object, which some writers emit
func (lx *lexer) skipOptionalValue() {
	p, err := lx.peekToken()
	if err != nil || p.kind != tokEquals {
		return
	}
	lx.peek = nil
	lx.next()
}

func (lx *lexer) peekToken() (*token, error) {
	if lx.peek != nil {
		return lx.peek, nil
	}
	t, err := lx.scan()
	if err != nil {
		return nil, err
	}
	lx.peek = &t
	return lx.peek, nil
}

func (lx *lexer) next() (token, error) {
	if lx.peek != nil {
		t := *lx.peek
		lx.peek = nil
		return t, nil
	}
	return lx.scan()
}

func (lx *lexer) scan() (token, error) {
	for {
		c, err := lx.r.ReadByte()
		if err == io.EOF {
			return token{kind: tokEOF, line: lx.line}, nil
		} else if err != nil {
			return token{}, err
		}
		switch {
		case c == '\n':
			lx.line++
		case c == ' ' || c == '\t' || c == '\r' || c == 0:
		case c == '#':
			lx.skipLine()
		case c == '/':
			n, _ := lx.r.Peek(1)
			if len(n) == 1 && n[0] == '*' {
				lx.r.ReadByte()
				if err := lx.skipComment(); err != nil {
					return token{}, err
				}
			} else {
				return lx.word(c)
			}
		case c == '=':
			return token{kind: tokEquals, text: "=", line: lx.line}, nil
		case c == '(' || c == '{':
			return token{kind: tokOpen, text: string(c), line: lx.line}, nil
		case c == ')' || c == '}':
			return token{kind: tokClose, text: string(c), line: lx.line}, nil
		case c == ',':
			return token{kind: tokComma, text: ",", line: lx.line}, nil
		case c == '<':
			s, err := lx.until('>')
			return token{kind: tokUnit, text: strings.TrimSpace(s), line: lx.line}, err
		case c == '"' || c == '\'':
			s, err := lx.until(c)
			return token{kind: tokString, text: collapseSpace(s), line: lx.line}, err
		default:
			return lx.word(c)
		}
	}
}

func (lx *lexer) word(first byte) (token, error) {
	b := strings.Builder{}
	b.WriteByte(first)
	for {
		c, err := lx.r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return token{}, err
		}
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '=' || c == '(' || c == ')' ||
			c == '{' || c == '}' || c == ',' || c == '<' || c == '"' {
			lx.r.UnreadByte()
			break
		}
		b.WriteByte(c)
	}
	return token{kind: tokWord, text: b.String(), line: lx.line}, nil
}

func (lx *lexer) until(end byte) (string, error) {
	b := strings.Builder{}
	for {
		c, err := lx.r.ReadByte()
		if err == io.EOF {
			return "", fmt.Errorf("line %d: unterminated '%c'", lx.line, end)
		} else if err != nil {
			return "", err
		}
		if c == end {
			return b.String(), nil
		}
		if c == '\n' {
			lx.line++
		}
		b.WriteByte(c)
	}
}

func (lx *lexer) skipLine() {
	for {
		c, err := lx.r.ReadByte()
		if err != nil || c == '\n' {
			lx.line++
			return
		}
	}
}

func (lx *lexer) skipComment() error {
	prev := byte(0)
	for {
		c, err := lx.r.ReadByte()
		if err != nil {
			return fmt.Errorf("line %d: unterminated comment", lx.line)
		}
		if c == '\n' {
			lx.line++
		}
		if prev == '*' && c == '/' {
			return nil
		}
		prev = c
	}
}

// Quoted strings may wrap across lines; the line breaks collapse to single spaces
func collapseSpace(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
