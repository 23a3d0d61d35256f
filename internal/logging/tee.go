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

package logging

import (
	"bufio"
	"io"
	"os"
	"sync"
)

// Console writer for human readable progress. Writes to an underlying
// writer, and optionally to a file as well. Does not add prefixes, or
// force newlines.
type Tee struct {
	mu     sync.Mutex
	out    io.Writer
	file   *bufio.Writer
	fileOS *os.File
}

func NewTee(out io.Writer) *Tee { return &Tee{out: out} }

// Enables logging to file, closing any previous one
func (t *Tee) AlsoToFile(fileName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	t.fileOS, t.file = f, bufio.NewWriter(f)
	return nil
}

func (t *Tee) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err = t.out.Write(p)
	if err != nil || t.file == nil {
		return n, err
	}
	return t.file.Write(p)
}

// Flushes and syncs the file, if any
func (t *Tee) Sync() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	if err := t.file.Flush(); err != nil {
		return err
	}
	return t.fileOS.Sync()
}

func (t *Tee) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeFile()
}

func (t *Tee) closeFile() error {
	if t.file == nil {
		return nil
	}
	if err := t.file.Flush(); err != nil {
		return err
	}
	err := t.fileOS.Close()
	t.file, t.fileOS = nil, nil
	return err
}
