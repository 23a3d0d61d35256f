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

package errs

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(Input, "bad option %s", "X")
	wrapped := fmt.Errorf("loading config: %w", base)
	assert.Equal(t, Input, KindOf(wrapped))
	assert.Equal(t, 2, ExitCode(wrapped))
	assert.Contains(t, wrapped.Error(), "bad option X")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("plain")))
	assert.Equal(t, 4, ExitCode(&ConvergenceError{Iterations: 3, Sigma0: 1.5}))
	assert.Equal(t, 6, ExitCode(&NumericalError{Msg: "singular", ZeroColumn: 4, ImageColumn: true}))
	assert.Equal(t, 5, ExitCode(New(Unsupported, "instrument FOO")))
	assert.Equal(t, 9, ExitCode(context.Canceled))

	codes := map[int]bool{}
	for k := Input; k <= Unsupported; k++ {
		assert.False(t, codes[k.ExitCode()], "duplicate exit code for %v", k)
		codes[k.ExitCode()] = true
	}
}

func TestNumericalMessage(t *testing.T) {
	err := &NumericalError{Msg: "normal matrix is singular", ZeroColumn: 7, ImageColumn: false}
	assert.Contains(t, err.Error(), "zero column 7 (point parameter)")
}

func TestCombinedKeepsFirstKind(t *testing.T) {
	err := multierr.Combine(New(Resource, "open a.cub"), New(Geometry, "off body"))
	assert.Equal(t, Resource, KindOf(err))
}

func TestFromContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, FromContext(ctx))
	cancel()
	assert.Equal(t, Cancellation, KindOf(FromContext(ctx)))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(Input, nil, "nothing"))
}
