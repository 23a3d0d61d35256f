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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core)).With(String("component", "test"))

	ctx := WithRunID(context.Background(), "run-1")
	l.Info(ctx, "hello", Int("points", 3))
	l.Debug(context.Background(), "quiet")

	require.Equal(t, 2, logs.Len())
	e := logs.All()[0]
	assert.Equal(t, "hello", e.Message)
	fields := e.ContextMap()
	assert.Equal(t, "test", fields["component"])
	assert.Equal(t, int64(3), fields["points"])
	assert.Equal(t, "run-1", fields["run_id"])
	assert.NotContains(t, logs.All()[1].ContextMap(), "run_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, parseLevel("Warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
}

func TestNewWritesFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "run.log")
	l, err := New(Config{Level: "info", Format: "json", File: fn})
	require.NoError(t, err)
	l.Warn(context.Background(), "written", String("k", "v"))
	_ = l.Sync()
	buf, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"msg":"written"`)
	assert.Contains(t, string(buf), `"k":"v"`)
}

func TestTee(t *testing.T) {
	var out bytes.Buffer
	tee := NewTee(&out)
	_, err := tee.Write([]byte("before\n"))
	require.NoError(t, err)

	fn := filepath.Join(t.TempDir(), "tee.log")
	require.NoError(t, tee.AlsoToFile(fn))
	_, err = tee.Write([]byte("after\n"))
	require.NoError(t, err)
	require.NoError(t, tee.Close())

	assert.Equal(t, "before\nafter\n", out.String())
	buf, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "after\n", string(buf))
}
