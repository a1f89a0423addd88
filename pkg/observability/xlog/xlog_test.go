package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xthrottle/pkg/context/xctx"
)

func buildJSON(t *testing.T, buf *bytes.Buffer) LoggerWithLevel {
	t.Helper()
	logger, cleanup, err := New().SetOutput(buf).SetFormat("json").SetLevel(LevelDebug).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	return logger
}

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &m))
	return m
}

func TestBuilder_Errors(t *testing.T) {
	_, _, err := New().SetFormat("xml").Build()
	assert.Error(t, err)

	_, _, err = New().SetLevelString("verbose").Build()
	assert.Error(t, err)

	_, _, err = New().SetRotation("").Build()
	assert.ErrorIs(t, err, ErrEmptyFilename)

	_, _, err = New().SetRotation(filepath.Join(t.TempDir(), "a.log"), WithMaxBackups(0), WithMaxAgeDays(0)).Build()
	assert.ErrorIs(t, err, ErrNoCleanupPolicy)

	_, _, err = New().SetRotation(filepath.Join(t.TempDir(), "a.log"), WithMaxSizeMB(0)).Build()
	assert.ErrorIs(t, err, ErrInvalidRotation)
}

func TestLogger_LevelsAndDynamicLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetLevel(LevelWarn).Build()
	require.NoError(t, err)

	ctx := context.Background()
	logger.Info(ctx, "hidden")
	logger.Warn(ctx, "shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	child := logger.With(Component("xreplica"))
	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	child.Debug(ctx, "child debug")
	assert.Contains(t, buf.String(), "child debug")
	assert.Contains(t, buf.String(), "component=xreplica")
}

func TestLogger_EnrichFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := buildJSON(t, &buf)

	ctx, err := xctx.WithNodeID(context.Background(), "node-a")
	require.NoError(t, err)
	ctx, err = xctx.WithThrottle(ctx, "gold", "10.1.1.1")
	require.NoError(t, err)

	logger.Info(ctx, "admitted", Count(3))
	m := decode(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "node-a", m[KeyNodeID])
	assert.Equal(t, "gold", m[KeyPolicyID])
	assert.Equal(t, "10.1.1.1", m[KeyCallerID])
	assert.EqualValues(t, 3, m[KeyCount])
}

func TestLogger_StaticAttrsAndStack(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("json").
		SetStaticAttrs(slog.String(KeyNodeID, "n1")).Build()
	require.NoError(t, err)

	logger.Stack(context.Background(), "boom", Err(errors.New("bad")))
	m := decode(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, "n1", m[KeyNodeID])
	assert.Equal(t, "bad", m[KeyError])
	assert.Contains(t, m[KeyStack], "goroutine")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestLogger_OnError(t *testing.T) {
	var got []error
	logger, _, err := New().SetOutput(failingWriter{}).SetOnError(func(err error) {
		got = append(got, err)
		panic("callback panics are contained")
	}).Build()
	require.NoError(t, err)

	assert.NotPanics(t, func() { logger.Error(context.Background(), "x") })
	require.Len(t, got, 1)
	xl, ok := logger.(*xlogger)
	require.True(t, ok)
	assert.EqualValues(t, 2, xl.errorCount.Load())
}

func TestBuilder_RotationWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, cleanup, err := New().SetRotation(path, WithMaxSizeMB(1), WithCompress(true)).Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "rotated")
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())
	assert.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, " INFO ": LevelInfo, "warning": LevelWarn, "error": LevelError, "": LevelInfo,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for in, want := range map[string]Level{
		"debug-4": LevelDebug - 4, "INFO+2": LevelInfo + 2,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debug/info/warn/error")
	assert.Equal(t, []string{"debug", "info", "warn", "error"}, LevelNames())

	var lv Level
	require.NoError(t, lv.UnmarshalText([]byte("warn")))
	assert.Equal(t, "WARN", lv.String())
	text, err := lv.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WARN", string(text))
	assert.Equal(t, "INFO+2", (LevelInfo + 2).String())
}

func TestGlobalDefault(t *testing.T) {
	t.Cleanup(ResetDefault)

	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).Build()
	require.NoError(t, err)
	SetDefault(logger)
	SetDefault(nil)

	Warn(context.Background(), "global warn")
	assert.Contains(t, buf.String(), "global warn")

	ResetDefault()
	assert.NotNil(t, Default())
}

func TestDiscardAndEnrichNilBase(t *testing.T) {
	Discard().Error(context.Background(), "dropped")
	assert.False(t, Discard().Enabled(context.Background(), LevelError))

	_, err := NewEnrichHandler(nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
