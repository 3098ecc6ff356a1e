package obs_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/tariff-engine/obs"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, obs.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, obs.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, obs.ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, obs.ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, obs.ParseLevel("verbose"))
}

func TestTime_LogsFailureWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.SetupWriter(&buf, "debug", "json")
	ctx := obs.WithRequestID(context.Background(), "req-7")

	err := errors.New("boom")
	obs.Time(ctx, logger, "reconcile.run")(&err)

	out := buf.String()
	assert.Contains(t, out, `"op":"reconcile.run"`)
	assert.Contains(t, out, `"req_id":"req-7"`)
	assert.Contains(t, out, `"err":"boom"`)
}

func TestTime_SuccessIsDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.SetupWriter(&buf, "info", "text")

	var err error
	obs.Time(context.Background(), logger, "quiet")(&err)

	assert.Empty(t, buf.String())
}
