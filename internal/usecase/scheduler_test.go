package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerAcceptsCronAndDurations(t *testing.T) {
	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("cron-style", "*/5 * * * *", noop))
	require.NoError(t, s.Add("duration-style", "30m", noop))
	assert.Error(t, s.Add("garbage", "every other tuesday", noop))
}

func TestSchedulerStartStopIsSafe(t *testing.T) {
	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Add("job", "1h", func(context.Context) error { return nil }))

	s.Start()
	s.Start() // second start is a no-op
	s.Stop()
	s.Stop() // second stop is a no-op
}
