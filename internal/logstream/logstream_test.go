package logstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

func TestHandlerPublishesAndDelegates(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(10)
	logger := NewLogger(slog.NewJSONHandler(&buf, nil), hub)

	logger.With(slog.String("account", "Account 1")).
		WithGroup("swap").
		Warn("Swap failed", slog.String("token", "USDC"), slog.Int("attempt", 2))

	events := hub.Recent(0)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, types.SeverityWarn, ev.Severity)
	assert.Equal(t, "Swap failed", ev.Message)
	assert.Equal(t, "Account 1", ev.Attrs["account"])
	assert.Equal(t, "USDC", ev.Attrs["swap.token"])
	assert.Equal(t, "2", ev.Attrs["swap.attempt"])

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Swap failed", line["msg"])
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	hub := NewHub(10)
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}), hub)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.Equal(t, 0, hub.Count("hidden"))
	assert.Equal(t, 1, hub.Count("shown"))
}

func TestHubRingKeepsNewest(t *testing.T) {
	hub := NewHub(3)
	for i := 0; i < 5; i++ {
		hub.Publish(types.LogEvent{Message: fmt.Sprintf("m%d", i)})
	}

	got := hub.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Message)
	assert.Equal(t, "m4", got[2].Message)

	last := hub.Recent(2)
	require.Len(t, last, 2)
	assert.Equal(t, "m3", last[0].Message)
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(10)
	ch, cancel := hub.Subscribe(1)
	assert.Equal(t, 1, hub.Subscribers())

	hub.Publish(types.LogEvent{Message: "first"})
	hub.Publish(types.LogEvent{Message: "dropped"})

	select {
	case ev := <-ch:
		assert.Equal(t, "first", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  types.Severity
	}{
		{slog.LevelDebug, types.SeverityDebug},
		{slog.LevelInfo, types.SeverityInfo},
		{slog.LevelWarn, types.SeverityWarn},
		{slog.LevelError, types.SeverityError},
		{slog.LevelError + 4, types.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, severity(tt.level))
		})
	}
}
