package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSlogHandler(t *testing.T) {
	ResetState()

	var console bytes.Buffer
	logger := slog.New(NewSlogHandler(&console, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Debug("ota:chunk-received", slog.Int("chunk", 64))
	logger.Info("ota:erase-partition", slog.String("addr", "0x080000"))
	logger.Error("ota:write-rejected", slog.Int("partition", 9), slog.Bool("fatal", false))

	if !strings.Contains(console.String(), "ota:chunk-received") {
		t.Error("debug record missing from console")
	}

	logs := GetLogQueue()
	if len(logs) != 2 {
		t.Fatalf("expected 2 queued logs (INFO+), got %d", len(logs))
	}
	if got := logs[0].Text(); got != "ota:erase-partition addr=0x080000" {
		t.Errorf("info body = %q", got)
	}
	if logs[1].Severity != SeverityError {
		t.Errorf("severity = %d, want %d", logs[1].Severity, SeverityError)
	}
	if got := logs[1].Text(); got != "ota:write-rejected partition=9 fatal=false" {
		t.Errorf("error body = %q", got)
	}
}

func TestSlogHandlerAttrsAndGroup(t *testing.T) {
	ResetState()

	var console bytes.Buffer
	logger := slog.New(NewSlogHandler(&console, nil)).
		With(slog.String("bank", "B")).
		WithGroup("boot")

	logger.Warn("switch", slog.Duration("took", 1500*time.Millisecond))

	logs := GetLogQueue()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if got := logs[0].Text(); got != "boot:switch bank=B took=1.5s" {
		t.Errorf("body = %q", got)
	}
}

func TestSlogHandlerMessageLimits(t *testing.T) {
	ResetState()

	var console bytes.Buffer
	logger := slog.New(NewSlogHandler(&console, nil))
	logger.Info(strings.Repeat("m", 150), slog.Int("a", 1))
	logger.Info("many", slog.Int("a", 1), slog.Int("b", 2), slog.Int("c", 3), slog.Int("d", 4), slog.Int("e", 5))

	logs := GetLogQueue()
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].BodyLen != 128 {
		t.Errorf("long body length = %d, want 128", logs[0].BodyLen)
	}
	if got := logs[1].Text(); got != "many a=1 b=2 c=3 d=4" {
		t.Errorf("attr cap body = %q", got)
	}
}

func TestSlogLevelToOTLP(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  uint8
	}{
		{slog.LevelDebug, SeverityDebug},
		{slog.LevelInfo, SeverityInfo},
		{slog.LevelWarn, SeverityWarn},
		{slog.LevelError, SeverityError},
		{slog.LevelError + 4, SeverityError},
	}
	for _, tc := range tests {
		if got := slogLevelToOTLP(tc.level); got != tc.want {
			t.Errorf("slogLevelToOTLP(%v) = %d, want %d", tc.level, got, tc.want)
		}
	}
}
