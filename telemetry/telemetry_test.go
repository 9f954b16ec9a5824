package telemetry

import (
	"strings"
	"testing"

	"b91/hota/ota"
)

func TestLog(t *testing.T) {
	tests := []struct {
		name     string
		severity uint8
		msg      string
	}{
		{"debug message", SeverityDebug, "debug:test"},
		{"info message", SeverityInfo, "info:test"},
		{"warn message", SeverityWarn, "warn:test"},
		{"error message", SeverityError, "error:test"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ResetState()
			Log(tc.severity, tc.msg)

			logs := GetLogQueue()
			if len(logs) != 1 {
				t.Fatalf("expected 1 log, got %d", len(logs))
			}

			log := logs[0]
			if log.Severity != tc.severity {
				t.Errorf("severity = %d, want %d", log.Severity, tc.severity)
			}
			if log.Text() != tc.msg {
				t.Errorf("body = %q, want %q", log.Text(), tc.msg)
			}
			if log.Timestamp == 0 {
				t.Error("timestamp should not be zero")
			}
		})
	}
}

func TestLogConvenienceFunctions(t *testing.T) {
	tests := []struct {
		name     string
		logFunc  func(string)
		expected uint8
	}{
		{"LogInfo", LogInfo, SeverityInfo},
		{"LogWarn", LogWarn, SeverityWarn},
		{"LogError", LogError, SeverityError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ResetState()
			tc.logFunc("test message")

			logs := GetLogQueue()
			if len(logs) != 1 {
				t.Fatalf("expected 1 log, got %d", len(logs))
			}
			if logs[0].Severity != tc.expected {
				t.Errorf("severity = %d, want %d", logs[0].Severity, tc.expected)
			}
		})
	}
}

func TestLogQueueCircular(t *testing.T) {
	ResetState()

	for i := 0; i < 20; i++ {
		LogInfo(strings.Repeat("m", i+1))
	}

	logs := GetLogQueue()
	if len(logs) != 16 {
		t.Fatalf("queue length = %d, want 16 (max)", len(logs))
	}
	// entries 1..4 were overwritten
	if got := len(logs[0].Text()); got != 5 {
		t.Errorf("oldest entry length = %d, want 5", got)
	}
}

func TestLogTruncation(t *testing.T) {
	ResetState()

	LogInfo(strings.Repeat("x", 200))

	logs := GetLogQueue()
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].BodyLen != 128 {
		t.Errorf("bodyLen = %d, want 128 (truncated)", logs[0].BodyLen)
	}
}

func TestLogDisabled(t *testing.T) {
	ResetState()
	Disable()

	LogInfo("should not be queued")
	RecordGauge("ignored", 1)

	if n := len(GetLogQueue()); n != 0 {
		t.Errorf("expected 0 logs when disabled, got %d", n)
	}
	if n := len(GetMetricQueue()); n != 0 {
		t.Errorf("expected 0 metrics when disabled, got %d", n)
	}

	Enable()
}

func TestPauseResume(t *testing.T) {
	ResetState()

	Pause()
	if !IsPaused() {
		t.Fatal("IsPaused() = false after Pause")
	}
	LogInfo("dropped")
	Resume()
	LogInfo("kept")

	logs := GetLogQueue()
	if len(logs) != 1 || logs[0].Text() != "kept" {
		t.Errorf("logs = %v", logs)
	}
}

func TestRecordGauge(t *testing.T) {
	ResetState()

	RecordGauge("ota.status", 3)

	metrics := GetMetricQueue()
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}

	m := metrics[0]
	if m.MetricName() != "ota.status" {
		t.Errorf("name = %q, want %q", m.MetricName(), "ota.status")
	}
	if m.Value != 3 {
		t.Errorf("value = %d, want 3", m.Value)
	}
	if !m.IsGauge {
		t.Error("expected IsGauge = true")
	}
}

func TestRecordCounter(t *testing.T) {
	ResetState()

	RecordCounter("ota.bytes", 4096)

	metrics := GetMetricQueue()
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	if metrics[0].Value != 4096 || metrics[0].IsGauge {
		t.Errorf("metric = %+v", metrics[0])
	}
}

func TestMetricQueueCircular(t *testing.T) {
	ResetState()

	for i := 0; i < 20; i++ {
		RecordGauge("metric", int64(i))
	}

	metrics := GetMetricQueue()
	if len(metrics) != 16 {
		t.Errorf("queue length = %d, want 16 (max)", len(metrics))
	}
	if metrics[0].Value != 4 {
		t.Errorf("oldest metric value = %d, want 4", metrics[0].Value)
	}
}

func TestMetricNameTruncation(t *testing.T) {
	ResetState()

	RecordGauge(strings.Repeat("x", 50), 42)

	metrics := GetMetricQueue()
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	if metrics[0].NameLen != 32 {
		t.Errorf("nameLen = %d, want 32 (truncated)", metrics[0].NameLen)
	}
}

func TestDrain(t *testing.T) {
	ResetState()

	LogInfo("a")
	LogWarn("b")
	RecordCounter("c", 1)

	logs, metrics := Drain()
	if len(logs) != 2 || len(metrics) != 1 {
		t.Fatalf("drained %d logs, %d metrics", len(logs), len(metrics))
	}
	if logs[0].Text() != "a" || logs[1].Text() != "b" {
		t.Errorf("drain order = %q, %q", logs[0].Text(), logs[1].Text())
	}
	if s := Status(); s.QueuedLogs != 0 || s.QueuedMetrics != 0 {
		t.Errorf("queues not empty after drain: %+v", s)
	}
}

func TestStatusHook(t *testing.T) {
	ResetState()

	hook := StatusHook()
	hook(ota.StatusDownloading, 0)
	hook(ota.StatusRebooting, 0)

	logs := GetLogQueue()
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Text() != "ota:downloading partition=0" {
		t.Errorf("log = %q", logs[0].Text())
	}

	var sessions, lastStatus int64
	for _, m := range GetMetricQueue() {
		switch m.MetricName() {
		case "ota.sessions":
			sessions += m.Value
		case "ota.status":
			lastStatus = m.Value
		}
	}
	if sessions != 1 {
		t.Errorf("ota.sessions = %d, want 1", sessions)
	}
	if lastStatus != int64(ota.StatusRebooting) {
		t.Errorf("ota.status = %d, want %d", lastStatus, ota.StatusRebooting)
	}
	if !IsPaused() {
		t.Error("queueing not paused after rebooting")
	}
}

func TestStatusHookCancelledIsWarning(t *testing.T) {
	ResetState()

	StatusHook()(ota.StatusCancelled, 2)

	logs := GetLogQueue()
	if len(logs) != 1 || logs[0].Severity != SeverityWarn {
		t.Fatalf("logs = %+v", logs)
	}
	if IsPaused() {
		t.Error("cancel paused queueing")
	}
}

func TestPauseQueueNested(t *testing.T) {
	ResetState()

	Pause()
	pauseQueue()()
	if !IsPaused() {
		t.Error("inner resume ended an outer pause")
	}
	Resume()

	resume := pauseQueue()
	if !IsPaused() {
		t.Fatal("pauseQueue did not pause")
	}
	resume()
	if IsPaused() {
		t.Error("still paused after resume")
	}
}
