// Package telemetry queues the updater's log records and metrics in small
// rings and publishes them to an MQTT broker.
package telemetry

import (
	"sync"
	"time"
)

// Log severity levels (OTLP standard)
const (
	SeverityDebug = 5
	SeverityInfo  = 9
	SeverityWarn  = 13
	SeverityError = 17
)

// LogEntry represents a single log record
type LogEntry struct {
	Timestamp int64
	Severity  uint8
	BodyLen   uint8
	Body      [128]byte
}

// Text returns the stored message.
func (e LogEntry) Text() string {
	return string(e.Body[:e.BodyLen])
}

// MetricPoint represents a single metric data point
type MetricPoint struct {
	Timestamp int64
	Value     int64
	NameLen   uint8
	Name      [32]byte
	IsGauge   bool
}

// MetricName returns the stored metric name.
func (p MetricPoint) MetricName() string {
	return string(p.Name[:p.NameLen])
}

// Circular queues; the oldest entry is overwritten when full.
var (
	logQueue    [16]LogEntry
	logHead     int
	logCount    int
	metricQueue [16]MetricPoint
	metricHead  int
	metricCount int
)

var (
	mu      sync.Mutex
	enabled = true
	paused  bool // set while publishing and across a boot switch

	// Stats
	sentLogs    int
	sentMetrics int
	sendErrors  int

	now = func() int64 { return time.Now().UnixNano() }
)

// Log queues a log entry with the given severity and message
func Log(severity uint8, msg string) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || paused {
		return
	}

	idx := (logHead + logCount) % len(logQueue)
	if logCount >= len(logQueue) {
		logHead = (logHead + 1) % len(logQueue)
	} else {
		logCount++
	}

	entry := &logQueue[idx]
	entry.Timestamp = now()
	entry.Severity = severity
	entry.BodyLen = uint8(copy(entry.Body[:], msg))
}

func LogInfo(msg string)  { Log(SeverityInfo, msg) }
func LogWarn(msg string)  { Log(SeverityWarn, msg) }
func LogError(msg string) { Log(SeverityError, msg) }

// RecordGauge records a point-in-time gauge metric
func RecordGauge(name string, value int64) {
	recordMetric(name, value, true)
}

// RecordCounter records a monotonic counter metric
func RecordCounter(name string, value int64) {
	recordMetric(name, value, false)
}

func recordMetric(name string, value int64, isGauge bool) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled || paused {
		return
	}

	idx := (metricHead + metricCount) % len(metricQueue)
	if metricCount >= len(metricQueue) {
		metricHead = (metricHead + 1) % len(metricQueue)
	} else {
		metricCount++
	}

	point := &metricQueue[idx]
	point.Timestamp = now()
	point.Value = value
	point.IsGauge = isGauge
	point.NameLen = uint8(copy(point.Name[:], name))
}

// GetLogQueue returns the queued log entries, oldest first.
func GetLogQueue() []LogEntry {
	mu.Lock()
	defer mu.Unlock()
	return logsLocked()
}

// GetMetricQueue returns the queued metric points, oldest first.
func GetMetricQueue() []MetricPoint {
	mu.Lock()
	defer mu.Unlock()
	return metricsLocked()
}

// Drain removes and returns everything queued.
func Drain() ([]LogEntry, []MetricPoint) {
	mu.Lock()
	defer mu.Unlock()
	logs, metrics := logsLocked(), metricsLocked()
	logHead, logCount = 0, 0
	metricHead, metricCount = 0, 0
	return logs, metrics
}

func logsLocked() []LogEntry {
	out := make([]LogEntry, logCount)
	for i := range out {
		out[i] = logQueue[(logHead+i)%len(logQueue)]
	}
	return out
}

func metricsLocked() []MetricPoint {
	out := make([]MetricPoint, metricCount)
	for i := range out {
		out[i] = metricQueue[(metricHead+i)%len(metricQueue)]
	}
	return out
}

// Pause stops queueing until Resume.
func Pause() {
	mu.Lock()
	paused = true
	mu.Unlock()
}

// Resume resumes queueing after a pause
func Resume() {
	mu.Lock()
	paused = false
	mu.Unlock()
}

// pauseQueue pauses queueing and returns the matching resume. It returns a
// no-op when queueing was already paused.
func pauseQueue() func() {
	mu.Lock()
	defer mu.Unlock()
	if paused {
		return func() {}
	}
	paused = true
	return Resume
}

// IsPaused returns true if telemetry is paused
func IsPaused() bool {
	mu.Lock()
	defer mu.Unlock()
	return paused
}

// Disable disables telemetry queueing
func Disable() {
	mu.Lock()
	enabled = false
	mu.Unlock()
}

// Enable enables telemetry queueing
func Enable() {
	mu.Lock()
	enabled = true
	mu.Unlock()
}

// Stats reports the queue depths and publish counters.
type Stats struct {
	QueuedLogs    int
	QueuedMetrics int
	SentLogs      int
	SentMetrics   int
	SendErrors    int
}

// Status returns current telemetry statistics
func Status() Stats {
	mu.Lock()
	defer mu.Unlock()
	return Stats{
		QueuedLogs:    logCount,
		QueuedMetrics: metricCount,
		SentLogs:      sentLogs,
		SentMetrics:   sentMetrics,
		SendErrors:    sendErrors,
	}
}

func recordSent(logs, metrics int) {
	mu.Lock()
	sentLogs += logs
	sentMetrics += metrics
	mu.Unlock()
}

func recordSendError() {
	mu.Lock()
	sendErrors++
	mu.Unlock()
}

// ResetState clears all queues, counters and flags.
func ResetState() {
	mu.Lock()
	defer mu.Unlock()
	logQueue = [len(logQueue)]LogEntry{}
	metricQueue = [len(metricQueue)]MetricPoint{}
	logHead, logCount = 0, 0
	metricHead, metricCount = 0, 0
	enabled, paused = true, false
	sentLogs, sentMetrics, sendErrors = 0, 0, 0
}
