package telemetry

import (
	"encoding/json"

	"b91/hota/version"
)

type payload struct {
	Device  string         `json:"device"`
	Version string         `json:"version"`
	Logs    []logRecord    `json:"logs,omitempty"`
	Metrics []metricRecord `json:"metrics,omitempty"`
}

type logRecord struct {
	TimeUnixNano int64  `json:"timeUnixNano,string"`
	Severity     uint8  `json:"severityNumber"`
	Body         string `json:"body"`
}

type metricRecord struct {
	TimeUnixNano int64  `json:"timeUnixNano,string"`
	Name         string `json:"name"`
	Value        int64  `json:"value"`
	Kind         string `json:"kind"`
}

// BuildPayload renders queued records as the JSON document published to
// the status topic.
func BuildPayload(device string, logs []LogEntry, metrics []MetricPoint) ([]byte, error) {
	p := payload{
		Device:  device,
		Version: version.String(),
		Logs:    make([]logRecord, 0, len(logs)),
		Metrics: make([]metricRecord, 0, len(metrics)),
	}
	for _, e := range logs {
		p.Logs = append(p.Logs, logRecord{
			TimeUnixNano: e.Timestamp,
			Severity:     e.Severity,
			Body:         e.Text(),
		})
	}
	for _, m := range metrics {
		kind := "sum"
		if m.IsGauge {
			kind = "gauge"
		}
		p.Metrics = append(p.Metrics, metricRecord{
			TimeUnixNano: m.Timestamp,
			Name:         m.MetricName(),
			Value:        m.Value,
			Kind:         kind,
		})
	}
	return json.Marshal(p)
}
