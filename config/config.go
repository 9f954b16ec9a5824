package config

import (
	_ "embed"
	"log/slog"
	"net/netip"
	"strings"
	"time"
)

// Defaults for operational configuration.
// These can be overridden by placing a non-empty value in the corresponding .text file.
const (
	DefaultClientID       = "b91-hota"
	DefaultStatusTopic    = "b91/hota/status"
	DefaultLogLevel       = slog.LevelInfo
	DefaultPublishTimeout = 10 * time.Second
)

// Environment-specific configuration. An empty broker.text disables publishing.
var (
	//go:embed broker.text
	brokerAddr string
)

// Optional overrides for defaults (empty file = use default).
var (
	//go:embed clientid.text
	clientIDOverride string

	//go:embed status_topic.text
	statusTopicOverride string

	//go:embed log_level.text
	logLevelOverride string

	//go:embed publish_timeout.text
	publishTimeoutOverride string
)

// BrokerAddr returns the MQTT broker address from broker.text file.
// Format: "host:port" e.g., "192.168.1.100:1883"
func BrokerAddr() (netip.AddrPort, error) {
	return ParseBroker(brokerAddr)
}

// ParseBroker parses a "host:port" broker address.
func ParseBroker(s string) (netip.AddrPort, error) {
	return netip.ParseAddrPort(strings.TrimSpace(s))
}

// HasBroker reports whether a broker address was configured.
func HasBroker() bool {
	return strings.TrimSpace(brokerAddr) != ""
}

// ClientID returns the MQTT client ID.
// Returns DefaultClientID unless overridden via clientid.text.
func ClientID() string {
	if override := strings.TrimSpace(clientIDOverride); override != "" {
		return override
	}
	return DefaultClientID
}

// StatusTopic returns the topic update status is published on.
func StatusTopic() string {
	if override := strings.TrimSpace(statusTopicOverride); override != "" {
		return override
	}
	return DefaultStatusTopic
}

// LogLevel returns the console log level.
// Returns DefaultLogLevel unless log_level.text holds debug, info, warn or error.
func LogLevel() slog.Level {
	return ParseLogLevel(logLevelOverride)
}

// ParseLogLevel parses a slog level name, falling back to DefaultLogLevel.
func ParseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return DefaultLogLevel
	}
	return level
}

// PublishTimeout bounds one connect-publish-disconnect cycle to the broker.
func PublishTimeout() time.Duration {
	if override := strings.TrimSpace(publishTimeoutOverride); override != "" {
		if d, err := time.ParseDuration(override); err == nil {
			return d
		}
	}
	return DefaultPublishTimeout
}
