package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"
)

const (
	maxMessageAttrs = 4
	messageLimit    = len(LogEntry{}.Body)
)

// SlogHandler is a slog.Handler that writes text to the console and queues
// INFO and above into the telemetry log ring.
type SlogHandler struct {
	text  slog.Handler
	attrs []slog.Attr
	group string
}

// NewSlogHandler creates a handler writing to w.
func NewSlogHandler(w io.Writer, opts *slog.HandlerOptions) *SlogHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &SlogHandler{text: slog.NewTextHandler(w, opts)}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.text.Handle(ctx, r)
	if r.Level >= slog.LevelInfo {
		Log(slogLevelToOTLP(r.Level), h.message(r))
	}
	return err
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SlogHandler{
		text:  h.text.WithAttrs(attrs),
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		group: h.group,
	}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &SlogHandler{
		text:  h.text.WithGroup(name),
		attrs: h.attrs,
		group: group,
	}
}

func slogLevelToOTLP(level slog.Level) uint8 {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarn
	case level >= slog.LevelInfo:
		return SeverityInfo
	default:
		return SeverityDebug
	}
}

// message renders "group:msg key=val ..." with at most maxMessageAttrs
// attributes, handler attributes first, cut to fit a LogEntry.
func (h *SlogHandler) message(r slog.Record) string {
	buf := make([]byte, 0, messageLimit)
	if h.group != "" {
		buf = append(buf, h.group...)
		buf = append(buf, ':')
	}
	buf = append(buf, r.Message...)

	n := 0
	add := func(a slog.Attr) bool {
		if n >= maxMessageAttrs || len(buf) >= messageLimit {
			return false
		}
		buf = append(buf, ' ')
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = appendValue(buf, a.Value)
		n++
		return true
	}
	for _, a := range h.attrs {
		if !add(a) {
			break
		}
	}
	r.Attrs(add)

	if len(buf) > messageLimit {
		buf = buf[:messageLimit]
	}
	return string(buf)
}

func appendValue(buf []byte, v slog.Value) []byte {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return append(buf, v.String()...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Millisecond).String()...)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', 4, 64)
	default:
		return append(buf, '?')
	}
}
