package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	clockLayout    = "15:04:05.000"
	componentWidth = 8
)

// prettyHandler renders one console line per record:
//
//	15:04:05.000 WARN  gateway  degraded last_ack=15:04:01.250 grace=30s
//
// The first dotted segment of the message becomes the component column and the
// rest is printed as the event. Attrs added through WithAttrs are rendered once.
type prettyHandler struct {
	out    *lockedWriter
	level  slog.Leveler
	source bool
	color  bool
	prefix string
	preset []byte
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(b []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(b)
	return err
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		out:   &lockedWriter{w: w},
		level: slog.LevelInfo,
		color: color,
	}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, applyColor(ansiDim, ts.Format(clockLayout), h.color)...)
	buf = append(buf, ' ')
	buf = append(buf, levelTag(r.Level, h.color)...)

	component, event := splitEvent(r.Message)
	if component != "" {
		buf = append(buf, ' ')
		buf = append(buf, applyColor(componentColor(component), padRight(component, componentWidth), h.color)...)
	}
	buf = append(buf, ' ')
	buf = append(buf, applyColor(ansiBright, event, h.color)...)

	buf = append(buf, h.preset...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			src := filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
			buf = append(buf, " src="...)
			buf = append(buf, applyColor(ansiDim, src, h.color)...)
		}
	}

	buf = append(buf, '\n')
	return h.out.write(buf)
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.preset = append([]byte(nil), h.preset...)
	for _, a := range attrs {
		cp.preset = cp.appendAttr(cp.preset, h.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		// An unnamed group is inlined.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}
	if key == "" {
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, displayKey(key)...)
	buf = append(buf, '=')
	return append(buf, formatValue(key, a.Value, h.color)...)
}

// splitEvent splits "gateway.heartbeat.write.fail" into "gateway" and
// "heartbeat.write.fail". Messages without a dot have no component.
func splitEvent(msg string) (component, event string) {
	component, event, ok := strings.Cut(msg, ".")
	if !ok || component == "" || event == "" || strings.ContainsAny(component, " \t") {
		return "", msg
	}
	return component, event
}

func componentColor(component string) string {
	switch component {
	case "gateway":
		return ansiCyan
	case "session":
		return ansiGreen
	case "dispatch":
		return ansiMagenta
	case "rest", "http":
		return ansiBlue
	case "cache", "archive":
		return ansiYellow
	default:
		return ansiDim
	}
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func displayKey(key string) string {
	switch key {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return key
	}
}

type valueFormatter func(v slog.Value, color bool) string

// formatters are chosen by the attr's own key, so they also apply inside groups.
var formatters = map[string]valueFormatter{
	"method": func(v slog.Value, color bool) string {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color)
	},
	"path": func(v slog.Value, color bool) string {
		return applyColor(ansiCyan, quoteIfNeeded(v.String()), color)
	},
	"status": func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), color)
		}
		return quoteIfNeeded(valueToString(v))
	},
	"status_class": func(v slog.Value, color bool) string {
		return colorizeStatusClass(strings.TrimSpace(v.String()), color)
	},
	"duration_ms": func(v slog.Value, color bool) string {
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, color)
		}
		return quoteIfNeeded(valueToString(v))
	},
	"result": func(v slog.Value, color bool) string {
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), color)
	},
	"state":    stateValue,
	"from":     stateValue,
	"to":       stateValue,
	"retry_in": waitValue,
	"grace":    waitValue,
	"event": func(v slog.Value, color bool) string {
		return applyColor(ansiCyan, quoteIfNeeded(v.String()), color)
	},
	"reason": func(v slog.Value, color bool) string {
		return applyColor(ansiYellow, quoteIfNeeded(valueToString(v)), color)
	},
	"err":   errValue,
	"panic": errValue,
	"dropped": func(v slog.Value, color bool) string {
		n, ok := valueToInt64(v)
		if ok && n > 0 {
			return applyColor(ansiRed, strconv.FormatInt(n, 10), color)
		}
		return quoteIfNeeded(valueToString(v))
	},
	"team_id":    idValue,
	"channel_id": idValue,
	"message_id": idValue,
	"user_id":    idValue,
}

func formatValue(key string, v slog.Value, color bool) string {
	if f, ok := formatters[key]; ok {
		return f(v, color)
	}
	return quoteIfNeeded(valueToString(v))
}

func stateValue(v slog.Value, color bool) string {
	return colorizeState(strings.ToLower(strings.TrimSpace(v.String())), color)
}

func errValue(v slog.Value, color bool) string {
	return applyColor(ansiRed, quoteIfNeeded(valueToString(v)), color)
}

func idValue(v slog.Value, color bool) string {
	return applyColor(ansiDim, quoteIfNeeded(valueToString(v)), color)
}

// waitValue prints backoff and grace durations at millisecond precision.
func waitValue(v slog.Value, color bool) string {
	if v.Kind() != slog.KindDuration {
		return quoteIfNeeded(valueToString(v))
	}
	return applyColor(ansiDim, v.Duration().Round(time.Millisecond).String(), color)
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(clockLayout)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// levelTag pads every level to the same width so the component column lines up.
func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return applyColor(ansiRed, "ERROR", color)
	case level >= slog.LevelWarn:
		return applyColor(ansiYellow, "WARN ", color)
	case level < slog.LevelInfo:
		return applyColor(ansiMagenta, "DEBUG", color)
	default:
		return applyColor(ansiBlue, "INFO ", color)
	}
}
