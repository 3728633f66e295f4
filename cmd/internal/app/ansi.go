package app

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

func applyColor(code, s string, color bool) string {
	if !color {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(method string, color bool) string {
	switch method {
	case "GET", "HEAD":
		return applyColor(ansiGreen, method, color)
	case "POST", "PUT", "PATCH":
		return applyColor(ansiYellow, method, color)
	case "DELETE":
		return applyColor(ansiRed, method, color)
	default:
		return applyColor(ansiBlue, method, color)
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	switch {
	case status >= 500:
		return applyColor(ansiRed, s, color)
	case status >= 400:
		return applyColor(ansiYellow, s, color)
	case status >= 300:
		return applyColor(ansiCyan, s, color)
	default:
		return applyColor(ansiGreen, s, color)
	}
}

func colorizeStatusClass(class string, color bool) string {
	switch {
	case strings.HasPrefix(class, "5"):
		return applyColor(ansiRed, class, color)
	case strings.HasPrefix(class, "4"):
		return applyColor(ansiYellow, class, color)
	case strings.HasPrefix(class, "3"):
		return applyColor(ansiCyan, class, color)
	case strings.HasPrefix(class, "2"):
		return applyColor(ansiGreen, class, color)
	default:
		return quoteIfNeeded(class)
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return applyColor(ansiRed, s, color)
	case ms >= 250:
		return applyColor(ansiYellow, s, color)
	default:
		return applyColor(ansiDim, s, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success", "handled", "ok":
		return applyColor(ansiGreen, result, color)
	case "client_error", "ignored", "redirect":
		return applyColor(ansiYellow, result, color)
	case "server_error", "failed":
		return applyColor(ansiRed, result, color)
	default:
		return quoteIfNeeded(result)
	}
}

// colorizeState colors gateway connection states.
func colorizeState(state string, color bool) string {
	switch state {
	case "connected":
		return applyColor(ansiGreen, state, color)
	case "degraded", "connecting":
		return applyColor(ansiYellow, state, color)
	case "disconnected", "stopped":
		return applyColor(ansiRed, state, color)
	default:
		return quoteIfNeeded(state)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
