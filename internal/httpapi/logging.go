package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger of the HTTP layer.
var zlog = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetLogger installs the structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel applies to requests without an override.
var defaultLogLevel = parseLevel(os.Getenv("MNISTD_LOG_LEVEL"))

// SetDefaultLogLevel overrides the level taken from MNISTD_LOG_LEVEL.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// reqEvent starts an event tagged with the request id.
func reqEvent(r *http.Request, ev *zerolog.Event) *zerolog.Event {
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	return ev
}

func logPredictStart(r *http.Request, lvl LogLevel) {
	if lvl < LevelInfo {
		return
	}
	reqEvent(r, zlog.Info()).Str("path", r.URL.Path).Str("origin", r.Header.Get("Origin")).Msg("predict start")
}

// logPredictEnd logs the outcome. Failures are logged from LevelError,
// successes from LevelInfo.
func logPredictEnd(r *http.Request, lvl LogLevel, status int, start time.Time, err error) {
	if (err == nil && lvl < LevelInfo) || (err != nil && lvl < LevelError) {
		return
	}
	ev := zlog.Info()
	if err != nil {
		ev = zlog.Error().Err(err)
	}
	reqEvent(r, ev).Int("status", status).Dur("dur", time.Since(start)).Msg("predict end")
}

func logPrediction(r *http.Request, lvl LogLevel, class int) {
	if lvl < LevelDebug {
		return
	}
	reqEvent(r, zlog.Debug()).Int("prediction", class).Msg("predict result")
}
