package logging

import "go.uber.org/zap/zapcore"

// TraceLevel is a custom level below Debug for very verbose output
// (per-token streaming events, per-chunk ingest progress).
const TraceLevel = zapcore.Level(-2)

// ParseLevel converts a level name to a zapcore.Level.
// Accepts: trace, debug, info, warn, error.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// LevelName returns the name for a level, including the custom trace level.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}
