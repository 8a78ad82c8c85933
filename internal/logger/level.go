// Package logger writes session progress to the console and to per-session
// run logs.
//
// Both loggers filter by level (trace, debug, info, warn, error) and are safe
// for concurrent use. Domain events (run start, stage transitions, run
// completion and the session summary) are logged at info or debug.
package logger

import "strings"

const (
	levelTrace int = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[string]int{
	"trace": levelTrace,
	"debug": levelDebug,
	"info":  levelInfo,
	"warn":  levelWarn,
	"error": levelError,
}

// normalizeLogLevel lowercases level and falls back to "info" for unknown values.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if _, ok := levelNames[normalized]; ok {
		return normalized
	}
	return "info"
}

// enabled reports whether a message at level passes the configured threshold.
func enabled(configured, level string) bool {
	return levelNames[normalizeLogLevel(level)] >= levelNames[normalizeLogLevel(configured)]
}
