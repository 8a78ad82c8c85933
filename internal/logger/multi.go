package logger

import "github.com/harrison/ultrasession/internal/models"

// Sink is the set of events every logger in this package accepts.
type Sink interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogRunStart(index, total int, stimulus string)
	LogStage(runTimestamp, stage string)
	LogRunComplete(run models.Run, completed, total int)
	LogSessionSummary(result models.SessionResult)
}

// MultiLogger fans every event out to its sinks in order.
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger creates a MultiLogger; nil sinks are dropped.
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiLogger) LogTrace(message string) {
	for _, s := range m.sinks {
		s.LogTrace(message)
	}
}

func (m *MultiLogger) LogDebug(message string) {
	for _, s := range m.sinks {
		s.LogDebug(message)
	}
}

func (m *MultiLogger) LogInfo(message string) {
	for _, s := range m.sinks {
		s.LogInfo(message)
	}
}

func (m *MultiLogger) LogWarn(message string) {
	for _, s := range m.sinks {
		s.LogWarn(message)
	}
}

func (m *MultiLogger) LogError(message string) {
	for _, s := range m.sinks {
		s.LogError(message)
	}
}

func (m *MultiLogger) LogRunStart(index, total int, stimulus string) {
	for _, s := range m.sinks {
		s.LogRunStart(index, total, stimulus)
	}
}

func (m *MultiLogger) LogStage(runTimestamp, stage string) {
	for _, s := range m.sinks {
		s.LogStage(runTimestamp, stage)
	}
}

func (m *MultiLogger) LogRunComplete(run models.Run, completed, total int) {
	for _, s := range m.sinks {
		s.LogRunComplete(run, completed, total)
	}
}

func (m *MultiLogger) LogSessionSummary(result models.SessionResult) {
	for _, s := range m.sinks {
		s.LogSessionSummary(result)
	}
}
