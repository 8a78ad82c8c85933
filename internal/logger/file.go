package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison/ultrasession/internal/models"
)

// FileLogger writes one log file per session (run-YYYYMMDD-HHMMSS.log) and
// keeps latest.log pointing at the newest one.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger opens a session log under logDir, creating the directory.
// sessionID is written to the header so logs can be matched to manifests.
func NewFileLogger(logDir, logLevel, sessionID string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	started := time.Now()
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", started.Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	latest := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(latest); err == nil {
		if err := os.Remove(latest); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), latest); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}
	fl.writeRunLog("=== ultrasession log ===\n")
	fl.writeRunLog(fmt.Sprintf("Session: %s\nStarted at: %s\n\n", sessionID, started.Format(time.RFC3339)))
	return fl, nil
}

// Path returns the session log file path.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

// LogTrace logs a trace-level message to the session log.
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message to the session log.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message to the session log.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message to the session log.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message to the session log.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level, message string) {
	if !enabled(fl.logLevel, level) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", stamp(), level, message))
}

// LogRunStart records the stimulus of run index (1-based) of total.
func (fl *FileLogger) LogRunStart(index, total int, stimulus string) {
	if !enabled(fl.logLevel, "info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Run %d/%d stimulus=%q\n", stamp(), index, total, stimulus))
}

// LogStage records a state machine transition.
func (fl *FileLogger) LogStage(runTimestamp, stage string) {
	if !enabled(fl.logLevel, "debug") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s stage=%s\n", stamp(), runTimestamp, stage))
}

// LogRunComplete records the artifacts and status of a finished run.
func (fl *FileLogger) LogRunComplete(run models.Run, completed, total int) {
	if !enabled(fl.logLevel, "info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s status=%s duration=%s progress=%d/%d\n  dir: %s\n  image: %s\n  audio: %s\n  sync: %s\n",
		stamp(), run.Timestamp, run.Status, formatDuration(run.Duration), completed, total,
		run.Dir, run.ImageFile, run.AudioFile, run.SyncFile))
}

// LogSessionSummary records the session totals.
func (fl *FileLogger) LogSessionSummary(result models.SessionResult) {
	if !enabled(fl.logLevel, "info") {
		return
	}
	msg := fmt.Sprintf("\n=== Session Summary ===\nSession: %s\nPlanned: %d\nCompleted: %d\nDuration: %s\n",
		result.SessionID, result.Planned, result.Completed, formatDuration(result.Duration))
	if result.Err != nil {
		msg += fmt.Sprintf("Error: %v\n", result.Err)
	}
	fl.writeRunLog(msg)
}

// Close flushes and closes the session log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return nil
	}
	if err := fl.runLog.Sync(); err != nil {
		return fmt.Errorf("failed to sync run log: %w", err)
	}
	if err := fl.runLog.Close(); err != nil {
		return fmt.Errorf("failed to close run log: %w", err)
	}
	fl.runLog = nil
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}
