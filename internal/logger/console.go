package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/ultrasession/internal/models"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger writes "[HH:MM:SS] [LEVEL] msg" lines to a writer.
// Color is used only when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	now         func() time.Time
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards everything.
// Unknown levels default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		now:         time.Now,
	}
}

// isTerminal reports whether w is a TTY that should receive ANSI colors.
// NO_COLOR (via color.NoColor) always wins.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// LogTrace logs a trace-level message.
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
// Format: "[HH:MM:SS] [WARN] <message>"
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message. Errors print at every log level.
// Format: "[HH:MM:SS] [ERROR] <message>"
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel writes message if level passes the configured threshold,
// coloring the label on terminals.

func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if cl.writer == nil || !enabled(cl.logLevel, level) {
		return
	}
	label := level
	if cl.colorOutput {
		label = levelColor(level).Sprint(level)
	}
	cl.write(fmt.Sprintf("[%s] [%s] %s\n", cl.timestamp(), label, message))
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// LogRunStart logs the stimulus banner for run index (1-based) of total.
// Format: "[HH:MM:SS] Run 2/5: <stimulus>"
func (cl *ConsoleLogger) LogRunStart(index, total int, stimulus string) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}
	header := fmt.Sprintf("Run %d/%d", index, total)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
	}
	if stimulus == "" {
		cl.write(fmt.Sprintf("[%s] %s\n", cl.timestamp(), header))
		return
	}
	cl.write(fmt.Sprintf("[%s] %s: %s\n", cl.timestamp(), header, formatStimulus(stimulus, cl.colorOutput)))
}

// LogStage logs a state machine transition at DEBUG level.
// Format: "[HH:MM:SS] <timestamp> -> CONNECT_CHANNEL"
func (cl *ConsoleLogger) LogStage(runTimestamp, stage string) {
	if cl.writer == nil || !enabled(cl.logLevel, "debug") {
		return
	}
	if cl.colorOutput {
		stage = color.New(color.FgCyan).Sprint(stage)
	}
	cl.write(fmt.Sprintf("[%s] %s -> %s\n", cl.timestamp(), runTimestamp, stage))
}

// LogRunComplete logs the outcome of a run together with session progress.
// Format: "[HH:MM:SS] <timestamp>: PROCESSED (3s) [=====     ] 1/2 (50%)"
func (cl *ConsoleLogger) LogRunComplete(run models.Run, completed, total int) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}
	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(completed)
	status := run.Status
	if cl.colorOutput {
		status = statusColor(run.Status).Sprint(run.Status)
	}
	cl.write(fmt.Sprintf("[%s] %s: %s (%s) %s\n",
		cl.timestamp(), run.Timestamp, status, formatDuration(run.Duration), pb.Render()))
}

// LogSessionSummary logs the session totals and the failed run, if any.
func (cl *ConsoleLogger) LogSessionSummary(result models.SessionResult) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}
	ts := cl.timestamp()
	var b strings.Builder
	header := "=== Session Summary ==="
	completed := fmt.Sprintf("Completed: %d/%d", result.Completed, result.Planned)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		if result.Completed == result.Planned {
			completed = color.New(color.FgGreen).Sprint(completed)
		} else {
			completed = color.New(color.FgRed).Sprint(completed)
		}
	}
	fmt.Fprintf(&b, "[%s] %s\n", ts, header)
	fmt.Fprintf(&b, "[%s] Session: %s\n", ts, result.SessionID)
	fmt.Fprintf(&b, "[%s] %s\n", ts, completed)
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(result.Duration))
	if result.Err != nil {
		msg := fmt.Sprintf("Failed: %v", result.Err)
		if cl.colorOutput {
			msg = color.New(color.FgRed).Sprint(msg)
		}
		fmt.Fprintf(&b, "[%s] %s\n", ts, msg)
	}
	cl.write(b.String())
}

func (cl *ConsoleLogger) write(s string) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	io.WriteString(cl.writer, s)
}

func (cl *ConsoleLogger) timestamp() string {
	return cl.now().Format("15:04:05")
}

// formatDuration renders d as "5s", "1m30s" or "2h15m".
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0 && s > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0 && s > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
