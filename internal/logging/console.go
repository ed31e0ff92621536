// Package logging provides the ambient console logger used across the
// orchestrator: level-gated, color-on-TTY-only output grounded on the
// teacher's internal/logger.ConsoleLogger, narrowed to the events a Plan
// Runner emits (step/attempt/plan transitions) instead of the teacher's
// wave/task/QC-specific log methods.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/orcworks/orc/internal/plan"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// ConsoleLogger writes level-gated, timestamped lines to an io.Writer,
// colorizing step/attempt status only when writer is a TTY.
type ConsoleLogger struct {
	writer   io.Writer
	minLevel int
	mu       sync.Mutex
	color    bool
}

// New returns a ConsoleLogger writing to w at the given minimum level
// ("debug", "info", "warn", "error"; defaults to "info").
func New(w io.Writer, level string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:   w,
		minLevel: levelFromString(level),
		color:    isTerminal(w),
	}
}

func levelFromString(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if w == os.Stdout {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
	if w == os.Stderr {
		return isatty.IsTerminal(os.Stderr.Fd())
	}
	return false
}

func (c *ConsoleLogger) log(level int, label, message string) {
	if level < c.minLevel {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	if c.color {
		label = colorForLevel(level).Sprint(label)
	}
	fmt.Fprintf(c.writer, "[%s] [%s] %s\n", ts, label, message)
}

func colorForLevel(level int) *color.Color {
	switch level {
	case levelDebug:
		return color.New(color.FgHiBlack)
	case levelWarn:
		return color.New(color.FgYellow)
	case levelError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

// Debugf/Infof/Warnf/Errorf are the general-purpose entry points other
// packages (runner, cmd/orc) use for ambient logging outside the
// pipeline.Logger contract.
func (c *ConsoleLogger) Debugf(format string, args ...any) { c.log(levelDebug, "DEBUG", fmt.Sprintf(format, args...)) }
func (c *ConsoleLogger) Infof(format string, args ...any)  { c.log(levelInfo, "INFO", fmt.Sprintf(format, args...)) }
func (c *ConsoleLogger) Warnf(format string, args ...any)  { c.log(levelWarn, "WARN", fmt.Sprintf(format, args...)) }
func (c *ConsoleLogger) Errorf(format string, args ...any) { c.log(levelError, "ERROR", fmt.Sprintf(format, args...)) }

// StepStarted implements pipeline.Logger.
func (c *ConsoleLogger) StepStarted(planID, nodeID string, step plan.Step) {
	c.log(levelDebug, "STEP", fmt.Sprintf("%s/%s %s started", shortID(planID), shortID(nodeID), step))
}

// StepFinished implements pipeline.Logger.
func (c *ConsoleLogger) StepFinished(planID, nodeID string, step plan.Step, status plan.StepStatus, dur time.Duration) {
	label := "STEP"
	level := levelDebug
	if status == plan.StepFailed {
		label = "STEP"
		level = levelWarn
	}
	c.log(level, label, fmt.Sprintf("%s/%s %s %s in %s", shortID(planID), shortID(nodeID), step, status, dur.Round(time.Millisecond)))
}

// AttemptFinished implements pipeline.Logger.
func (c *ConsoleLogger) AttemptFinished(planID, nodeID string, rec plan.AttemptRecord) {
	icon := statusColor(c.color, rec.Status)
	c.log(levelInfo, "ATTEMPT", fmt.Sprintf("%s/%s attempt %d %s%s", shortID(planID), shortID(nodeID), rec.AttemptNumber, icon, summarizeFailure(rec)))
}

func summarizeFailure(rec plan.AttemptRecord) string {
	if rec.Status == plan.AttemptSucceeded {
		return ""
	}
	return fmt.Sprintf(" (%s: %s)", rec.FailedPhase, rec.Error)
}

func statusColor(useColor bool, status plan.AttemptStatus) string {
	if !useColor {
		return string(status)
	}
	switch status {
	case plan.AttemptSucceeded:
		return color.New(color.FgGreen).Sprint(status)
	case plan.AttemptCanceled:
		return color.New(color.FgYellow).Sprint(status)
	default:
		return color.New(color.FgRed).Sprint(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
