// Package logstore owns the per-(plan,node,attempt) append-only log file and
// an in-memory tail, plus section extraction by phase marker (spec.md §2
// C3). It is the workexec.LineWriter sink every phase streams its output
// through, modeled on the teacher's FileLogger — one physical file per run,
// written under a plan-scoped directory instead of a single global log.
package logstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// phaseMarkerPrefix starts the line written before a phase begins, so a later
// section extraction can find "--- phase: work ---" style boundaries
// without tracking byte offsets out-of-band.
const phaseMarkerPrefix = "--- phase: "

// Store manages attempt log files under <root>/.orc/logs/<planID>/<nodeID>/.
type Store struct {
	root string
	mu   sync.Mutex
}

// New returns a Store rooted at repoRoot; the log directory is created
// lazily per attempt.
func New(repoRoot string) *Store {
	return &Store{root: filepath.Join(repoRoot, ".orc", "logs")}
}

// AttemptWriter is an open handle on one attempt's log file. It implements
// workexec.LineWriter directly so it can be passed as both Options.Stdout
// and Options.Stderr (tagged with a prefix to distinguish the streams).
type AttemptWriter struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	tail   *ringBuffer
}

// OpenAttempt creates (or truncates, if one exists from a prior crashed
// run) the log file for planID/nodeID/attemptNumber and returns a writer.
func (s *Store) OpenAttempt(planID, nodeID string, attemptNumber int) (*AttemptWriter, error) {
	s.mu.Lock()
	dir := filepath.Join(s.root, planID, nodeID)
	s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("attempt-%d.log", attemptNumber))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open attempt log: %w", err)
	}
	return &AttemptWriter{path: path, file: f, tail: newRingBuffer(500)}, nil
}

// Path returns the on-disk location of this attempt's log, stored on
// AttemptRecord.LogFilePath.
func (w *AttemptWriter) Path() string { return w.path }

// MarkPhase writes a phase-boundary marker line, letting later callers
// extract just one phase's output via Store.PhaseSection.
func (w *AttemptWriter) MarkPhase(phase string) {
	w.writeRaw(phaseMarkerPrefix + phase + " ---")
}

// WriteLine implements workexec.LineWriter.
func (w *AttemptWriter) WriteLine(line string) {
	w.writeRaw(line)
}

func (w *AttemptWriter) writeRaw(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	stamped := fmt.Sprintf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
	_, _ = w.file.WriteString(stamped)
	_ = w.file.Sync()
	w.tail.push(stamped)
}

// Tail returns the last N lines written so far, for a live "orc logs -f"
// style view without re-reading the file from disk.
func (w *AttemptWriter) Tail(n int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tail.last(n)
}

// Close flushes and closes the underlying file.
func (w *AttemptWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadFull returns the complete contents of a past attempt's log file, for
// the Logs(planId, nodeId, attempt?) read operation (spec.md §6.3).
func (s *Store) ReadFull(planID, nodeID string, attemptNumber int) (string, error) {
	path := filepath.Join(s.root, planID, nodeID, fmt.Sprintf("attempt-%d.log", attemptNumber))
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read attempt log: %w", err)
	}
	return string(b), nil
}

// PhaseSection extracts the lines written between the phase marker for
// `phase` and the next marker (or end of file), from a log file already on
// disk. Used to show just a failing phase's output in a retry summary.
func PhaseSection(fullLog, phase string) string {
	lines := strings.Split(fullLog, "\n")
	var out []string
	capturing := false
	marker := phaseMarkerPrefix + phase + " ---"
	for _, line := range lines {
		trimmed := trimTimestamp(line)
		if strings.HasSuffix(trimmed, "---") && strings.HasPrefix(trimmed, phaseMarkerPrefix) {
			capturing = trimmed == marker
			continue
		}
		if capturing {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func trimTimestamp(line string) string {
	if idx := strings.Index(line, "] "); idx >= 0 && strings.HasPrefix(line, "[") {
		return line[idx+2:]
	}
	return line
}

type ringBuffer struct {
	lines []string
	cap   int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) push(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

func (r *ringBuffer) last(n int) []string {
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	return append([]string{}, r.lines[len(r.lines)-n:]...)
}

// ScanPhases reports which phase markers appear in fullLog, in order, for
// CLI tooling that wants to list available sections before extracting one.
func ScanPhases(fullLog string) []string {
	var phases []string
	scanner := bufio.NewScanner(strings.NewReader(fullLog))
	for scanner.Scan() {
		trimmed := trimTimestamp(scanner.Text())
		if strings.HasPrefix(trimmed, phaseMarkerPrefix) && strings.HasSuffix(trimmed, "---") {
			phases = append(phases, strings.TrimSuffix(strings.TrimPrefix(trimmed, phaseMarkerPrefix), " ---"))
		}
	}
	return phases
}
