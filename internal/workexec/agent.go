package workexec

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/orcworks/orc/internal/orcerr"
	"github.com/orcworks/orc/internal/plan"
)

// AgentOptions configures how the external agent CLI is invoked. The
// orchestrator never interprets agent output beyond extracting a session id
// and optional turn/metrics fields (spec.md §6.4); the CLI binary and its
// flags are an adapter concern kept entirely inside this file.
type AgentOptions struct {
	// Binary is the agent CLI executable name, defaulting to "agent-cli".
	Binary string
	// Task is a short human label passed through to the CLI for its own logs.
	Task string
}

// DefaultAgentBinary mirrors claude.Invoker's "claude" default: the adapter
// resolves a bare command name through PATH unless AgentOptions overrides it.
const DefaultAgentBinary = "agent-cli"

// sessionIDPattern matches a UUID-shaped token, the "session marker" the
// spec describes extracting from agent CLI output (spec.md §4.4 step 4).
var sessionIDPattern = regexp.MustCompile(`(?i)session[_-]?id["=:\s]+([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)

// turnLimitPattern extracts a reported turn count; runAgent parses it but
// neither logs nor records it, and a line that does not match is ignored.
var turnLimitPattern = regexp.MustCompile(`(?i)turn[s]?[_-]?(?:used|count)["=:\s]+(\d+)`)

// runAgent invokes the external agent CLI for a WorkAgent spec, resuming the
// previous session by default unless resumeSession is explicitly false
// (spec.md §4.4 step 4, §9 "Agent session resumption"). Grounded on
// claude.Invoker.invoke's flag-building shape, generalized past a
// single hardcoded CLI vendor.
func runAgent(ctx context.Context, work plan.WorkSpec, previousSessionID string, opts Options, phase string) (Result, error) {
	binary := opts.AgentOptions.Binary
	if binary == "" {
		binary = DefaultAgentBinary
	}

	args := []string{"-p", work.Instructions, "--output-format", "stream-json"}
	if work.Model != "" {
		args = append(args, "--model", work.Model)
	}
	if work.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(work.MaxTurns))
	}
	for _, f := range work.ContextFiles {
		args = append(args, "--context-file", f)
	}
	if previousSessionID != "" && work.ResumesSession() {
		args = append(args, "--resume", previousSessionID)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)

	start := time.Now()
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, orcerr.Wrap(orcerr.KindAgent, "attach agent stdout", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, orcerr.Wrap(orcerr.KindAgent, "attach agent stderr", err)
	}
	afterStart := setProcGroup(cmd)
	if err := cmd.Start(); err != nil {
		return Result{}, &orcerr.Error{Kind: orcerr.KindAgent, Message: "agent CLI not found: " + binary, Err: err}
	}
	_ = afterStart()

	var sessionID string
	var turns string
	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if opts.Stdout != nil {
				opts.Stdout.WriteLine(line)
			}
			if m := sessionIDPattern.FindStringSubmatch(line); m != nil {
				sessionID = m[1]
			}
			if m := turnLimitPattern.FindStringSubmatch(line); m != nil {
				turns = m[1]
			}
		}
	}()

	var stderrBuf strBuilder
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			stderrBuf.WriteLine(line)
			if opts.Stderr != nil {
				opts.Stderr.WriteLine(line)
			}
		}
	}()
	<-stdoutDone
	<-stderrDone

	waitErr := cmd.Wait()
	result := Result{
		Stderr:    stderrBuf.String(),
		Duration:  time.Since(start),
		SessionID: sessionID,
	}
	_ = turns // parsed but not surfaced in Result or metrics

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, &orcerr.Error{Kind: orcerr.KindAgent, Message: "agent CLI timed out"}
	}
	if waitErr == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if sessionID == "" && result.Stderr == "" {
		return result, &orcerr.Error{Kind: orcerr.KindAgent, Message: fmt.Sprintf("agent CLI session lost: %v", waitErr)}
	}
	return result, orcerr.Wrap(orcerr.KindAgent, "wait for agent CLI", waitErr)
}
