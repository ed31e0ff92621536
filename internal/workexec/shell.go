package workexec

import (
	"context"
	"os/exec"
	"runtime"

	"github.com/orcworks/orc/internal/orcerr"
	"github.com/orcworks/orc/internal/plan"
)

// runShell executes a WorkShell spec through the shell named by work.Shell
// (defaulting to the platform's native shell when unset), mirroring the
// teacher's use of exec.Command to invoke external tools rather than
// re-implementing a shell parser.
func runShell(ctx context.Context, work plan.WorkSpec, opts Options, phase string) (Result, error) {
	shell, flag, err := resolveShell(work.Shell)
	if err != nil {
		return Result{}, orcerr.Execution(phase, "resolve shell", err.Error())
	}

	cmd := exec.CommandContext(ctx, shell, flag, work.Command)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts.Env)

	return runAndStream(ctx, cmd, opts, phase)
}

func resolveShell(kind plan.ShellKind) (binary, flag string, err error) {
	if kind == "" {
		return defaultShell()
	}
	switch kind {
	case plan.ShellBash:
		return "bash", "-c", nil
	case plan.ShellSh:
		return "sh", "-c", nil
	case plan.ShellCmd:
		return "cmd", "/C", nil
	case plan.ShellPowerShell:
		return "powershell", "-Command", nil
	case plan.ShellPwsh:
		return "pwsh", "-Command", nil
	default:
		return "", "", errUnknownShell(kind)
	}
}

func defaultShell() (binary, flag string, err error) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C", nil
	}
	return "sh", "-c", nil
}

type errUnknownShell plan.ShellKind

func (e errUnknownShell) Error() string { return "unknown shell kind: " + string(e) }
