package engine

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// runCommand executes command through the shell with a bounded timeout,
// returning its exit code. A command that cannot even be started
// (CommandUnavailable, §7) is treated as exit code 127, matching a
// shell's own "command not found" convention — the gate then evaluates
// it like any other non-zero exit.
func runCommand(ctx context.Context, timeout time.Duration, command string) (int, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	engineLog.Error("command unavailable: %q: %v", command, err)
	return 127, nil
}
