package runner

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"
)

// runChrooted launches cmd.Argv with the process's root directory
// switched to root via syscall.SysProcAttr, the native Linux chroot
// mechanism — no chroot(8) subprocess layer is needed on this platform.
func runChrooted(ctx context.Context, root string, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, &ExternalCommandFailed{Err: errEmptyArgv}
	}

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(execCtx, cmd.Argv[0], cmd.Argv[1:]...)
	execCmd.Dir = "/"
	execCmd.SysProcAttr = &syscall.SysProcAttr{Chroot: root}
	if cmd.Env != nil {
		execCmd.Env = cmd.Env
	}

	var stderrCapture bytes.Buffer
	if cmd.Stdout != nil {
		execCmd.Stdout = cmd.Stdout
	}
	if cmd.Stderr != nil {
		execCmd.Stderr = cmd.Stderr
	} else {
		execCmd.Stderr = &stderrCapture
	}

	start := time.Now()
	err := execCmd.Run()
	duration := time.Since(start)

	result := &Result{Duration: duration}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && execCtx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, &ExternalCommandFailed{
			Argv:       cmd.Argv,
			ExitCode:   -1,
			StderrTail: tail(stderrCapture.String(), maxStderrTail),
			Err:        err,
		}
	}

	result.ExitCode = 0
	return result, nil
}
