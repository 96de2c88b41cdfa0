package processrunner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

type localRunner struct {
	dir string
}

// Runs commands on this machine. dir is the default working directory (empty for the current one).
func NewLocalRunner(dir string) ProcessRunner {
	return &localRunner{dir: dir}
}

func (r *localRunner) Run(ctx context.Context, cmd *Command) *Result {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = r.dir
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	// Don't wait forever on children that inherited our pipes after the kill
	c.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	res := &Result{Command: cmd.String()}
	slog.Debug("running command", slog.String("command", res.Command))
	start := time.Now()
	err := c.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		res.ExitCode = -1
		res.TimedOut = errors.Is(ctxErr, context.DeadlineExceeded)
		if !res.TimedOut {
			res.StartErr = ctxErr
		}
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.StartErr = err
	}
	return res
}
