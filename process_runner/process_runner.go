package processrunner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// A Command is an external program invocation.
type Command struct {
	Name string
	Args []string

	// Working directory. Empty means the runner's default.
	Dir string

	// Extra environment in KEY=VALUE form, appended to the inherited environment.
	Env []string

	// Kill the process after this long. Zero means no timeout beyond the caller's context.
	Timeout time.Duration
}

// Returns the command line as a single shell-quoted string.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, Quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

type Result struct {
	Command  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Duration time.Duration

	// Set when the process could not be started at all (e.g. binary not found).
	StartErr error
}

// Reports whether the command did not run to a zero exit status.
func (r *Result) Failed() bool {
	return r.StartErr != nil || r.TimedOut || r.ExitCode != 0
}

// Returns nil for a successful result and an *ExitError otherwise.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	return &ExitError{Result: r}
}

// Stdout and stderr joined, for logging.
func (r *Result) CombinedOutput() string {
	var sb strings.Builder
	sb.Write(r.Stdout)
	if len(r.Stdout) > 0 && len(r.Stderr) > 0 && r.Stdout[len(r.Stdout)-1] != '\n' {
		sb.WriteByte('\n')
	}
	sb.Write(r.Stderr)
	return sb.String()
}

type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	r := e.Result
	switch {
	case r.StartErr != nil:
		return fmt.Sprintf("%s: failed to start: %s", r.Command, r.StartErr)
	case r.TimedOut:
		return fmt.Sprintf("%s: timed out after %s", r.Command, r.Duration.Round(time.Millisecond))
	default:
		msg := fmt.Sprintf("%s: exit status %d", r.Command, r.ExitCode)
		if tail := lastLine(r.Stderr); tail != "" {
			msg += ": " + tail
		}
		return msg
	}
}

func (e *ExitError) Unwrap() error {
	return e.Result.StartErr
}

// Runs external commands. Implementations never return an error for a non-zero exit, callers
// inspect the Result.
type ProcessRunner interface {
	Run(ctx context.Context, cmd *Command) *Result
}

// Implemented by runners that execute commands on another machine and can place files there.
type FileCopier interface {
	// Copies the local reader to the remote path, creating parent directories.
	CopyFileTo(local io.Reader, remotePath string) error
}

// Quote returns s quoted for a POSIX shell. Words made only of safe characters are returned as is.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !isSafeShellRune(c) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isSafeShellRune(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", c)
}

func lastLine(buf []byte) string {
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
