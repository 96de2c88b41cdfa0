package processrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type SSHRunnerInput struct {
	User    string
	Host    string
	SSHPort int
	Auths   []ssh.AuthMethod

	// Default remote working directory. Commands are run through `cd <dir> &&`.
	Dir string
}

type sshRunner struct {
	input *SSHRunnerInput
}

// The SSH runner is a ProcessRunner and a FileCopier.
type SSHRunner interface {
	ProcessRunner
	FileCopier
}

// Runs commands on a remote host (e.g. a jump host holding the cluster credentials).
func NewSSHRunner(input *SSHRunnerInput) SSHRunner {
	if input.SSHPort == 0 {
		input.SSHPort = 22
	}
	return &sshRunner{input: input}
}

// Reads a private key file and returns an auth method for it.
func PublicKeyAuthFromFile(keyPath string) (ssh.AuthMethod, error) {
	buf, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}

func (r *sshRunner) Run(ctx context.Context, cmd *Command) *Result {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	line := r.commandLine(cmd)
	res := &Result{Command: cmd.String()}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	client, err := r.client()
	if err != nil {
		res.ExitCode = -1
		res.StartErr = err
		return res
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		res.ExitCode = -1
		res.StartErr = err
		return res
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	slog.Debug("running remote command", slog.String("host", r.input.Host), slog.String("command", line))
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Not every sshd honours signals, closing the session is what actually unblocks Run
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		res.Stdout = stdout.Bytes()
		res.Stderr = stderr.Bytes()
		res.ExitCode = -1
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		if !res.TimedOut {
			res.StartErr = ctx.Err()
		}
		return res
	}

	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		res.ExitCode = -1
		res.StartErr = err
	}
	return res
}

func (r *sshRunner) CopyFileTo(local io.Reader, remotePath string) error {
	client, err := r.client()
	if err != nil {
		return err
	}
	defer client.Close()

	sftp, err := sftp.NewClient(client)
	if err != nil {
		return err
	}
	defer sftp.Close()

	if !path.IsAbs(remotePath) && r.input.Dir != "" {
		remotePath = path.Join(r.input.Dir, remotePath)
	}

	err = sftp.MkdirAll(path.Dir(remotePath))
	if err != nil {
		return err
	}

	dst, err := sftp.Create(remotePath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = dst.ReadFrom(local)
	return err
}

func (r *sshRunner) commandLine(cmd *Command) string {
	var sb strings.Builder
	dir := r.input.Dir
	if cmd.Dir != "" {
		dir = cmd.Dir
	}
	if dir != "" {
		sb.WriteString("cd ")
		sb.WriteString(Quote(dir))
		sb.WriteString(" && ")
	}
	for _, kv := range cmd.Env {
		// Only the value may be quoted, a quoted name is not an assignment
		k, v, _ := strings.Cut(kv, "=")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(Quote(v))
		sb.WriteString(" ")
	}
	sb.WriteString(cmd.String())
	return sb.String()
}

func (r *sshRunner) client() (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            r.input.User,
		Auth:            r.input.Auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}
	return ssh.Dial("tcp", fmt.Sprintf("%s:%d", r.input.Host, r.input.SSHPort), cfg)
}
