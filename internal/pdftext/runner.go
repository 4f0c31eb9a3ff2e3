package pdftext

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

// Runner executes an external command and returns what it wrote.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// maxLoggedStderr bounds the stderr kept in a failure log entry.
const maxLoggedStderr = 4 << 10

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	start := time.Now()
	err := cmd.Run()
	attrs := []any{"command", name, "args", args, "elapsed", time.Since(start)}
	if err == nil {
		r.logger.Debug("command finished", append(attrs, "output_bytes", stdout.Len())...)
		return stdout.Bytes(), stderr.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		attrs = append(attrs, "exit_code", exitErr.ExitCode())
	}
	r.logger.Warn("command failed", append(attrs, "error", err, "stderr", tail(stderr.Bytes(), maxLoggedStderr))...)
	return stdout.Bytes(), stderr.Bytes(), err
}

// tail keeps the last n bytes of b.
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return "..." + string(b[len(b)-n:])
}
