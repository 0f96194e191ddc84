// Package relay streams the output of an external media producer process to
// an HTTP client, buffering through a warm-up window before the first bytes
// are forwarded.
package relay

import (
	"context"
	"io"
	"os/exec"
	"sync"
)

// Source owns one external producer process and exposes its standard output
// as a byte stream. Close terminates the process on every path; it is
// idempotent and safe to call after the process has already exited.
type Source struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	once sync.Once
}

// StartSource spawns the producer with its stdout captured. Cancelling ctx
// kills the process, which unblocks any Read in progress.
func StartSource(ctx context.Context, name string, args ...string) (*Source, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Source{cmd: cmd, stdout: stdout}, nil
}

// Read reads produced bytes, returning io.EOF when the producer's output
// stream ends.
func (s *Source) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close forcibly terminates the producer and reaps it. Errors from a process
// that already exited are swallowed; termination is best-effort and
// unconditional.
func (s *Source) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

// Exited reports whether the producer process has been reaped.
func (s *Source) Exited() bool {
	return s.cmd.ProcessState != nil
}
