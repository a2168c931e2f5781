// Package shell runs external storage tools without a shell, with a bounded
// timeout and a pinned minimal environment.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

var (
	ErrTimeout  = errors.New("command timed out")
	ErrNotFound = errors.New("command not found")
)

// Run executes name with args and captures stdout/stderr. The environment is
// pinned so tool output stays parseable regardless of the caller's locale.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if _, err := exec.LookPath(name); err != nil {
		return Result{Code: -1}, ErrNotFound
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Env = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin", "LANG=C", "LC_ALL=C"}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	return res, err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
