package shell

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(res.Stdout) != "out\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if string(res.Stderr) != "err\n" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if res.Code != 0 {
		t.Fatalf("code = %d", res.Code)
	}
}

func TestRunExitCode(t *testing.T) {
	res, err := Run(context.Background(), 5*time.Second, "sh", "-c", "exit 3")
	if err == nil {
		t.Fatalf("nonzero exit reported as success")
	}
	if res.Code != 3 {
		t.Fatalf("code = %d, want 3", res.Code)
	}
}

func TestRunNotFound(t *testing.T) {
	_, err := Run(context.Background(), time.Second, "definitely-not-a-real-tool")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), 100*time.Millisecond, "sh", "-c", "sleep 5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
