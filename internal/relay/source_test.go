package relay

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestStartSource_reads_producer_output(t *testing.T) {
	src, err := StartSource(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("StartSource: %v", err)
	}
	defer src.Close()

	out, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("output = %q", out)
	}
}

func TestStartSource_missing_binary(t *testing.T) {
	if _, err := StartSource(context.Background(), "definitely-not-a-real-binary-xyz"); err == nil {
		t.Error("expected an error for a missing binary")
	}
}

func TestSource_close_kills_process(t *testing.T) {
	src, err := StartSource(context.Background(), "sleep", "60")
	if err != nil {
		t.Fatalf("StartSource: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = src.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not terminate the process")
	}
	if !src.Exited() {
		t.Error("process should be reaped after Close")
	}
}

func TestSource_close_idempotent(t *testing.T) {
	src, err := StartSource(context.Background(), "echo", "x")
	if err != nil {
		t.Fatalf("StartSource: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close must be a no-op: %v", err)
	}
}

func TestSource_context_cancel_unblocks_read(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src, err := StartSource(ctx, "sleep", "60")
	if err != nil {
		t.Fatalf("StartSource: %v", err)
	}
	defer src.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := src.Read(buf); err != nil {
				break
			}
		}
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not unblock after context cancellation")
	}
}
