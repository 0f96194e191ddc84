package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeSource serves canned chunks, then blocks on unblock (if set), then
// returns finalErr (io.EOF by default).
type fakeSource struct {
	mu       sync.Mutex
	chunks   [][]byte
	idx      int
	delay    time.Duration
	unblock  chan struct{}
	finalErr error
	closed   bool
}

func (f *fakeSource) Read(p []byte) (int, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	if f.idx < len(f.chunks) {
		c := f.chunks[f.idx]
		f.idx++
		f.mu.Unlock()
		return copy(p, c), nil
	}
	f.mu.Unlock()
	if f.unblock != nil {
		<-f.unblock
	}
	if f.finalErr != nil {
		return 0, f.finalErr
	}
	return 0, io.EOF
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordWriter keeps one entry per Write call.
type recordWriter struct {
	mu     sync.Mutex
	writes [][]byte
}

func (r *recordWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, bytes.Clone(p))
	return len(p), nil
}

func (r *recordWriter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func numberedChunks(n int) [][]byte {
	chunks := make([][]byte, n)
	for i := range chunks {
		chunks[i] = []byte(fmt.Sprintf("chunk-%02d", i+1))
	}
	return chunks
}

func TestSession_burst_then_individual_delivery(t *testing.T) {
	// Producer emits 10 chunks instantly and exits. The warm-up window must
	// still be waited out; then chunks 1-8 burst and 9-10 follow in order.
	src := &fakeSource{chunks: numberedChunks(10)}
	sess := NewSession(src, Options{ChunkSize: 64, WarmUp: 50 * time.Millisecond, Holdback: 2})
	w := &recordWriter{}

	begin := time.Now()
	if err := sess.Stream(context.Background(), w); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if elapsed := time.Since(begin); elapsed < 50*time.Millisecond {
		t.Errorf("stream finished before the warm-up window elapsed (%v)", elapsed)
	}

	if w.count() != 10 {
		t.Fatalf("expected all 10 chunks delivered, got %d", w.count())
	}
	for i, chunk := range w.writes {
		want := fmt.Sprintf("chunk-%02d", i+1)
		if string(chunk) != want {
			t.Errorf("write %d = %q, want %q", i, chunk, want)
		}
	}
	if !src.wasClosed() {
		t.Error("source must be closed after streaming")
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %v, want closed", sess.State())
	}
}

func TestSession_empty_producer_yields_nothing(t *testing.T) {
	src := &fakeSource{}
	sess := NewSession(src, Options{ChunkSize: 64, WarmUp: 10 * time.Millisecond, Holdback: 2})
	w := &recordWriter{}

	if err := sess.Stream(context.Background(), w); err != nil {
		t.Fatalf("an empty stream is not an error, got %v", err)
	}
	if w.count() != 0 {
		t.Errorf("expected no writes, got %d", w.count())
	}
	if !src.wasClosed() {
		t.Error("source must be closed")
	}
}

func TestSession_producer_failure_closes_session(t *testing.T) {
	// A producer killed mid-stream surfaces as a read error: the session
	// closes, terminates the process, and yields nothing further.
	src := &fakeSource{
		chunks:   numberedChunks(3),
		finalErr: errors.New("read |0: file already closed"),
	}
	sess := NewSession(src, Options{ChunkSize: 64, WarmUp: time.Hour, Holdback: 2})
	w := &recordWriter{}

	err := sess.Stream(context.Background(), w)
	if err == nil {
		t.Fatal("expected the read error to surface")
	}
	if w.count() != 0 {
		t.Errorf("no chunks should be forwarded before warm-up, got %d writes", w.count())
	}
	if sess.State() != StateClosed {
		t.Errorf("state = %v, want closed", sess.State())
	}
	if !src.wasClosed() {
		t.Error("source must be closed on the failure path")
	}
}

func TestSession_passthrough_after_warmup(t *testing.T) {
	// Slow producer: the first chunk lands inside the window, the second
	// lands after it and triggers the burst, the third passes straight
	// through in streaming state.
	src := &fakeSource{chunks: numberedChunks(3), delay: 20 * time.Millisecond}
	sess := NewSession(src, Options{ChunkSize: 64, WarmUp: 30 * time.Millisecond, Holdback: 0})
	w := &recordWriter{}

	if err := sess.Stream(context.Background(), w); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if w.count() != 3 {
		t.Fatalf("expected 3 chunks, got %d", w.count())
	}
	for i, chunk := range w.writes {
		want := fmt.Sprintf("chunk-%02d", i+1)
		if string(chunk) != want {
			t.Errorf("write %d = %q, want %q (order must be preserved)", i, chunk, want)
		}
	}
}

func TestSession_cancel_terminates(t *testing.T) {
	unblock := make(chan struct{})
	src := &fakeSource{chunks: numberedChunks(2), unblock: unblock}
	sess := NewSession(src, Options{ChunkSize: 64, WarmUp: time.Hour, Holdback: 2})
	w := &recordWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Stream(ctx, w) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	// Cancelling the real source's context kills the producer, which
	// unblocks the pending read; emulate that here.
	close(unblock)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stream did not return after cancellation")
	}
	if w.count() != 0 {
		t.Errorf("no chunks should be written after cancellation, got %d", w.count())
	}
	if !src.wasClosed() {
		t.Error("source must be closed after cancellation")
	}
}

func TestSession_holdback_smaller_than_buffer(t *testing.T) {
	// Fewer buffered chunks than the holdback: the burst flushes nothing,
	// and the drain still delivers everything at end of data.
	src := &fakeSource{chunks: numberedChunks(1)}
	sess := NewSession(src, Options{ChunkSize: 64, WarmUp: 5 * time.Millisecond, Holdback: 2})
	w := &recordWriter{}

	if err := sess.Stream(context.Background(), w); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if w.count() != 1 || string(w.writes[0]) != "chunk-01" {
		t.Errorf("expected the single chunk delivered, got %d writes", w.count())
	}
}

func TestState_string(t *testing.T) {
	if StateWarmingUp.String() != "warming_up" || StateClosed.String() != "closed" {
		t.Error("unexpected state names")
	}
}
