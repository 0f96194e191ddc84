package relay

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// State is the relay session lifecycle. Closed is terminal and reachable
// from every state.
type State int32

const (
	StateStarting State = iota
	StateWarmingUp
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWarmingUp:
		return "warming_up"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options tune the buffering strategy. The holdback keeps the most recent
// reads out of the burst flush so a possibly-incomplete final read at the
// warm-up boundary is not forwarded early.
type Options struct {
	ChunkSize int
	WarmUp    time.Duration
	Holdback  int
}

// DefaultOptions returns the production tuning: 1 KiB reads, a 3 second
// warm-up window, and a 2-chunk holdback.
func DefaultOptions() Options {
	return Options{ChunkSize: 1024, WarmUp: 3 * time.Second, Holdback: 2}
}

// Session relays one producer's byte stream to one client. It owns the
// source and closes it on every exit path of Stream.
type Session struct {
	src   io.ReadCloser
	opts  Options
	state atomic.Int32
}

// NewSession wraps src with the given options. Non-positive chunk size falls
// back to the default; negative warm-up or holdback are clamped to zero.
func NewSession(src io.ReadCloser, opts Options) *Session {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1024
	}
	if opts.WarmUp < 0 {
		opts.WarmUp = 0
	}
	if opts.Holdback < 0 {
		opts.Holdback = 0
	}
	return &Session{src: src, opts: opts}
}

// State returns the current lifecycle state. Safe to call concurrently with
// Stream.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stream pulls chunks from the source and forwards them to w in arrival
// order. During the warm-up window chunks are buffered, not forwarded; at
// the warm-up boundary all but the holdback are flushed in one burst, after
// which the session passes chunks through. The source is closed on every
// exit path. A producer that emits nothing is not an error: Stream returns
// nil having written nothing.
func (s *Session) Stream(ctx context.Context, w io.Writer) error {
	defer func() {
		_ = s.src.Close()
		s.state.Store(int32(StateClosed))
	}()

	start := time.Now()
	s.state.Store(int32(StateWarmingUp))

	var buf [][]byte
	sentBurst := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := make([]byte, s.opts.ChunkSize)
		n, readErr := s.src.Read(p)
		if n > 0 {
			buf = append(buf, p[:n])
			if sentBurst {
				if err := s.forward(w, &buf, 1); err != nil {
					return err
				}
			} else if time.Since(start) >= s.opts.WarmUp {
				sentBurst = true
				s.state.Store(int32(StateStreaming))
				if err := s.forward(w, &buf, len(buf)-s.opts.Holdback); err != nil {
					return err
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return s.drain(ctx, w, start, buf, sentBurst)
			}
			return readErr
		}
	}
}

// forward writes up to count chunks from the front of buf, preserving order.
func (s *Session) forward(w io.Writer, buf *[][]byte, count int) error {
	for i := 0; i < count && len(*buf) > 0; i++ {
		if _, err := w.Write((*buf)[0]); err != nil {
			return err
		}
		*buf = (*buf)[1:]
	}
	return nil
}

// drain delivers what remains in the buffer after the producer's end of
// data. A session still warming up waits out the window first, so the burst
// semantics at the boundary are identical whether or not the producer is
// still alive.
func (s *Session) drain(ctx context.Context, w io.Writer, start time.Time, buf [][]byte, sentBurst bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}

	if !sentBurst {
		if remaining := s.opts.WarmUp - time.Since(start); remaining > 0 {
			t := time.NewTimer(remaining)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
		s.state.Store(int32(StateStreaming))
		if err := s.forward(w, &buf, len(buf)-s.opts.Holdback); err != nil {
			return err
		}
	}

	return s.forward(w, &buf, len(buf))
}
