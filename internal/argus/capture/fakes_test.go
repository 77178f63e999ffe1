package capture_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/capture"
)

type fakeStream struct {
	closed atomic.Bool
}

func (s *fakeStream) Capture(context.Context) (capture.Frame, error) {
	return capture.Frame{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg", CapturedAt: time.Now()}, nil
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCamera struct {
	opens   atomic.Int32
	openErr error
	stream  *fakeStream
}

func (c *fakeCamera) Open(context.Context) (capture.FrameStream, error) {
	c.opens.Add(1)
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.stream = &fakeStream{}
	return c.stream, nil
}

type fakeScreen struct {
	openErr error
	closed  atomic.Bool
}

func (s *fakeScreen) Open(context.Context) (io.Closer, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return closerFunc(func() error { s.closed.Store(true); return nil }), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// chanVisibility hands the loop a channel the test drives.
type chanVisibility struct {
	ch chan capture.Visibility
}

func newChanVisibility() *chanVisibility {
	return &chanVisibility{ch: make(chan capture.Visibility)}
}

func (v *chanVisibility) Watch(ctx context.Context) (<-chan capture.Visibility, error) {
	out := make(chan capture.Visibility)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-v.ch:
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type fixedClassifier struct {
	conf  float64
	err   error
	calls atomic.Int32
}

func (c *fixedClassifier) Classify(context.Context, capture.Frame) (float64, error) {
	c.calls.Add(1)
	return c.conf, c.err
}

type recordingSubmitter struct {
	mu    sync.Mutex
	got   []capture.Candidate
	err   error
	calls atomic.Int32
}

func (s *recordingSubmitter) Submit(_ context.Context, c capture.Candidate) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c)
	return s.err
}

func (s *recordingSubmitter) Candidates() []capture.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Candidate(nil), s.got...)
}

func (s *recordingSubmitter) countKind(kind string) int {
	n := 0
	for _, c := range s.Candidates() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// syncBuffer is a log sink safe to read while the loop writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
