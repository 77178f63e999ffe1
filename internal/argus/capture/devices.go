package capture

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrDeviceDenied reports that the examinee refused a capture device.
var ErrDeviceDenied = errors.New("device permission denied")

type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// FrameStream is an open camera. Close releases the device.
type FrameStream interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

type Camera interface {
	Open(ctx context.Context) (FrameStream, error)
}

// ScreenShare is held for the length of the exam; the handle is released on
// Stop.
type ScreenShare interface {
	Open(ctx context.Context) (io.Closer, error)
}

type Visibility string

const (
	Foreground Visibility = "visible"
	Background Visibility = "hidden"
)

// VisibilitySource reports foreground/background changes of the exam tab.
// The channel closes when ctx ends or the source is exhausted.
type VisibilitySource interface {
	Watch(ctx context.Context) (<-chan Visibility, error)
}
