package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirCamera replays the images in a directory, in name order, as camera
// frames. An empty or missing directory behaves like a denied camera.
type DirCamera struct {
	Dir string
}

func (c DirCamera) Open(_ context.Context) (FrameStream, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceDenied, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageContentType(e.Name()) != "" {
			files = append(files, filepath.Join(c.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrDeviceDenied, c.Dir)
	}
	sort.Strings(files)
	return &dirStream{files: files}, nil
}

type dirStream struct {
	mu     sync.Mutex
	files  []string
	next   int
	closed bool
}

func (s *dirStream) Capture(_ context.Context) (Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Frame{}, io.ErrClosedPipe
	}
	path := s.files[s.next%len(s.files)]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, ContentType: imageContentType(path), CapturedAt: time.Now().UTC()}, nil
}

func (s *dirStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func imageContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return ""
}

// ReaderVisibility reads one state per line ("hidden" or "visible") from R.
// Other lines are ignored.
type ReaderVisibility struct {
	R io.Reader
}

func (v ReaderVisibility) Watch(ctx context.Context) (<-chan Visibility, error) {
	if v.R == nil {
		return nil, fmt.Errorf("visibility: no input")
	}
	ch := make(chan Visibility)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(v.R)
		for sc.Scan() {
			var state Visibility
			switch strings.ToLower(strings.TrimSpace(sc.Text())) {
			case "hidden", "background":
				state = Background
			case "visible", "foreground":
				state = Foreground
			default:
				continue
			}
			select {
			case ch <- state:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
