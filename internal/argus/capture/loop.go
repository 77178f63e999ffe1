package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultFaceThreshold = 0.5
	DefaultSubmitTimeout = 30 * time.Second
)

type Config struct {
	Interval      time.Duration // between camera samples
	FaceThreshold float64       // confidence below this is face-absent; <= 0 selects the default
	SubmitTimeout time.Duration // per candidate, retries included
}

type Dependencies struct {
	Camera      Camera           // optional
	ScreenShare ScreenShare      // optional
	Visibility  VisibilitySource // optional
	Classifier  Classifier       // nil means UnavailableClassifier
	Submitter   Submitter
	Logger      *log.Logger
	Config      Config
}

// Loop watches one examinee session and reports candidate violations. It
// never blocks on the network and never returns device or submission
// failures to its caller.
type Loop struct {
	camera     Camera
	screen     ScreenShare
	visibility VisibilitySource
	classifier Classifier
	submitter  Submitter
	logger     *log.Logger
	cfg        Config
	now        func() time.Time

	lifecycle sync.Mutex // serializes Start and Stop

	mu            sync.Mutex
	running       bool
	examID        string
	cancel        context.CancelFunc
	workers       sync.WaitGroup
	stream        FrameStream
	screenHandle  io.Closer
	presence      bool
	warnedNoModel bool
	history       []Candidate

	inflight sync.WaitGroup
}

func NewLoop(d Dependencies) *Loop {
	cfg := d.Config
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FaceThreshold <= 0 {
		cfg.FaceThreshold = DefaultFaceThreshold
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	classifier := d.Classifier
	if classifier == nil {
		classifier = UnavailableClassifier{}
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		camera:     d.Camera,
		screen:     d.ScreenShare,
		visibility: d.Visibility,
		classifier: classifier,
		submitter:  d.Submitter,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start acquires devices and begins monitoring examID. Calling Start while
// running is a no-op. A denied device is logged and monitoring continues
// with what remains.
func (l *Loop) Start(ctx context.Context, examID string) {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.running = true
	l.examID = examID
	l.cancel = cancel
	l.history = nil
	l.warnedNoModel = false
	l.presence = false

	if l.camera != nil {
		stream, err := l.camera.Open(ctx)
		if err != nil {
			l.logger.Printf("capture %s: camera unavailable, presence checks disabled: %v", examID, err)
		} else {
			l.stream = stream
			l.presence = true
		}
	}
	if l.screen != nil {
		h, err := l.screen.Open(ctx)
		if err != nil {
			l.logger.Printf("capture %s: screen share unavailable: %v", examID, err)
		} else {
			l.screenHandle = h
		}
	}

	if l.stream != nil {
		l.workers.Add(1)
		go l.sample(loopCtx, l.stream)
	}
	if l.visibility != nil {
		ch, err := l.visibility.Watch(loopCtx)
		if err != nil {
			l.logger.Printf("capture %s: visibility unavailable: %v", examID, err)
		} else {
			l.workers.Add(1)
			go l.watchVisibility(loopCtx, ch)
		}
	}

	l.logger.Printf("capture %s: started (presence=%t)", examID, l.presence)
}

// Stop halts sampling and releases devices. It is safe to call at any time,
// including before Start. Submissions already in flight are not cancelled;
// see Drain.
func (l *Loop) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, examID := l.cancel, l.examID
	l.mu.Unlock()

	// Workers finish whatever they already observed before the loop is
	// marked stopped.
	cancel()
	l.workers.Wait()

	l.mu.Lock()
	l.running = false
	stream, screen := l.stream, l.screenHandle
	l.cancel, l.stream, l.screenHandle = nil, nil, nil
	l.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			l.logger.Printf("capture %s: release camera: %v", examID, err)
		}
	}
	if screen != nil {
		if err := screen.Close(); err != nil {
			l.logger.Printf("capture %s: release screen share: %v", examID, err)
		}
	}
	l.logger.Printf("capture %s: stopped", examID)
}

// Drain waits for in-flight submissions or ctx, whichever ends first.
func (l *Loop) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// PresenceChecks reports whether the camera was granted.
func (l *Loop) PresenceChecks() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && l.presence
}

// History is the local, non-authoritative list of candidates emitted this
// session, for display only.
func (l *Loop) History() []Candidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Candidate(nil), l.history...)
}

func (l *Loop) sample(ctx context.Context, stream FrameStream) {
	defer l.workers.Done()

	t := time.NewTicker(l.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.checkPresence(ctx, stream)
		}
	}
}

func (l *Loop) checkPresence(ctx context.Context, stream FrameStream) {
	frame, err := stream.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Printf("capture: frame: %v", err)
		}
		return
	}

	conf, err := l.classifier.Classify(ctx, frame)
	switch {
	case errors.Is(err, ErrClassifierUnavailable):
		l.warnNoModel(err)
		return
	case err != nil:
		if ctx.Err() == nil {
			l.logger.Printf("capture: classify: %v", err)
		}
		return
	}

	if conf < l.cfg.FaceThreshold {
		l.emit(types.KindFaceAbsent, evidence(frame))
	}
}

// warnNoModel logs classifier unavailability once per session.
func (l *Loop) warnNoModel(err error) {
	l.mu.Lock()
	warned := l.warnedNoModel
	l.warnedNoModel = true
	l.mu.Unlock()
	if !warned {
		l.logger.Printf("capture: %v; treating frames as face present", err)
	}
}

func (l *Loop) watchVisibility(ctx context.Context, ch <-chan Visibility) {
	defer l.workers.Done()

	last := Foreground
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if last == Foreground && v == Background {
				l.emit(types.KindTabSwitch, "")
			}
			last = v
		}
	}
}

func (l *Loop) emit(kind, evidence string) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	c := Candidate{
		ExamID:         l.examID,
		Kind:           kind,
		Evidence:       evidence,
		DetectedAt:     l.now(),
		IdempotencyKey: uuid.NewString(),
	}
	l.history = append(l.history, c)
	l.inflight.Add(1)
	l.mu.Unlock()

	go l.submit(c)
}

// submit runs detached from the loop so Stop never drops a detected
// violation; it is bounded by SubmitTimeout instead.
func (l *Loop) submit(c Candidate) {
	defer l.inflight.Done()
	if l.submitter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.SubmitTimeout)
	defer cancel()

	if err := l.submitter.Submit(ctx, c); err != nil {
		l.logger.Printf("capture %s: submit %s failed: %v", c.ExamID, c.Kind, err)
	}
}

// evidence encodes a frame as a data URL.
func evidence(f Frame) string {
	if len(f.Data) == 0 {
		return ""
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}
