package capture_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Argus/internal/argus/capture"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

const (
	tick    = 5 * time.Millisecond
	waitFor = 2 * time.Second
)

type rig struct {
	loop       *capture.Loop
	camera     *fakeCamera
	screen     *fakeScreen
	visibility *chanVisibility
	classifier *fixedClassifier
	submitter  *recordingSubmitter
	logs       *syncBuffer
}

func newRig(conf float64, classifyErr error) *rig {
	r := &rig{
		camera:     &fakeCamera{},
		screen:     &fakeScreen{},
		visibility: newChanVisibility(),
		classifier: &fixedClassifier{conf: conf, err: classifyErr},
		submitter:  &recordingSubmitter{},
		logs:       &syncBuffer{},
	}
	r.loop = r.build()
	return r
}

func (r *rig) build() *capture.Loop {
	return capture.NewLoop(capture.Dependencies{
		Camera:      r.camera,
		ScreenShare: r.screen,
		Visibility:  r.visibility,
		Classifier:  r.classifier,
		Submitter:   r.submitter,
		Logger:      log.New(r.logs, "", 0),
		Config:      capture.Config{Interval: tick, FaceThreshold: 0.5},
	})
}

func (r *rig) setVisibility(t *testing.T, v capture.Visibility) {
	t.Helper()
	select {
	case r.visibility.ch <- v:
	case <-time.After(waitFor):
		t.Fatal("loop is not reading visibility")
	}
}

func TestStop_SafeWithoutStart(t *testing.T) {
	l := capture.NewLoop(capture.Dependencies{Logger: log.New(io.Discard, "", 0)})
	l.Stop()
	l.Stop()
	assert.False(t, l.Running())
}

func TestStart_Idempotent(t *testing.T) {
	r := newRig(0.9, nil)
	r.loop.Start(context.Background(), "exam-1")
	r.loop.Start(context.Background(), "exam-1")
	defer r.loop.Stop()

	assert.True(t, r.loop.Running())
	assert.Equal(t, int32(1), r.camera.opens.Load())
}

func TestFaceAbsent_Emitted(t *testing.T) {
	r := newRig(0.1, nil)
	r.loop.Start(context.Background(), "exam-1")

	require.Eventually(t, func() bool { return r.submitter.countKind(types.KindFaceAbsent) > 0 }, waitFor, tick)
	r.loop.Stop()
	require.NoError(t, r.loop.Drain(context.Background()))

	c := r.submitter.Candidates()[0]
	assert.Equal(t, "exam-1", c.ExamID)
	assert.True(t, strings.HasPrefix(c.Evidence, "data:image/jpeg;base64,"), c.Evidence)
	assert.NotEmpty(t, c.IdempotencyKey)
	assert.False(t, c.DetectedAt.IsZero())
}

func TestFaceThreshold_ZeroSelectsDefault(t *testing.T) {
	classifier := &fixedClassifier{conf: capture.DefaultFaceThreshold - 0.1}
	submitter := &recordingSubmitter{}
	l := capture.NewLoop(capture.Dependencies{
		Camera:     &fakeCamera{},
		Classifier: classifier,
		Submitter:  submitter,
		Logger:     log.New(io.Discard, "", 0),
		Config:     capture.Config{Interval: tick, FaceThreshold: 0},
	})
	l.Start(context.Background(), "exam-1")

	require.Eventually(t, func() bool { return submitter.countKind(types.KindFaceAbsent) > 0 }, waitFor, tick)
	l.Stop()
	require.NoError(t, l.Drain(context.Background()))
}

func TestFacePresent_NoEvent(t *testing.T) {
	r := newRig(0.9, nil)
	r.loop.Start(context.Background(), "exam-1")

	require.Eventually(t, func() bool { return r.classifier.calls.Load() >= 3 }, waitFor, tick)
	r.loop.Stop()
	require.NoError(t, r.loop.Drain(context.Background()))

	assert.Empty(t, r.submitter.Candidates())
}

func TestClassifierUnavailable_NeutralAndLoggedOnce(t *testing.T) {
	r := newRig(0, capture.ErrClassifierUnavailable)
	r.loop.Start(context.Background(), "exam-1")

	require.Eventually(t, func() bool { return r.classifier.calls.Load() >= 3 }, waitFor, tick)
	r.loop.Stop()
	require.NoError(t, r.loop.Drain(context.Background()))

	assert.Empty(t, r.submitter.Candidates())
	assert.Equal(t, 1, strings.Count(r.logs.String(), "treating frames as face present"))
}

func TestTabSwitch_OnlyOnForegroundToBackground(t *testing.T) {
	r := newRig(0.9, nil)
	r.loop.Start(context.Background(), "exam-1")

	r.setVisibility(t, capture.Background)
	r.setVisibility(t, capture.Background) // still hidden: no new transition
	r.setVisibility(t, capture.Foreground)
	r.setVisibility(t, capture.Background)
	r.setVisibility(t, capture.Foreground) // the hidden state has reached the loop

	r.loop.Stop()
	require.NoError(t, r.loop.Drain(context.Background()))

	assert.Equal(t, 2, r.submitter.countKind(types.KindTabSwitch))
	assert.Len(t, r.loop.History(), 2)
}

func TestCameraDenied_StillWatchesVisibility(t *testing.T) {
	r := newRig(0.1, nil)
	r.camera.openErr = capture.ErrDeviceDenied
	r.screen.openErr = capture.ErrDeviceDenied
	r.loop = r.build()

	r.loop.Start(context.Background(), "exam-1")
	assert.True(t, r.loop.Running())
	assert.False(t, r.loop.PresenceChecks())

	r.setVisibility(t, capture.Background)
	r.setVisibility(t, capture.Foreground)
	r.loop.Stop()
	require.NoError(t, r.loop.Drain(context.Background()))

	assert.Equal(t, 1, r.submitter.countKind(types.KindTabSwitch))
	assert.Equal(t, 0, r.submitter.countKind(types.KindFaceAbsent))
	assert.Contains(t, r.logs.String(), "camera unavailable")
}

func TestStop_ReleasesDevices(t *testing.T) {
	r := newRig(0.9, nil)
	r.loop.Start(context.Background(), "exam-1")
	r.loop.Stop()

	assert.False(t, r.loop.Running())
	assert.True(t, r.camera.stream.closed.Load())
	assert.True(t, r.screen.closed.Load())

	// No sampling after Stop.
	calls := r.classifier.calls.Load()
	time.Sleep(10 * tick)
	assert.Equal(t, calls, r.classifier.calls.Load())
}

func TestSubmitFailure_DoesNotHaltLoop(t *testing.T) {
	r := newRig(0.9, nil)
	r.submitter.err = errors.New("network down")
	r.loop.Start(context.Background(), "exam-1")

	for i := 0; i < 3; i++ {
		r.setVisibility(t, capture.Background)
		r.setVisibility(t, capture.Foreground)
	}
	r.setVisibility(t, capture.Foreground) // the last hidden state has been handled
	require.NoError(t, r.loop.Drain(context.Background()))

	assert.True(t, r.loop.Running())
	assert.Equal(t, int32(3), r.submitter.calls.Load())
	assert.Contains(t, r.logs.String(), "network down")
	r.loop.Stop()
}

func TestRestart_ClearsLocalHistory(t *testing.T) {
	r := newRig(0.9, nil)
	r.loop.Start(context.Background(), "exam-1")
	r.setVisibility(t, capture.Background)
	r.setVisibility(t, capture.Foreground)
	r.loop.Stop()
	require.Len(t, r.loop.History(), 1)

	r.loop.Start(context.Background(), "exam-2")
	defer r.loop.Stop()
	assert.Empty(t, r.loop.History())
}
