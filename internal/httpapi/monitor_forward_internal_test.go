package httpapi

import (
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/relay"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

func TestForward_WritesAlertsInOrder(t *testing.T) {
	rl := relay.New(8)
	sub := rl.Subscribe("exam-1")

	rl.Publish("exam-1", types.Alert{Type: types.AlertViolation, Kind: types.KindTabSwitch, Seq: 1})
	rl.Publish("exam-1", types.Alert{Type: types.AlertStatus, Status: types.StatusFlagged})

	var got []monitorEvent
	stop := errors.New("enough")
	err := forward(sub, func(ev monitorEvent) error {
		got = append(got, ev)
		if len(got) == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected write error to surface, got %v", err)
	}
	if got[0].Event != "alert" || got[0].ExamID != "exam-1" || got[0].Seq != 1 {
		t.Errorf("unexpected first frame %+v", got[0])
	}
	if got[1].Event != "status" || got[1].Status != types.StatusFlagged {
		t.Errorf("unexpected second frame %+v", got[1])
	}
}

func TestForward_DiscardsBufferedAlertsAfterLeave(t *testing.T) {
	rl := relay.New(8)
	sub := rl.Subscribe("exam-1")

	for i := 1; i <= 3; i++ {
		rl.Publish("exam-1", types.Alert{Type: types.AlertViolation, Kind: types.KindTabSwitch, Seq: i})
	}
	rl.Unsubscribe(sub)

	done := make(chan error, 1)
	writes := 0
	go func() {
		done <- forward(sub, func(monitorEvent) error {
			writes++
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forward did not return after unsubscribe")
	}
	if writes != 0 {
		t.Fatalf("expected no frames after unsubscribe, got %d", writes)
	}
}
