package floor

import (
	"testing"
	"time"
)

func TestDefaultInterruptsOnFirstFrame(t *testing.T) {
	f := New(Config{})
	now := time.Now()
	f.OnAIStarted(1, now)
	d := f.OnFrame(0, now.Add(time.Millisecond))
	if !d.ShouldInterrupt || d.Reason != "barge_in" || d.TurnID != 1 {
		t.Fatalf("expected interrupt on barge-in, got %+v", d)
	}
	if f.Active() {
		t.Fatalf("floor should be released after barge-in")
	}
}

func TestIdleDoesNothing(t *testing.T) {
	f := New(Config{})
	d := f.OnFrame(5000, time.Now())
	if d.ShouldInterrupt {
		t.Fatalf("should not interrupt when AI is idle")
	}
}

func TestAIStoppedClearsFloor(t *testing.T) {
	f := New(Config{})
	now := time.Now()
	f.OnAIStarted(1, now)
	f.OnAIStopped()
	if d := f.OnFrame(100, now); d.ShouldInterrupt {
		t.Fatalf("should not interrupt after AI stopped")
	}
}

func TestThresholdRequiresConsecutiveFrames(t *testing.T) {
	f := New(Config{MinFrames: 3, MinRMS: 500})
	now := time.Now()
	f.OnAIStarted(2, now)

	seq := []float64{600, 600, 100, 600, 600}
	for i, rms := range seq {
		if d := f.OnFrame(rms, now); d.ShouldInterrupt {
			t.Fatalf("frame %d interrupted early", i)
		}
	}
	if d := f.OnFrame(700, now); !d.ShouldInterrupt {
		t.Fatalf("third consecutive loud frame should interrupt")
	}
}

func TestGuardWindowBlocks(t *testing.T) {
	f := New(Config{MinRMS: 100, Guard: 300 * time.Millisecond})
	now := time.Now()
	f.OnAIStarted(1, now)
	if d := f.OnFrame(1000, now.Add(100*time.Millisecond)); d.ShouldInterrupt {
		t.Fatalf("frame inside guard should not interrupt")
	}
	if d := f.OnFrame(1000, now.Add(400*time.Millisecond)); !d.ShouldInterrupt {
		t.Fatalf("frame after guard should interrupt")
	}
}

func TestRestartSameTurnKeepsGuard(t *testing.T) {
	f := New(Config{Guard: time.Second})
	now := time.Now()
	f.OnAIStarted(1, now)
	f.OnAIStarted(1, now.Add(900*time.Millisecond))
	if d := f.OnFrame(0, now.Add(1100*time.Millisecond)); !d.ShouldInterrupt {
		t.Fatalf("re-arming the same turn must not extend the guard")
	}
}
