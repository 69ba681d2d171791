package crashledger

import (
	"testing"
	"time"
)

func TestShouldRestartBelowThreshold(t *testing.T) {
	l := New("test", 3, 60*time.Second)
	base := time.Unix(1000, 0)
	l.now = func() time.Time { return base }

	l.Record()
	if !l.ShouldRestart() {
		t.Fatalf("expected should_restart=true after 1 crash with threshold 3")
	}
	l.Record()
	if !l.ShouldRestart() {
		t.Fatalf("expected should_restart=true after 2 crashes with threshold 3")
	}
	l.Record()
	if l.ShouldRestart() {
		t.Fatalf("expected should_restart=false after 3rd crash reaches threshold 3")
	}
}

func TestPruneOldCrashes(t *testing.T) {
	l := New("test", 2, 10*time.Second)
	cur := time.Unix(1000, 0)
	l.now = func() time.Time { return cur }

	l.Record()
	cur = cur.Add(20 * time.Second)
	l.Record()

	if got := l.Count(); got != 1 {
		t.Fatalf("expected pruned count 1, got %d", got)
	}
	if !l.ShouldRestart() {
		t.Fatalf("expected should_restart=true once the first crash aged out")
	}
}

func TestReset(t *testing.T) {
	l := New("test", 1, time.Minute)
	l.Record()
	if l.ShouldRestart() {
		t.Fatalf("expected should_restart=false at threshold 1 after one crash")
	}
	l.Reset()
	if !l.ShouldRestart() {
		t.Fatalf("expected should_restart=true after reset")
	}
}

// Scenario S4 from the distilled specification: threshold=2, window=60s.
// Encoder start -> crash -> restart -> crash. On the 2nd crash within the
// window, should_restart() must be false.
func TestScenarioS4CrashThreshold(t *testing.T) {
	l := New("s4", 2, 60*time.Second)
	base := time.Unix(2000, 0)
	l.now = func() time.Time { return base }

	l.Record() // 1st crash
	if !l.ShouldRestart() {
		t.Fatalf("expected restart allowed after 1st crash")
	}

	base = base.Add(5 * time.Second)
	l.Record() // 2nd crash within window
	if l.ShouldRestart() {
		t.Fatalf("expected restart denied after 2nd crash within window")
	}
}
