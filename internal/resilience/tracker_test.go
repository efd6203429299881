package resilience

import (
	"sync"
	"testing"
)

func TestNewTracker_Defaults(t *testing.T) {
	tr := NewTracker(0)
	if tr.Threshold() != EvictionThreshold {
		t.Errorf("Threshold = %d, want %d", tr.Threshold(), EvictionThreshold)
	}
	if got := tr.Failures("any"); got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
}

func TestTracker_EvictsAtThreshold(t *testing.T) {
	tr := NewTracker(3)

	for i := 1; i <= 2; i++ {
		count, evict := tr.RecordFailure("bing")
		if count != i || evict {
			t.Fatalf("failure %d: count=%d evict=%v, want count=%d evict=false", i, count, evict, i)
		}
	}
	count, evict := tr.RecordFailure("bing")
	if count != 3 || !evict {
		t.Fatalf("third failure: count=%d evict=%v, want 3 true", count, evict)
	}
}

func TestTracker_SuccessResetsCount(t *testing.T) {
	tr := NewTracker(3)

	tr.RecordFailure("youdao")
	tr.RecordFailure("youdao")
	tr.RecordSuccess("youdao")

	if got := tr.Failures("youdao"); got != 0 {
		t.Fatalf("Failures = %d, want 0 after success", got)
	}

	// Need 3 more consecutive failures to evict now.
	tr.RecordFailure("youdao")
	if _, evict := tr.RecordFailure("youdao"); evict {
		t.Fatal("evicted after only 2 consecutive failures")
	}
}

func TestTracker_CountsAreIndependent(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordFailure("a")
	tr.RecordFailure("a")
	tr.RecordFailure("b")

	snap := tr.Snapshot()
	if snap["a"] != 2 || snap["b"] != 1 {
		t.Errorf("Snapshot = %v, want a=2 b=1", snap)
	}

	// Snapshot is a copy.
	snap["a"] = 99
	if got := tr.Failures("a"); got != 2 {
		t.Errorf("Failures(a) = %d after mutating snapshot, want 2", got)
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordFailure("a")
	tr.Reset()
	if len(tr.Snapshot()) != 0 {
		t.Errorf("Snapshot after Reset = %v, want empty", tr.Snapshot())
	}
}

func TestTracker_Readmit(t *testing.T) {
	tr := NewTracker(3)
	tr.RecordFailure("worn")
	tr.RecordFailure("worn")
	for range 3 {
		tr.RecordFailure("evicted")
	}

	if tr.Readmit("worn") {
		t.Error("Readmit(worn) = true below the threshold")
	}
	if got := tr.Failures("worn"); got != 2 {
		t.Errorf("Failures(worn) = %d, want 2", got)
	}
	if !tr.Readmit("evicted") {
		t.Error("Readmit(evicted) = false at the threshold")
	}
	if got := tr.Failures("evicted"); got != 0 {
		t.Errorf("Failures(evicted) = %d, want 0", got)
	}
	if tr.Readmit("unknown") {
		t.Error("Readmit(unknown) = true")
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker(1000)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordFailure("x")
		}()
	}
	wg.Wait()
	if got := tr.Failures("x"); got != 100 {
		t.Errorf("Failures = %d, want 100", got)
	}
}
