package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatch_RunsAndFinishes(t *testing.T) {
	d := New(2, nil, nil)

	var ran atomic.Bool
	st := d.Dispatch("alice", "k1", "correlation", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if st.State != StateRunning {
		t.Errorf("initial state = %v, want running", st.State)
	}
	if st.Coalesced {
		t.Error("fresh dispatch reported coalesced")
	}

	d.Wait()
	if !ran.Load() {
		t.Error("task never ran")
	}

	// Success clears the registry entry; the cached answer is the durable
	// record, and the map must not grow with every completed key.
	if _, ok := d.Lookup("alice", "k1"); ok {
		t.Error("completed task still in registry")
	}
}

func TestDispatch_ReturnedStatusIsSnapshot(t *testing.T) {
	d := New(4, nil, nil)

	// Instantly-completing tasks finish while Dispatch is still returning;
	// the returned status must be a private copy of the registry entry, not
	// a view that finish mutates concurrently. Run under -race.
	for i := 0; i < 200; i++ {
		st := d.Dispatch("alice", fmt.Sprintf("k%d", i), "reprocess", func(context.Context) error { return nil })
		if st.State != StateRunning {
			t.Fatalf("dispatch %d state = %v, want running", i, st.State)
		}
	}
	d.Wait()
}

func TestDispatch_FailureRecorded(t *testing.T) {
	d := New(2, nil, nil)

	d.Dispatch("alice", "k1", "correlation", func(context.Context) error {
		return fmt.Errorf("model unavailable")
	})
	d.Wait()

	st, ok := d.Lookup("alice", "k1")
	if !ok {
		t.Fatal("task missing")
	}
	if st.State != StateFailed {
		t.Errorf("state = %v, want failed", st.State)
	}
	if st.Error != "model unavailable" {
		t.Errorf("error = %q", st.Error)
	}
}

func TestDispatch_CoalescesRunningDuplicate(t *testing.T) {
	d := New(2, nil, nil)

	release := make(chan struct{})
	var runs atomic.Int32
	run := func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	first := d.Dispatch("alice", "k1", "correlation", run)
	second := d.Dispatch("alice", "k1", "correlation", run)
	if first.Coalesced {
		t.Error("first dispatch coalesced")
	}
	if !second.Coalesced {
		t.Error("duplicate dispatch did not coalesce")
	}
	if second.State != StateRunning {
		t.Errorf("duplicate state = %v, want running", second.State)
	}

	close(release)
	d.Wait()
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}

	// After the task finishes, the same key dispatches fresh work.
	release2 := make(chan struct{})
	close(release2)
	third := d.Dispatch("alice", "k1", "correlation", func(context.Context) error {
		<-release2
		return nil
	})
	if third.Coalesced {
		t.Error("re-dispatch after completion coalesced")
	}
	d.Wait()
}

func TestDispatch_CachedResultShortCircuits(t *testing.T) {
	cached := func(userID, key string) (bool, error) {
		return key == "hit", nil
	}
	d := New(2, cached, nil)

	var ran atomic.Bool
	st := d.Dispatch("alice", "hit", "correlation", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if st.State != StateDone || !st.Coalesced {
		t.Errorf("cached dispatch = %+v, want done+coalesced", st)
	}
	d.Wait()
	if ran.Load() {
		t.Error("cached dispatch still ran the task")
	}

	st = d.Dispatch("alice", "miss", "correlation", func(context.Context) error { return nil })
	if st.State != StateRunning {
		t.Errorf("uncached dispatch state = %v, want running", st.State)
	}
	d.Wait()
}

func TestDispatch_UsersDoNotCoalesce(t *testing.T) {
	d := New(4, nil, nil)

	release := make(chan struct{})
	var runs atomic.Int32
	run := func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	a := d.Dispatch("alice", "k1", "quiz", run)
	b := d.Dispatch("bob", "k1", "quiz", run)
	if a.Coalesced || b.Coalesced {
		t.Error("distinct users coalesced on a shared key")
	}

	close(release)
	d.Wait()
	if n := runs.Load(); n != 2 {
		t.Errorf("runs = %d, want 2", n)
	}
}

func TestDispatch_WorkerBound(t *testing.T) {
	d := New(2, nil, nil)

	var running, peak atomic.Int32
	release := make(chan struct{})
	run := func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}

	for i := 0; i < 6; i++ {
		d.Dispatch("alice", fmt.Sprintf("k%d", i), "quiz", run)
	}

	// Give the pool time to saturate before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	d.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestTasks(t *testing.T) {
	d := New(4, nil, nil)

	release := make(chan struct{})
	blocked := func(context.Context) error { <-release; return nil }
	d.Dispatch("alice", "k1", "quiz", blocked)
	d.Dispatch("alice", "k2", "correlation", blocked)
	d.Dispatch("bob", "k1", "quiz", blocked)

	if got := len(d.Tasks("alice")); got != 2 {
		t.Errorf("alice tasks = %d, want 2", got)
	}
	if got := len(d.Tasks("bob")); got != 1 {
		t.Errorf("bob tasks = %d, want 1", got)
	}

	close(release)
	d.Wait()

	if got := len(d.Tasks("alice")); got != 0 {
		t.Errorf("alice tasks after completion = %d, want 0", got)
	}
}
