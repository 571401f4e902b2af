package progress

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.now = fixedClock()
	return r
}

func TestTracker_Lifecycle(t *testing.T) {
	tr := newTestRegistry().Tracker("2228")

	if err := tr.Begin("run-1"); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	tr.Start(12)

	s := tr.Snapshot()
	if s.CompletedPages != 1 || s.TotalPages != 12 || !s.IsFetching {
		t.Errorf("after Start: %+v", s)
	}
	if s.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", s.RunID)
	}

	before := s.LastUpdated
	tr.Advance()
	tr.Advance()
	s = tr.Snapshot()
	if s.CompletedPages != 3 {
		t.Errorf("CompletedPages = %d, want 3", s.CompletedPages)
	}
	if !s.LastUpdated.After(before) {
		t.Error("LastUpdated should move forward on Advance")
	}

	tr.Finish()
	s = tr.Snapshot()
	if s.IsFetching {
		t.Error("IsFetching should be false after Finish")
	}
	if s.CompletedPages != 12 {
		t.Errorf("CompletedPages = %d, want 12 after Finish", s.CompletedPages)
	}
}

func TestTracker_StartDefaultsToOnePage(t *testing.T) {
	tr := newTestRegistry().Tracker("p")
	_ = tr.Begin("r")
	tr.Start(0)

	if s := tr.Snapshot(); s.TotalPages != 1 || s.CompletedPages != 1 {
		t.Errorf("Snapshot = %+v, want 1/1", s)
	}
}

func TestTracker_FailKeepsCompletedPages(t *testing.T) {
	tr := newTestRegistry().Tracker("p")
	_ = tr.Begin("r")
	tr.Start(10)
	tr.Advance()
	tr.Fail(errors.New("page 7 exhausted"))

	s := tr.Snapshot()
	if s.IsFetching {
		t.Error("IsFetching should be false after Fail")
	}
	if s.CompletedPages != 2 {
		t.Errorf("CompletedPages = %d, want 2", s.CompletedPages)
	}
	if s.Error != "page 7 exhausted" {
		t.Errorf("Error = %q", s.Error)
	}
}

func TestTracker_RejectsConcurrentRun(t *testing.T) {
	tr := newTestRegistry().Tracker("p")

	if err := tr.Begin("first"); err != nil {
		t.Fatalf("Begin(first) error = %v", err)
	}
	if err := tr.Begin("second"); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Begin(second) error = %v, want ErrRunInProgress", err)
	}

	tr.Fail(errors.New("boom"))
	if err := tr.Begin("third"); err != nil {
		t.Errorf("Begin(third) after Fail error = %v", err)
	}
	if s := tr.Snapshot(); s.Error != "" || s.RunID != "third" {
		t.Errorf("new run should reset state, got %+v", s)
	}
}

func TestRegistry_IsolatesProjects(t *testing.T) {
	r := newTestRegistry()

	if err := r.Tracker("2228").Begin("a"); err != nil {
		t.Fatalf("Begin error = %v", err)
	}
	if err := r.Tracker("3570").Begin("b"); err != nil {
		t.Errorf("other project should not be blocked: %v", err)
	}
	if r.Tracker("2228") != r.Tracker("2228") {
		t.Error("Tracker should return the same instance per project")
	}
}

func TestRegistry_SnapshotUnknownProject(t *testing.T) {
	r := newTestRegistry()

	if s := r.Snapshot("missing"); s != (Snapshot{}) {
		t.Errorf("Snapshot(missing) = %+v, want zero", s)
	}
}

func TestTracker_ConcurrentAdvance(t *testing.T) {
	tr := newTestRegistry().Tracker("p")
	_ = tr.Begin("r")
	tr.Start(101)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Advance()
		}()
	}
	wg.Wait()

	if s := tr.Snapshot(); s.CompletedPages != 101 {
		t.Errorf("CompletedPages = %d, want 101", s.CompletedPages)
	}
}
