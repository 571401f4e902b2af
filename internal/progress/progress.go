// Package progress tracks the page progress of ingestion runs, one tracker
// per project.
package progress

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrRunInProgress is returned by Begin while a run for the same project is
// still fetching.
var ErrRunInProgress = errors.New("run already in progress")

var (
	completedPagesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_run_completed_pages",
		Help: "Pages completed by the current or last run per project",
	}, []string{"project"})

	totalPagesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_run_total_pages",
		Help: "Pages reported for the current or last run per project",
	}, []string{"project"})

	fetchingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleet_run_fetching",
		Help: "1 while a run is fetching for the project",
	}, []string{"project"})
)

// Snapshot is a read-only copy of a tracker's state.
type Snapshot struct {
	CompletedPages int       `json:"completedPages"`
	TotalPages     int       `json:"totalPages"`
	IsFetching     bool      `json:"isFetching"`
	LastUpdated    time.Time `json:"lastUpdated,omitzero"`
	RunID          string    `json:"runId,omitempty"`
	StartedAt      time.Time `json:"startedAt,omitzero"`
	Error          string    `json:"error,omitempty"`
}

// Tracker holds the progress of one project's runs.
type Tracker struct {
	project string
	now     func() time.Time

	mu    sync.Mutex
	state Snapshot
}

func newTracker(project string, now func() time.Time) *Tracker {
	return &Tracker{project: project, now: now}
}

// Begin claims the tracker for a new run. The run starts with no pages known.
func (t *Tracker) Begin(runID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsFetching {
		return ErrRunInProgress
	}

	now := t.now()
	t.state = Snapshot{
		IsFetching:  true,
		RunID:       runID,
		StartedAt:   now,
		LastUpdated: now,
	}
	t.publish()
	return nil
}

// Start records the total page count once the first page has been fetched.
// The first page counts as completed.
func (t *Tracker) Start(totalPages int) {
	if totalPages < 1 {
		totalPages = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.TotalPages = totalPages
	t.state.CompletedPages = 1
	t.state.LastUpdated = t.now()
	t.publish()
}

// Advance counts one more completed page.
func (t *Tracker) Advance() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.CompletedPages++
	t.state.LastUpdated = t.now()
	t.publish()
}

// Finish marks the run complete and forces completed pages to the total.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.IsFetching = false
	t.state.CompletedPages = t.state.TotalPages
	t.state.Error = ""
	t.state.LastUpdated = t.now()
	t.publish()
}

// Fail marks the run stopped. Completed pages keep their last value.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.IsFetching = false
	if err != nil {
		t.state.Error = err.Error()
	}
	t.state.LastUpdated = t.now()
	t.publish()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// publish mirrors the state into gauges. Caller holds mu.
func (t *Tracker) publish() {
	completedPagesGauge.WithLabelValues(t.project).Set(float64(t.state.CompletedPages))
	totalPagesGauge.WithLabelValues(t.project).Set(float64(t.state.TotalPages))
	fetching := 0.0
	if t.state.IsFetching {
		fetching = 1
	}
	fetchingGauge.WithLabelValues(t.project).Set(fetching)
}

// Registry hands out one Tracker per project key.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		now:      time.Now,
	}
}

// Tracker returns the tracker for project, creating it on first use.
func (r *Registry) Tracker(project string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[project]
	if !ok {
		t = newTracker(project, r.now)
		r.trackers[project] = t
	}
	return t
}

// Snapshot returns the state for project. Unknown projects report an empty
// snapshot.
func (r *Registry) Snapshot(project string) Snapshot {
	r.mu.Lock()
	t, ok := r.trackers[project]
	r.mu.Unlock()

	if !ok {
		return Snapshot{}
	}
	return t.Snapshot()
}
