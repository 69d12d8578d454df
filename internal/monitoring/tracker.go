// internal/monitoring/tracker.go
package monitoring

import (
	"sync"
	"time"

	"github.com/valpere/craigslist-data/pkg/types"
)

// Crawl phases reported by RunTracker.
const (
	PhaseSearch   = "search"
	PhaseListings = "listings"
	PhaseOutput   = "output"
	PhaseDone     = "done"
)

// RunTracker tracks the progress of the current crawl. It is safe for use
// from the crawl loop and HTTP handlers at the same time.
type RunTracker struct {
	mu  sync.RWMutex
	run RunSnapshot
}

// RunSnapshot is a point-in-time copy of the tracked crawl.
type RunSnapshot struct {
	Command    string              `json:"command"`
	Status     types.ScraperStatus `json:"status"`
	Phase      string              `json:"phase"`
	Total      int                 `json:"total"`
	Processed  int                 `json:"processed"`
	Failed     int                 `json:"failed"`
	CurrentURL string              `json:"current_url,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
	StartTime  time.Time           `json:"start_time"`
	EndTime    *time.Time          `json:"end_time,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// FailureRate returns failed listings as a fraction of processed ones.
func (s RunSnapshot) FailureRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Processed)
}

// Progress returns the completion percentage of the listing phase.
func (s RunSnapshot) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * 100
}

// NewRunTracker creates an idle tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{run: RunSnapshot{Status: types.StatusIdle}}
}

// Start resets the tracker for a new run of command.
func (rt *RunTracker) Start(command string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.run = RunSnapshot{
		Command:   command,
		Status:    types.StatusRunning,
		Phase:     PhaseSearch,
		StartTime: time.Now(),
	}
}

// SetPhase records the current phase.
func (rt *RunTracker) SetPhase(phase string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.run.Phase = phase
}

// Listing records one processed listing. Its signature matches
// scraper.ProgressFunc once the search result is dropped.
func (rt *RunTracker) Listing(done, total int, url string, err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.run.Phase = PhaseListings
	rt.run.Processed = done
	rt.run.Total = total
	rt.run.CurrentURL = url
	if err != nil {
		rt.run.Failed++
		rt.run.LastError = err.Error()
	}
	rt.run.Duration = time.Since(rt.run.StartTime)
}

// Finish records the final status of the run.
func (rt *RunTracker) Finish(status types.ScraperStatus, err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	rt.run.Status = status
	rt.run.Phase = PhaseDone
	rt.run.EndTime = &now
	rt.run.Duration = now.Sub(rt.run.StartTime)
	rt.run.CurrentURL = ""
	if err != nil {
		rt.run.LastError = err.Error()
	}
}

// Snapshot returns a copy of the tracked run.
func (rt *RunTracker) Snapshot() RunSnapshot {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	snap := rt.run
	if snap.EndTime == nil && !snap.StartTime.IsZero() {
		snap.Duration = time.Since(snap.StartTime)
	}
	return snap
}
