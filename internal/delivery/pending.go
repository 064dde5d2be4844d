package delivery

import (
	"strings"
	"sync"
	"time"

	"github.com/danmuck/flowscore/internal/segment"
)

// PendingFragment tracks the one fragment awaiting a successful send.
type PendingFragment struct {
	StartMeasure  int       `json:"start_measure"`
	EndMeasure    int       `json:"end_measure"`
	Bytes         int       `json:"bytes"`
	Attempts      int       `json:"attempts"`
	QueuedAt      time.Time `json:"queued_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// Status is a point-in-time view of delivery progress.
type Status struct {
	CycleID         string           `json:"cycle_id,omitempty"`
	Cycle           int              `json:"cycle"`
	TotalMeasures   int              `json:"total_measures"`
	Delivered       int              `json:"delivered"`
	Retries         int              `json:"retries"`
	LastEndMeasure  int              `json:"last_end_measure"`
	LastDeliveredAt time.Time        `json:"last_delivered_at,omitzero"`
	InFlight        *PendingFragment `json:"in_flight,omitempty"`
}

// Tracker is safe for one writer (the loop) and many readers.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// StartPass resets per-pass progress. Delivered and Retries keep counting.
func (t *Tracker) StartPass(cycleID string, cycle, totalMeasures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CycleID = cycleID
	t.status.Cycle = cycle
	t.status.TotalMeasures = totalMeasures
	t.status.LastEndMeasure = 0
	t.status.InFlight = nil
}

func (t *Tracker) Begin(f segment.Fragment, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.InFlight = &PendingFragment{
		StartMeasure: f.StartMeasure,
		EndMeasure:   f.EndMeasure,
		Bytes:        len(f.Content),
		QueuedAt:     at,
	}
}

func (t *Tracker) MarkAttempt(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.InFlight == nil {
		return
	}
	t.status.InFlight.Attempts++
	t.status.InFlight.LastAttemptAt = at
}

func (t *Tracker) MarkFailure(lastErr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Retries++
	if t.status.InFlight != nil {
		t.status.InFlight.LastError = strings.TrimSpace(lastErr)
	}
}

func (t *Tracker) Complete(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.InFlight != nil {
		t.status.LastEndMeasure = t.status.InFlight.EndMeasure
	}
	t.status.Delivered++
	t.status.LastDeliveredAt = at
	t.status.InFlight = nil
}

func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.status
	if t.status.InFlight != nil {
		cp := *t.status.InFlight
		out.InFlight = &cp
	}
	return out
}
