package automation

import "time"

// RunStatus is the outcome of one automation firing.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// historyRingSize bounds the recent-run-id ring carried on Automation, the
// same small fixed-size window the run-history UI shows per job.
const historyRingSize = 20

// Automation is one durable recurring job: a fixed prompt fired on an RRULE
// schedule against one or more working directories.
type Automation struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Prompt  string   `json:"prompt"`
	RRule   string   `json:"rrule"`
	CWDs    []string `json:"cwds"`
	Enabled bool     `json:"enabled"`

	NextRun      time.Time `json:"next_run,omitempty"`
	LastRun      time.Time `json:"last_run,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	RecentRunIDs []string  `json:"recent_run_ids,omitempty"`

	rule *RRule
}

// pushRecentRun appends a run id to the bounded ring, dropping the oldest
// entry once the ring is full.
func (a *Automation) pushRecentRun(id string) {
	a.RecentRunIDs = append(a.RecentRunIDs, id)
	if len(a.RecentRunIDs) > historyRingSize {
		a.RecentRunIDs = a.RecentRunIDs[len(a.RecentRunIDs)-historyRingSize:]
	}
}

// Run is one fired slot of an automation, keyed by the slot time so a
// restart can tell whether that slot already ran.
type Run struct {
	ID          string    `json:"id"`
	AutomationID string   `json:"automation_id"`
	Slot        time.Time `json:"slot"`
	CWD         string    `json:"cwd"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}
