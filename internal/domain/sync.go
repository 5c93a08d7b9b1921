package domain

import "time"

// SyncState is the lifecycle state of a knowledge base's sync slot.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateRunning   SyncState = "running"
	SyncStateCommitted SyncState = "committed"
	SyncStateCancelled SyncState = "cancelled"
	SyncStateFailed    SyncState = "failed"
)

// IsTerminal reports whether s ends a run.
func (s SyncState) IsTerminal() bool {
	return s == SyncStateCommitted || s == SyncStateCancelled || s == SyncStateFailed
}

// SyncTrigger records who started a run.
type SyncTrigger string

const (
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerScheduled SyncTrigger = "scheduled"
	SyncTriggerCLI       SyncTrigger = "cli"
)

// SyncCounters summarizes what a run did to the document set.
type SyncCounters struct {
	Pages    int `json:"pages"`
	Records  int `json:"records"`
	Created  int `json:"created"`
	Replaced int `json:"replaced"`
	Removed  int `json:"removed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Add accumulates other into c.
func (c *SyncCounters) Add(other SyncCounters) {
	c.Pages += other.Pages
	c.Records += other.Records
	c.Created += other.Created
	c.Replaced += other.Replaced
	c.Removed += other.Removed
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}

// SyncResult is the terminal outcome of one run.
type SyncResult struct {
	KBID       string       `json:"kb_id"`
	Kind       SyncKind     `json:"kind"`
	Trigger    SyncTrigger  `json:"trigger"`
	State      SyncState    `json:"state"`
	Partial    bool         `json:"partial"`
	Reason     string       `json:"reason,omitempty"`
	Counters   SyncCounters `json:"counters"`
	CursorSet  bool         `json:"cursor_committed"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// SyncStatus answers "what is this knowledge base's sync doing".
type SyncStatus struct {
	KBID      string      `json:"kb_id"`
	State     SyncState   `json:"state"`
	Kind      SyncKind    `json:"kind,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	Last      *SyncResult `json:"last,omitempty"`
}
