package store

import "time"

// Filter narrows ListWorkflows. Empty fields match everything.
type Filter struct {
	Tag  string
	Name string // case-insensitive substring
}

// Schedule is a chat request re-run every Interval. A zero Interval runs
// once and is then removed by the scheduler.
type Schedule struct {
	ID       int64         `json:"id"`
	ChatID   string        `json:"chat_id"`
	Request  string        `json:"request"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
}

// Due reports whether the schedule should run at now.
func (s Schedule) Due(now time.Time) bool {
	return !now.Before(s.LastRun.Add(s.Interval))
}

// ReportSummary is one row of the reports table without the attempt log.
type ReportSummary struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	Success    bool      `json:"success"`
	FailedStep *int      `json:"failed_step,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}
