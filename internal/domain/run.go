package domain

import "time"

// RunStatus is the lifecycle state of one pipeline execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one pipeline execution. At most one running run should
// exist in steady state; a running row found at process start is an
// orphan from a crashed process and is transitioned to failed.
type Run struct {
	ID          string // UUID
	Status      RunStatus
	Step        string // last step reached, for operator diagnostics
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
