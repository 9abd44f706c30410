package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trace records one unit of agent activity: an action taken, its input
// and what came back. Traces are free-form and owned by a workspace.
type Trace struct {
	ID          string
	WorkspaceID string
	Action      string
	Input       string
	Output      string
	Success     bool
	Metadata    map[string]string
	CreatedAt   time.Time
}

// NewTrace creates a trace with a fresh id.
func NewTrace(workspaceID, action, input, output string, success bool) *Trace {
	return &Trace{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Action:      action,
		Input:       input,
		Output:      output,
		Success:     success,
		CreatedAt:   time.Now(),
	}
}

// FormatForEmbedding returns the canonical text representation used when
// the trace is embedded.
func (t *Trace) FormatForEmbedding() string {
	status := "ok"
	if !t.Success {
		status = "failed"
	}
	return fmt.Sprintf("Action: %s (%s)\nInput: %s\nResult: %s",
		t.Action, status, t.Input, t.Output)
}
