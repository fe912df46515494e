package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/genieops/internal/models"
)

// ExecOptions tunes a single command dispatch
type ExecOptions struct {
	// Timeout overrides the default; per-kind floors still apply
	Timeout time.Duration
	// SessionID pins consecutive commands of one workflow run to one worker
	SessionID string
}

// CommandExecutor dispatches worker commands. Implemented by the browser pool.
type CommandExecutor interface {
	Execute(ctx context.Context, kind models.CommandKind, params interface{}, opts ExecOptions) (*models.Result, error)
	// ReleaseSession forgets the worker assignment of a session
	ReleaseSession(sessionID string)
	Status() *models.PoolStatus
}
