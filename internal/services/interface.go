// Package services holds the approval workflow engine: instance management,
// the step transition state machine, committee consensus, and delay scanning.
package services

import (
	"context"

	"heritage-portal/backend/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RoleDirectory resolves role eligibility. The engine treats identity as an
// opaque lookup and never inspects a particular identity schema itself.
type RoleDirectory interface {
	// IsEligible reports whether the actor may act for the given role tag.
	IsEligible(ctx context.Context, actor models.Actor, role string) (bool, error)
}

// Event is emitted whenever an instance reaches a terminal state or a
// consensus round resolves. Delivery is a collaborator concern; the engine
// only makes the outcome observable.
type Event struct {
	InstanceID string `json:"instance_id,omitempty"`
	SubjectID  string `json:"subject_id"`
	Outcome    string `json:"outcome"`
}

// Notifier receives engine events. Implementations must tolerate repeated
// delivery; the engine logs and drops notifier errors rather than failing the
// already-committed operation.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}
