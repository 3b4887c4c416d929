// Package models defines the domain records for the approval workflow engine.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowKind identifies which of the portal's approval processes a
// definition belongs to.
type WorkflowKind string

const (
	KindPublication  WorkflowKind = "publication"
	KindLegalDeposit WorkflowKind = "legal_deposit"
	KindReproduction WorkflowKind = "reproduction"
	KindRestoration  WorkflowKind = "restoration"
)

// IsValid returns true if the kind is a known workflow kind.
func (k WorkflowKind) IsValid() bool {
	switch k {
	case KindPublication, KindLegalDeposit, KindReproduction, KindRestoration:
		return true
	default:
		return false
	}
}

// RoleSystem is the sentinel required_role meaning a step has no human actor
// and is resolved by the engine itself.
const RoleSystem = "system"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstancePending    InstanceStatus = "pending"
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceRejected   InstanceStatus = "rejected"
	InstanceCancelled  InstanceStatus = "cancelled"
)

// IsValid returns true if the status is a valid instance status.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstancePending, InstanceInProgress, InstanceCompleted, InstanceRejected, InstanceCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once no further step mutation is permitted.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceCompleted, InstanceRejected, InstanceCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if the status can transition to the target.
func (s InstanceStatus) CanTransitionTo(target InstanceStatus) bool {
	switch s {
	case InstancePending:
		return target == InstanceInProgress || target == InstanceRejected || target == InstanceCancelled
	case InstanceInProgress:
		return target == InstanceCompleted || target == InstanceRejected || target == InstanceCancelled
	default:
		// terminal states are final
		return false
	}
}

// StepStatus represents the state of a single step execution.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepRejected   StepStatus = "rejected"
	StepSkipped    StepStatus = "skipped"
)

// IsValid returns true if the status is a valid step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepRejected, StepSkipped:
		return true
	default:
		return false
	}
}

// IsOpen returns true while the step can still receive an outcome.
func (s StepStatus) IsOpen() bool {
	return s == StepPending || s == StepInProgress
}

// Decision is an actor's verdict on a step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid returns true if the decision is a known decision.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// StepDefinition describes one ordered step of a workflow definition.
type StepDefinition struct {
	Name               string   `json:"name"`
	RequiredRole       string   `json:"required_role"`
	AutoComplete       bool     `json:"auto_complete"`
	ValidationCriteria []string `json:"validation_criteria,omitempty"`
}

// WorkflowDefinition is an immutable-once-active template describing the
// ordered steps for one workflow kind.
type WorkflowDefinition struct {
	ID     string           `json:"id" db:"id"`
	Name   string           `json:"name" db:"name"`
	Kind   WorkflowKind     `json:"kind" db:"kind"`
	Steps  []StepDefinition `json:"steps" db:"steps"`
	Active bool             `json:"active" db:"active"`
	// StartsPending creates instances in the pending state until the first
	// outcome is recorded, for processes where external action precedes work.
	StartsPending bool      `json:"starts_pending" db:"starts_pending"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks structural invariants of a definition before it is stored.
func (d *WorkflowDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: definition name is required", ErrValidation)
	}
	if !d.Kind.IsValid() {
		return fmt.Errorf("%w: unknown workflow kind %q", ErrValidation, d.Kind)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: definition must have at least one step", ErrValidation)
	}
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrValidation, i)
		}
		if step.RequiredRole == "" {
			return fmt.Errorf("%w: step %d has no required role", ErrValidation, i)
		}
		if step.AutoComplete && step.RequiredRole != RoleSystem {
			return fmt.Errorf("%w: step %d is auto-complete but requires role %q", ErrValidation, i, step.RequiredRole)
		}
	}
	return nil
}

// WorkflowInstance is one running (or finished) application of a definition
// to one subject.
type WorkflowInstance struct {
	ID               string          `json:"id" db:"id"`
	DefinitionID     string          `json:"definition_id" db:"definition_id"`
	SubjectID        string          `json:"subject_id" db:"subject_id"`
	Kind             WorkflowKind    `json:"kind" db:"kind"`
	CurrentStepIndex int             `json:"current_step_index" db:"current_step_index"`
	Status           InstanceStatus  `json:"status" db:"status"`
	StartedBy        string          `json:"started_by" db:"started_by"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	Metadata         json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	// Version supports update-if-version-matches writes.
	Version int `json:"version" db:"version"`
}

// StepExecution is the per-step record of assignment, status, and outcome
// within one instance. Name and RequiredRole are denormalized copies taken at
// instance creation so template edits never retroactively alter history.
type StepExecution struct {
	ID           string     `json:"id" db:"id"`
	InstanceID   string     `json:"instance_id" db:"instance_id"`
	StepIndex    int        `json:"step_index" db:"step_index"`
	Name         string     `json:"name" db:"name"`
	RequiredRole string     `json:"required_role" db:"required_role"`
	AutoComplete bool       `json:"auto_complete" db:"auto_complete"`
	Status       StepStatus `json:"status" db:"status"`
	AssignedTo   *string    `json:"assigned_to,omitempty" db:"assigned_to"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Comments     string     `json:"comments,omitempty" db:"comments"`
	Version      int        `json:"version" db:"version"`
}

// CommitteeRole is a member's function within the validation committee.
type CommitteeRole string

const (
	CommitteePresident CommitteeRole = "president"
	CommitteeSecretary CommitteeRole = "secretary"
	CommitteeOrdinary  CommitteeRole = "member"
)

// IsValid returns true if the role is a valid committee role.
func (r CommitteeRole) IsValid() bool {
	return r == CommitteePresident || r == CommitteeSecretary || r == CommitteeOrdinary
}

// CommitteeMember is an appointed reviewer. Members are deactivated, never
// hard-deleted, to preserve historical review attribution.
type CommitteeMember struct {
	ID             string        `json:"id" db:"id"`
	UserRef        string        `json:"user_ref" db:"user_ref"`
	Role           CommitteeRole `json:"role" db:"role"`
	Specialization *string       `json:"specialization,omitempty" db:"specialization"`
	Active         bool          `json:"active" db:"active"`
	AppointedAt    time.Time     `json:"appointed_at" db:"appointed_at"`
}

// ReviewStatus is a single reviewer's verdict within a review round.
type ReviewStatus string

const (
	ReviewPending       ReviewStatus = "pending"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
)

// IsValid returns true if the status is a valid review status.
func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected, ReviewNeedsRevision:
		return true
	default:
		return false
	}
}

// IsVote returns true for statuses a reviewer may record.
func (s ReviewStatus) IsVote() bool {
	return s == ReviewApproved || s == ReviewRejected || s == ReviewNeedsRevision
}

// CommitteeReview is one reviewer's slot in one review round for a subject.
// A round's rows are created as a batch at submission time, one per active
// eligible member, and superseded only by resubmission.
type CommitteeReview struct {
	ID         string       `json:"id" db:"id"`
	SubjectID  string       `json:"subject_id" db:"subject_id"`
	Round      int          `json:"round" db:"round"`
	MemberID   string       `json:"member_id" db:"member_id"`
	Status     ReviewStatus `json:"status" db:"status"`
	Comments   string       `json:"comments,omitempty" db:"comments"`
	Rationale  string       `json:"rationale,omitempty" db:"rationale"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty" db:"reviewed_at"`
	Version    int          `json:"version" db:"version"`
}

// ConsensusOutcome is the instance-level result of a review round.
type ConsensusOutcome string

const (
	ConsensusPending  ConsensusOutcome = "pending"
	ConsensusApproved ConsensusOutcome = "approved"
	ConsensusRejected ConsensusOutcome = "rejected"
)

// IsResolved returns true once the round has reached a decision.
func (o ConsensusOutcome) IsResolved() bool {
	return o == ConsensusApproved || o == ConsensusRejected
}

// AuditEntry is one immutable row of the append-only audit log.
type AuditEntry struct {
	ID          string    `json:"id" db:"id"`
	SubjectType string    `json:"subject_type" db:"subject_type"`
	SubjectID   string    `json:"subject_id" db:"subject_id"`
	Action      string    `json:"action" db:"action"`
	Actor       string    `json:"actor" db:"actor"`
	Before      string    `json:"before" db:"before"`
	After       string    `json:"after" db:"after"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// Actor is the authenticated identity performing an operation, with the role
// tags resolved from its token claims or the role directory.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole returns true if the actor carries the given role tag.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SystemActor is the implicit identity used for auto-completed system steps.
var SystemActor = Actor{ID: RoleSystem, Roles: []string{RoleSystem}}
