// Package repository defines the persistence contract consumed by the
// workflow engine, plus its Postgres and in-memory implementations.
package repository

import (
	"context"

	"heritage-portal/backend/pkg/models"
)

// Store is the persistence abstraction the engine depends on. Update methods
// are conditional writes: they succeed only if the stored record's version
// still matches the version carried by the argument, and return
// models.ErrConflict otherwise. AppendAudit is append-only; prior entries are
// never updated or deleted.
type Store interface {
	// ExecTx runs fn against a transactional view of the store. Every write
	// made inside fn applies atomically on success and not at all on error.
	ExecTx(ctx context.Context, fn func(Store) error) error

	// Definitions.
	CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error

	// Instances. CreateInstance stores the instance and its materialized
	// step executions as one atomic write.
	CreateInstance(ctx context.Context, inst *models.WorkflowInstance, steps []*models.StepExecution) error
	GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// FindLiveInstance returns the non-terminal instance for the given
	// definition and subject, or models.ErrNotFound when none exists.
	FindLiveInstance(ctx context.Context, definitionID, subjectID string) (*models.WorkflowInstance, error)
	ListInstances(ctx context.Context) ([]*models.WorkflowInstance, error)
	UpdateInstance(ctx context.Context, inst *models.WorkflowInstance) error

	// Step executions.
	GetStep(ctx context.Context, instanceID string, stepIndex int) (*models.StepExecution, error)
	ListSteps(ctx context.Context, instanceID string) ([]*models.StepExecution, error)
	UpdateStep(ctx context.Context, step *models.StepExecution) error

	// Committee members.
	CreateMember(ctx context.Context, m *models.CommitteeMember) error
	GetMember(ctx context.Context, id string) (*models.CommitteeMember, error)
	GetMemberByUserRef(ctx context.Context, userRef string) (*models.CommitteeMember, error)
	ListMembers(ctx context.Context, activeOnly bool) ([]*models.CommitteeMember, error)
	UpdateMember(ctx context.Context, m *models.CommitteeMember) error

	// Committee reviews. CreateReviews stores a whole round as one batch.
	CreateReviews(ctx context.Context, reviews []*models.CommitteeReview) error
	// CurrentRound returns the highest round number recorded for the
	// subject, or 0 when the subject has never been submitted for review.
	CurrentRound(ctx context.Context, subjectID string) (int, error)
	ListReviews(ctx context.Context, subjectID string, round int) ([]*models.CommitteeReview, error)
	UpdateReview(ctx context.Context, r *models.CommitteeReview) error

	// Audit log.
	AppendAudit(ctx context.Context, e *models.AuditEntry) error
	ListAudit(ctx context.Context, subjectID string) ([]*models.AuditEntry, error)

	Ping(ctx context.Context) error
}
