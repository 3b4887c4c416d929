package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"
)

// Audit subject types and actions.
const (
	auditSubjectInstance = "workflow_instance"

	actionInstanceStarted   = "instance.started"
	actionInstanceCancelled = "instance.cancelled"
	actionStepApproved      = "step.approved"
	actionStepRejected      = "step.rejected"
)

// WorkflowService is the instance manager and transition engine. Every
// operation is a single unit of work: all writes, including the audit entry,
// commit atomically or not at all.
type WorkflowService struct {
	store      repository.Store
	directory  RoleDirectory
	notifier   Notifier
	logger     Logger
	adminRoles []string
	now        func() time.Time

	started     metric.Int64Counter
	transitions metric.Int64Counter
}

// NewWorkflowService creates a new WorkflowService. adminRoles lists the role
// tags granted the administrative override used for cancellation and for
// acting out of role.
func NewWorkflowService(store repository.Store, directory RoleDirectory, notifier Notifier, logger Logger, adminRoles []string) *WorkflowService {
	meter := otel.Meter("heritage-portal/backend/internal/services")
	started, _ := meter.Int64Counter("workflow.instances.started")
	transitions, _ := meter.Int64Counter("workflow.step.transitions")

	return &WorkflowService{
		store:       store,
		directory:   directory,
		notifier:    notifier,
		logger:      logger,
		adminRoles:  adminRoles,
		now:         time.Now,
		started:     started,
		transitions: transitions,
	}
}

// CreateDefinition validates and stores a new workflow definition.
func (s *WorkflowService) CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.CreatedAt = s.now()
	def.UpdatedAt = def.CreatedAt
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// UpdateDefinition edits a definition. Active definitions are immutable.
func (s *WorkflowService) UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	stored, err := s.store.GetDefinition(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if stored.Active {
		return nil, fmt.Errorf("%w: definition %s is active and immutable", models.ErrState, def.ID)
	}
	def.CreatedAt = stored.CreatedAt
	def.UpdatedAt = s.now()
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// StartInstance creates a workflow instance for the subject from the given
// definition and materializes one step execution per definition step. A
// second live instance for the same definition and subject is refused.
func (s *WorkflowService) StartInstance(ctx context.Context, definitionID, subjectID string, actor models.Actor, metadata json.RawMessage) (*models.WorkflowInstance, error) {
	if definitionID == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: definition id and subject id are required", models.ErrValidation)
	}

	var inst *models.WorkflowInstance
	var events []Event

	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		def, err := tx.GetDefinition(ctx, definitionID)
		if err != nil {
			return err
		}
		if !def.Active {
			return fmt.Errorf("%w: definition %s", models.ErrDefinitionInactive, definitionID)
		}
		if len(def.Steps) == 0 {
			return fmt.Errorf("%w: definition %s has no steps", models.ErrValidation, definitionID)
		}
		if err := models.ValidateMetadata(def.Kind, metadata); err != nil {
			return err
		}

		if _, err := tx.FindLiveInstance(ctx, definitionID, subjectID); err == nil {
			return fmt.Errorf("%w: subject %s", models.ErrAlreadyRunning, subjectID)
		} else if !isNotFound(err) {
			return err
		}

		now := s.now()
		status := models.InstanceInProgress
		if def.StartsPending {
			status = models.InstancePending
		}

		inst = &models.WorkflowInstance{
			ID:           uuid.New().String(),
			DefinitionID: def.ID,
			SubjectID:    subjectID,
			Kind:         def.Kind,
			Status:       status,
			StartedBy:    actor.ID,
			StartedAt:    now,
			Metadata:     metadata,
			Version:      1,
		}

		steps := make([]*models.StepExecution, len(def.Steps))
		for i, sd := range def.Steps {
			steps[i] = &models.StepExecution{
				ID:           uuid.New().String(),
				InstanceID:   inst.ID,
				StepIndex:    i,
				Name:         sd.Name,
				RequiredRole: sd.RequiredRole,
				AutoComplete: sd.AutoComplete,
				Status:       models.StepPending,
				Version:      1,
			}
		}
		if status == models.InstanceInProgress {
			steps[0].Status = models.StepInProgress
			steps[0].StartedAt = &now
		}

		if err := tx.CreateInstance(ctx, inst, steps); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, s.newAudit(inst.ID, actionInstanceStarted, actor.ID, "", string(status))); err != nil {
			return err
		}

		// A system first step with auto-complete resolves immediately.
		if status == models.InstanceInProgress && steps[0].RequiredRole == models.RoleSystem && steps[0].AutoComplete {
			_, chained, err := s.applyOutcome(ctx, tx, inst.ID, 0, models.SystemActor, models.DecisionApprove, "", true)
			if err != nil {
				return err
			}
			events = append(events, chained...)
			inst, err = tx.GetInstance(ctx, inst.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.started.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(inst.Kind))))
	s.emit(ctx, events)
	return inst, nil
}

// RecordStepOutcome validates and applies an actor's decision to the step at
// stepIndex. Approval advances the instance (chaining through auto-complete
// system steps); rejection terminates it and skips every later step.
func (s *WorkflowService) RecordStepOutcome(ctx context.Context, instanceID string, stepIndex int, actor models.Actor, decision models.Decision, comments string) (*models.StepExecution, error) {
	if !decision.IsValid() {
		return nil, fmt.Errorf("%w: unknown decision %q", models.ErrValidation, decision)
	}

	var step *models.StepExecution
	var events []Event
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		var err error
		step, events, err = s.applyOutcome(ctx, tx, instanceID, stepIndex, actor, decision, comments, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(decision))))
	s.emit(ctx, events)
	return step, nil
}

// applyOutcome is the transition state machine, run inside a transaction.
// implicit marks engine-driven auto-completion, which bypasses the role check.
// It returns the acted-on step and the terminal events to emit after commit.
func (s *WorkflowService) applyOutcome(ctx context.Context, tx repository.Store, instanceID string, stepIndex int, actor models.Actor, decision models.Decision, comments string, implicit bool) (*models.StepExecution, []Event, error) {
	inst, err := tx.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if inst.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: instance %s is %s", models.ErrState, instanceID, inst.Status)
	}

	step, err := tx.GetStep(ctx, instanceID, stepIndex)
	if err != nil {
		return nil, nil, err
	}
	if stepIndex != inst.CurrentStepIndex {
		return nil, nil, fmt.Errorf("%w: step %d is not the current step (%d)", models.ErrState, stepIndex, inst.CurrentStepIndex)
	}
	if !step.Status.IsOpen() {
		return nil, nil, fmt.Errorf("%w: step %d is already %s", models.ErrState, stepIndex, step.Status)
	}

	if !implicit {
		if err := s.checkPermission(ctx, actor, step.RequiredRole); err != nil {
			return nil, nil, err
		}
	}

	before := step.Status
	now := s.now()
	var events []Event

	switch decision {
	case models.DecisionReject:
		if strings.TrimSpace(comments) == "" {
			return nil, nil, fmt.Errorf("%w: rejection requires a comment", models.ErrValidation)
		}

		step.Status = models.StepRejected
		step.CompletedAt = &now
		step.Comments = comments
		if err := tx.UpdateStep(ctx, step); err != nil {
			return nil, nil, err
		}

		if err := s.skipOpenSteps(ctx, tx, instanceID, stepIndex, now); err != nil {
			return nil, nil, err
		}

		inst.Status = models.InstanceRejected
		inst.CompletedAt = &now
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return nil, nil, err
		}

		if err := tx.AppendAudit(ctx, s.stepAudit(inst, stepIndex, actionStepRejected, actor.ID, before, step.Status)); err != nil {
			return nil, nil, err
		}
		events = append(events, Event{InstanceID: inst.ID, SubjectID: inst.SubjectID, Outcome: string(models.InstanceRejected)})

	case models.DecisionApprove:
		step.Status = models.StepCompleted
		step.CompletedAt = &now
		step.Comments = comments
		if err := tx.UpdateStep(ctx, step); err != nil {
			return nil, nil, err
		}

		last := stepIndex == s.lastStepIndex(ctx, tx, instanceID)
		if last {
			inst.Status = models.InstanceCompleted
			inst.CompletedAt = &now
			if err := tx.UpdateInstance(ctx, inst); err != nil {
				return nil, nil, err
			}
			if err := tx.AppendAudit(ctx, s.stepAudit(inst, stepIndex, actionStepApproved, actor.ID, before, step.Status)); err != nil {
				return nil, nil, err
			}
			events = append(events, Event{InstanceID: inst.ID, SubjectID: inst.SubjectID, Outcome: string(models.InstanceCompleted)})
		} else {
			next, err := tx.GetStep(ctx, instanceID, stepIndex+1)
			if err != nil {
				return nil, nil, err
			}
			next.Status = models.StepInProgress
			next.StartedAt = &now
			if err := tx.UpdateStep(ctx, next); err != nil {
				return nil, nil, err
			}

			inst.CurrentStepIndex = stepIndex + 1
			if inst.Status == models.InstancePending {
				inst.Status = models.InstanceInProgress
			}
			if err := tx.UpdateInstance(ctx, inst); err != nil {
				return nil, nil, err
			}
			if err := tx.AppendAudit(ctx, s.stepAudit(inst, stepIndex, actionStepApproved, actor.ID, before, step.Status)); err != nil {
				return nil, nil, err
			}

			if next.RequiredRole == models.RoleSystem && next.AutoComplete {
				// Chained auto-completion; bounded because the index
				// strictly increases.
				_, chained, err := s.applyOutcome(ctx, tx, instanceID, stepIndex+1, models.SystemActor, models.DecisionApprove, "", true)
				if err != nil {
					return nil, nil, err
				}
				events = append(events, chained...)
			}
		}
	}

	return step, events, nil
}

// CancelInstance marks a non-terminal instance cancelled and skips its open
// steps. Requires the administrative override.
func (s *WorkflowService) CancelInstance(ctx context.Context, instanceID string, actor models.Actor) (*models.WorkflowInstance, error) {
	if !s.isAdmin(actor) {
		return nil, fmt.Errorf("%w: cancellation requires elevated permission", models.ErrPermission)
	}

	var inst *models.WorkflowInstance
	var events []Event
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		var err error
		inst, err = tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return fmt.Errorf("%w: instance %s is %s", models.ErrState, instanceID, inst.Status)
		}

		now := s.now()
		if err := s.skipOpenSteps(ctx, tx, instanceID, -1, now); err != nil {
			return err
		}

		before := inst.Status
		inst.Status = models.InstanceCancelled
		inst.CompletedAt = &now
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, s.newAudit(inst.ID, actionInstanceCancelled, actor.ID, string(before), string(inst.Status))); err != nil {
			return err
		}
		events = append(events, Event{InstanceID: inst.ID, SubjectID: inst.SubjectID, Outcome: string(models.InstanceCancelled)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, events)
	return inst, nil
}

// GetInstance returns an instance and its step executions.
func (s *WorkflowService) GetInstance(ctx context.Context, instanceID string) (*models.WorkflowInstance, []*models.StepExecution, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListSteps(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	return inst, steps, nil
}

// AuditTrail returns the audit entries for a workflow instance or review
// subject, oldest first.
func (s *WorkflowService) AuditTrail(ctx context.Context, subjectID string) ([]*models.AuditEntry, error) {
	return s.store.ListAudit(ctx, subjectID)
}

// skipOpenSteps marks every open step with index > after as skipped.
func (s *WorkflowService) skipOpenSteps(ctx context.Context, tx repository.Store, instanceID string, after int, now time.Time) error {
	steps, err := tx.ListSteps(ctx, instanceID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.StepIndex <= after || !step.Status.IsOpen() {
			continue
		}
		step.Status = models.StepSkipped
		step.CompletedAt = &now
		if err := tx.UpdateStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *WorkflowService) lastStepIndex(ctx context.Context, tx repository.Store, instanceID string) int {
	steps, err := tx.ListSteps(ctx, instanceID)
	if err != nil || len(steps) == 0 {
		return -1
	}
	return steps[len(steps)-1].StepIndex
}

// checkPermission enforces the step's role gate. Admin roles override; the
// system sentinel never matches a human actor.
func (s *WorkflowService) checkPermission(ctx context.Context, actor models.Actor, role string) error {
	if s.isAdmin(actor) {
		return nil
	}
	if role == models.RoleSystem {
		return fmt.Errorf("%w: system steps cannot be resolved by an actor", models.ErrPermission)
	}
	eligible, err := s.directory.IsEligible(ctx, actor, role)
	if err != nil {
		return fmt.Errorf("resolve role %q: %w", role, err)
	}
	if !eligible {
		return fmt.Errorf("%w: actor %s lacks role %q", models.ErrPermission, actor.ID, role)
	}
	return nil
}

func (s *WorkflowService) isAdmin(actor models.Actor) bool {
	for _, role := range s.adminRoles {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}

func (s *WorkflowService) emit(ctx context.Context, events []Event) {
	if s.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Error("event notification failed", "subject_id", ev.SubjectID, "outcome", ev.Outcome, "error", err)
		}
	}
}

func (s *WorkflowService) newAudit(instanceID, action, actor, before, after string) *models.AuditEntry {
	return &models.AuditEntry{
		ID:          uuid.New().String(),
		SubjectType: auditSubjectInstance,
		SubjectID:   instanceID,
		Action:      action,
		Actor:       actor,
		Before:      before,
		After:       after,
		Timestamp:   s.now(),
	}
}

func (s *WorkflowService) stepAudit(inst *models.WorkflowInstance, stepIndex int, action, actor string, before, after models.StepStatus) *models.AuditEntry {
	e := s.newAudit(inst.ID, action, actor, string(before), string(after))
	e.Action = fmt.Sprintf("%s[%d]", action, stepIndex)
	return e
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}
