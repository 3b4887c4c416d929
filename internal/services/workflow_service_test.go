package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

// captureNotifier records emitted events for assertions.
type captureNotifier struct {
	events []Event
}

func (n *captureNotifier) Notify(ctx context.Context, ev Event) error {
	n.events = append(n.events, ev)
	return nil
}

var (
	editor   = models.Actor{ID: "u-editor", Roles: []string{"editor"}}
	curator  = models.Actor{ID: "u-curator", Roles: []string{"curator"}}
	director = models.Actor{ID: "u-director", Roles: []string{"director"}}
	admin    = models.Actor{ID: "u-admin", Roles: []string{"portal_admin"}}
)

func newTestService(t *testing.T) (*WorkflowService, *repository.MemoryStore, *captureNotifier) {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &captureNotifier{}
	svc := NewWorkflowService(store, ClaimsDirectory{}, notifier, nopLogger{}, []string{"portal_admin"})
	return svc, store, notifier
}

func publicationDefinition(t *testing.T, svc *WorkflowService) *models.WorkflowDefinition {
	t.Helper()
	def, err := svc.CreateDefinition(context.Background(), &models.WorkflowDefinition{
		Name:   "publication approval",
		Kind:   models.KindPublication,
		Active: true,
		Steps: []models.StepDefinition{
			{Name: "editorial review", RequiredRole: "editor"},
			{Name: "curator review", RequiredRole: "curator"},
			{Name: "director approval", RequiredRole: "director"},
		},
	})
	require.NoError(t, err)
	return def
}

func TestStartInstanceMaterializesSteps(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-1", editor, nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceInProgress, inst.Status)
	assert.Equal(t, 0, inst.CurrentStepIndex)
	assert.Equal(t, "u-editor", inst.StartedBy)

	steps, err := store.ListSteps(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i, step.StepIndex)
		assert.Equal(t, def.Steps[i].Name, step.Name)
		if i == 0 {
			assert.Equal(t, models.StepInProgress, step.Status)
			assert.NotNil(t, step.StartedAt)
		} else {
			assert.Equal(t, models.StepPending, step.Status)
		}
	}

	audit, err := store.ListAudit(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "instance.started", audit[0].Action)
}

func TestStartInstanceGuards(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	t.Run("inactive definition refused", func(t *testing.T) {
		inactive, err := svc.CreateDefinition(ctx, &models.WorkflowDefinition{
			Name:  "draft process",
			Kind:  models.KindPublication,
			Steps: []models.StepDefinition{{Name: "review", RequiredRole: "editor"}},
		})
		require.NoError(t, err)

		_, err = svc.StartInstance(ctx, inactive.ID, "doc-x", editor, nil)
		assert.ErrorIs(t, err, models.ErrDefinitionInactive)
	})

	t.Run("unknown definition", func(t *testing.T) {
		_, err := svc.StartInstance(ctx, "00000000-0000-0000-0000-000000000000", "doc-x", editor, nil)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("invalid metadata refused", func(t *testing.T) {
		_, err := svc.StartInstance(ctx, def.ID, "doc-meta", editor, []byte(`{"isbn":"no title"}`))
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("duplicate submission refused while live", func(t *testing.T) {
		_, err := svc.StartInstance(ctx, def.ID, "doc-dup", editor, nil)
		require.NoError(t, err)

		_, err = svc.StartInstance(ctx, def.ID, "doc-dup", editor, nil)
		assert.ErrorIs(t, err, models.ErrAlreadyRunning)
	})

	t.Run("allowed again after terminal", func(t *testing.T) {
		inst, err := svc.StartInstance(ctx, def.ID, "doc-redo", editor, nil)
		require.NoError(t, err)

		_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionReject, "incomplete dossier")
		require.NoError(t, err)

		_, err = svc.StartInstance(ctx, def.ID, "doc-redo", editor, nil)
		assert.NoError(t, err)
	})
}

func TestSequentialAdvancement(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-2", editor, nil)
	require.NoError(t, err)

	step, err := svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, step.Status)
	assert.NotNil(t, step.CompletedAt)

	current, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.CurrentStepIndex)
	assert.Equal(t, models.InstanceInProgress, current.Status)

	next, err := store.GetStep(ctx, inst.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StepInProgress, next.Status)

	_, err = svc.RecordStepOutcome(ctx, inst.ID, 1, curator, models.DecisionApprove, "")
	require.NoError(t, err)
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 2, director, models.DecisionApprove, "")
	require.NoError(t, err)

	final, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, Event{InstanceID: inst.ID, SubjectID: "doc-2", Outcome: "completed"}, notifier.events[0])
}

func TestSequentialEnforcement(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-3", editor, nil)
	require.NoError(t, err)

	// No skipping ahead.
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 1, curator, models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrState)

	// No revisiting resolved steps.
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "")
	require.NoError(t, err)
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrState)
}

func TestRejectionPropagation(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-4", editor, nil)
	require.NoError(t, err)
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "")
	require.NoError(t, err)

	t.Run("rejection requires a comment", func(t *testing.T) {
		_, err := svc.RecordStepOutcome(ctx, inst.ID, 1, curator, models.DecisionReject, "  ")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	step, err := svc.RecordStepOutcome(ctx, inst.ID, 1, curator, models.DecisionReject, "missing provenance record")
	require.NoError(t, err)
	assert.Equal(t, models.StepRejected, step.Status)
	assert.Equal(t, "missing provenance record", step.Comments)

	current, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceRejected, current.Status)
	assert.NotNil(t, current.CompletedAt)

	last, err := store.GetStep(ctx, inst.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, models.StepSkipped, last.Status)

	// Terminal: no further outcomes.
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 2, director, models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrState)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "rejected", notifier.events[0].Outcome)
}

func TestPermissionChecks(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-5", editor, nil)
	require.NoError(t, err)

	t.Run("wrong role refused", func(t *testing.T) {
		_, err := svc.RecordStepOutcome(ctx, inst.ID, 0, curator, models.DecisionApprove, "")
		assert.ErrorIs(t, err, models.ErrPermission)
	})

	t.Run("admin override permitted", func(t *testing.T) {
		_, err := svc.RecordStepOutcome(ctx, inst.ID, 0, admin, models.DecisionApprove, "acting for editor")
		assert.NoError(t, err)
	})
}

func TestAutoCompleteChaining(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	def, err := svc.CreateDefinition(ctx, &models.WorkflowDefinition{
		Name:   "legal deposit intake",
		Kind:   models.KindLegalDeposit,
		Active: true,
		Steps: []models.StepDefinition{
			{Name: "registrar check", RequiredRole: "registrar"},
			{Name: "barcode assignment", RequiredRole: models.RoleSystem, AutoComplete: true},
			{Name: "catalogue entry", RequiredRole: models.RoleSystem, AutoComplete: true},
			{Name: "deposit confirmation", RequiredRole: "registrar"},
		},
	})
	require.NoError(t, err)

	registrar := models.Actor{ID: "u-reg", Roles: []string{"registrar"}}
	inst, err := svc.StartInstance(ctx, def.ID, "dep-1", registrar, nil)
	require.NoError(t, err)

	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, registrar, models.DecisionApprove, "")
	require.NoError(t, err)

	// Both system steps resolved in the same call; the instance rests on the
	// final human step.
	current, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.CurrentStepIndex)

	for i := 1; i <= 2; i++ {
		step, err := store.GetStep(ctx, inst.ID, i)
		require.NoError(t, err)
		assert.Equal(t, models.StepCompleted, step.Status)
	}

	// One audit entry per link in the chain, not an aggregate.
	audit, err := store.ListAudit(ctx, inst.ID)
	require.NoError(t, err)
	var approvals int
	for _, e := range audit {
		if e.Actor == models.RoleSystem {
			approvals++
		}
	}
	assert.Equal(t, 2, approvals)
}

func TestSystemStepRefusesHumanActor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	def, err := svc.CreateDefinition(ctx, &models.WorkflowDefinition{
		Name:   "restoration triage",
		Kind:   models.KindRestoration,
		Active: true,
		Steps: []models.StepDefinition{
			// system step without auto-complete waits for a privileged nudge
			{Name: "intake snapshot", RequiredRole: models.RoleSystem},
			{Name: "conservator review", RequiredRole: "conservator"},
		},
	})
	require.NoError(t, err)

	inst, err := svc.StartInstance(ctx, def.ID, "art-1", admin, nil)
	require.NoError(t, err)

	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "")
	assert.ErrorIs(t, err, models.ErrPermission)

	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, admin, models.DecisionApprove, "")
	assert.NoError(t, err)
}

func TestCancelInstance(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-6", editor, nil)
	require.NoError(t, err)

	t.Run("requires elevated permission", func(t *testing.T) {
		_, err := svc.CancelInstance(ctx, inst.ID, editor)
		assert.ErrorIs(t, err, models.ErrPermission)
	})

	cancelled, err := svc.CancelInstance(ctx, inst.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	steps, err := store.ListSteps(ctx, inst.ID)
	require.NoError(t, err)
	for _, step := range steps {
		assert.Equal(t, models.StepSkipped, step.Status)
	}

	t.Run("terminal instance cannot be cancelled again", func(t *testing.T) {
		_, err := svc.CancelInstance(ctx, inst.ID, admin)
		assert.ErrorIs(t, err, models.ErrState)
	})

	require.NotEmpty(t, notifier.events)
	assert.Equal(t, "cancelled", notifier.events[len(notifier.events)-1].Outcome)
}

func TestStartsPendingDefinition(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	def, err := svc.CreateDefinition(ctx, &models.WorkflowDefinition{
		Name:          "reproduction request",
		Kind:          models.KindReproduction,
		Active:        true,
		StartsPending: true,
		Steps: []models.StepDefinition{
			{Name: "fee payment check", RequiredRole: "accountant"},
			{Name: "photographer assignment", RequiredRole: "curator"},
		},
	})
	require.NoError(t, err)

	inst, err := svc.StartInstance(ctx, def.ID, "rep-1", editor, []byte(`{"artwork_ref":"ART-9"}`))
	require.NoError(t, err)
	assert.Equal(t, models.InstancePending, inst.Status)

	step, err := store.GetStep(ctx, inst.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, step.Status)

	accountant := models.Actor{ID: "u-acct", Roles: []string{"accountant"}}
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, accountant, models.DecisionApprove, "paid")
	require.NoError(t, err)

	current, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceInProgress, current.Status)
}

func TestAuditCompleteness(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-7", editor, nil)
	require.NoError(t, err)

	count := func() int {
		entries, err := store.ListAudit(ctx, inst.ID)
		require.NoError(t, err)
		return len(entries)
	}

	require.Equal(t, 1, count())

	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "")
	require.NoError(t, err)
	require.Equal(t, 2, count())

	entries, err := store.ListAudit(ctx, inst.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, string(models.StepInProgress), last.Before)
	assert.Equal(t, string(models.StepCompleted), last.After)
	assert.Equal(t, "u-editor", last.Actor)

	// A failed call leaves the log untouched.
	_, err = svc.RecordStepOutcome(ctx, inst.ID, 0, editor, models.DecisionApprove, "")
	require.Error(t, err)
	require.Equal(t, 2, count())
}

func TestUpdateDefinitionImmutability(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	def.Name = "publication approval v2"
	_, err := svc.UpdateDefinition(ctx, def)
	assert.ErrorIs(t, err, models.ErrState)
}

func TestOptimisticConcurrencySafetyNet(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	def := publicationDefinition(t, svc)

	inst, err := svc.StartInstance(ctx, def.ID, "doc-8", editor, nil)
	require.NoError(t, err)

	// Two actors read the same pending step.
	first, err := store.GetStep(ctx, inst.ID, 0)
	require.NoError(t, err)
	second, err := store.GetStep(ctx, inst.ID, 0)
	require.NoError(t, err)

	now := time.Now()
	first.Status = models.StepCompleted
	first.CompletedAt = &now
	require.NoError(t, store.UpdateStep(ctx, first))

	// The loser's conditional write observes the stale version.
	second.Status = models.StepRejected
	second.CompletedAt = &now
	err = store.UpdateStep(ctx, second)
	assert.ErrorIs(t, err, models.ErrConflict)

	// Only the winner's decision is visible.
	stored, err := store.GetStep(ctx, inst.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, stored.Status)
}
