package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceStatusTransitions(t *testing.T) {
	t.Run("pending can start, reject or cancel", func(t *testing.T) {
		assert.True(t, InstancePending.CanTransitionTo(InstanceInProgress))
		assert.True(t, InstancePending.CanTransitionTo(InstanceRejected))
		assert.True(t, InstancePending.CanTransitionTo(InstanceCancelled))
		assert.False(t, InstancePending.CanTransitionTo(InstanceCompleted))
	})

	t.Run("in_progress can finish either way", func(t *testing.T) {
		assert.True(t, InstanceInProgress.CanTransitionTo(InstanceCompleted))
		assert.True(t, InstanceInProgress.CanTransitionTo(InstanceRejected))
		assert.True(t, InstanceInProgress.CanTransitionTo(InstanceCancelled))
		assert.False(t, InstanceInProgress.CanTransitionTo(InstancePending))
	})

	t.Run("terminal states are final", func(t *testing.T) {
		for _, s := range []InstanceStatus{InstanceCompleted, InstanceRejected, InstanceCancelled} {
			assert.True(t, s.IsTerminal(), "%s should be terminal", s)
			assert.False(t, s.CanTransitionTo(InstanceInProgress))
		}
	})
}

func TestWorkflowDefinitionValidate(t *testing.T) {
	valid := func() *WorkflowDefinition {
		return &WorkflowDefinition{
			Name: "publication approval",
			Kind: KindPublication,
			Steps: []StepDefinition{
				{Name: "editorial review", RequiredRole: "editor"},
				{Name: "director approval", RequiredRole: "director"},
			},
		}
	}

	t.Run("valid definition passes", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("zero steps is invalid", func(t *testing.T) {
		d := valid()
		d.Steps = nil
		assert.ErrorIs(t, d.Validate(), ErrValidation)
	})

	t.Run("unknown kind is invalid", func(t *testing.T) {
		d := valid()
		d.Kind = "acquisition"
		assert.ErrorIs(t, d.Validate(), ErrValidation)
	})

	t.Run("step without role is invalid", func(t *testing.T) {
		d := valid()
		d.Steps[1].RequiredRole = ""
		assert.ErrorIs(t, d.Validate(), ErrValidation)
	})

	t.Run("auto-complete requires system role", func(t *testing.T) {
		d := valid()
		d.Steps[1].AutoComplete = true
		assert.ErrorIs(t, d.Validate(), ErrValidation)

		d.Steps[1].RequiredRole = RoleSystem
		assert.NoError(t, d.Validate())
	})
}

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name    string
		kind    WorkflowKind
		raw     string
		wantErr bool
	}{
		{"empty payload is accepted", KindPublication, "", false},
		{"publication with title", KindPublication, `{"title":"Atlas of the Coast"}`, false},
		{"publication without title", KindPublication, `{"isbn":"978-0"}`, true},
		{"unknown field rejected", KindPublication, `{"title":"x","pages":12}`, true},
		{"legal deposit complete", KindLegalDeposit, `{"deposit_number":"LD-2025-0042","depositor_name":"Éditions Sirocco"}`, false},
		{"legal deposit missing depositor", KindLegalDeposit, `{"deposit_number":"LD-2025-0042"}`, true},
		{"reproduction with artwork", KindReproduction, `{"artwork_ref":"ART-17","format":"tiff"}`, false},
		{"restoration without artwork", KindRestoration, `{"urgency":"high"}`, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var raw json.RawMessage
			if tc.raw != "" {
				raw = json.RawMessage(tc.raw)
			}
			err := ValidateMetadata(tc.kind, raw)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestActorHasRole(t *testing.T) {
	a := Actor{ID: "u-1", Roles: []string{"editor", "committee_member"}}
	assert.True(t, a.HasRole("editor"))
	assert.False(t, a.HasRole("director"))
	assert.True(t, SystemActor.HasRole(RoleSystem))
}
