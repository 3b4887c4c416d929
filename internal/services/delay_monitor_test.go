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

func TestListDelayed(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	monitor := NewDelayMonitor(store)

	now := time.Now()
	seed := func(id string, status models.InstanceStatus, ageDays int) {
		inst := &models.WorkflowInstance{
			ID:           id,
			DefinitionID: "def-1",
			SubjectID:    "subj-" + id,
			Kind:         models.KindPublication,
			Status:       status,
			StartedBy:    "u-editor",
			StartedAt:    now.Add(-time.Duration(ageDays) * 24 * time.Hour),
			Version:      1,
		}
		require.NoError(t, store.CreateInstance(ctx, inst, nil))
	}

	seed("stale", models.InstanceInProgress, 8)
	seed("fresh", models.InstanceInProgress, 2)
	seed("old-but-done", models.InstanceCompleted, 30)
	seed("old-pending", models.InstancePending, 10)

	delayed, err := monitor.ListDelayed(ctx, 7)
	require.NoError(t, err)

	ids := make([]string, len(delayed))
	for i, inst := range delayed {
		ids[i] = inst.ID
	}
	assert.ElementsMatch(t, []string{"stale", "old-pending"}, ids)

	t.Run("threshold must be positive", func(t *testing.T) {
		_, err := monitor.ListDelayed(ctx, 0)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("repeat scans are side-effect free", func(t *testing.T) {
		again, err := monitor.ListDelayed(ctx, 7)
		require.NoError(t, err)
		assert.Len(t, again, len(delayed))
	})
}
