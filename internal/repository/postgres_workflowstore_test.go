package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"heritage-portal/backend/pkg/models"
)

func TestPostgresWorkflowStore(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, Schema); err != nil {
		t.Fatal(err)
	}

	store := NewPostgresWorkflowStore(pool)

	def := &models.WorkflowDefinition{
		ID:   uuid.New().String(),
		Name: "publication approval",
		Kind: models.KindPublication,
		Steps: []models.StepDefinition{
			{Name: "editorial review", RequiredRole: "editor"},
			{Name: "director approval", RequiredRole: "director"},
		},
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	t.Run("definition round trip", func(t *testing.T) {
		require.NoError(t, store.CreateDefinition(ctx, def))

		got, err := store.GetDefinition(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def.Name, got.Name)
		assert.Equal(t, def.Kind, got.Kind)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "editorial review", got.Steps[0].Name)
	})

	inst := &models.WorkflowInstance{
		ID:           uuid.New().String(),
		DefinitionID: def.ID,
		SubjectID:    "doc-1",
		Kind:         models.KindPublication,
		Status:       models.InstanceInProgress,
		StartedBy:    "u-editor",
		StartedAt:    time.Now(),
		Metadata:     []byte(`{"title":"Atlas of the Coast"}`),
		Version:      1,
	}
	steps := []*models.StepExecution{
		{ID: uuid.New().String(), InstanceID: inst.ID, StepIndex: 0, Name: "editorial review", RequiredRole: "editor", Status: models.StepInProgress, Version: 1},
		{ID: uuid.New().String(), InstanceID: inst.ID, StepIndex: 1, Name: "director approval", RequiredRole: "director", Status: models.StepPending, Version: 1},
	}

	t.Run("instance and steps round trip", func(t *testing.T) {
		require.NoError(t, store.CreateInstance(ctx, inst, steps))

		got, err := store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, inst.SubjectID, got.SubjectID)
		assert.JSONEq(t, `{"title":"Atlas of the Coast"}`, string(got.Metadata))

		listed, err := store.ListSteps(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, models.StepInProgress, listed[0].Status)
	})

	t.Run("live instance lookup", func(t *testing.T) {
		got, err := store.FindLiveInstance(ctx, def.ID, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, inst.ID, got.ID)

		_, err = store.FindLiveInstance(ctx, def.ID, "doc-unknown")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("conditional step write", func(t *testing.T) {
		a, err := store.GetStep(ctx, inst.ID, 0)
		require.NoError(t, err)
		b, err := store.GetStep(ctx, inst.ID, 0)
		require.NoError(t, err)

		now := time.Now()
		a.Status = models.StepCompleted
		a.CompletedAt = &now
		require.NoError(t, store.UpdateStep(ctx, a))

		b.Status = models.StepRejected
		b.CompletedAt = &now
		assert.ErrorIs(t, store.UpdateStep(ctx, b), models.ErrConflict)

		stored, err := store.GetStep(ctx, inst.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, models.StepCompleted, stored.Status)
		assert.Equal(t, 2, stored.Version)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		sentinel := models.ErrState
		err := store.ExecTx(ctx, func(tx Store) error {
			step, err := tx.GetStep(ctx, inst.ID, 1)
			if err != nil {
				return err
			}
			step.Status = models.StepSkipped
			if err := tx.UpdateStep(ctx, step); err != nil {
				return err
			}
			return sentinel
		})
		require.ErrorIs(t, err, sentinel)

		step, err := store.GetStep(ctx, inst.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, models.StepPending, step.Status)
	})

	t.Run("audit append and list", func(t *testing.T) {
		entry := &models.AuditEntry{
			ID:          uuid.New().String(),
			SubjectType: "workflow_instance",
			SubjectID:   inst.ID,
			Action:      "step.approved[0]",
			Actor:       "u-editor",
			Before:      "in_progress",
			After:       "completed",
			Timestamp:   time.Now(),
		}
		require.NoError(t, store.AppendAudit(ctx, entry))

		entries, err := store.ListAudit(ctx, inst.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, entry.Action, entries[0].Action)
	})

	t.Run("committee members and reviews", func(t *testing.T) {
		m := &models.CommitteeMember{
			ID:          uuid.New().String(),
			UserRef:     "u-pres",
			Role:        models.CommitteePresident,
			Active:      true,
			AppointedAt: time.Now(),
		}
		require.NoError(t, store.CreateMember(ctx, m))

		byRef, err := store.GetMemberByUserRef(ctx, "u-pres")
		require.NoError(t, err)
		assert.Equal(t, m.ID, byRef.ID)

		batch := []*models.CommitteeReview{
			{ID: uuid.New().String(), SubjectID: "art-1", Round: 1, MemberID: m.ID, Status: models.ReviewPending, Version: 1},
		}
		require.NoError(t, store.CreateReviews(ctx, batch))

		round, err := store.CurrentRound(ctx, "art-1")
		require.NoError(t, err)
		assert.Equal(t, 1, round)

		reviews, err := store.ListReviews(ctx, "art-1", 1)
		require.NoError(t, err)
		require.Len(t, reviews, 1)

		now := time.Now()
		reviews[0].Status = models.ReviewApproved
		reviews[0].ReviewedAt = &now
		require.NoError(t, store.UpdateReview(ctx, reviews[0]))

		stale := &models.CommitteeReview{ID: reviews[0].ID, Status: models.ReviewRejected, Version: 1}
		assert.ErrorIs(t, store.UpdateReview(ctx, stale), models.ErrConflict)
	})
}
