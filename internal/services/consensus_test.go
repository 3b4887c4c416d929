package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"
)

func newConsensusService(t *testing.T, policy ConsensusPolicy) (*ConsensusService, *repository.MemoryStore, *captureNotifier) {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &captureNotifier{}
	svc := NewConsensusService(store, policy, notifier, nopLogger{})
	return svc, store, notifier
}

func appointThree(t *testing.T, svc *ConsensusService) []*models.CommitteeMember {
	t.Helper()
	ctx := context.Background()
	members := make([]*models.CommitteeMember, 3)
	for i, spec := range []struct {
		user string
		role models.CommitteeRole
	}{
		{"u-pres", models.CommitteePresident},
		{"u-sec", models.CommitteeSecretary},
		{"u-mem", models.CommitteeOrdinary},
	} {
		m, err := svc.AppointMember(ctx, &models.CommitteeMember{UserRef: spec.user, Role: spec.role}, admin)
		require.NoError(t, err)
		members[i] = m
	}
	return members
}

func TestOpenReviewRound(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newConsensusService(t, UnanimousPolicy{})

	t.Run("fails without active members", func(t *testing.T) {
		_, err := svc.OpenReviewRound(ctx, "art-0", admin)
		assert.ErrorIs(t, err, models.ErrState)
	})

	members := appointThree(t, svc)

	reviews, err := svc.OpenReviewRound(ctx, "art-1", admin)
	require.NoError(t, err)
	require.Len(t, reviews, 3)
	for _, r := range reviews {
		assert.Equal(t, models.ReviewPending, r.Status)
		assert.Equal(t, 1, r.Round)
	}

	t.Run("deactivated member gets no slot in the next round", func(t *testing.T) {
		_, err := svc.DeactivateMember(ctx, members[2].ID, admin)
		require.NoError(t, err)

		next, err := svc.OpenReviewRound(ctx, "art-1", admin)
		require.NoError(t, err)
		require.Len(t, next, 2)
		assert.Equal(t, 2, next[0].Round)
	})

	t.Run("member row survives deactivation", func(t *testing.T) {
		m, err := store.GetMember(ctx, members[2].ID)
		require.NoError(t, err)
		assert.False(t, m.Active)
	})
}

func TestUnanimousConsensus(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newConsensusService(t, UnanimousPolicy{})
	members := appointThree(t, svc)

	_, err := svc.OpenReviewRound(ctx, "art-2", admin)
	require.NoError(t, err)

	outcome, err := svc.RecordVote(ctx, "art-2", members[0].ID, models.ReviewApproved, "fine work", "")
	require.NoError(t, err)
	assert.Equal(t, models.ConsensusPending, outcome)

	outcome, err = svc.RecordVote(ctx, "art-2", members[1].ID, models.ReviewApproved, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.ConsensusPending, outcome)

	// While a vote is outstanding the round stays pending.
	outcome, err = svc.EvaluateConsensus(ctx, "art-2")
	require.NoError(t, err)
	assert.Equal(t, models.ConsensusPending, outcome)

	outcome, err = svc.RecordVote(ctx, "art-2", members[2].ID, models.ReviewApproved, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.ConsensusApproved, outcome)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, Event{SubjectID: "art-2", Outcome: "approved"}, notifier.events[0])

	t.Run("resolved round refuses further votes", func(t *testing.T) {
		_, err := svc.RecordVote(ctx, "art-2", members[0].ID, models.ReviewRejected, "", "changed my mind")
		assert.ErrorIs(t, err, models.ErrState)
	})
}

func TestSingleRejectionRejectsRound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newConsensusService(t, UnanimousPolicy{})
	members := appointThree(t, svc)

	_, err := svc.OpenReviewRound(ctx, "art-3", admin)
	require.NoError(t, err)

	_, err = svc.RecordVote(ctx, "art-3", members[0].ID, models.ReviewApproved, "", "")
	require.NoError(t, err)
	_, err = svc.RecordVote(ctx, "art-3", members[1].ID, models.ReviewApproved, "", "")
	require.NoError(t, err)

	outcome, err := svc.RecordVote(ctx, "art-3", members[2].ID, models.ReviewRejected, "", "condition too fragile")
	require.NoError(t, err)
	assert.Equal(t, models.ConsensusRejected, outcome)
}

func TestNeedsRevisionBlocksDecision(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newConsensusService(t, UnanimousPolicy{})
	members := appointThree(t, svc)

	_, err := svc.OpenReviewRound(ctx, "art-4", admin)
	require.NoError(t, err)

	_, err = svc.RecordVote(ctx, "art-4", members[0].ID, models.ReviewApproved, "", "")
	require.NoError(t, err)
	_, err = svc.RecordVote(ctx, "art-4", members[1].ID, models.ReviewApproved, "", "")
	require.NoError(t, err)

	outcome, err := svc.RecordVote(ctx, "art-4", members[2].ID, models.ReviewNeedsRevision, "resubmit with condition report", "")
	require.NoError(t, err)
	assert.Equal(t, models.ConsensusPending, outcome)

	// The submitter is notified that revision is blocking.
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "needs_revision", notifier.events[0].Outcome)
}

func TestVoteGuards(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newConsensusService(t, UnanimousPolicy{})
	members := appointThree(t, svc)

	t.Run("no round open", func(t *testing.T) {
		_, err := svc.RecordVote(ctx, "art-none", members[0].ID, models.ReviewApproved, "", "")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	_, err := svc.OpenReviewRound(ctx, "art-5", admin)
	require.NoError(t, err)

	t.Run("ad-hoc voter refused", func(t *testing.T) {
		_, err := svc.RecordVote(ctx, "art-5", "not-a-member", models.ReviewApproved, "", "")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("rejection requires rationale", func(t *testing.T) {
		_, err := svc.RecordVote(ctx, "art-5", members[0].ID, models.ReviewRejected, "", " ")
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("pending is not a recordable vote", func(t *testing.T) {
		_, err := svc.RecordVote(ctx, "art-5", members[0].ID, models.ReviewPending, "", "")
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestMajorityPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.ReviewStatus
		want     models.ConsensusOutcome
	}{
		{"two approvals carry", []models.ReviewStatus{models.ReviewApproved, models.ReviewApproved, models.ReviewRejected}, models.ConsensusApproved},
		{"two rejections carry", []models.ReviewStatus{models.ReviewRejected, models.ReviewApproved, models.ReviewRejected}, models.ConsensusRejected},
		{"tie stays pending", []models.ReviewStatus{models.ReviewApproved, models.ReviewRejected, models.ReviewNeedsRevision}, models.ConsensusPending},
	}

	policy := MajorityPolicy{}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reviews := make([]*models.CommitteeReview, len(tc.statuses))
			for i, st := range tc.statuses {
				reviews[i] = &models.CommitteeReview{Status: st}
			}
			assert.Equal(t, tc.want, policy.Evaluate(reviews))
		})
	}
}

func TestPolicyFromName(t *testing.T) {
	p, err := PolicyFromName("")
	require.NoError(t, err)
	assert.Equal(t, "unanimous", p.Name())

	p, err = PolicyFromName("majority")
	require.NoError(t, err)
	assert.Equal(t, "majority", p.Name())

	_, err = PolicyFromName("president_tiebreak")
	assert.ErrorIs(t, err, models.ErrValidation)
}
