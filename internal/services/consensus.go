package services

import (
	"context"
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

const (
	auditSubjectReview = "committee_review"

	actionRoundOpened       = "review_round.opened"
	actionVoteRecorded      = "review.voted"
	actionConsensusResolved = "consensus.resolved"
)

// ConsensusPolicy aggregates a round's votes into an instance-level outcome.
// It is only consulted once every reviewer has voted; the evaluator holds the
// round at pending while any vote is outstanding.
type ConsensusPolicy interface {
	Evaluate(reviews []*models.CommitteeReview) models.ConsensusOutcome
	Name() string
}

// UnanimousPolicy approves only when every vote is approved. A single
// rejection rejects the round; any needs_revision vote blocks a decision and
// holds the round at pending. This default mirrors the historical committee
// procedure but has never been confirmed as the governing rule, which is why
// the policy is pluggable.
type UnanimousPolicy struct{}

// Evaluate implements ConsensusPolicy.
func (UnanimousPolicy) Evaluate(reviews []*models.CommitteeReview) models.ConsensusOutcome {
	for _, r := range reviews {
		if r.Status == models.ReviewRejected {
			return models.ConsensusRejected
		}
	}
	for _, r := range reviews {
		if r.Status == models.ReviewNeedsRevision {
			return models.ConsensusPending
		}
	}
	return models.ConsensusApproved
}

// Name implements ConsensusPolicy.
func (UnanimousPolicy) Name() string { return "unanimous" }

// MajorityPolicy decides by simple majority of decisive votes. needs_revision
// votes count toward neither side; a tie holds the round at pending.
type MajorityPolicy struct{}

// Evaluate implements ConsensusPolicy.
func (MajorityPolicy) Evaluate(reviews []*models.CommitteeReview) models.ConsensusOutcome {
	var approved, rejected int
	for _, r := range reviews {
		switch r.Status {
		case models.ReviewApproved:
			approved++
		case models.ReviewRejected:
			rejected++
		}
	}
	switch {
	case approved > rejected:
		return models.ConsensusApproved
	case rejected > approved:
		return models.ConsensusRejected
	default:
		return models.ConsensusPending
	}
}

// Name implements ConsensusPolicy.
func (MajorityPolicy) Name() string { return "majority" }

// PolicyFromName resolves a configured policy name.
func PolicyFromName(name string) (ConsensusPolicy, error) {
	switch name {
	case "", "unanimous":
		return UnanimousPolicy{}, nil
	case "majority":
		return MajorityPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown consensus policy %q", models.ErrValidation, name)
	}
}

// ConsensusService records committee votes and evaluates rounds under the
// configured policy.
type ConsensusService struct {
	store    repository.Store
	policy   ConsensusPolicy
	notifier Notifier
	logger   Logger
	now      func() time.Time

	resolutions metric.Int64Counter
}

// NewConsensusService creates a new ConsensusService.
func NewConsensusService(store repository.Store, policy ConsensusPolicy, notifier Notifier, logger Logger) *ConsensusService {
	meter := otel.Meter("heritage-portal/backend/internal/services")
	resolutions, _ := meter.Int64Counter("workflow.consensus.resolutions")

	return &ConsensusService{
		store:       store,
		policy:      policy,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
		resolutions: resolutions,
	}
}

// OpenReviewRound creates a fresh batch of pending reviews for the subject,
// one per active committee member. An unresolved earlier round is superseded;
// this is the resubmission path.
func (s *ConsensusService) OpenReviewRound(ctx context.Context, subjectID string, actor models.Actor) ([]*models.CommitteeReview, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subject id is required", models.ErrValidation)
	}

	var reviews []*models.CommitteeReview
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		members, err := tx.ListMembers(ctx, true)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return fmt.Errorf("%w: no active committee members", models.ErrState)
		}

		round, err := tx.CurrentRound(ctx, subjectID)
		if err != nil {
			return err
		}

		reviews = make([]*models.CommitteeReview, len(members))
		for i, m := range members {
			reviews[i] = &models.CommitteeReview{
				ID:        uuid.New().String(),
				SubjectID: subjectID,
				Round:     round + 1,
				MemberID:  m.ID,
				Status:    models.ReviewPending,
				Version:   1,
			}
		}
		if err := tx.CreateReviews(ctx, reviews); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, &models.AuditEntry{
			ID:          uuid.New().String(),
			SubjectType: auditSubjectReview,
			SubjectID:   subjectID,
			Action:      actionRoundOpened,
			Actor:       actor.ID,
			Before:      "",
			After:       fmt.Sprintf("round %d, %d reviewers", round+1, len(members)),
			Timestamp:   s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return reviews, nil
}

// RecordVote updates the member's review row for the subject's current round
// and re-evaluates consensus. Votes from reviewers without a pending slot are
// refused; so are votes on rounds that have already resolved.
func (s *ConsensusService) RecordVote(ctx context.Context, subjectID, memberID string, decision models.ReviewStatus, comments, rationale string) (models.ConsensusOutcome, error) {
	if !decision.IsVote() {
		return "", fmt.Errorf("%w: %q is not a recordable vote", models.ErrValidation, decision)
	}
	if decision == models.ReviewRejected && strings.TrimSpace(rationale) == "" {
		return "", fmt.Errorf("%w: a rejecting vote requires a rationale", models.ErrValidation)
	}

	var outcome models.ConsensusOutcome
	var resolved bool
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		round, err := tx.CurrentRound(ctx, subjectID)
		if err != nil {
			return err
		}
		if round == 0 {
			return fmt.Errorf("%w: no review round open for subject %s", models.ErrNotFound, subjectID)
		}

		reviews, err := tx.ListReviews(ctx, subjectID, round)
		if err != nil {
			return err
		}
		if roundOutcome(s.policy, reviews).IsResolved() {
			return fmt.Errorf("%w: review round %d for subject %s is already resolved", models.ErrState, round, subjectID)
		}

		var review *models.CommitteeReview
		for _, r := range reviews {
			if r.MemberID == memberID {
				review = r
				break
			}
		}
		if review == nil {
			return fmt.Errorf("%w: member %s has no review slot for subject %s", models.ErrNotFound, memberID, subjectID)
		}

		before := review.Status
		now := s.now()
		review.Status = decision
		review.Comments = comments
		review.Rationale = rationale
		review.ReviewedAt = &now
		if err := tx.UpdateReview(ctx, review); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, &models.AuditEntry{
			ID:          uuid.New().String(),
			SubjectType: auditSubjectReview,
			SubjectID:   subjectID,
			Action:      actionVoteRecorded,
			Actor:       memberID,
			Before:      string(before),
			After:       string(decision),
			Timestamp:   now,
		}); err != nil {
			return err
		}

		outcome = roundOutcome(s.policy, reviews)
		if outcome.IsResolved() {
			resolved = true
			return tx.AppendAudit(ctx, &models.AuditEntry{
				ID:          uuid.New().String(),
				SubjectType: auditSubjectReview,
				SubjectID:   subjectID,
				Action:      actionConsensusResolved,
				Actor:       s.policy.Name(),
				Before:      string(models.ConsensusPending),
				After:       string(outcome),
				Timestamp:   now,
			})
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if resolved {
		s.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
		s.emit(ctx, Event{SubjectID: subjectID, Outcome: string(outcome)})
	} else if decision == models.ReviewNeedsRevision {
		// The submitter must be told revision is blocking the round.
		s.emit(ctx, Event{SubjectID: subjectID, Outcome: string(models.ReviewNeedsRevision)})
	}
	return outcome, nil
}

// EvaluateConsensus inspects the subject's current round and returns its
// outcome without side effects.
func (s *ConsensusService) EvaluateConsensus(ctx context.Context, subjectID string) (models.ConsensusOutcome, error) {
	round, err := s.store.CurrentRound(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if round == 0 {
		return "", fmt.Errorf("%w: no review round open for subject %s", models.ErrNotFound, subjectID)
	}
	reviews, err := s.store.ListReviews(ctx, subjectID, round)
	if err != nil {
		return "", err
	}
	return roundOutcome(s.policy, reviews), nil
}

// ListReviews returns the subject's current-round review rows.
func (s *ConsensusService) ListReviews(ctx context.Context, subjectID string) ([]*models.CommitteeReview, error) {
	round, err := s.store.CurrentRound(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if round == 0 {
		return nil, fmt.Errorf("%w: no review round open for subject %s", models.ErrNotFound, subjectID)
	}
	return s.store.ListReviews(ctx, subjectID, round)
}

// roundOutcome holds the round at pending while any vote is outstanding, then
// delegates to the policy.
func roundOutcome(policy ConsensusPolicy, reviews []*models.CommitteeReview) models.ConsensusOutcome {
	for _, r := range reviews {
		if r.Status == models.ReviewPending {
			return models.ConsensusPending
		}
	}
	return policy.Evaluate(reviews)
}

func (s *ConsensusService) emit(ctx context.Context, ev Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Error("consensus notification failed", "subject_id", ev.SubjectID, "outcome", ev.Outcome, "error", err)
	}
}
