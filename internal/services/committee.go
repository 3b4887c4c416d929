package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"
)

const (
	auditSubjectMember = "committee_member"

	actionMemberAppointed   = "member.appointed"
	actionMemberDeactivated = "member.deactivated"
)

// AppointMember adds a reviewer to the committee.
func (s *ConsensusService) AppointMember(ctx context.Context, m *models.CommitteeMember, actor models.Actor) (*models.CommitteeMember, error) {
	if m.UserRef == "" {
		return nil, fmt.Errorf("%w: member user_ref is required", models.ErrValidation)
	}
	if !m.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown committee role %q", models.ErrValidation, m.Role)
	}

	m.ID = uuid.New().String()
	m.Active = true
	m.AppointedAt = s.now()

	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		if err := tx.CreateMember(ctx, m); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditEntry{
			ID:          uuid.New().String(),
			SubjectType: auditSubjectMember,
			SubjectID:   m.ID,
			Action:      actionMemberAppointed,
			Actor:       actor.ID,
			Before:      "",
			After:       string(m.Role),
			Timestamp:   m.AppointedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeactivateMember retires a reviewer. The row is kept so past reviews stay
// attributable; the member simply stops receiving new review slots.
func (s *ConsensusService) DeactivateMember(ctx context.Context, memberID string, actor models.Actor) (*models.CommitteeMember, error) {
	var m *models.CommitteeMember
	err := s.store.ExecTx(ctx, func(tx repository.Store) error {
		var err error
		m, err = tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if !m.Active {
			return fmt.Errorf("%w: member %s is already inactive", models.ErrState, memberID)
		}
		m.Active = false
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &models.AuditEntry{
			ID:          uuid.New().String(),
			SubjectType: auditSubjectMember,
			SubjectID:   m.ID,
			Action:      actionMemberDeactivated,
			Actor:       actor.ID,
			Before:      "active",
			After:       "inactive",
			Timestamp:   s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMembers returns committee members, optionally only active ones.
func (s *ConsensusService) ListMembers(ctx context.Context, activeOnly bool) ([]*models.CommitteeMember, error) {
	return s.store.ListMembers(ctx, activeOnly)
}
