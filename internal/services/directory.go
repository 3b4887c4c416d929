package services

import (
	"context"
	"errors"

	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"
)

// ClaimsDirectory resolves eligibility from the role tags carried by the
// actor's token claims. This is the default directory: the identity provider
// is the source of truth for portal roles (editor, curator, director, ...).
type ClaimsDirectory struct{}

// IsEligible implements RoleDirectory.
func (ClaimsDirectory) IsEligible(ctx context.Context, actor models.Actor, role string) (bool, error) {
	return actor.HasRole(role), nil
}

// CommitteeDirectory resolves committee roles (president, secretary, member)
// against the appointed committee in the store, falling back to token claims
// for every other role tag. Deactivated members are not eligible.
type CommitteeDirectory struct {
	store repository.Store
}

// NewCommitteeDirectory creates a new CommitteeDirectory.
func NewCommitteeDirectory(store repository.Store) *CommitteeDirectory {
	return &CommitteeDirectory{store: store}
}

// IsEligible implements RoleDirectory.
func (d *CommitteeDirectory) IsEligible(ctx context.Context, actor models.Actor, role string) (bool, error) {
	committeeRole := models.CommitteeRole(role)
	if !committeeRole.IsValid() {
		return actor.HasRole(role), nil
	}

	m, err := d.store.GetMemberByUserRef(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.Active && m.Role == committeeRole, nil
}
