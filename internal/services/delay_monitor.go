package services

import (
	"context"
	"fmt"
	"time"

	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/pkg/models"
)

// DelayMonitor flags non-terminal instances older than a configured
// threshold. It is a pure read-side scan: it never writes, so it is safe to
// run on any schedule and concurrently with the transition engine.
type DelayMonitor struct {
	store repository.Store
	now   func() time.Time
}

// NewDelayMonitor creates a new DelayMonitor.
func NewDelayMonitor(store repository.Store) *DelayMonitor {
	return &DelayMonitor{store: store, now: time.Now}
}

// ListDelayed returns every non-terminal instance whose age exceeds
// thresholdDays.
func (m *DelayMonitor) ListDelayed(ctx context.Context, thresholdDays int) ([]*models.WorkflowInstance, error) {
	if thresholdDays <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive, got %d", models.ErrValidation, thresholdDays)
	}

	instances, err := m.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	var delayed []*models.WorkflowInstance
	for _, inst := range instances {
		if inst.Status.IsTerminal() {
			continue
		}
		if inst.StartedAt.Before(cutoff) {
			delayed = append(delayed, inst)
		}
	}
	return delayed, nil
}
