package repository

import (
	"context"

	"policy-lifecycle-service/internal/models"
)

// PolicyStore persists whole policy aggregates.
//
// Save treats policy.Version as the version the caller loaded. The write
// succeeds only if the stored version still matches, after which both the
// stored row and policy.Version are advanced by one. A stale version yields
// apperrors.ErrVersionConflict and leaves the stored aggregate untouched.
//
// Returned policies are private copies; mutating them has no effect on the
// store until they are saved.
type PolicyStore interface {
	GetByID(ctx context.Context, id string) (*models.Policy, error)
	ListByClient(ctx context.Context, clientID string) ([]*models.Policy, error)
	ListByStatus(ctx context.Context, statuses ...models.PolicyStatus) ([]*models.Policy, error)
	// FindSuccessors returns the policies whose previousPolicyId is id.
	FindSuccessors(ctx context.Context, id string) ([]*models.Policy, error)
	Create(ctx context.Context, policy *models.Policy) error
	Save(ctx context.Context, policy *models.Policy) error
}
