package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
)

// MemoryPolicyStore keeps aggregates in process. Every read and write goes
// through a deep copy, so callers never share state with the store.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*models.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*models.Policy)}
}

func (s *MemoryPolicyStore) GetByID(_ context.Context, id string) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "policy %s not found", id)
	}
	return p.Clone(), nil
}

func (s *MemoryPolicyStore) ListByClient(_ context.Context, clientID string) ([]*models.Policy, error) {
	return s.filter(func(p *models.Policy) bool { return p.ClientID == clientID }), nil
}

func (s *MemoryPolicyStore) ListByStatus(_ context.Context, statuses ...models.PolicyStatus) ([]*models.Policy, error) {
	return s.filter(func(p *models.Policy) bool { return slices.Contains(statuses, p.Status) }), nil
}

func (s *MemoryPolicyStore) FindSuccessors(_ context.Context, id string) ([]*models.Policy, error) {
	return s.filter(func(p *models.Policy) bool {
		return p.PreviousPolicyID != nil && *p.PreviousPolicyID == id
	}), nil
}

func (s *MemoryPolicyStore) filter(keep func(*models.Policy) bool) []*models.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Policy{}
	for _, p := range s.policies {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Policy) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *MemoryPolicyStore) Create(_ context.Context, policy *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[policy.ID]; exists {
		return apperrors.Newf(apperrors.CodeValidationFailed, "policy %s already exists", policy.ID)
	}
	if policy.Version == 0 {
		policy.Version = 1
	}
	s.policies[policy.ID] = policy.Clone()
	return nil
}

func (s *MemoryPolicyStore) Save(_ context.Context, policy *models.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.policies[policy.ID]
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "policy %s not found", policy.ID)
	}
	if current.Version != policy.Version {
		return apperrors.WithMetadata(apperrors.CodeVersionConflict,
			fmt.Sprintf("policy %s was modified concurrently", policy.ID),
			map[string]string{
				"expected_version": fmt.Sprint(policy.Version),
				"current_version":  fmt.Sprint(current.Version),
			})
	}

	policy.Version++
	s.policies[policy.ID] = policy.Clone()
	return nil
}
