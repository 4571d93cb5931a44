package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"policy-lifecycle-service/internal/models"
	"policy-lifecycle-service/internal/repository"
	"policy-lifecycle-service/internal/worker"
)

// PolicySweepService periodically evaluates every open policy for overdue
// installments, lapse and expiry. Each policy is one pool job; the engine's
// per-policy lock keeps sweeps and API calls from interleaving.
type PolicySweepService struct {
	engine *PolicyEngine
	store  repository.PolicyStore
	pool   worker.Pool

	mu         sync.RWMutex
	lastResult *models.SweepResult
}

func NewPolicySweepService(engine *PolicyEngine, store repository.PolicyStore, pool worker.Pool) *PolicySweepService {
	return &PolicySweepService{engine: engine, store: store, pool: pool}
}

var sweepStatuses = []models.PolicyStatus{
	models.PolicyPending,
	models.PolicyActive,
	models.PolicySuspended,
	models.PolicyLapsed,
}

// Job adapts RunSweep to the scheduler.
func (s *PolicySweepService) Job() worker.Job {
	return func(ctx context.Context) error {
		result, err := s.RunSweep(ctx)
		if err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("sweep finished with %d policy error(s)", len(result.Errors))
		}
		return nil
	}
}

// RunSweep evaluates all open policies once and waits for the results.
func (s *PolicySweepService) RunSweep(ctx context.Context) (models.SweepResult, error) {
	result := models.SweepResult{StartedAt: s.engine.clock()}

	policies, err := s.store.ListByStatus(ctx, sweepStatuses...)
	if err != nil {
		return result, fmt.Errorf("failed to list policies for sweep: %w", err)
	}
	result.PoliciesScanned = len(policies)
	slog.Info("policy sweep started", "policies", len(policies))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(fn func(r *models.SweepResult)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&result)
	}

	for _, p := range policies {
		id := p.ID
		job := func(ctx context.Context) error {
			defer wg.Done()
			err := s.evaluatePolicy(ctx, id, record)
			if err != nil {
				record(func(r *models.SweepResult) {
					r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
				})
			}
			return err
		}

		wg.Add(1)
		if s.pool == nil {
			job(ctx)
			continue
		}
		if err := s.pool.SubmitJob(ctx, job); err != nil {
			wg.Done()
			record(func(r *models.SweepResult) {
				r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
			})
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		mu.Lock()
		partial := result
		partial.Errors = append([]string(nil), result.Errors...)
		mu.Unlock()
		return partial, ctx.Err()
	}

	mu.Lock()
	result.FinishedAt = s.engine.clock()
	final := result
	final.Errors = append([]string(nil), result.Errors...)
	mu.Unlock()

	s.mu.Lock()
	s.lastResult = &final
	s.mu.Unlock()

	slog.Info("policy sweep finished",
		"scanned", final.PoliciesScanned,
		"installments_overdue", final.InstallmentsDue,
		"lapsed", final.PoliciesLapsed,
		"expired", final.PoliciesExpired,
		"replaced", final.PoliciesReplaced,
		"errors", len(final.Errors))
	return final, nil
}

func (s *PolicySweepService) evaluatePolicy(ctx context.Context, id string, record func(func(r *models.SweepResult))) error {
	p, overdue, err := s.engine.EvaluateOverdue(ctx, id)
	if err != nil {
		return err
	}
	record(func(r *models.SweepResult) {
		r.InstallmentsDue += overdue.InstallmentsMarked
		if overdue.Lapsed {
			r.PoliciesLapsed++
		}
	})
	if p.Status == models.PolicyLapsed {
		return nil
	}

	_, expiry, err := s.engine.EvaluateExpiry(ctx, id)
	if err != nil {
		return err
	}
	record(func(r *models.SweepResult) {
		switch expiry {
		case ExpiryExpired:
			r.PoliciesExpired++
		case ExpiryReplaced:
			r.PoliciesReplaced++
		}
	})
	return nil
}

// LastResult returns the outcome of the most recent completed sweep.
func (s *PolicySweepService) LastResult() (models.SweepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResult == nil {
		return models.SweepResult{}, false
	}
	return *s.lastResult, true
}
