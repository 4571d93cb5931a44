package services

import (
	"context"
	"fmt"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	"policy-lifecycle-service/internal/repository"
	utils "policy-lifecycle-service/internal/utils"
)

const DefaultRenewalChainMaxDepth = 64

// RenewalChainResolver walks previousPolicyId links. The links are weak: a
// missing ancestor ends the chain rather than failing it.
type RenewalChainResolver struct {
	store    repository.PolicyStore
	maxDepth int
}

func NewRenewalChainResolver(store repository.PolicyStore, maxDepth int) *RenewalChainResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultRenewalChainMaxDepth
	}
	return &RenewalChainResolver{store: store, maxDepth: maxDepth}
}

func cycleDetected(message string, metadata map[string]string) error {
	return apperrors.WithMetadata(apperrors.CodeCycleDetected, message, metadata)
}

// CheckLink verifies that making newID a renewal of oldID keeps the chain
// acyclic: walking back from oldID must neither reach newID nor run past the
// depth bound.
func (r *RenewalChainResolver) CheckLink(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return cycleDetected("a policy cannot renew itself", map[string]string{"policy_id": oldID})
	}

	visited := make(map[string]bool)
	cur := oldID
	for depth := 0; cur != ""; depth++ {
		if depth == r.maxDepth {
			return cycleDetected(
				fmt.Sprintf("renewal chain from %s exceeds %d links", oldID, r.maxDepth),
				map[string]string{"policy_id": oldID, "max_depth": fmt.Sprint(r.maxDepth)})
		}
		if cur == newID || visited[cur] {
			return cycleDetected(
				fmt.Sprintf("linking %s -> %s would make the renewal chain reference itself", oldID, newID),
				map[string]string{"old_policy_id": oldID, "new_policy_id": newID, "repeated_policy_id": cur})
		}
		visited[cur] = true

		p, err := r.store.GetByID(ctx, cur)
		if err != nil {
			if depth > 0 && apperrors.CodeOf(err) == apperrors.CodeNotFound {
				return nil
			}
			return err
		}
		if p.PreviousPolicyID == nil {
			return nil
		}
		cur = *p.PreviousPolicyID
	}
	return nil
}

// ActiveSuccessor returns the id of an active policy renewing id, or "".
func (r *RenewalChainResolver) ActiveSuccessor(ctx context.Context, id string) (string, error) {
	successors, err := r.store.FindSuccessors(ctx, id)
	if err != nil {
		return "", err
	}
	for _, s := range successors {
		if s.Status == models.PolicyActive {
			return s.ID, nil
		}
	}
	return "", nil
}

// Chain returns the full lineage id belongs to, newest first. It first walks
// forward through successors to the newest renewal, then back through
// previousPolicyId links.
func (r *RenewalChainResolver) Chain(ctx context.Context, id string) ([]models.RenewalChainLink, error) {
	start, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	newest := start
	seen := map[string]bool{start.ID: true}
	for depth := 0; ; depth++ {
		if depth == r.maxDepth {
			return nil, cycleDetected(fmt.Sprintf("renewal chain from %s exceeds %d links", id, r.maxDepth),
				map[string]string{"policy_id": id, "max_depth": fmt.Sprint(r.maxDepth)})
		}
		successors, err := r.store.FindSuccessors(ctx, newest.ID)
		if err != nil {
			return nil, err
		}
		if len(successors) == 0 {
			break
		}
		// the most recently created successor continues the lineage
		next := successors[len(successors)-1]
		if seen[next.ID] {
			return nil, cycleDetected(fmt.Sprintf("renewal chain through %s references itself", next.ID),
				map[string]string{"policy_id": id, "repeated_policy_id": next.ID})
		}
		seen[next.ID] = true
		newest = next
	}

	var chain []models.RenewalChainLink
	visited := make(map[string]bool)
	cur := newest
	for depth := 0; cur != nil; depth++ {
		if depth == r.maxDepth {
			return nil, cycleDetected(fmt.Sprintf("renewal chain from %s exceeds %d links", id, r.maxDepth),
				map[string]string{"policy_id": id, "max_depth": fmt.Sprint(r.maxDepth)})
		}
		if visited[cur.ID] {
			return nil, cycleDetected(fmt.Sprintf("renewal chain through %s references itself", cur.ID),
				map[string]string{"policy_id": id, "repeated_policy_id": cur.ID})
		}
		visited[cur.ID] = true
		chain = append(chain, models.RenewalChainLink{
			PolicyID:     cur.ID,
			PolicyNumber: cur.PolicyNumber,
			Status:       cur.Status,
			ExpiryDate:   cur.ExpiryDate,
			IsRenewal:    cur.IsRenewal,
		})

		if cur.PreviousPolicyID == nil {
			break
		}
		prev, err := r.store.GetByID(ctx, *cur.PreviousPolicyID)
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			break
		}
		if err != nil {
			return nil, err
		}
		cur = prev
	}
	return chain, nil
}

// ============================================================================
// AGGREGATE MUTATIONS
// ============================================================================

// linkRenewal marks p as the renewal of oldID. Relinking to the same
// predecessor is a no-op; it reports whether p changed.
func linkRenewal(p *models.Policy, oldID string, now time.Time, actor string) (bool, error) {
	if p.Status.IsTerminal() {
		return false, closedPolicyError(p, "link renewal")
	}
	if p.PreviousPolicyID != nil {
		if *p.PreviousPolicyID == oldID {
			return false, nil
		}
		return false, apperrors.WithMetadata(apperrors.CodeValidationFailed,
			fmt.Sprintf("policy %s already renews %s", p.ID, *p.PreviousPolicyID),
			map[string]string{"previous_policy_id": *p.PreviousPolicyID})
	}

	prev := oldID
	p.PreviousPolicyID = &prev
	p.IsRenewal = true
	appendTimelineEvent(p, now, models.EventRenewalLinked,
		fmt.Sprintf("Linked as renewal of policy %s", oldID), actor, &prev, nil)
	return true, nil
}

// cancelPolicy closes p with the given reason. Unpaid installments due after
// the cancellation date are dropped; settled installments and the earned
// commission stay as they are.
func cancelPolicy(p *models.Policy, req models.CancelPolicyRequest, now time.Time) error {
	if p.Status.IsTerminal() {
		return closedPolicyError(p, "cancel")
	}
	if !isPolicyTransitionAllowed(p.Status, models.PolicyCancelled) {
		return invalidTransition(p.Status, models.PolicyCancelled, "only pending, active or suspended policies can be cancelled")
	}
	if !req.Reason.IsValid() {
		return apperrors.WithMetadata(apperrors.CodeValidationFailed,
			fmt.Sprintf("unknown cancellation reason %q", req.Reason), map[string]string{"field": "reason"})
	}
	date, err := utils.ParseBusinessDate(req.Date)
	if err != nil {
		return apperrors.WithMetadata(apperrors.CodeValidationFailed, err.Error(), map[string]string{"field": "date"})
	}

	cancellationDate := utils.FormatBusinessDate(date)
	reason := req.Reason
	p.CancellationDate = &cancellationDate
	p.CancellationReason = &reason
	if req.Notes != "" {
		notes := req.Notes
		p.CancellationNotes = &notes
	}

	dropped := dropUnpaidAfter(p, date)
	RecomputePaymentStatus(p, now)

	description := fmt.Sprintf("Cancelled (%s) effective %s", reason, cancellationDate)
	if dropped > 0 {
		description += fmt.Sprintf("; %d future installment(s) withdrawn", dropped)
	}
	applyTransition(p, models.PolicyCancelled, now, req.PerformedBy, description)
	return nil
}

// ExpiryOutcome is what an expiry evaluation did to a policy.
type ExpiryOutcome string

const (
	ExpiryNone     ExpiryOutcome = "none"
	ExpiryExpired  ExpiryOutcome = "expired"
	ExpiryReplaced ExpiryOutcome = "replaced"
)

// resolveExpiry closes a policy whose expiry date has been reached. With an
// active renewal it is cancelled as replaced; otherwise it expires.
func resolveExpiry(p *models.Policy, activeSuccessorID string, now time.Time) (ExpiryOutcome, error) {
	if !isPolicyTransitionAllowed(p.Status, models.PolicyExpired) {
		return ExpiryNone, nil
	}
	expiry, err := utils.ParseBusinessDate(p.ExpiryDate)
	if err != nil || now.Before(expiry) {
		return ExpiryNone, nil
	}

	if activeSuccessorID != "" {
		err := cancelPolicy(p, models.CancelPolicyRequest{
			Reason:      models.CancelReplaced,
			Date:        p.ExpiryDate,
			Notes:       "Replaced by renewal policy " + activeSuccessorID,
			PerformedBy: models.SystemActor,
		}, now)
		if err != nil {
			return ExpiryNone, err
		}
		return ExpiryReplaced, nil
	}

	applyTransition(p, models.PolicyExpired, now, models.SystemActor,
		fmt.Sprintf("Cover ended on %s", p.ExpiryDate))
	return ExpiryExpired, nil
}
