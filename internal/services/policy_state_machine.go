package services

import (
	"fmt"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/google/uuid"
)

// isPolicyTransitionAllowed reports whether the lifecycle has an edge from
// one status to another. Guards on top of the edge are checked separately.
func isPolicyTransitionAllowed(from, to models.PolicyStatus) bool {
	switch from {
	case models.PolicyDraft:
		return to == models.PolicyPending
	case models.PolicyPending:
		return to == models.PolicyActive || to == models.PolicyCancelled || to == models.PolicyExpired
	case models.PolicyActive:
		return to == models.PolicySuspended || to == models.PolicyLapsed ||
			to == models.PolicyCancelled || to == models.PolicyExpired
	case models.PolicySuspended:
		return to == models.PolicyActive || to == models.PolicyLapsed ||
			to == models.PolicyCancelled || to == models.PolicyExpired
	default:
		// lapsed, cancelled and expired have no outgoing edges
		return false
	}
}

func invalidTransition(from, to models.PolicyStatus, reason string) error {
	return apperrors.WithMetadata(
		apperrors.CodeInvalidTransition,
		fmt.Sprintf("policy status transition not allowed: %s -> %s: %s", from, to, reason),
		map[string]string{"from_status": string(from), "to_status": string(to)},
	)
}

// transitionGuard carries the facts a guarded edge needs beyond the policy.
type transitionGuard struct {
	now               time.Time
	gracePeriod       time.Duration
	activeSuccessorID string
}

// checkTransition validates a requested status change without mutating p.
// Cancellation is reachable only through the cancel command.
func checkTransition(p *models.Policy, to models.PolicyStatus, g transitionGuard) error {
	if !to.IsValid() {
		return apperrors.WithMetadata(apperrors.CodeValidationFailed,
			fmt.Sprintf("unknown policy status %q", to), map[string]string{"field": "status"})
	}
	if p.Status.IsTerminal() {
		return invalidTransition(p.Status, to, "policy is closed")
	}
	if !isPolicyTransitionAllowed(p.Status, to) {
		return invalidTransition(p.Status, to, "no such lifecycle edge")
	}

	switch to {
	case models.PolicyPending:
		if p.IssueDate == "" {
			return invalidTransition(p.Status, to, "issue date is required")
		}
		if _, err := utils.ParseBusinessDate(p.IssueDate); err != nil {
			return invalidTransition(p.Status, to, "issue date is malformed")
		}
	case models.PolicyActive:
		if p.Status == models.PolicyPending {
			if idx := firstInstallment(p); idx >= 0 && !p.Installments[idx].IsSettled() {
				return invalidTransition(p.Status, to, "first installment is not paid")
			}
		}
	case models.PolicyLapsed:
		if lapsableInstallment(p, g.now, g.gracePeriod) < 0 {
			return invalidTransition(p.Status, to, "no installment is overdue beyond the grace period")
		}
	case models.PolicyExpired:
		expiry, err := utils.ParseBusinessDate(p.ExpiryDate)
		if err != nil || g.now.Before(expiry) {
			return invalidTransition(p.Status, to, "expiry date has not been reached")
		}
		if g.activeSuccessorID != "" {
			return invalidTransition(p.Status, to, "policy was renewed by "+g.activeSuccessorID)
		}
	case models.PolicyCancelled:
		return invalidTransition(p.Status, to, "use the cancel command")
	}
	return nil
}

// transitionEventName names the timeline entry for an edge.
func transitionEventName(from, to models.PolicyStatus) string {
	switch to {
	case models.PolicyPending:
		return models.EventPolicyIssued
	case models.PolicyActive:
		if from == models.PolicySuspended {
			return models.EventPolicyReinstated
		}
		return models.EventPolicyActivated
	case models.PolicySuspended:
		return models.EventPolicySuspended
	case models.PolicyLapsed:
		return models.EventPolicyLapsed
	case models.PolicyCancelled:
		return models.EventPolicyCancelled
	case models.PolicyExpired:
		return models.EventPolicyExpired
	}
	return "Status Changed"
}

// applyTransition sets the new status and records it on the timeline. The
// caller has already validated the edge.
func applyTransition(p *models.Policy, to models.PolicyStatus, now time.Time, actor, description string) {
	from := p.Status
	p.Status = to
	if description == "" {
		description = fmt.Sprintf("Status changed from %s to %s", from, to)
	}
	appendTimelineEvent(p, now, transitionEventName(from, to), description, actor, &p.ID,
		utils.JSONMap{"from_status": string(from), "to_status": string(to)})
}

// lapsePolicy records the overdue installment that triggered the lapse (once)
// and then the lapse itself, in that order.
func lapsePolicy(p *models.Policy, now time.Time, grace time.Duration, actor string) error {
	idx := lapsableInstallment(p, now, grace)
	if idx < 0 {
		return invalidTransition(p.Status, models.PolicyLapsed, "no installment is overdue beyond the grace period")
	}
	inst := p.Installments[idx]
	if _, err := markInstallmentOverdue(p, inst.ID, now, actor); err != nil {
		return err
	}
	applyTransition(p, models.PolicyLapsed, now, actor,
		fmt.Sprintf("Installment %d due %s unpaid beyond %d day grace period",
			inst.Sequence, inst.DueDate, int(grace.Hours()/24)))
	return nil
}

func appendTimelineEvent(p *models.Policy, now time.Time, event, description, actor string, relatedID *string, metadata utils.JSONMap) {
	if actor == "" {
		actor = models.SystemActor
	}
	var related *string
	if relatedID != nil {
		id := *relatedID
		related = &id
	}
	seq := 0
	for _, e := range p.Timeline {
		seq = max(seq, e.Sequence)
	}
	p.Timeline = append(p.Timeline, models.TimelineEvent{
		ID:          uuid.NewString(),
		PolicyID:    p.ID,
		Sequence:    seq + 1,
		Date:        now,
		Event:       event,
		Description: description,
		PerformedBy: actor,
		RelatedID:   related,
		Metadata:    metadata,
	})
}

// closedPolicyError rejects any mutation of an expired or cancelled policy.
func closedPolicyError(p *models.Policy, operation string) error {
	return apperrors.WithMetadata(
		apperrors.CodeInvalidTransition,
		fmt.Sprintf("policy %s is %s; %s is not allowed", p.ID, p.Status, operation),
		map[string]string{"from_status": string(p.Status), "operation": operation},
	)
}
