package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	"policy-lifecycle-service/internal/repository"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/google/uuid"
)

const DefaultGracePeriod = 30 * 24 * time.Hour

// LifecycleEventPublisher receives the timeline entries of every committed
// operation. Publishing happens after the policy lock is released and its
// failures never undo the commit.
type LifecycleEventPublisher interface {
	PublishLifecycleEvents(ctx context.Context, events []models.LifecycleEvent) error
}

// PolicyEngine is the single entry point for policy mutations. Every mutation
// runs under a per-policy lock against a private clone; the clone replaces
// the stored aggregate only when the store accepts it, so a failed operation
// leaves no trace.
type PolicyEngine struct {
	store       repository.PolicyStore
	renewals    *RenewalChainResolver
	publisher   LifecycleEventPublisher
	locks       *policyLocks
	linkMu      sync.Mutex
	now         func() time.Time
	gracePeriod time.Duration
	maxDepth    int

	archive       ArchiveStorage
	archiveBucket string
}

type EngineOption func(*PolicyEngine)

func WithClock(now func() time.Time) EngineOption {
	return func(e *PolicyEngine) { e.now = now }
}

func WithGracePeriodDays(days int) EngineOption {
	return func(e *PolicyEngine) { e.gracePeriod = time.Duration(max(days, 0)) * 24 * time.Hour }
}

func WithRenewalChainMaxDepth(depth int) EngineOption {
	return func(e *PolicyEngine) { e.maxDepth = depth }
}

func WithEventPublisher(publisher LifecycleEventPublisher) EngineOption {
	return func(e *PolicyEngine) { e.publisher = publisher }
}

func NewPolicyEngine(store repository.PolicyStore, opts ...EngineOption) *PolicyEngine {
	e := &PolicyEngine{
		store:       store,
		locks:       newPolicyLocks(),
		now:         time.Now,
		gracePeriod: DefaultGracePeriod,
		maxDepth:    DefaultRenewalChainMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.renewals = NewRenewalChainResolver(store, e.maxDepth)
	return e
}

func (e *PolicyEngine) clock() time.Time {
	return e.now().UTC()
}

// ============================================================================
// MUTATION PIPELINE
// ============================================================================

// mutation edits p in place and reports whether anything changed.
type mutation func(p *models.Policy, now time.Time) (bool, error)

func (e *PolicyEngine) mutate(ctx context.Context, id, operation string, fn mutation) (*models.Policy, error) {
	unlock := e.locks.Lock(id)

	current, err := e.store.GetByID(ctx, id)
	if err != nil {
		unlock()
		return nil, err
	}

	now := e.clock()
	work := current.Clone()
	before := len(work.Timeline)

	changed, err := fn(work, now)
	if err != nil {
		unlock()
		e.logRejection(operation, id, err)
		return nil, err
	}
	if !changed {
		unlock()
		current.RefreshDaysToExpiry(now)
		return current, nil
	}

	work.UpdatedAt = now
	if err := e.store.Save(ctx, work); err != nil {
		unlock()
		e.logRejection(operation, id, err)
		return nil, err
	}
	unlock()

	slog.Info("policy updated", "operation", operation, "policy_id", id,
		"status", work.Status, "version", work.Version)
	e.publish(ctx, work, work.Timeline[before:])

	work.RefreshDaysToExpiry(now)
	return work, nil
}

func (e *PolicyEngine) logRejection(operation, id string, err error) {
	if code := apperrors.CodeOf(err); code != apperrors.CodeUnknown && code != apperrors.CodeInternal {
		slog.Warn("policy operation rejected", "operation", operation, "policy_id", id, "code", code, "error", err)
		return
	}
	slog.Error("policy operation failed", "operation", operation, "policy_id", id, "error", err)
}

func (e *PolicyEngine) publish(ctx context.Context, p *models.Policy, timeline []models.TimelineEvent) {
	if e.publisher == nil || len(timeline) == 0 {
		return
	}

	events := make([]models.LifecycleEvent, len(timeline))
	for i, t := range timeline {
		events[i] = models.LifecycleEvent{
			EventID:      t.ID,
			PolicyID:     p.ID,
			PolicyNumber: p.PolicyNumber,
			ClientID:     p.ClientID,
			Event:        t.Event,
			Description:  t.Description,
			Status:       p.Status,
			RelatedID:    t.RelatedID,
			PerformedBy:  t.PerformedBy,
			OccurredAt:   t.Date,
			Version:      p.Version,
		}
	}
	if err := e.publisher.PublishLifecycleEvents(ctx, events); err != nil {
		slog.Warn("failed to publish lifecycle events", "policy_id", p.ID, "count", len(events), "error", err)
	}
}

// ============================================================================
// CREATE AND READ
// ============================================================================

// Create validates a draft, schedules its installments and stores it.
func (e *PolicyEngine) Create(ctx context.Context, draft *models.Policy, actor string) (*models.Policy, error) {
	if draft == nil {
		return nil, validationFailed("policy", "policy body is required")
	}
	p := draft.Clone()
	if err := validateDraft(p); err != nil {
		return nil, err
	}

	now := e.clock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.PolicyType == "" {
		p.PolicyType = models.PolicyTypeNonLife
		if p.InsuranceType == models.InsuranceLife {
			p.PolicyType = models.PolicyTypeLife
		}
	}
	if p.CommissionStatus == "" {
		p.CommissionStatus = models.CommissionPending
	}

	if p.PreviousPolicyID != nil {
		if _, err := e.store.GetByID(ctx, *p.PreviousPolicyID); err != nil {
			return nil, err
		}
		p.IsRenewal = true
	}

	installments, err := GenerateInstallments(p.ID, p.PremiumAmount, p.PremiumFrequency, p.InceptionDate)
	if err != nil {
		return nil, err
	}
	p.Status = models.PolicyDraft
	p.Installments = installments
	p.Endorsements = []models.Endorsement{}
	p.Timeline = []models.TimelineEvent{}
	p.CommissionAmount = commissionFor(p.PremiumAmount, p.CommissionRate)
	p.ArchivedAt = nil
	p.CancellationDate, p.CancellationReason, p.CancellationNotes = nil, nil, nil
	for i := range p.Documents {
		p.Documents[i].PolicyID = p.ID
		if p.Documents[i].ID == "" {
			p.Documents[i].ID = uuid.NewString()
		}
		if p.Documents[i].UploadedAt.IsZero() {
			p.Documents[i].UploadedAt = now
		}
	}
	RecomputePaymentStatus(p, now)

	appendTimelineEvent(p, now, models.EventPolicyCreated,
		fmt.Sprintf("%s policy drafted with %d installment(s)", p.InsuranceType, len(p.Installments)),
		actor, &p.ID, nil)

	p.Version = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := e.store.Create(ctx, p); err != nil {
		e.logRejection("create", p.ID, err)
		return nil, err
	}

	slog.Info("policy created", "policy_id", p.ID, "client_id", p.ClientID,
		"insurance_type", p.InsuranceType, "installments", len(p.Installments))
	e.publish(ctx, p, p.Timeline)

	p.RefreshDaysToExpiry(now)
	return p, nil
}

func validationFailed(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeValidationFailed, message, map[string]string{"field": field})
}

func validateDraft(p *models.Policy) error {
	if p.Status != "" && p.Status != models.PolicyDraft {
		return validationFailed("status", "new policies start as draft")
	}
	if p.PolicyNumber != "" {
		if err := utils.ValidatePolicyNumber(p.PolicyNumber); err != nil {
			return validationFailed("policyNumber", err.Error())
		}
	}
	if !p.InsuranceType.IsValid() {
		return validationFailed("insuranceType", fmt.Sprintf("unknown insurance type %q", p.InsuranceType))
	}
	if p.PolicyType != "" && !p.PolicyType.IsValid() {
		return validationFailed("policyType", fmt.Sprintf("unknown policy type %q", p.PolicyType))
	}
	if p.ClientID == "" {
		return validationFailed("clientId", "client id is required")
	}

	inception, err := utils.ParseBusinessDate(p.InceptionDate)
	if err != nil {
		return validationFailed("inceptionDate", err.Error())
	}
	expiry, err := utils.ParseBusinessDate(p.ExpiryDate)
	if err != nil {
		return validationFailed("expiryDate", err.Error())
	}
	if !expiry.After(inception) {
		return validationFailed("expiryDate", "expiry date must be after inception date")
	}
	if p.IssueDate != "" {
		if _, err := utils.ParseBusinessDate(p.IssueDate); err != nil {
			return validationFailed("issueDate", err.Error())
		}
	}

	if p.PremiumAmount.IsNegative() {
		return validationFailed("premiumAmount", "premium amount cannot be negative")
	}
	if p.SumInsured.IsNegative() {
		return validationFailed("sumInsured", "sum insured cannot be negative")
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(hundred) {
		return validationFailed("commissionRate", "commission rate must be between 0 and 100")
	}
	if p.PremiumFrequency.InstallmentCount() == 0 {
		return validationFailed("premiumFrequency", fmt.Sprintf("unknown premium frequency %q", p.PremiumFrequency))
	}

	if kind := p.Details.Kind(); kind != models.LineKindNone && kind != models.ExpectedLineKind(p.InsuranceType) {
		return validationFailed("lineDetails",
			fmt.Sprintf("%s details do not belong on a %s policy", kind, p.InsuranceType))
	}
	return nil
}

func (e *PolicyEngine) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	p, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.RefreshDaysToExpiry(e.clock())
	return p, nil
}

func (e *PolicyEngine) ListByClient(ctx context.Context, clientID string) ([]*models.Policy, error) {
	policies, err := e.store.ListByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	for _, p := range policies {
		p.RefreshDaysToExpiry(now)
	}
	return policies, nil
}

func (e *PolicyEngine) RenewalChain(ctx context.Context, id string) ([]models.RenewalChainLink, error) {
	return e.renewals.Chain(ctx, id)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Transition moves a policy along a lifecycle edge. Cancellation has its own
// command; expiry is refused while an active renewal exists.
func (e *PolicyEngine) Transition(ctx context.Context, id string, req models.TransitionRequest) (*models.Policy, error) {
	return e.mutate(ctx, id, "transition", func(p *models.Policy, now time.Time) (bool, error) {
		guard := transitionGuard{gracePeriod: e.gracePeriod, now: now}
		if req.Status == models.PolicyExpired {
			successor, err := e.renewals.ActiveSuccessor(ctx, id)
			if err != nil {
				return false, err
			}
			guard.activeSuccessorID = successor
		}
		if err := checkTransition(p, req.Status, guard); err != nil {
			return false, err
		}
		if req.Status == models.PolicyLapsed {
			return true, lapsePolicy(p, now, e.gracePeriod, req.PerformedBy)
		}
		applyTransition(p, req.Status, now, req.PerformedBy, req.Notes)
		return true, nil
	})
}

func (e *PolicyEngine) Cancel(ctx context.Context, id string, req models.CancelPolicyRequest) (*models.Policy, error) {
	return e.mutate(ctx, id, "cancel", func(p *models.Policy, now time.Time) (bool, error) {
		return true, cancelPolicy(p, req, now)
	})
}

// OverdueOutcome reports what an overdue evaluation changed.
type OverdueOutcome struct {
	InstallmentsMarked int  `json:"installments_marked"`
	Lapsed             bool `json:"lapsed"`
}

// EvaluateOverdue marks every past-due installment overdue and lapses an
// active or suspended policy holding an installment unpaid beyond grace.
func (e *PolicyEngine) EvaluateOverdue(ctx context.Context, id string) (*models.Policy, OverdueOutcome, error) {
	var outcome OverdueOutcome
	p, err := e.mutate(ctx, id, "evaluate_overdue", func(p *models.Policy, now time.Time) (bool, error) {
		outcome = OverdueOutcome{}
		if p.Status.IsTerminal() || p.Status == models.PolicyDraft {
			return false, nil
		}
		outcome.InstallmentsMarked = markPastDueInstallments(p, now, models.SystemActor)
		if isPolicyTransitionAllowed(p.Status, models.PolicyLapsed) && lapsableInstallment(p, now, e.gracePeriod) >= 0 {
			if err := lapsePolicy(p, now, e.gracePeriod, models.SystemActor); err != nil {
				return false, err
			}
			outcome.Lapsed = true
		}
		return outcome.Lapsed || outcome.InstallmentsMarked > 0, nil
	})
	return p, outcome, err
}

// EvaluateExpiry closes a policy whose expiry date has been reached. The
// renewal lookup runs under the policy lock so the successor it sees is the
// one the decision is committed against.
func (e *PolicyEngine) EvaluateExpiry(ctx context.Context, id string) (*models.Policy, ExpiryOutcome, error) {
	outcome := ExpiryNone
	p, err := e.mutate(ctx, id, "evaluate_expiry", func(p *models.Policy, now time.Time) (bool, error) {
		outcome = ExpiryNone
		var successor string
		if isPolicyTransitionAllowed(p.Status, models.PolicyExpired) {
			found, err := e.renewals.ActiveSuccessor(ctx, id)
			if err != nil {
				return false, err
			}
			successor = found
		}
		var err error
		outcome, err = resolveExpiry(p, successor, now)
		return outcome != ExpiryNone, err
	})
	return p, outcome, err
}

// ============================================================================
// LEDGER
// ============================================================================

func (e *PolicyEngine) RecordPayment(ctx context.Context, id, installmentID string, req models.RecordPaymentRequest) (*models.Policy, error) {
	return e.mutate(ctx, id, "record_payment", func(p *models.Policy, now time.Time) (bool, error) {
		return true, applyPayment(p, installmentID, req, now)
	})
}

func (e *PolicyEngine) MarkOverdue(ctx context.Context, id, installmentID, actor string) (*models.Policy, error) {
	return e.mutate(ctx, id, "mark_overdue", func(p *models.Policy, now time.Time) (bool, error) {
		if p.Status.IsTerminal() {
			return false, closedPolicyError(p, "mark overdue")
		}
		return markInstallmentOverdue(p, installmentID, now, actor)
	})
}

// ============================================================================
// ENDORSEMENTS
// ============================================================================

func (e *PolicyEngine) ProposeEndorsement(ctx context.Context, id string, req models.ProposeEndorsementRequest) (*models.Endorsement, error) {
	var proposed *models.Endorsement
	_, err := e.mutate(ctx, id, "propose_endorsement", func(p *models.Policy, now time.Time) (bool, error) {
		var err error
		proposed, err = proposeEndorsement(p, req, now)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	return proposed, nil
}

func (e *PolicyEngine) ApproveEndorsement(ctx context.Context, id, endorsementID, actor string) (*models.Policy, error) {
	return e.mutate(ctx, id, "approve_endorsement", func(p *models.Policy, now time.Time) (bool, error) {
		return true, approveEndorsement(p, endorsementID, now, actor)
	})
}

// ApproveEndorsements approves several endorsements in effective-date order,
// ties broken by creation time. Either all of them apply or none does.
func (e *PolicyEngine) ApproveEndorsements(ctx context.Context, id string, endorsementIDs []string, actor string) (*models.Policy, error) {
	return e.mutate(ctx, id, "approve_endorsements", func(p *models.Policy, now time.Time) (bool, error) {
		for _, endorsementID := range orderForApproval(p, endorsementIDs) {
			if err := approveEndorsement(p, endorsementID, now, actor); err != nil {
				return false, err
			}
		}
		return len(endorsementIDs) > 0, nil
	})
}

// ============================================================================
// RENEWALS
// ============================================================================

// LinkRenewal records newID as the renewal of oldID. Only the new policy is
// written. Links are serialized among themselves so two concurrent links
// cannot close a cycle between them.
func (e *PolicyEngine) LinkRenewal(ctx context.Context, req models.LinkRenewalRequest) (*models.Policy, error) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()

	if _, err := e.store.GetByID(ctx, req.OldPolicyID); err != nil {
		return nil, err
	}
	if err := e.renewals.CheckLink(ctx, req.OldPolicyID, req.NewPolicyID); err != nil {
		e.logRejection("link_renewal", req.NewPolicyID, err)
		return nil, err
	}

	return e.mutate(ctx, req.NewPolicyID, "link_renewal", func(p *models.Policy, now time.Time) (bool, error) {
		return linkRenewal(p, req.OldPolicyID, now, req.PerformedBy)
	})
}
