package services

import (
	"fmt"
	"slices"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// SCHEDULE GENERATION
// ============================================================================

// GenerateInstallments splits premium into the installments its frequency
// calls for. Each installment is premium/N truncated to whole currency units;
// the final one absorbs the remainder so the schedule sums to premium exactly.
// Due dates step from inception by 12/N months.
func GenerateInstallments(policyID string, premium decimal.Decimal, frequency models.PremiumFrequency, inceptionDate string) ([]models.Installment, error) {
	n := frequency.InstallmentCount()
	if n == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeValidationFailed,
			fmt.Sprintf("unknown premium frequency %q", frequency),
			map[string]string{"field": "premiumFrequency"})
	}
	if premium.IsNegative() {
		return nil, apperrors.WithMetadata(apperrors.CodeValidationFailed,
			"premium amount cannot be negative", map[string]string{"field": "premiumAmount"})
	}
	inception, err := utils.ParseBusinessDate(inceptionDate)
	if err != nil {
		return nil, apperrors.WithMetadata(apperrors.CodeValidationFailed, err.Error(),
			map[string]string{"field": "inceptionDate"})
	}

	count := decimal.NewFromInt(int64(n))
	share := premium.Div(count).Truncate(0)
	last := premium.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	step := 12 / n

	installments := make([]models.Installment, n)
	for i := range installments {
		amount := share
		if i == n-1 {
			amount = last
		}
		installments[i] = models.Installment{
			ID:       uuid.NewString(),
			PolicyID: policyID,
			Sequence: i + 1,
			DueDate:  utils.FormatBusinessDate(utils.AddMonths(inception, i*step)),
			Amount:   amount,
			Status:   models.InstallmentPending,
		}
	}
	return installments, nil
}

// ============================================================================
// LEDGER STATE
// ============================================================================

// isOwed reports whether the installment still carries money to collect.
// An unpaid installment reduced to zero by an endorsement owes nothing.
func isOwed(inst models.Installment) bool {
	return !inst.IsSettled() && inst.Amount.IsPositive()
}

// isPastDue reports whether an owed installment's due day has fully passed.
func isPastDue(inst models.Installment, now time.Time) bool {
	if !isOwed(inst) {
		return false
	}
	due, err := utils.ParseBusinessDate(inst.DueDate)
	if err != nil {
		return false
	}
	return due.Before(utils.StartOfDay(now))
}

// isBeyondGrace reports whether an owed installment is still unpaid grace
// after its due date.
func isBeyondGrace(inst models.Installment, now time.Time, grace time.Duration) bool {
	if !isOwed(inst) {
		return false
	}
	due, err := utils.ParseBusinessDate(inst.DueDate)
	if err != nil {
		return false
	}
	return due.Add(grace).Before(utils.StartOfDay(now))
}

// RecomputePaymentStatus derives paymentStatus and outstandingBalance from
// the ledger. Overdue wins over partial: a single owed installment past its
// due date marks the whole policy overdue. A ledger with nothing owed is paid
// only once something was actually paid.
func RecomputePaymentStatus(p *models.Policy, now time.Time) {
	paid, owed, overdue := 0, 0, false
	for _, inst := range p.Installments {
		switch {
		case inst.IsSettled():
			paid++
		case !isOwed(inst):
		case inst.Status == models.InstallmentOverdue || isPastDue(inst, now):
			owed++
			overdue = true
		default:
			owed++
		}
	}

	switch {
	case owed == 0 && paid > 0:
		p.PaymentStatus = models.PaymentPaid
	case overdue:
		p.PaymentStatus = models.PaymentOverdue
	case paid > 0:
		p.PaymentStatus = models.PaymentPartial
	default:
		p.PaymentStatus = models.PaymentPending
	}

	if p.PaymentStatus == models.PaymentPaid {
		p.OutstandingBalance = nil
		return
	}
	outstanding := p.UnpaidTotal()
	p.OutstandingBalance = &outstanding
}

// firstInstallment returns the index of the earliest scheduled installment.
func firstInstallment(p *models.Policy) int {
	if len(p.Installments) == 0 {
		return -1
	}
	first := 0
	for i, inst := range p.Installments {
		if inst.Sequence < p.Installments[first].Sequence {
			first = i
		}
	}
	return first
}

func nextInstallmentSequence(p *models.Policy) int {
	seq := 0
	for _, inst := range p.Installments {
		seq = max(seq, inst.Sequence)
	}
	return seq + 1
}

// ============================================================================
// PAYMENTS
// ============================================================================

// applyPayment settles one installment. It validates the payment against the
// ledger and leaves p untouched on failure.
func applyPayment(p *models.Policy, installmentID string, req models.RecordPaymentRequest, now time.Time) error {
	switch {
	case p.Status.IsTerminal():
		return closedPolicyError(p, "record payment")
	case p.Status == models.PolicyDraft:
		return apperrors.WithMetadata(apperrors.CodePaymentError,
			"payments cannot be recorded before the policy is issued",
			map[string]string{"policy_status": string(p.Status)})
	}

	idx := p.InstallmentIndex(installmentID)
	if idx < 0 {
		return apperrors.WithMetadata(apperrors.CodeUnknownInstallment,
			fmt.Sprintf("installment %s not found on policy %s", installmentID, p.ID),
			map[string]string{"installment_id": installmentID})
	}
	inst := p.Installments[idx]
	if inst.IsSettled() {
		return apperrors.WithMetadata(apperrors.CodeAlreadyPaid,
			fmt.Sprintf("installment %s is already paid", installmentID),
			map[string]string{"installment_id": installmentID})
	}

	paidDate, err := utils.ParseBusinessDate(req.PaidDate)
	if err != nil {
		return apperrors.WithMetadata(apperrors.CodePaymentError, err.Error(),
			map[string]string{"field": "paid_date"})
	}
	if paidDate.After(utils.StartOfDay(now)) {
		return apperrors.WithMetadata(apperrors.CodePaymentError, "paid date cannot be in the future",
			map[string]string{"field": "paid_date", "paid_date": req.PaidDate})
	}
	if req.Reference == "" {
		return apperrors.WithMetadata(apperrors.CodePaymentError, "payment reference is required",
			map[string]string{"field": "reference"})
	}
	if req.Amount != nil && !req.Amount.Equal(inst.Amount) {
		return apperrors.WithMetadata(apperrors.CodePaymentError,
			fmt.Sprintf("payment of %s does not match installment amount %s", req.Amount, inst.Amount),
			map[string]string{
				"expected_amount": inst.Amount.String(),
				"received_amount": req.Amount.String(),
			})
	}

	paid := utils.FormatBusinessDate(paidDate)
	reference := req.Reference
	inst.Status = models.InstallmentPaid
	inst.PaidDate = &paid
	inst.Reference = &reference
	p.Installments[idx] = inst

	appendTimelineEvent(p, now, models.EventPaymentReceived,
		fmt.Sprintf("Installment %d of %s paid (ref %s)", inst.Sequence, inst.Amount, reference),
		req.PerformedBy, &inst.ID, utils.JSONMap{"amount": inst.Amount.String(), "paid_date": paid})

	RecomputePaymentStatus(p, now)

	// settling the first installment puts an issued policy on cover
	if p.Status == models.PolicyPending && firstInstallment(p) == idx {
		applyTransition(p, models.PolicyActive, now, req.PerformedBy, "First installment received")
	}
	return nil
}

// ============================================================================
// OVERDUE TRACKING
// ============================================================================

// markInstallmentOverdue moves a pending installment to overdue once its due
// date has passed and records one Payment Overdue event for it. Calling it
// again is a no-op. It reports whether p changed.
func markInstallmentOverdue(p *models.Policy, installmentID string, now time.Time, actor string) (bool, error) {
	idx := p.InstallmentIndex(installmentID)
	if idx < 0 {
		return false, apperrors.WithMetadata(apperrors.CodeUnknownInstallment,
			fmt.Sprintf("installment %s not found on policy %s", installmentID, p.ID),
			map[string]string{"installment_id": installmentID})
	}
	inst := p.Installments[idx]
	if inst.IsSettled() {
		return false, apperrors.WithMetadata(apperrors.CodeAlreadyPaid,
			fmt.Sprintf("installment %s is already paid", installmentID),
			map[string]string{"installment_id": installmentID})
	}
	if !isOwed(inst) || (inst.Status == models.InstallmentPending && !isPastDue(inst, now)) {
		return false, nil
	}

	changed := false
	if inst.Status == models.InstallmentPending {
		p.Installments[idx].Status = models.InstallmentOverdue
		changed = true
	}
	if !p.HasEvent(models.EventPaymentOverdue, inst.ID) {
		appendTimelineEvent(p, now, models.EventPaymentOverdue,
			fmt.Sprintf("Installment %d of %s due %s is unpaid", inst.Sequence, inst.Amount, inst.DueDate),
			actor, &inst.ID, utils.JSONMap{"due_date": inst.DueDate, "amount": inst.Amount.String()})
		changed = true
	}
	if changed {
		RecomputePaymentStatus(p, now)
	}
	return changed, nil
}

// markPastDueInstallments runs markInstallmentOverdue over the whole ledger
// and returns how many installments changed.
func markPastDueInstallments(p *models.Policy, now time.Time, actor string) int {
	marked := 0
	for _, inst := range p.Installments {
		if !isPastDue(inst, now) {
			continue
		}
		if changed, err := markInstallmentOverdue(p, inst.ID, now, actor); err == nil && changed {
			marked++
		}
	}
	return marked
}

// lapsableInstallment returns the first unpaid installment overdue beyond
// the grace period, or -1.
func lapsableInstallment(p *models.Policy, now time.Time, grace time.Duration) int {
	candidates := make([]int, 0, len(p.Installments))
	for i, inst := range p.Installments {
		if isBeyondGrace(inst, now, grace) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	return slices.MinFunc(candidates, func(a, b int) int {
		return p.Installments[a].Sequence - p.Installments[b].Sequence
	})
}

// ============================================================================
// REDISTRIBUTION
// ============================================================================

// redistributeUnpaid spreads premium minus the settled total across the
// unpaid installments in proportion to their current amounts, to the cent,
// with the rounding remainder on the last one. Settled installments are never
// touched. With nothing left unpaid, a positive balance becomes a new
// installment due on dueDate.
func redistributeUnpaid(p *models.Policy, dueDate string) {
	target := p.PremiumAmount.Sub(p.PaidTotal())
	if target.IsNegative() {
		target = decimal.Zero
	}

	var unpaid []int
	for i, inst := range p.Installments {
		if !inst.IsSettled() {
			unpaid = append(unpaid, i)
		}
	}
	slices.SortFunc(unpaid, func(a, b int) int {
		return p.Installments[a].Sequence - p.Installments[b].Sequence
	})

	if len(unpaid) == 0 {
		if target.IsPositive() {
			p.Installments = append(p.Installments, models.Installment{
				ID:       uuid.NewString(),
				PolicyID: p.ID,
				Sequence: nextInstallmentSequence(p),
				DueDate:  dueDate,
				Amount:   target,
				Status:   models.InstallmentPending,
			})
		}
		return
	}

	current := decimal.Zero
	for _, i := range unpaid {
		current = current.Add(p.Installments[i].Amount)
	}

	allocated := decimal.Zero
	for k, i := range unpaid {
		if k == len(unpaid)-1 {
			p.Installments[i].Amount = target.Sub(allocated)
			break
		}
		var share decimal.Decimal
		if current.IsPositive() {
			share = target.Mul(p.Installments[i].Amount).Div(current).Truncate(2)
		} else {
			share = target.Div(decimal.NewFromInt(int64(len(unpaid)))).Truncate(2)
		}
		p.Installments[i].Amount = share
		allocated = allocated.Add(share)
	}

	for _, i := range unpaid {
		if p.Installments[i].Status == models.InstallmentOverdue && !isOwed(p.Installments[i]) {
			p.Installments[i].Status = models.InstallmentPending
		}
	}
}

// dropUnpaidAfter removes unpaid installments due strictly after date and
// returns how many were removed.
func dropUnpaidAfter(p *models.Policy, date time.Time) int {
	before := len(p.Installments)
	p.Installments = slices.DeleteFunc(p.Installments, func(inst models.Installment) bool {
		if inst.IsSettled() {
			return false
		}
		due, err := utils.ParseBusinessDate(inst.DueDate)
		return err == nil && due.After(date)
	})
	return before - len(p.Installments)
}
