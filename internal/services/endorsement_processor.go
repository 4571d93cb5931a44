package services

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// commissionFor is premium × rate / 100 to the cent.
func commissionFor(premium, rate decimal.Decimal) decimal.Decimal {
	return premium.Mul(rate).Div(hundred).Round(2)
}

// proposeEndorsement appends a pending endorsement. Nothing financial changes
// until it is approved.
func proposeEndorsement(p *models.Policy, req models.ProposeEndorsementRequest, now time.Time) (*models.Endorsement, error) {
	if p.Status.IsTerminal() {
		return nil, closedPolicyError(p, "propose endorsement")
	}
	if !req.Type.IsValid() {
		return nil, apperrors.WithMetadata(apperrors.CodeValidationFailed,
			fmt.Sprintf("unknown endorsement type %q", req.Type), map[string]string{"field": "type"})
	}
	effective, err := utils.ParseBusinessDate(req.EffectiveDate)
	if err != nil {
		return nil, apperrors.WithMetadata(apperrors.CodeValidationFailed, err.Error(),
			map[string]string{"field": "effective_date"})
	}

	endorsement := models.Endorsement{
		ID:                uuid.NewString(),
		PolicyID:          p.ID,
		Type:              req.Type,
		Status:            models.EndorsementPending,
		EffectiveDate:     utils.FormatBusinessDate(effective),
		PremiumAdjustment: req.PremiumAdjustment,
		Description:       req.Description,
		CreatedAt:         now,
	}
	p.Endorsements = append(p.Endorsements, endorsement)

	appendTimelineEvent(p, now, models.EventEndorsementProposed,
		fmt.Sprintf("%s endorsement proposed with premium adjustment %s", endorsement.Type, endorsement.PremiumAdjustment),
		req.PerformedBy, &endorsement.ID, utils.JSONMap{
			"type":               string(endorsement.Type),
			"effective_date":     endorsement.EffectiveDate,
			"premium_adjustment": endorsement.PremiumAdjustment.String(),
		})
	return &endorsement, nil
}

// approveEndorsement applies one pending endorsement: the premium moves by the
// adjustment, commission is recomputed from the new premium and the unpaid
// balance is spread back over the unpaid installments.
func approveEndorsement(p *models.Policy, endorsementID string, now time.Time, actor string) error {
	if p.Status.IsTerminal() {
		return closedPolicyError(p, "approve endorsement")
	}
	idx := p.EndorsementIndex(endorsementID)
	if idx < 0 {
		return apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("endorsement %s not found on policy %s", endorsementID, p.ID),
			map[string]string{"endorsement_id": endorsementID})
	}
	e := p.Endorsements[idx]
	if e.Status == models.EndorsementApproved {
		return apperrors.WithMetadata(apperrors.CodeAlreadyApproved,
			fmt.Sprintf("endorsement %s is already approved", endorsementID),
			map[string]string{"endorsement_id": endorsementID})
	}

	previousPremium := p.PremiumAmount
	newPremium := previousPremium.Add(e.PremiumAdjustment)
	if newPremium.IsNegative() {
		return apperrors.WithMetadata(apperrors.CodeValidationFailed,
			fmt.Sprintf("adjustment %s would make the premium negative", e.PremiumAdjustment),
			map[string]string{
				"endorsement_id":   endorsementID,
				"premium_amount":   previousPremium.String(),
				"premium_adjusted": newPremium.String(),
			})
	}

	p.PremiumAmount = newPremium
	p.CommissionAmount = commissionFor(newPremium, p.CommissionRate)
	redistributeUnpaid(p, e.EffectiveDate)
	RecomputePaymentStatus(p, now)

	approvedAt := now
	approvedBy := actor
	if approvedBy == "" {
		approvedBy = models.SystemActor
	}
	e.Status = models.EndorsementApproved
	e.ApprovedAt = &approvedAt
	e.ApprovedBy = &approvedBy
	p.Endorsements[idx] = e

	appendTimelineEvent(p, now, models.EventEndorsementApproved,
		fmt.Sprintf("%s endorsement approved; premium %s -> %s", e.Type, previousPremium, newPremium),
		actor, &e.ID, utils.JSONMap{
			"previous_premium":  previousPremium.String(),
			"premium_amount":    newPremium.String(),
			"commission_amount": p.CommissionAmount.String(),
		})
	return nil
}

// orderForApproval sorts endorsement ids by effective date, then creation
// time. Unknown ids sort last in their given order so the approval reports
// NotFound for them.
func orderForApproval(p *models.Policy, ids []string) []string {
	ordered := slices.Clone(ids)
	slices.SortStableFunc(ordered, func(a, b string) int {
		ia, ib := p.EndorsementIndex(a), p.EndorsementIndex(b)
		switch {
		case ia < 0 && ib < 0:
			return 0
		case ia < 0:
			return 1
		case ib < 0:
			return -1
		}
		ea, eb := p.Endorsements[ia], p.Endorsements[ib]
		if c := cmp.Compare(ea.EffectiveDate, eb.EffectiveDate); c != 0 {
			return c
		}
		return ea.CreatedAt.Compare(eb.CreatedAt)
	})
	return ordered
}
