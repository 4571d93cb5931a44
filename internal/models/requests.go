package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// ENGINE COMMANDS
// ============================================================================

type TransitionRequest struct {
	Status      PolicyStatus `json:"status"`
	PerformedBy string       `json:"performed_by"`
	Notes       string       `json:"notes,omitempty"`
}

type RecordPaymentRequest struct {
	PaidDate    string           `json:"paid_date"`
	Reference   string           `json:"reference"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	PerformedBy string           `json:"performed_by"`
}

type ProposeEndorsementRequest struct {
	Type              EndorsementType `json:"type"`
	EffectiveDate     string          `json:"effective_date"`
	PremiumAdjustment decimal.Decimal `json:"premium_adjustment"`
	Description       string          `json:"description"`
	PerformedBy       string          `json:"performed_by"`
}

type ApproveEndorsementRequest struct {
	PerformedBy string `json:"performed_by"`
}

type ApproveEndorsementsRequest struct {
	EndorsementIDs []string `json:"endorsement_ids"`
	PerformedBy    string   `json:"performed_by"`
}

type CancelPolicyRequest struct {
	Reason      CancellationReason `json:"reason"`
	Date        string             `json:"date"`
	Notes       string             `json:"notes,omitempty"`
	PerformedBy string             `json:"performed_by"`
}

type LinkRenewalRequest struct {
	OldPolicyID string `json:"old_policy_id"`
	NewPolicyID string `json:"new_policy_id"`
	PerformedBy string `json:"performed_by"`
}

type ArchivePolicyRequest struct {
	PerformedBy string `json:"performed_by"`
}

// ============================================================================
// RESPONSES
// ============================================================================

type CreatePolicyResponse struct {
	PolicyID     string `json:"policy_id"`
	PolicyNumber string `json:"policy_number"`
}

type ProposeEndorsementResponse struct {
	EndorsementID string `json:"endorsement_id"`
}

// RenewalChainLink is one policy in a previousPolicyId lineage, newest first.
type RenewalChainLink struct {
	PolicyID     string       `json:"policy_id"`
	PolicyNumber string       `json:"policy_number"`
	Status       PolicyStatus `json:"status"`
	ExpiryDate   string       `json:"expiry_date"`
	IsRenewal    bool         `json:"is_renewal"`
}

// SweepResult summarizes a periodic overdue/lapse/expiry pass.
type SweepResult struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	PoliciesScanned  int       `json:"policies_scanned"`
	InstallmentsDue  int       `json:"installments_overdue"`
	PoliciesLapsed   int       `json:"policies_lapsed"`
	PoliciesExpired  int       `json:"policies_expired"`
	PoliciesReplaced int       `json:"policies_replaced"`
	Errors           []string  `json:"errors,omitempty"`
}
