package models

type PolicyStatus string

const (
	PolicyDraft     PolicyStatus = "draft"
	PolicyPending   PolicyStatus = "pending"
	PolicyActive    PolicyStatus = "active"
	PolicySuspended PolicyStatus = "suspended"
	PolicyLapsed    PolicyStatus = "lapsed"
	PolicyCancelled PolicyStatus = "cancelled"
	PolicyExpired   PolicyStatus = "expired"
)

// IsTerminal reports whether the status is immutable.
func (s PolicyStatus) IsTerminal() bool {
	return s == PolicyExpired || s == PolicyCancelled
}

func (s PolicyStatus) IsValid() bool {
	switch s {
	case PolicyDraft, PolicyPending, PolicyActive, PolicySuspended, PolicyLapsed, PolicyCancelled, PolicyExpired:
		return true
	}
	return false
}

type PolicyType string

const (
	PolicyTypeLife    PolicyType = "life"
	PolicyTypeNonLife PolicyType = "non-life"
)

func (t PolicyType) IsValid() bool {
	return t == PolicyTypeLife || t == PolicyTypeNonLife
}

type InsuranceType string

const (
	InsuranceMotor                 InsuranceType = "motor"
	InsuranceFire                  InsuranceType = "fire"
	InsuranceMarine                InsuranceType = "marine"
	InsuranceHealth                InsuranceType = "health"
	InsuranceLiability             InsuranceType = "liability"
	InsuranceEngineering           InsuranceType = "engineering"
	InsuranceLife                  InsuranceType = "life"
	InsuranceBonds                 InsuranceType = "bonds"
	InsuranceTravel                InsuranceType = "travel"
	InsuranceAgriculture           InsuranceType = "agriculture"
	InsuranceProfessionalIndemnity InsuranceType = "professional_indemnity"
	InsuranceOilAndGas             InsuranceType = "oil_and_gas"
	InsuranceAviation              InsuranceType = "aviation"
	InsuranceMisc                  InsuranceType = "misc"
)

func (t InsuranceType) IsValid() bool {
	switch t {
	case InsuranceMotor, InsuranceFire, InsuranceMarine, InsuranceHealth, InsuranceLiability,
		InsuranceEngineering, InsuranceLife, InsuranceBonds, InsuranceTravel, InsuranceAgriculture,
		InsuranceProfessionalIndemnity, InsuranceOilAndGas, InsuranceAviation, InsuranceMisc:
		return true
	}
	return false
}

type CommissionStatus string

const (
	CommissionPaid    CommissionStatus = "paid"
	CommissionPending CommissionStatus = "pending"
)

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPending PaymentStatus = "pending"
	PaymentOverdue PaymentStatus = "overdue"
)

type PremiumFrequency string

const (
	FrequencySingle     PremiumFrequency = "single"
	FrequencyMonthly    PremiumFrequency = "monthly"
	FrequencyQuarterly  PremiumFrequency = "quarterly"
	FrequencySemiAnnual PremiumFrequency = "semi_annual"
	FrequencyAnnual     PremiumFrequency = "annual"
)

// InstallmentCount is the number of installments a frequency schedules, or 0
// for an unknown frequency.
func (f PremiumFrequency) InstallmentCount() int {
	switch f {
	case FrequencySingle, FrequencyAnnual:
		return 1
	case FrequencySemiAnnual:
		return 2
	case FrequencyQuarterly:
		return 4
	case FrequencyMonthly:
		return 12
	}
	return 0
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

type EndorsementType string

const (
	EndorsementAddition     EndorsementType = "addition"
	EndorsementDeletion     EndorsementType = "deletion"
	EndorsementAlteration   EndorsementType = "alteration"
	EndorsementExtension    EndorsementType = "extension"
	EndorsementCancellation EndorsementType = "cancellation"
)

func (t EndorsementType) IsValid() bool {
	switch t {
	case EndorsementAddition, EndorsementDeletion, EndorsementAlteration, EndorsementExtension, EndorsementCancellation:
		return true
	}
	return false
}

type EndorsementStatus string

const (
	EndorsementPending  EndorsementStatus = "pending"
	EndorsementApproved EndorsementStatus = "approved"
)

type CancellationReason string

const (
	CancelClientRequest  CancellationReason = "client_request"
	CancelNonPayment     CancellationReason = "non_payment"
	CancelInsurerRequest CancellationReason = "insurer_request"
	CancelReplaced       CancellationReason = "replaced"
)

func (r CancellationReason) IsValid() bool {
	switch r {
	case CancelClientRequest, CancelNonPayment, CancelInsurerRequest, CancelReplaced:
		return true
	}
	return false
}

// Timeline event names.
const (
	EventPolicyCreated       = "Policy Created"
	EventPolicyIssued        = "Policy Issued"
	EventPolicyActivated     = "Policy Activated"
	EventPolicySuspended     = "Policy Suspended"
	EventPolicyReinstated    = "Policy Reinstated"
	EventPaymentReceived     = "Payment Received"
	EventPaymentOverdue      = "Payment Overdue"
	EventPolicyLapsed        = "Policy Lapsed"
	EventPolicyCancelled     = "Policy Cancelled"
	EventPolicyExpired       = "Policy Expired"
	EventEndorsementProposed = "Endorsement Proposed"
	EventEndorsementApproved = "Endorsement Approved"
	EventRenewalLinked       = "Renewal Linked"
	EventPolicyArchived      = "Policy Archived"
)

// SystemActor performs automatic transitions (sweeps, payment intake).
const SystemActor = "system"
