package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	utils "policy-lifecycle-service/internal/utils"

	"github.com/shopspring/decimal"
)

func init() {
	// fixtures and clients exchange premiums as plain JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// ============================================================================
// POLICY AGGREGATE
// ============================================================================

type Policy struct {
	ID                 string              `json:"id" db:"id"`
	PolicyNumber       string              `json:"policyNumber" db:"policy_number"`
	Status             PolicyStatus        `json:"status" db:"status"`
	InsuranceType      InsuranceType       `json:"insuranceType" db:"insurance_type"`
	NICClassOfBusiness string              `json:"nicClassOfBusiness" db:"nic_class_of_business"`
	PolicyType         PolicyType          `json:"policyType" db:"policy_type"`
	ProductID          string              `json:"productId" db:"product_id"`
	ProductName        string              `json:"productName" db:"product_name"`
	ClientID           string              `json:"clientId" db:"client_id"`
	ClientName         string              `json:"clientName" db:"client_name"`
	InsurerID          string              `json:"insurerId" db:"insurer_id"`
	InsurerName        string              `json:"insurerName" db:"insurer_name"`
	BrokerID           string              `json:"brokerId" db:"broker_id"`
	BrokerName         string              `json:"brokerName" db:"broker_name"`
	InceptionDate      string              `json:"inceptionDate" db:"inception_date"`
	ExpiryDate         string              `json:"expiryDate" db:"expiry_date"`
	IssueDate          string              `json:"issueDate" db:"issue_date"`
	Currency           string              `json:"currency" db:"currency"`
	SumInsured         decimal.Decimal     `json:"sumInsured" db:"sum_insured"`
	PremiumAmount      decimal.Decimal     `json:"premiumAmount" db:"premium_amount"`
	CommissionRate     decimal.Decimal     `json:"commissionRate" db:"commission_rate"`
	CommissionAmount   decimal.Decimal     `json:"commissionAmount" db:"commission_amount"`
	CommissionStatus   CommissionStatus    `json:"commissionStatus" db:"commission_status"`
	PaymentStatus      PaymentStatus       `json:"paymentStatus" db:"payment_status"`
	OutstandingBalance *decimal.Decimal    `json:"outstandingBalance,omitempty" db:"outstanding_balance"`
	PremiumFrequency   PremiumFrequency    `json:"premiumFrequency" db:"premium_frequency"`
	IsRenewal          bool                `json:"isRenewal" db:"is_renewal"`
	DaysToExpiry       int                 `json:"daysToExpiry" db:"-"`
	PreviousPolicyID   *string             `json:"previousPolicyId,omitempty" db:"previous_policy_id"`
	CancellationDate   *string             `json:"cancellationDate,omitempty" db:"cancellation_date"`
	CancellationReason *CancellationReason `json:"cancellationReason,omitempty" db:"cancellation_reason"`
	CancellationNotes  *string             `json:"cancellationNotes,omitempty" db:"cancellation_notes"`
	Details            Details             `json:"-" db:"line_details"`
	ArchivedAt         *time.Time          `json:"archivedAt,omitempty" db:"archived_at"`
	Version            int64               `json:"version" db:"version"`
	CreatedAt          time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time           `json:"updatedAt" db:"updated_at"`

	Installments []Installment   `json:"installments" db:"-"`
	Endorsements []Endorsement   `json:"endorsements" db:"-"`
	Timeline     []TimelineEvent `json:"timeline" db:"-"`
	Documents    []Document      `json:"documents" db:"-"`
}

type Installment struct {
	ID        string            `json:"id" db:"id"`
	PolicyID  string            `json:"policyId" db:"policy_id"`
	Sequence  int               `json:"sequence" db:"sequence"`
	DueDate   string            `json:"dueDate" db:"due_date"`
	Amount    decimal.Decimal   `json:"amount" db:"amount"`
	Status    InstallmentStatus `json:"status" db:"status"`
	PaidDate  *string           `json:"paidDate,omitempty" db:"paid_date"`
	Reference *string           `json:"reference,omitempty" db:"reference"`
}

// IsSettled reports whether the installment is an immutable ledger entry.
func (i Installment) IsSettled() bool {
	return i.Status == InstallmentPaid
}

type Endorsement struct {
	ID                string            `json:"id" db:"id"`
	PolicyID          string            `json:"policyId" db:"policy_id"`
	Type              EndorsementType   `json:"type" db:"type"`
	Status            EndorsementStatus `json:"status" db:"status"`
	EffectiveDate     string            `json:"effectiveDate" db:"effective_date"`
	PremiumAdjustment decimal.Decimal   `json:"premiumAdjustment" db:"premium_adjustment"`
	Description       string            `json:"description" db:"description"`
	CreatedAt         time.Time         `json:"createdAt" db:"created_at"`
	ApprovedAt        *time.Time        `json:"approvedAt,omitempty" db:"approved_at"`
	ApprovedBy        *string           `json:"approvedBy,omitempty" db:"approved_by"`
}

// TimelineEvent is an immutable audit record. Events are appended, never
// edited or removed.
type TimelineEvent struct {
	ID          string        `json:"id" db:"id"`
	PolicyID    string        `json:"policyId" db:"policy_id"`
	Sequence    int           `json:"sequence" db:"sequence"`
	Date        time.Time     `json:"date" db:"event_date"`
	Event       string        `json:"event" db:"event"`
	Description string        `json:"description" db:"description"`
	PerformedBy string        `json:"performedBy" db:"performed_by"`
	RelatedID   *string       `json:"relatedId,omitempty" db:"related_id"`
	Metadata    utils.JSONMap `json:"metadata,omitempty" db:"metadata"`
}

// Document is metadata for a file held by the document store.
type Document struct {
	ID         string    `json:"id" db:"id"`
	PolicyID   string    `json:"policyId" db:"policy_id"`
	Type       string    `json:"type" db:"type"`
	Name       string    `json:"name" db:"name"`
	URL        string    `json:"url,omitempty" db:"url"`
	UploadedAt time.Time `json:"uploadedAt" db:"uploaded_at"`
}

// ============================================================================
// AGGREGATE HELPERS
// ============================================================================

func (p *Policy) InstallmentIndex(id string) int {
	return slices.IndexFunc(p.Installments, func(i Installment) bool { return i.ID == id })
}

func (p *Policy) EndorsementIndex(id string) int {
	return slices.IndexFunc(p.Endorsements, func(e Endorsement) bool { return e.ID == id })
}

// HasEvent reports whether the timeline already holds event for relatedID.
func (p *Policy) HasEvent(event, relatedID string) bool {
	return slices.ContainsFunc(p.Timeline, func(e TimelineEvent) bool {
		return e.Event == event && e.RelatedID != nil && *e.RelatedID == relatedID
	})
}

// PaidTotal sums settled installments.
func (p *Policy) PaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		if inst.IsSettled() {
			total = total.Add(inst.Amount)
		}
	}
	return total
}

// UnpaidTotal sums installments that are not yet settled.
func (p *Policy) UnpaidTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range p.Installments {
		if !inst.IsSettled() {
			total = total.Add(inst.Amount)
		}
	}
	return total
}

// RefreshDaysToExpiry recomputes the non-authoritative daysToExpiry cache.
func (p *Policy) RefreshDaysToExpiry(now time.Time) {
	expiry, err := utils.ParseBusinessDate(p.ExpiryDate)
	if err != nil {
		p.DaysToExpiry = 0
		return
	}
	days := int(expiry.Sub(utils.StartOfDay(now)).Hours() / 24)
	p.DaysToExpiry = max(days, 0)
}

// Clone returns a deep copy that shares no mutable state with p.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.OutstandingBalance = clonePtr(p.OutstandingBalance)
	cp.PreviousPolicyID = clonePtr(p.PreviousPolicyID)
	cp.CancellationDate = clonePtr(p.CancellationDate)
	cp.CancellationReason = clonePtr(p.CancellationReason)
	cp.CancellationNotes = clonePtr(p.CancellationNotes)
	cp.ArchivedAt = clonePtr(p.ArchivedAt)
	cp.Details = p.Details.Clone()

	cp.Installments = make([]Installment, len(p.Installments))
	for i, inst := range p.Installments {
		inst.PaidDate = clonePtr(inst.PaidDate)
		inst.Reference = clonePtr(inst.Reference)
		cp.Installments[i] = inst
	}
	cp.Endorsements = make([]Endorsement, len(p.Endorsements))
	for i, e := range p.Endorsements {
		e.ApprovedAt = clonePtr(e.ApprovedAt)
		e.ApprovedBy = clonePtr(e.ApprovedBy)
		cp.Endorsements[i] = e
	}
	cp.Timeline = make([]TimelineEvent, len(p.Timeline))
	for i, e := range p.Timeline {
		e.RelatedID = clonePtr(e.RelatedID)
		e.Metadata = e.Metadata.Clone()
		cp.Timeline[i] = e
	}
	cp.Documents = slices.Clone(p.Documents)
	if cp.Documents == nil {
		cp.Documents = []Document{}
	}
	return &cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ============================================================================
// JSON LAYOUT
// ============================================================================

type policyAlias Policy

type policyJSON struct {
	policyAlias
	VehicleDetails  *VehicleDetails  `json:"vehicleDetails,omitempty"`
	PropertyDetails *PropertyDetails `json:"propertyDetails,omitempty"`
	MarineDetails   *MarineDetails   `json:"marineDetails,omitempty"`
	Beneficiaries   []Beneficiary    `json:"beneficiaries,omitempty"`
	Riders          []Rider          `json:"riders,omitempty"`
}

// MarshalJSON flattens the detail variant into its line-specific key.
func (p Policy) MarshalJSON() ([]byte, error) {
	out := policyJSON{policyAlias: policyAlias(p)}
	switch d := p.Details.LineDetails.(type) {
	case VehicleDetails:
		out.VehicleDetails = &d
	case PropertyDetails:
		out.PropertyDetails = &d
	case MarineDetails:
		out.MarineDetails = &d
	case LifeDetails:
		out.Beneficiaries = d.Beneficiaries
		out.Riders = d.Riders
	}
	return json.Marshal(out)
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var in policyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Policy(in.policyAlias)

	var variants []LineDetails
	if in.VehicleDetails != nil {
		variants = append(variants, *in.VehicleDetails)
	}
	if in.PropertyDetails != nil {
		variants = append(variants, *in.PropertyDetails)
	}
	if in.MarineDetails != nil {
		variants = append(variants, *in.MarineDetails)
	}
	if in.Beneficiaries != nil || in.Riders != nil {
		variants = append(variants, LifeDetails{Beneficiaries: in.Beneficiaries, Riders: in.Riders})
	}
	switch len(variants) {
	case 0:
		p.Details = Details{}
	case 1:
		p.Details = Details{LineDetails: variants[0]}
	default:
		return fmt.Errorf("policy %s carries %d line detail blocks, expected at most one", p.ID, len(variants))
	}
	return nil
}
