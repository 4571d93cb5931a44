package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/jmoiron/sqlx"
)

// PolicyRepository is the SQL PolicyStore. Queries are written with '?'
// placeholders and rebound per driver, so the same repository serves
// PostgreSQL (lib/pq) and SQLite (modernc).
type PolicyRepository struct {
	db *sqlx.DB
}

func NewPolicyRepository(db *sqlx.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

const policyColumns = `
	id, policy_number, status, insurance_type, nic_class_of_business, policy_type,
	product_id, product_name, client_id, client_name, insurer_id, insurer_name,
	broker_id, broker_name, inception_date, expiry_date, issue_date, currency,
	sum_insured, premium_amount, commission_rate, commission_amount, commission_status,
	payment_status, outstanding_balance, premium_frequency, is_renewal, previous_policy_id,
	cancellation_date, cancellation_reason, cancellation_notes, line_details, archived_at,
	version, created_at, updated_at`

const (
	insertPolicyQuery = `
		INSERT INTO policy (` + policyColumns + `
		) VALUES (
			:id, :policy_number, :status, :insurance_type, :nic_class_of_business, :policy_type,
			:product_id, :product_name, :client_id, :client_name, :insurer_id, :insurer_name,
			:broker_id, :broker_name, :inception_date, :expiry_date, :issue_date, :currency,
			:sum_insured, :premium_amount, :commission_rate, :commission_amount, :commission_status,
			:payment_status, :outstanding_balance, :premium_frequency, :is_renewal, :previous_policy_id,
			:cancellation_date, :cancellation_reason, :cancellation_notes, :line_details, :archived_at,
			:version, :created_at, :updated_at
		)`

	// version is compared against the value the caller loaded and bumped in
	// the same statement
	updatePolicyQuery = `
		UPDATE policy SET
			policy_number = :policy_number, status = :status, insurance_type = :insurance_type,
			nic_class_of_business = :nic_class_of_business, policy_type = :policy_type,
			product_id = :product_id, product_name = :product_name,
			client_id = :client_id, client_name = :client_name,
			insurer_id = :insurer_id, insurer_name = :insurer_name,
			broker_id = :broker_id, broker_name = :broker_name,
			inception_date = :inception_date, expiry_date = :expiry_date, issue_date = :issue_date,
			currency = :currency, sum_insured = :sum_insured, premium_amount = :premium_amount,
			commission_rate = :commission_rate, commission_amount = :commission_amount,
			commission_status = :commission_status, payment_status = :payment_status,
			outstanding_balance = :outstanding_balance, premium_frequency = :premium_frequency,
			is_renewal = :is_renewal, previous_policy_id = :previous_policy_id,
			cancellation_date = :cancellation_date, cancellation_reason = :cancellation_reason,
			cancellation_notes = :cancellation_notes, line_details = :line_details,
			archived_at = :archived_at, version = :version + 1, updated_at = :updated_at
		WHERE id = :id AND version = :version`

	upsertInstallmentQuery = `
		INSERT INTO installment (id, policy_id, sequence, due_date, amount, status, paid_date, reference)
		VALUES (:id, :policy_id, :sequence, :due_date, :amount, :status, :paid_date, :reference)
		ON CONFLICT (id) DO UPDATE SET
			sequence = excluded.sequence, due_date = excluded.due_date, amount = excluded.amount,
			status = excluded.status, paid_date = excluded.paid_date, reference = excluded.reference`

	upsertEndorsementQuery = `
		INSERT INTO endorsement (
			id, policy_id, type, status, effective_date, premium_adjustment,
			description, created_at, approved_at, approved_by
		) VALUES (
			:id, :policy_id, :type, :status, :effective_date, :premium_adjustment,
			:description, :created_at, :approved_at, :approved_by
		)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, approved_at = excluded.approved_at, approved_by = excluded.approved_by`

	insertTimelineEventQuery = `
		INSERT INTO timeline_event (
			id, policy_id, sequence, event_date, event, description, performed_by, related_id, metadata
		) VALUES (
			:id, :policy_id, :sequence, :event_date, :event, :description, :performed_by, :related_id, :metadata
		)
		ON CONFLICT (id) DO NOTHING`

	insertDocumentQuery = `
		INSERT INTO policy_document (id, policy_id, type, name, url, uploaded_at)
		VALUES (:id, :policy_id, :type, :name, :url, :uploaded_at)
		ON CONFLICT (id) DO NOTHING`
)

// ============================================================================
// READS
// ============================================================================

func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	var policy models.Policy
	query := r.db.Rebind(`SELECT * FROM policy WHERE id = ?`)

	err := r.db.GetContext(ctx, &policy, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "policy %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	policies := []*models.Policy{&policy}
	if err := r.loadChildren(ctx, r.db, policies); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *PolicyRepository) ListByClient(ctx context.Context, clientID string) ([]*models.Policy, error) {
	query := r.db.Rebind(`SELECT * FROM policy WHERE client_id = ? ORDER BY created_at, id`)
	return r.selectPolicies(ctx, query, clientID)
}

func (r *PolicyRepository) ListByStatus(ctx context.Context, statuses ...models.PolicyStatus) ([]*models.Policy, error) {
	if len(statuses) == 0 {
		return []*models.Policy{}, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM policy WHERE status IN (?) ORDER BY created_at, id`, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to build status query: %w", err)
	}
	return r.selectPolicies(ctx, r.db.Rebind(query), args...)
}

func (r *PolicyRepository) FindSuccessors(ctx context.Context, id string) ([]*models.Policy, error) {
	query := r.db.Rebind(`SELECT * FROM policy WHERE previous_policy_id = ? ORDER BY created_at, id`)
	return r.selectPolicies(ctx, query, id)
}

func (r *PolicyRepository) selectPolicies(ctx context.Context, query string, args ...any) ([]*models.Policy, error) {
	var rows []models.Policy
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get policies: %w", err)
	}

	policies := make([]*models.Policy, len(rows))
	for i := range rows {
		policies[i] = &rows[i]
	}
	if err := r.loadChildren(ctx, r.db, policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// loadChildren fills the child collections of policies with one query per
// child table.
func (r *PolicyRepository) loadChildren(ctx context.Context, q sqlx.QueryerContext, policies []*models.Policy) error {
	if len(policies) == 0 {
		return nil
	}

	ids := make([]string, len(policies))
	byID := make(map[string]*models.Policy, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Installments = []models.Installment{}
		p.Endorsements = []models.Endorsement{}
		p.Timeline = []models.TimelineEvent{}
		p.Documents = []models.Document{}
	}

	var installments []models.Installment
	if err := r.selectIn(ctx, q, &installments, `SELECT * FROM installment WHERE policy_id IN (?) ORDER BY sequence`, ids); err != nil {
		return fmt.Errorf("failed to get installments: %w", err)
	}
	for _, inst := range installments {
		p := byID[inst.PolicyID]
		p.Installments = append(p.Installments, inst)
	}

	var endorsements []models.Endorsement
	if err := r.selectIn(ctx, q, &endorsements, `SELECT * FROM endorsement WHERE policy_id IN (?) ORDER BY created_at, id`, ids); err != nil {
		return fmt.Errorf("failed to get endorsements: %w", err)
	}
	for _, e := range endorsements {
		p := byID[e.PolicyID]
		p.Endorsements = append(p.Endorsements, e)
	}

	var events []models.TimelineEvent
	if err := r.selectIn(ctx, q, &events, `SELECT * FROM timeline_event WHERE policy_id IN (?) ORDER BY sequence`, ids); err != nil {
		return fmt.Errorf("failed to get timeline: %w", err)
	}
	for _, e := range events {
		p := byID[e.PolicyID]
		p.Timeline = append(p.Timeline, e)
	}

	var documents []models.Document
	if err := r.selectIn(ctx, q, &documents, `SELECT * FROM policy_document WHERE policy_id IN (?) ORDER BY uploaded_at, id`, ids); err != nil {
		return fmt.Errorf("failed to get documents: %w", err)
	}
	for _, d := range documents {
		p := byID[d.PolicyID]
		p.Documents = append(p.Documents, d)
	}

	return nil
}

func (r *PolicyRepository) selectIn(ctx context.Context, q sqlx.QueryerContext, dest any, query string, ids []string) error {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, r.db.Rebind(query), args...)
}

// ============================================================================
// WRITES
// ============================================================================

func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	if policy.Version == 0 {
		policy.Version = 1
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT EXISTS(SELECT 1 FROM policy WHERE id = ?)`), policy.ID); err != nil {
		return fmt.Errorf("failed to check policy existence: %w", err)
	}
	if exists {
		return apperrors.Newf(apperrors.CodeValidationFailed, "policy %s already exists", policy.ID)
	}

	if _, err := tx.NamedExecContext(ctx, insertPolicyQuery, policy); err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	if err := r.writeChildren(ctx, tx, policy); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit policy creation: %w", err)
	}

	slog.Info("policy persisted", "policy_id", policy.ID, "status", policy.Status)
	return nil
}

func (r *PolicyRepository) Save(ctx context.Context, policy *models.Policy) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args, err := tx.BindNamed(updatePolicyQuery, policy)
	if err != nil {
		return fmt.Errorf("failed to bind policy update: %w", err)
	}
	err = utils.ExecWithCheck(ctx, tx, query, utils.ExecUpdate, args...)
	if errors.Is(err, utils.ErrNoRowsAffected) {
		return r.conflictOrMissing(ctx, tx, policy)
	}
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	// unpaid installments are rewritten wholesale; settled rows are immutable
	// and survive untouched
	_, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM installment WHERE policy_id = ? AND status <> ?`),
		policy.ID, models.InstallmentPaid)
	if err != nil {
		return fmt.Errorf("failed to clear unpaid installments: %w", err)
	}
	if err := r.writeChildren(ctx, tx, policy); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit policy update: %w", err)
	}

	policy.Version++
	return nil
}

func (r *PolicyRepository) conflictOrMissing(ctx context.Context, tx *sqlx.Tx, policy *models.Policy) error {
	var current int64
	err := tx.GetContext(ctx, &current, tx.Rebind(`SELECT version FROM policy WHERE id = ?`), policy.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.CodeNotFound, "policy %s not found", policy.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read policy version: %w", err)
	}

	slog.Warn("optimistic version check failed",
		"policy_id", policy.ID, "expected_version", policy.Version, "current_version", current)
	return apperrors.WithMetadata(apperrors.CodeVersionConflict,
		fmt.Sprintf("policy %s was modified concurrently", policy.ID),
		map[string]string{
			"expected_version": fmt.Sprint(policy.Version),
			"current_version":  fmt.Sprint(current),
		})
}

func (r *PolicyRepository) writeChildren(ctx context.Context, tx *sqlx.Tx, policy *models.Policy) error {
	for _, inst := range policy.Installments {
		inst.PolicyID = policy.ID
		if _, err := tx.NamedExecContext(ctx, upsertInstallmentQuery, inst); err != nil {
			return fmt.Errorf("failed to write installment %s: %w", inst.ID, err)
		}
	}
	for _, e := range policy.Endorsements {
		e.PolicyID = policy.ID
		if _, err := tx.NamedExecContext(ctx, upsertEndorsementQuery, e); err != nil {
			return fmt.Errorf("failed to write endorsement %s: %w", e.ID, err)
		}
	}
	for _, e := range policy.Timeline {
		e.PolicyID = policy.ID
		if _, err := tx.NamedExecContext(ctx, insertTimelineEventQuery, e); err != nil {
			return fmt.Errorf("failed to write timeline event %s: %w", e.ID, err)
		}
	}
	for _, d := range policy.Documents {
		d.PolicyID = policy.ID
		if _, err := tx.NamedExecContext(ctx, insertDocumentQuery, d); err != nil {
			return fmt.Errorf("failed to write document %s: %w", d.ID, err)
		}
	}
	return nil
}
