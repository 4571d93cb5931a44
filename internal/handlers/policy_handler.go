package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	"policy-lifecycle-service/internal/services"
	utils "policy-lifecycle-service/internal/utils"

	"github.com/gofiber/fiber/v3"
)

type PolicyHandler struct {
	engine *services.PolicyEngine
	sweep  *services.PolicySweepService
}

func NewPolicyHandler(engine *services.PolicyEngine, sweep *services.PolicySweepService) *PolicyHandler {
	return &PolicyHandler{
		engine: engine,
		sweep:  sweep,
	}
}

func (h *PolicyHandler) Register(app *fiber.App) {
	protectedGr := app.Group("policy/protected/api/v1")

	policyGroup := protectedGr.Group("/policies")
	policyGroup.Get("/checkhealth", h.CheckHealth)               // GET /policies/checkhealth
	policyGroup.Post("/", h.CreatePolicy)                        // POST /policies - Create a draft policy
	policyGroup.Post("/renewals", h.LinkRenewal)                 // POST /policies/renewals - Link a renewal to its predecessor
	policyGroup.Get("/client/:client_id", h.GetClientPolicies)   // GET /policies/client/:client_id
	policyGroup.Get("/:id", h.GetPolicy)                         // GET /policies/:id
	policyGroup.Get("/:id/renewal-chain", h.GetRenewalChain)     // GET /policies/:id/renewal-chain
	policyGroup.Patch("/:id/status", h.TransitionPolicy)         // PATCH /policies/:id/status
	policyGroup.Post("/:id/cancel", h.CancelPolicy)              // POST /policies/:id/cancel
	policyGroup.Post("/:id/archive", h.ArchivePolicy)            // POST /policies/:id/archive
	policyGroup.Get("/:id/archive", h.GetArchiveURL)             // GET /policies/:id/archive - Presigned snapshot download link
	policyGroup.Post("/:id/evaluate", h.EvaluatePolicy)          // POST /policies/:id/evaluate - Run overdue, lapse and expiry checks now
	policyGroup.Post("/:id/endorsements", h.ProposeEndorsement)  // POST /policies/:id/endorsements
	policyGroup.Put("/:id/endorsements/approve", h.ApproveBatch) // PUT /policies/:id/endorsements/approve - Approve several at once
	policyGroup.Put("/:id/endorsements/:endorsement_id/approve", h.ApproveEndorsement)

	installmentGroup := policyGroup.Group("/:id/installments/:installment_id")
	installmentGroup.Post("/payments", h.RecordPayment) // POST /policies/:id/installments/:installment_id/payments
	installmentGroup.Post("/overdue", h.MarkOverdue)    // POST /policies/:id/installments/:installment_id/overdue
}

// ============================================================================
// HELPERS
// ============================================================================

// actor prefers the performer named in the body over the gateway header.
func actor(c fiber.Ctx, performedBy string) string {
	if performedBy = strings.TrimSpace(performedBy); performedBy != "" {
		return performedBy
	}
	return c.Get("X-User-ID")
}

// bindBody decodes the request body. When it reports false the 400 response
// has already been written.
func bindBody[T any](c fiber.Ctx, out *T) (bool, error) {
	if err := c.Bind().Body(out); err != nil {
		slog.Error("error parsing request", "path", c.Path(), "error", err)
		return false, c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "Invalid request body: "+err.Error()))
	}
	return true, nil
}

func errorResponse(c fiber.Ctx, operation string, err error) error {
	code := apperrors.CodeOf(err)
	status := apperrors.HTTPStatus(code)
	if status == http.StatusInternalServerError {
		slog.Error("policy request failed", "operation", operation, "path", c.Path(), "error", err)
		return c.Status(status).JSON(
			utils.CreateErrorResponse(string(apperrors.CodeInternal), "Failed to "+operation))
	}

	var appErr *apperrors.Error
	errors.As(err, &appErr)
	return c.Status(status).JSON(
		utils.CreateErrorResponseWithMetadata(string(code), appErr.Message, appErr.Metadata))
}

// ============================================================================
// READ
// ============================================================================

func (h *PolicyHandler) CheckHealth(c fiber.Ctx) error {
	health := map[string]any{"status": "healthy"}
	if h.sweep != nil {
		if last, ok := h.sweep.LastResult(); ok {
			health["last_sweep"] = last
		}
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(health))
}

func (h *PolicyHandler) GetPolicy(c fiber.Ctx) error {
	policy, err := h.engine.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, "retrieve policy", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) GetClientPolicies(c fiber.Ctx) error {
	policies, err := h.engine.ListByClient(c.Context(), c.Params("client_id"))
	if err != nil {
		return errorResponse(c, "retrieve client policies", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(policies))
}

func (h *PolicyHandler) GetRenewalChain(c fiber.Ctx) error {
	chain, err := h.engine.RenewalChain(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, "resolve renewal chain", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateListResponse(chain))
}

// ============================================================================
// LIFECYCLE
// ============================================================================

func (h *PolicyHandler) CreatePolicy(c fiber.Ctx) error {
	var draft models.Policy
	if ok, err := bindBody(c, &draft); !ok {
		return err
	}
	draft = utils.TrimAllStringFields(draft)

	policy, err := h.engine.Create(c.Context(), &draft, c.Get("X-User-ID"))
	if err != nil {
		return errorResponse(c, "create policy", err)
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(models.CreatePolicyResponse{
		PolicyID:     policy.ID,
		PolicyNumber: policy.PolicyNumber,
	}))
}

func (h *PolicyHandler) TransitionPolicy(c fiber.Ctx) error {
	var req models.TransitionRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	req.PerformedBy = actor(c, req.PerformedBy)

	policy, err := h.engine.Transition(c.Context(), c.Params("id"), req)
	if err != nil {
		return errorResponse(c, "change policy status", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) CancelPolicy(c fiber.Ctx) error {
	var req models.CancelPolicyRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	req.PerformedBy = actor(c, req.PerformedBy)

	policy, err := h.engine.Cancel(c.Context(), c.Params("id"), req)
	if err != nil {
		return errorResponse(c, "cancel policy", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) LinkRenewal(c fiber.Ctx) error {
	var req models.LinkRenewalRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	if req.OldPolicyID == "" || req.NewPolicyID == "" {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "old_policy_id and new_policy_id are required"))
	}
	req.PerformedBy = actor(c, req.PerformedBy)

	policy, err := h.engine.LinkRenewal(c.Context(), req)
	if err != nil {
		return errorResponse(c, "link renewal", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) ArchivePolicy(c fiber.Ctx) error {
	policy, err := h.engine.Archive(c.Context(), c.Params("id"), actor(c, ""))
	if err != nil {
		return errorResponse(c, "archive policy", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) GetArchiveURL(c fiber.Ctx) error {
	url, err := h.engine.ArchiveDownloadURL(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, "get archive download url", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(fiber.Map{
		"url":        url,
		"expires_in": services.ArchiveURLExpiry.String(),
	}))
}

func (h *PolicyHandler) EvaluatePolicy(c fiber.Ctx) error {
	id := c.Params("id")
	policy, overdue, err := h.engine.EvaluateOverdue(c.Context(), id)
	if err != nil {
		return errorResponse(c, "evaluate overdue installments", err)
	}

	expiry := services.ExpiryNone
	if policy.Status != models.PolicyLapsed {
		policy, expiry, err = h.engine.EvaluateExpiry(c.Context(), id)
		if err != nil {
			return errorResponse(c, "evaluate expiry", err)
		}
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(map[string]any{
		"policy":  policy,
		"overdue": overdue,
		"expiry":  expiry,
	}))
}

// ============================================================================
// LEDGER
// ============================================================================

func (h *PolicyHandler) RecordPayment(c fiber.Ctx) error {
	var req models.RecordPaymentRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	req.PerformedBy = actor(c, req.PerformedBy)

	policy, err := h.engine.RecordPayment(c.Context(), c.Params("id"), c.Params("installment_id"), req)
	if err != nil {
		return errorResponse(c, "record payment", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) MarkOverdue(c fiber.Ctx) error {
	policy, err := h.engine.MarkOverdue(c.Context(), c.Params("id"), c.Params("installment_id"), actor(c, ""))
	if err != nil {
		return errorResponse(c, "mark installment overdue", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

// ============================================================================
// ENDORSEMENTS
// ============================================================================

func (h *PolicyHandler) ProposeEndorsement(c fiber.Ctx) error {
	var req models.ProposeEndorsementRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	req.PerformedBy = actor(c, req.PerformedBy)

	endorsement, err := h.engine.ProposeEndorsement(c.Context(), c.Params("id"), req)
	if err != nil {
		return errorResponse(c, "propose endorsement", err)
	}
	return c.Status(http.StatusCreated).JSON(utils.CreateSuccessResponse(models.ProposeEndorsementResponse{
		EndorsementID: endorsement.ID,
	}))
}

func (h *PolicyHandler) ApproveEndorsement(c fiber.Ctx) error {
	policy, err := h.engine.ApproveEndorsement(c.Context(), c.Params("id"), c.Params("endorsement_id"), actor(c, ""))
	if err != nil {
		return errorResponse(c, "approve endorsement", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}

func (h *PolicyHandler) ApproveBatch(c fiber.Ctx) error {
	var req models.ApproveEndorsementsRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	if len(req.EndorsementIDs) == 0 {
		return c.Status(http.StatusBadRequest).JSON(
			utils.CreateErrorResponse("INVALID_REQUEST", "endorsement_ids must not be empty"))
	}

	policy, err := h.engine.ApproveEndorsements(c.Context(), c.Params("id"), req.EndorsementIDs, actor(c, req.PerformedBy))
	if err != nil {
		return errorResponse(c, "approve endorsements", err)
	}
	return c.Status(http.StatusOK).JSON(utils.CreateSuccessResponse(policy))
}
