// Package web provides HTTP handlers and REST API endpoints for refund approvals.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/services"
)

// SnapshotStore remembers refund snapshots posted to the API so escalations can re-read them.
type SnapshotStore interface {
	Put(refund *models.RefundSnapshot)
}

type APIHandlers struct {
	approvals *services.Approvals
	validator *validator.Validate
	snapshots SnapshotStore
}

// NewAPIHandlers creates the handlers. snapshots may be nil when refunds are read from an
// external refund service.
func NewAPIHandlers(
	approvals *services.Approvals,
	validator *validator.Validate,
	snapshots SnapshotStore,
) *APIHandlers {
	return &APIHandlers{
		approvals: approvals,
		validator: validator,
		snapshots: snapshots,
	}
}

// Routes registers every endpoint on r.
func (h *APIHandlers) Routes(r fiber.Router) {
	a := r.Group("/approvals")
	a.Post("/check", h.CheckApproval)
	a.Post("/", h.CreateApproval)
	a.Get("/:id", h.GetApproval)
	a.Post("/:id/decisions", h.RecordDecision)
	a.Post("/:id/escalate", h.Escalate)

	r.Get("/refunds/:refundId/approval", h.GetApprovalByRefund)
	r.Post("/escalations/run", h.RunEscalations)

	r.Get("/rules/:id", h.GetRule)
	r.Put("/rules/:id", h.SaveRule)
	r.Delete("/rules/:id", h.DeleteRule)

	r.Get("/workflows/:id", h.GetWorkflow)
	r.Put("/workflows/:id", h.SaveWorkflow)
	r.Delete("/workflows/:id", h.DeleteWorkflow)

	r.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) CheckApproval(c fiber.Ctx) error {
	var refund models.RefundSnapshot
	if err := c.Bind().JSON(&refund); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	result, err := h.approvals.CheckRequiresApproval(c.Context(), &refund)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewCheckResponse(result))
}

func (h *APIHandlers) CreateApproval(c fiber.Ctx) error {
	var req CreateApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	var (
		approval *models.ApprovalRequest
		err      error
	)

	if snapshot := req.Snapshot(); snapshot != nil {
		if h.snapshots != nil {
			h.snapshots.Put(snapshot)
		}

		approval, err = h.approvals.CreateApproval(c.Context(), snapshot, nil)
	} else {
		if req.RefundID == "" {
			return badRequest(c, "Either refund_id or a refund snapshot is required")
		}

		approval, err = h.approvals.RequestApproval(c.Context(), req.RefundID)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewApprovalResponse(approval))
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	approval, err := h.approvals.GetApproval(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewApprovalResponse(approval))
}

func (h *APIHandlers) GetApprovalByRefund(c fiber.Ctx) error {
	approval, err := h.approvals.GetApprovalByRefund(c.Context(), c.Params("refundId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewApprovalResponse(approval))
}

func (h *APIHandlers) RecordDecision(c fiber.Ctx) error {
	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	approval, err := h.approvals.RecordDecision(c.Context(), c.Params("id"), req.ApproverID,
		models.DecisionOutcome(req.Outcome), req.Notes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewApprovalResponse(approval))
}

func (h *APIHandlers) Escalate(c fiber.Ctx) error {
	var req EscalateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	approval, err := h.approvals.ManuallyEscalate(c.Context(), c.Params("id"), req.ActorID, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewApprovalResponse(approval))
}

func (h *APIHandlers) RunEscalations(c fiber.Ctx) error {
	var req RunEscalationsRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	count, err := h.approvals.RunEscalationCheck(c.Context(), req.BatchSize)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(RunEscalationsResponse{Escalated: count})
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	rule, err := h.approvals.GetRule(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) SaveRule(c fiber.Ctx) error {
	var rule models.Rule
	if err := c.Bind().JSON(&rule); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	id := c.Params("id")
	if rule.ID != "" && rule.ID != id {
		return badRequest(c, "Rule ID in body does not match the path")
	}

	rule.ID = id

	if err := h.validator.Struct(rule); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.approvals.SaveRule(c.Context(), &rule)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	if err := h.approvals.DeleteRule(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.approvals.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var wf models.Workflow
	if err := c.Bind().JSON(&wf); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	id := c.Params("id")
	if wf.ID != "" && wf.ID != id {
		return badRequest(c, "Workflow ID in body does not match the path")
	}

	wf.ID = id

	if err := h.validator.Struct(wf); err != nil {
		return badRequest(c, err.Error())
	}

	saved, err := h.approvals.SaveWorkflow(c.Context(), &wf)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.approvals.DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.approvals.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Refund approvals API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Refund approvals API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
