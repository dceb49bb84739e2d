package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/civicworks/civic-issues/internal/api/dto"
	"github.com/civicworks/civic-issues/internal/repository"
	"github.com/civicworks/civic-issues/internal/service"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// AdminIssuesHandler handles staff workflow endpoints.
type AdminIssuesHandler struct {
	issues *service.IssueService
}

// NewAdminIssuesHandler constructs handler.
func NewAdminIssuesHandler(issueService *service.IssueService) *AdminIssuesHandler {
	return &AdminIssuesHandler{issues: issueService}
}

// ListIssues GET /admin/issues, the staff work queue. Filters: status
// (comma separated), category_id, ward_id, department_id, assignee_id,
// reporter_id, q, limit, offset.
func (h *AdminIssuesHandler) ListIssues(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	limit, offset := pageFromQuery(c)
	list, err := h.issues.ListIssues(c.UserContext(), principal.Actor(), repository.IssueFilter{
		ReporterID:   queryOptional(c, "reporter_id"),
		AssigneeID:   queryOptional(c, "assignee_id"),
		CategoryID:   queryOptional(c, "category_id"),
		WardID:       queryOptional(c, "ward_id"),
		DepartmentID: queryOptional(c, "department_id"),
		Statuses:     queryStatuses(c),
		SearchTerm:   queryOptional(c, "q"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.NewIssueResponses(list),
		"meta": dto.PageMeta{Limit: limit, Offset: offset, Count: len(list)},
	})
}

// UpdateStatus PATCH /admin/issues/:id/status.
func (h *AdminIssuesHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewMissingField("status", "status is required")
	}
	issue, err := h.issues.RequestTransition(c.UserContext(), c.Params("id"), principal.Actor(), req.Status, service.TransitionExtra{
		RejectedReason: req.RejectedReason,
		AssigneeID:     req.AssigneeID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
}

// Assign PATCH /admin/issues/:id/assign.
func (h *AdminIssuesHandler) Assign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.issues.AssignIssue(c.UserContext(), c.Params("id"), req.AssigneeID, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
}

// Escalate POST /admin/issues/:id/escalate.
func (h *AdminIssuesHandler) Escalate(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.EscalateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.issues.EscalateIssue(c.UserContext(), c.Params("id"), req.Priority, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
}

// MarkDuplicate POST /admin/issues/:id/duplicate.
func (h *AdminIssuesHandler) MarkDuplicate(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.DuplicateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.OriginalIssueID == "" {
		return apperrors.NewMissingField("original_issue_id", "original_issue_id is required")
	}
	issue, err := h.issues.MarkDuplicate(c.UserContext(), c.Params("id"), req.OriginalIssueID, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
}
