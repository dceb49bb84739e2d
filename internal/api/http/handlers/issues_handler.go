package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/civicworks/civic-issues/internal/api/dto"
	"github.com/civicworks/civic-issues/internal/repository"
	"github.com/civicworks/civic-issues/internal/service"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

const ticketPrefix = "CR-"

// IssuesHandler serves reporting and read endpoints open to every role.
type IssuesHandler struct {
	issues  *service.IssueService
	catalog repository.CatalogRepository
}

// NewIssuesHandler constructs handler.
func NewIssuesHandler(issueService *service.IssueService, catalog repository.CatalogRepository) *IssuesHandler {
	return &IssuesHandler{issues: issueService, catalog: catalog}
}

// CreateIssue POST /issues.
func (h *IssuesHandler) CreateIssue(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateIssueRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issue, err := h.issues.CreateIssue(c.UserContext(), principal.Actor(), service.CreateIssueInput{
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		WardID:      req.WardID,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
}

// ListMine GET /issues/mine?status=&limit=&offset=.
func (h *IssuesHandler) ListMine(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	limit, offset := pageFromQuery(c)
	list, err := h.issues.ListMyIssues(c.UserContext(), principal.Actor(), queryStatuses(c), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": dto.NewIssueResponses(list),
		"meta": dto.PageMeta{Limit: limit, Offset: offset, Count: len(list)},
	})
}

// GetIssue GET /issues/:ref, where ref is a ticket number or an issue id.
func (h *IssuesHandler) GetIssue(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ref := strings.TrimSpace(c.Params("ref"))
	ctx := c.UserContext()
	if strings.HasPrefix(strings.ToUpper(ref), ticketPrefix) {
		issue, err := h.issues.GetIssueByTicketNo(ctx, strings.ToUpper(ref), principal.Actor())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
	}
	issue, err := h.issues.GetIssue(ctx, ref, principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueResponse(issue)})
}

// ListEvents GET /issues/:id/events.
func (h *IssuesHandler) ListEvents(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	list, err := h.issues.ListEvents(c.UserContext(), c.Params("id"), principal.Actor())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewIssueEventResponses(list)})
}

// AddComment POST /issues/:id/comments.
func (h *IssuesHandler) AddComment(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	comment, err := h.issues.AddComment(c.UserContext(), c.Params("id"), principal.Actor(), req.Body)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.CommentResponse{
		ID:        comment.ID,
		IssueID:   comment.IssueID,
		AuthorID:  comment.AuthorID,
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt,
	}})
}

// ListCategories GET /categories.
func (h *IssuesHandler) ListCategories(c *fiber.Ctx) error {
	categories, err := h.catalog.ListCategories(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.CategoryResponse, 0, len(categories))
	for _, cat := range categories {
		items = append(items, dto.CategoryResponse{
			ID:           cat.ID,
			Name:         cat.Name,
			Code:         cat.Code,
			SLAHours:     cat.SLAHours,
			DepartmentID: cat.DepartmentID,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}
