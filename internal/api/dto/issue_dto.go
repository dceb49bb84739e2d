package dto

import (
	"time"

	"github.com/civicworks/civic-issues/internal/domain"
)

// CreateIssueRequest payload.
type CreateIssueRequest struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	CategoryID  string               `json:"category_id"`
	WardID      *string              `json:"ward_id"`
	Priority    domain.IssuePriority `json:"priority"`
}

// TransitionRequest payload for PATCH /admin/issues/:id/status.
type TransitionRequest struct {
	Status         domain.IssueStatus `json:"status"`
	RejectedReason string             `json:"rejected_reason"`
	AssigneeID     *string            `json:"assignee_id"`
}

// AssignRequest payload.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// EscalateRequest payload.
type EscalateRequest struct {
	Priority domain.IssuePriority `json:"priority"`
}

// DuplicateRequest payload.
type DuplicateRequest struct {
	OriginalIssueID string `json:"original_issue_id"`
}

// CommentRequest payload.
type CommentRequest struct {
	Body string `json:"body"`
}

// IssueResponse is the full issue representation.
type IssueResponse struct {
	ID                 string               `json:"id"`
	TicketNo           string               `json:"ticket_no"`
	Title              string               `json:"title"`
	Description        string               `json:"description"`
	CategoryID         string               `json:"category_id"`
	WardID             *string              `json:"ward_id"`
	DepartmentID       *string              `json:"department_id"`
	ReporterID         string               `json:"reporter_id"`
	AssigneeID         *string              `json:"assignee_id"`
	DuplicateOfIssueID *string              `json:"duplicate_of_issue_id,omitempty"`
	Status             domain.IssueStatus   `json:"status"`
	Priority           domain.IssuePriority `json:"priority"`
	RejectedReason     string               `json:"rejected_reason,omitempty"`
	ResolvedAt         *time.Time           `json:"resolved_at"`
	Version            int64                `json:"version"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// IssueEventResponse is one audit entry.
type IssueEventResponse struct {
	ID        string                `json:"id"`
	ActorID   string                `json:"actor_id"`
	Type      domain.IssueEventType `json:"type"`
	Payload   map[string]any        `json:"payload"`
	CreatedAt time.Time             `json:"created_at"`
}

// CommentResponse represents a thread comment.
type CommentResponse struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryResponse lists a category with its owning department.
type CategoryResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	SLAHours     int    `json:"sla_hours"`
	DepartmentID string `json:"department_id"`
}

// NewIssueResponse maps a domain issue.
func NewIssueResponse(issue *domain.Issue) IssueResponse {
	return IssueResponse{
		ID:                 issue.ID,
		TicketNo:           issue.TicketNo,
		Title:              issue.Title,
		Description:        issue.Description,
		CategoryID:         issue.CategoryID,
		WardID:             issue.WardID,
		DepartmentID:       issue.DepartmentID,
		ReporterID:         issue.ReporterID,
		AssigneeID:         issue.AssigneeID,
		DuplicateOfIssueID: issue.DuplicateOfIssueID,
		Status:             issue.Status,
		Priority:           issue.Priority,
		RejectedReason:     issue.RejectedReason,
		ResolvedAt:         issue.ResolvedAt,
		Version:            issue.Version,
		CreatedAt:          issue.CreatedAt,
		UpdatedAt:          issue.UpdatedAt,
	}
}

// NewIssueEventResponses maps an audit trail.
func NewIssueEventResponses(list []domain.IssueEvent) []IssueEventResponse {
	out := make([]IssueEventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, IssueEventResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			Type:      e.Type,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

// NewIssueResponses maps a page of issues.
func NewIssueResponses(list []domain.Issue) []IssueResponse {
	out := make([]IssueResponse, 0, len(list))
	for i := range list {
		out = append(out, NewIssueResponse(&list[i]))
	}
	return out
}

// PageMeta describes a listing page.
type PageMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}
