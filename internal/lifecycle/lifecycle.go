// Package lifecycle owns the issue state machine. Every function here is pure:
// it takes the current issue and returns the next value plus the audit events
// the change produces, leaving persistence to the caller.
package lifecycle

import (
	"strings"
	"time"

	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// allowedTransitions defines the permitted status changes. RESOLVED and
// REJECTED have no outgoing edges.
var allowedTransitions = map[domain.IssueStatus]map[domain.IssueStatus]struct{}{
	domain.IssueStatusSubmitted: setOf(domain.IssueStatusTriaged, domain.IssueStatusRejected),
	domain.IssueStatusTriaged:   setOf(domain.IssueStatusAssigned, domain.IssueStatusRejected),
	domain.IssueStatusAssigned: setOf(
		domain.IssueStatusInProgress,
		domain.IssueStatusPendingUserInfo,
		domain.IssueStatusRejected,
	),
	domain.IssueStatusInProgress: setOf(
		domain.IssueStatusPendingUserInfo,
		domain.IssueStatusResolved,
		domain.IssueStatusRejected,
	),
	domain.IssueStatusPendingUserInfo: setOf(domain.IssueStatusInProgress, domain.IssueStatusRejected),
	domain.IssueStatusResolved:        {},
	domain.IssueStatusRejected:        {},
}

// IsValidTransition reports whether the table allows from -> to.
func IsValidTransition(from, to domain.IssueStatus) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// NextStatuses returns the statuses reachable from current.
func NextStatuses(current domain.IssueStatus) []domain.IssueStatus {
	out := []domain.IssueStatus{}
	for _, status := range domain.AllStatuses {
		if IsValidTransition(current, status) {
			out = append(out, status)
		}
	}
	return out
}

// Apply validates req against issue and returns the updated issue together
// with its STATUS_CHANGE event.
func Apply(issue domain.Issue, req domain.TransitionRequest, now time.Time) (domain.Issue, domain.IssueEvent, error) {
	target := req.TargetStatus
	if !IsValidTransition(issue.Status, target) {
		return issue, domain.IssueEvent{}, apperrors.NewInvalidTransition(string(issue.Status), string(target))
	}
	if err := CheckTarget(req.Actor.Role, target); err != nil {
		return issue, domain.IssueEvent{}, err
	}

	reason := strings.TrimSpace(req.RejectedReason)
	if reason != "" && target != domain.IssueStatusRejected {
		return issue, domain.IssueEvent{}, apperrors.NewValidationError("rejected_reason only accompanies REJECTED", nil)
	}
	if req.AssigneeID != nil && target != domain.IssueStatusAssigned {
		return issue, domain.IssueEvent{}, apperrors.NewValidationError("assignee_id only accompanies ASSIGNED", nil)
	}

	next := issue.Clone()
	oldStatus := issue.Status

	switch target {
	case domain.IssueStatusRejected:
		if reason == "" {
			return issue, domain.IssueEvent{}, apperrors.NewMissingField("rejected_reason", "rejected_reason is required to reject an issue")
		}
		next.RejectedReason = reason
		next.AssigneeID = nil
	case domain.IssueStatusAssigned:
		if req.AssigneeID != nil && strings.TrimSpace(*req.AssigneeID) != "" {
			assignee := strings.TrimSpace(*req.AssigneeID)
			next.AssigneeID = &assignee
		}
		if !next.HasAssignee() {
			return issue, domain.IssueEvent{}, apperrors.NewMissingField("assignee_id", "assignee_id is required to assign an issue")
		}
	case domain.IssueStatusResolved:
		resolvedAt := now
		next.ResolvedAt = &resolvedAt
	}

	next.Status = target
	next.UpdatedAt = now

	payload := domain.StatusChangePayload(oldStatus, target, next.RejectedReason)
	if target == domain.IssueStatusAssigned && next.AssigneeID != nil {
		payload["assigneeId"] = *next.AssigneeID
	}
	event := newEvent(issue.ID, req.Actor.ID, domain.EventTypeStatusChange, payload, now)
	return next, event, nil
}

// Assign sets the assignee. From TRIAGED it also moves the issue to ASSIGNED,
// yielding an ASSIGN event followed by a STATUS_CHANGE event; for issues
// already past assignment only the assignee changes.
func Assign(issue domain.Issue, assigneeID string, actor domain.Actor, now time.Time) (domain.Issue, []domain.IssueEvent, error) {
	if err := CheckAssign(actor.Role); err != nil {
		return issue, nil, err
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return issue, nil, apperrors.NewMissingField("assignee_id", "assignee_id is required")
	}

	switch issue.Status {
	case domain.IssueStatusTriaged, domain.IssueStatusAssigned,
		domain.IssueStatusInProgress, domain.IssueStatusPendingUserInfo:
	default:
		return issue, nil, apperrors.NewInvalidTransition(string(issue.Status), string(domain.IssueStatusAssigned))
	}
	if issue.HasAssignee() && *issue.AssigneeID == assigneeID {
		return issue, nil, apperrors.NewValidationError("issue already assigned to this user", map[string]any{"assignee_id": assigneeID})
	}

	next := issue.Clone()
	payload := map[string]any{"assigneeId": assigneeID}
	if issue.HasAssignee() {
		payload["previousAssigneeId"] = *issue.AssigneeID
	}
	next.AssigneeID = &assigneeID
	next.UpdatedAt = now
	events := []domain.IssueEvent{newEvent(issue.ID, actor.ID, domain.EventTypeAssign, payload, now)}

	if issue.Status != domain.IssueStatusTriaged {
		return next, events, nil
	}

	moved, statusEvent, err := Apply(next, domain.TransitionRequest{
		IssueID:      issue.ID,
		Actor:        actor,
		TargetStatus: domain.IssueStatusAssigned,
	}, now)
	if err != nil {
		return issue, nil, err
	}
	return moved, append(events, statusEvent), nil
}

// Submit performs the implicit DRAFT -> SUBMITTED step of issue creation.
func Submit(draft domain.Issue, actor domain.Actor, now time.Time) (domain.Issue, domain.IssueEvent, error) {
	if draft.Status != "" && draft.Status != domain.IssueStatusDraft {
		return draft, domain.IssueEvent{}, apperrors.NewInvalidTransition(string(draft.Status), string(domain.IssueStatusSubmitted))
	}
	next := draft.Clone()
	next.Status = domain.IssueStatusSubmitted
	next.ReporterID = actor.ID
	next.AssigneeID = nil
	next.ResolvedAt = nil
	next.RejectedReason = ""
	if next.Priority == "" {
		next.Priority = domain.IssuePriorityMedium
	}
	next.CreatedAt = now
	next.UpdatedAt = now

	event := newEvent(draft.ID, actor.ID, domain.EventTypeStatusChange,
		domain.StatusChangePayload(domain.IssueStatusDraft, domain.IssueStatusSubmitted, ""), now)
	return next, event, nil
}

// Escalate raises the priority of an open issue.
func Escalate(issue domain.Issue, priority domain.IssuePriority, actor domain.Actor, now time.Time) (domain.Issue, domain.IssueEvent, error) {
	if !actor.Role.Staff() {
		return issue, domain.IssueEvent{}, apperrors.NewForbidden("role may not escalate issues", map[string]any{
			"role":           actor.Role,
			"required_roles": []domain.Role{domain.RoleOfficer, domain.RoleSupervisor, domain.RoleAdmin},
		})
	}
	if !priority.Valid() {
		return issue, domain.IssueEvent{}, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	if issue.Status.Terminal() {
		return issue, domain.IssueEvent{}, apperrors.NewValidationError("closed issues cannot be escalated", map[string]any{"status": issue.Status})
	}
	if !priority.Above(issue.Priority) {
		return issue, domain.IssueEvent{}, apperrors.NewValidationError("escalation must raise the priority", map[string]any{
			"current":   issue.Priority,
			"requested": priority,
		})
	}

	next := issue.Clone()
	next.Priority = priority
	next.UpdatedAt = now
	event := newEvent(issue.ID, actor.ID, domain.EventTypeEscalate, map[string]any{
		"oldPriority": string(issue.Priority),
		"newPriority": string(priority),
	}, now)
	return next, event, nil
}

// MarkDuplicate links issue to original and rejects it. The rejection goes
// through Apply so the usual table and policy checks hold.
func MarkDuplicate(issue, original domain.Issue, actor domain.Actor, now time.Time) (domain.Issue, []domain.IssueEvent, error) {
	if issue.ID == original.ID {
		return issue, nil, apperrors.NewValidationError("issue cannot duplicate itself", nil)
	}
	if original.DuplicateOfIssueID != nil {
		return issue, nil, apperrors.NewValidationError("original is itself a duplicate", map[string]any{
			"duplicate_of": *original.DuplicateOfIssueID,
		})
	}

	linked := issue.Clone()
	originalID := original.ID
	linked.DuplicateOfIssueID = &originalID

	rejected, statusEvent, err := Apply(linked, domain.TransitionRequest{
		IssueID:        issue.ID,
		Actor:          actor,
		TargetStatus:   domain.IssueStatusRejected,
		RejectedReason: "duplicate of " + original.TicketNo,
	}, now)
	if err != nil {
		return issue, nil, err
	}

	merge := newEvent(issue.ID, actor.ID, domain.EventTypeMergeDuplicate, map[string]any{
		"duplicateOfIssueId":  original.ID,
		"duplicateOfTicketNo": original.TicketNo,
	}, now)
	return rejected, []domain.IssueEvent{merge, statusEvent}, nil
}

func newEvent(issueID, actorID string, eventType domain.IssueEventType, payload map[string]any, now time.Time) domain.IssueEvent {
	return domain.IssueEvent{
		IssueID:   issueID,
		ActorID:   actorID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: now,
	}
}
