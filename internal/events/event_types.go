package events

import (
	"time"

	"github.com/civicworks/civic-issues/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIssueCreated         EventType = "issue_created"
	EventIssueStatusChanged   EventType = "issue_status_changed"
	EventIssueAssigned        EventType = "issue_assigned"
	EventIssueEscalated       EventType = "issue_escalated"
	EventIssueMarkedDuplicate EventType = "issue_marked_duplicate"
	EventIssueCommented       EventType = "issue_commented"
)

// Event is published after the change it describes has committed.
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	IssueID   string       `json:"issue_id"`
	Actor     domain.Actor `json:"actor"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   IssuePayload `json:"payload"`
}

// IssuePayload carries the committed issue and the audit entries written
// with it, in order.
type IssuePayload struct {
	Issue       domain.Issue        `json:"issue"`
	AuditEvents []domain.IssueEvent `json:"audit_events"`
}
