package notification

import "github.com/civicworks/civic-issues/internal/domain"

// Payload types understood by clients.
const (
	TypeConnected         = "connected"
	TypeNewIssue          = "new_issue"
	TypeIssueUpdated      = "issue_updated"
	TypeIssueAssigned     = "issue_assigned"
	TypeIssueStatusChange = "issue_status_change"
)

// Payload is the wire shape pushed to channels.
type Payload struct {
	Type    string        `json:"type"`
	Data    *IssueSummary `json:"data,omitempty"`
	Message string        `json:"message"`
}

// IssueSummary is the minimal projection of an issue sent with a payload.
type IssueSummary struct {
	ID       string             `json:"id"`
	TicketNo string             `json:"ticketNo"`
	Title    string             `json:"title"`
	Status   domain.IssueStatus `json:"status"`
}

// Summarize projects issue onto the fields every recipient may see.
func Summarize(issue domain.Issue) *IssueSummary {
	return &IssueSummary{
		ID:       issue.ID,
		TicketNo: issue.TicketNo,
		Title:    issue.Title,
		Status:   issue.Status,
	}
}

// Connected is sent once a channel is registered.
func Connected() Payload {
	return Payload{Type: TypeConnected, Message: "Connected to real-time notifications"}
}
