package domain

import "time"

// IssueEventType captures what an audit entry records.
type IssueEventType string

const (
	EventTypeStatusChange   IssueEventType = "STATUS_CHANGE"
	EventTypeComment        IssueEventType = "COMMENT"
	EventTypeAssign         IssueEventType = "ASSIGN"
	EventTypeEscalate       IssueEventType = "ESCALATE"
	EventTypeMergeDuplicate IssueEventType = "MERGE_DUPLICATE"
)

// IssueEvent is an immutable audit trail entry.
type IssueEvent struct {
	ID        string
	IssueID   string
	ActorID   string
	Type      IssueEventType
	Payload   map[string]any
	CreatedAt time.Time
}

// StatusChange extracts old and new status from a STATUS_CHANGE payload.
func (e IssueEvent) StatusChange() (oldStatus, newStatus IssueStatus) {
	oldStatus = statusFrom(e.Payload["oldStatus"])
	newStatus = statusFrom(e.Payload["newStatus"])
	return oldStatus, newStatus
}

// AssigneeID returns the assignee recorded on an ASSIGN payload.
func (e IssueEvent) AssigneeID() string {
	v, _ := e.Payload["assigneeId"].(string)
	return v
}

func statusFrom(v any) IssueStatus {
	switch s := v.(type) {
	case IssueStatus:
		return s
	case string:
		return IssueStatus(s)
	default:
		return ""
	}
}

// StatusChangePayload builds the payload for a STATUS_CHANGE entry.
func StatusChangePayload(oldStatus, newStatus IssueStatus, rejectedReason string) map[string]any {
	payload := map[string]any{
		"oldStatus": string(oldStatus),
		"newStatus": string(newStatus),
	}
	if rejectedReason != "" {
		payload["rejectedReason"] = rejectedReason
	}
	return payload
}
