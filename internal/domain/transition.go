package domain

// TransitionRequest asks for an issue to move to TargetStatus. It is
// validated and discarded, never stored.
type TransitionRequest struct {
	IssueID        string
	Actor          Actor
	TargetStatus   IssueStatus
	RejectedReason string
	AssigneeID     *string
}
