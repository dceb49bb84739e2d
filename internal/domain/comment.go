package domain

import "time"

// Comment is a message posted on an issue thread.
type Comment struct {
	ID        string
	IssueID   string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}
