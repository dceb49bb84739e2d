package domain

import "time"

// Department is the municipal unit that owns a category of issues.
type Department struct {
	ID        string
	Name      string
	Code      string
	Email     string
	CreatedAt time.Time
}

// Category classifies issues and routes them to a department.
type Category struct {
	ID           string
	Name         string
	Code         string
	SLAHours     int
	DepartmentID string
	CreatedAt    time.Time
}
