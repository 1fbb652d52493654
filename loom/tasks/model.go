package tasks

import (
	"time"
)

// Priority levels accepted for a task.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Recurrence patterns accepted for a recurring task.
const (
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"
	RecurYearly  = "yearly"
)

// Task is the unit of work a user tracks. Every task belongs to exactly one
// user; all store operations are scoped by that ownership.
type Task struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Completed          bool       `json:"completed"`
	Category           string     `json:"category,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	Priority           string     `json:"priority"`
	RecurrencePattern  string     `json:"recurrence_pattern,omitempty"`
	RecurrenceInterval int        `json:"recurrence_interval,omitempty"`
	RecurrenceEndDate  *time.Time `json:"recurrence_end_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Recurring reports whether the task carries a recurrence rule.
func (t *Task) Recurring() bool {
	return t.RecurrencePattern != ""
}

// NextDueDate advances a due date by one recurrence step.
func NextDueDate(pattern string, interval int, from time.Time) time.Time {
	if interval < 1 {
		interval = 1
	}
	switch pattern {
	case RecurDaily:
		return from.AddDate(0, 0, interval)
	case RecurWeekly:
		return from.AddDate(0, 0, 7*interval)
	case RecurMonthly:
		return from.AddDate(0, interval, 0)
	case RecurYearly:
		return from.AddDate(interval, 0, 0)
	default:
		return from
	}
}

// ValidPriority reports whether p is one of the accepted priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ValidRecurrence reports whether p is one of the accepted patterns.
func ValidRecurrence(p string) bool {
	switch p {
	case RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		return true
	}
	return false
}

// Patch carries the mutable fields of a partial update; nil means unchanged.
type Patch struct {
	Title              *string
	Description        *string
	Category           *string
	DueDate            *time.Time
	Priority           *string
	Completed          *bool
	RecurrencePattern  *string
	RecurrenceInterval *int
	RecurrenceEndDate  *time.Time
}

// Empty reports whether the patch carries no changes.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Category == nil &&
		p.DueDate == nil && p.Priority == nil && p.Completed == nil &&
		p.RecurrencePattern == nil && p.RecurrenceInterval == nil &&
		p.RecurrenceEndDate == nil
}
