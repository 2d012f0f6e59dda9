package reporting

import (
	"time"

	"activity-platform/internal/activity"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SummaryRequest requests aggregated activity over a time range.
// UserID narrows the summary to one account.
type SummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID *int64    `json:"user_id,omitempty"`
}

type UserCount struct {
	UserID     int64 `json:"user_id"`
	Activities int   `json:"activities"`
}

type ActivitySummary struct {
	Range  TimeRange `json:"range"`
	UserID *int64    `json:"user_id,omitempty"`

	TotalActivities int                   `json:"total_activities"`
	ByType          map[activity.Type]int `json:"by_type"`

	ActiveUsers  int `json:"active_users"`
	TasksTouched int `json:"tasks_touched"`

	// TopUsers lists the most active accounts, busiest first.
	TopUsers []UserCount `json:"top_users"`
}
