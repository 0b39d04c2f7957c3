package dto

import "time"

// SnoozeRequest leaves Until empty for the default snooze period.
type SnoozeRequest struct {
	Until *time.Time `json:"until,omitempty"`
}
