package dto

import "time"

// ActivityResponse represents one audit trail entry
type ActivityResponse struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// ActivityListResponse represents a page of the audit trail
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationInfo     `json:"pagination"`
}
