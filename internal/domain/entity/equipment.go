package entity

import "time"

// Equipment is the local claim record of a registry equipment id.
// At most one request holds the claim at a time.
type Equipment struct {
	ID             int64     `json:"id"`
	Active         bool      `json:"active"`
	BoundRequestID *int64    `json:"bound_request_id,omitempty"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}
