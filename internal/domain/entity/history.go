package entity

import "time"

// RequestHistory is the audit trail of one applied action
type RequestHistory struct {
	ID            int64     `json:"id"`
	RequestID     int64     `json:"request_id"`
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Action        string    `json:"action"`
	Actor         string    `json:"actor"`
	Detail        string    `json:"detail"`
	Timestamp     time.Time `json:"timestamp"`
}
