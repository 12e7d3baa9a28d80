package entity

import "time"

// AccountOrigin records how a local B2B account came to exist
type AccountOrigin string

const (
	// OriginCreated accounts were created by provisioning, with a mirrored partner account
	OriginCreated AccountOrigin = "created"
	// OriginLinkedLocal accounts already existed in this system
	OriginLinkedLocal AccountOrigin = "linked_local"
	// OriginLinkedExternal accounts were linked to an existing partner account
	OriginLinkedExternal AccountOrigin = "linked_external"
)

// UserAccount is the local record of a B2B user
type UserAccount struct {
	ID           int64         `json:"id"`
	Username     string        `json:"username"`
	FullName     string        `json:"full_name"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	ExternalID   string        `json:"external_id,omitempty"`
	Origin       AccountOrigin `json:"origin"`
	CreatedAt    time.Time     `json:"created_at"`
}
