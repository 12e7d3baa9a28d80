package port

import "context"

// CaseInfo is the part of a support case the workflow relies on
type CaseInfo struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Approved bool   `json:"approved"`
}

// CaseLookup resolves support cases. Returns (nil, nil) for unknown ids.
type CaseLookup interface {
	GetCase(ctx context.Context, id int64) (*CaseInfo, error)
}

// DirectoryProfile is what the partner directory needs to mirror an account
type DirectoryProfile struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// DirectoryUser is an account in the partner directory
type DirectoryUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// UserDirectory is the external B2B user directory. Users are addressed by
// login name. GetUser returns (nil, nil) for unknown logins.
type UserDirectory interface {
	// FindOrCreateUser returns the directory id of the account for the
	// profile's login, creating it when missing. Safe to repeat.
	FindOrCreateUser(ctx context.Context, profile DirectoryProfile) (string, error)
	GetUser(ctx context.Context, username string) (*DirectoryUser, error)
}

// RegistryEquipment is the registry's view of a piece of equipment
type RegistryEquipment struct {
	ID     int64 `json:"id"`
	Active bool  `json:"active"`
}

// EquipmentRegistry is the external equipment registry.
// GetEquipment returns (nil, nil) for unknown ids.
type EquipmentRegistry interface {
	GetEquipment(ctx context.Context, id int64) (*RegistryEquipment, error)
	// MarkActive is idempotent
	MarkActive(ctx context.Context, id int64) error
}

// Notifier delivers operator notifications about request milestones
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
