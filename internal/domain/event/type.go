package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestCreated     Type = "request.created"
	TypeStatusChanged      Type = "request.status_changed"
	TypeUserProvisioned    Type = "request.user_provisioned"
	TypeEquipmentActivated Type = "request.equipment_activated"
	TypeRequestScheduled   Type = "request.scheduled"
	TypeRequestCompleted   Type = "request.completed"
	TypeRequestCancelled   Type = "request.cancelled"
	TypeTechnicianAssigned Type = "request.technician_assigned"
	TypeRequestArchived    Type = "request.archived"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// AllTypes lists every event type
func AllTypes() []Type {
	return []Type{
		TypeRequestCreated,
		TypeStatusChanged,
		TypeUserProvisioned,
		TypeEquipmentActivated,
		TypeRequestScheduled,
		TypeRequestCompleted,
		TypeRequestCancelled,
		TypeTechnicianAssigned,
		TypeRequestArchived,
	}
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}
