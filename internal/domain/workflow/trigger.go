package workflow

// Trigger represents a workflow action that can move a request between states
type Trigger string

const (
	TriggerApprove           Trigger = "APPROVE"
	TriggerProvisionUser     Trigger = "PROVISION_USER"
	TriggerActivateEquipment Trigger = "ACTIVATE_EQUIPMENT"
	TriggerSchedule          Trigger = "SCHEDULE"
	TriggerFinalize          Trigger = "FINALIZE"
	TriggerCancel            Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
