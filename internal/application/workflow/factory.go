package workflow

import (
	"context"

	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

// NewInstallationBuilder returns the transition table of the provisioning
// workflow. With allowFinalizeWithoutSchedule, FINALIZE is also permitted
// from CONFIG_PENDING.
func NewInstallationBuilder(allowFinalizeWithoutSchedule bool) domainwf.StateMachineBuilder {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePendingApproval).
		Permit(domainwf.TriggerApprove, domainwf.StatePendingInstallation)

	builder.Configure(domainwf.StatePendingInstallation).
		Permit(domainwf.TriggerProvisionUser, domainwf.StateUserCreated)

	builder.Configure(domainwf.StateUserCreated).
		Permit(domainwf.TriggerActivateEquipment, domainwf.StateConfigPending)

	builder.Configure(domainwf.StateConfigPending).
		Permit(domainwf.TriggerSchedule, domainwf.StateScheduled).
		PermitIf(domainwf.TriggerFinalize, domainwf.StateCompleted, func(ctx context.Context) bool {
			return allowFinalizeWithoutSchedule
		})

	builder.Configure(domainwf.StateScheduled).
		Permit(domainwf.TriggerFinalize, domainwf.StateCompleted)

	// CANCEL from every non-terminal state
	for _, state := range domainwf.AllStates() {
		if !state.IsTerminal() {
			builder.Configure(state).Permit(domainwf.TriggerCancel, domainwf.StateCancelled)
		}
	}

	// COMPLETED and CANCELLED are terminal states - no outgoing transitions

	return builder
}

// BuildInstallationStateMachine creates a provisioning state machine positioned at initialState
func BuildInstallationStateMachine(initialState domainwf.State, allowFinalizeWithoutSchedule bool) domainwf.StateMachine {
	return NewInstallationBuilder(allowFinalizeWithoutSchedule).Build(initialState)
}
