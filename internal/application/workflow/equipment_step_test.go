package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

func TestActivateEquipment_Validation(t *testing.T) {
	h := newHarness(t)
	req := h.requestIn(t, 10, domainwf.StateUserCreated)

	for _, id := range []int64{0, -3} {
		_, err := h.engine.ActivateEquipment(context.Background(), req.ID, id)
		assert.ErrorIs(t, err, apperror.ErrValidation)
	}
}

func TestActivateEquipment_BeforeProvisioning(t *testing.T) {
	for _, state := range []domainwf.State{domainwf.StatePendingApproval, domainwf.StatePendingInstallation} {
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			req := h.requestIn(t, 10, state)

			_, err := h.engine.ActivateEquipment(ctx, req.ID, 55)
			assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

			stored, _ := h.engine.Get(ctx, req.ID)
			assert.Equal(t, state, stored.State)
			assert.Nil(t, stored.EquipmentID)
			assert.Equal(t, 0, h.registry.markActives)
		})
	}
}

func TestActivateEquipment_UnknownEquipment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateUserCreated)

	_, err := h.engine.ActivateEquipment(ctx, req.ID, 999)
	assert.ErrorIs(t, err, apperror.ErrRelatedResourceMissing)
	assert.Empty(t, h.equipment.rows)
}

func TestActivateEquipment_SameRequestTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateUserCreated)

	first, err := h.engine.ActivateEquipment(ctx, req.ID, 55)
	require.NoError(t, err)
	second, err := h.engine.ActivateEquipment(ctx, req.ID, 55)
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateConfigPending, second.State)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, 1, h.registry.markActives)

	scheduled, err := h.engine.Schedule(ctx, req.ID, installDate)
	require.NoError(t, err)
	again, err := h.engine.ActivateEquipment(ctx, req.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, scheduled.Version, again.Version)
	assert.Equal(t, domainwf.StateScheduled, again.State)
}

func TestActivateEquipment_DifferentEquipmentConflicts(t *testing.T) {
	h := newHarness(t)
	req := h.requestIn(t, 10, domainwf.StateConfigPending)

	_, err := h.engine.ActivateEquipment(context.Background(), req.ID, 56)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestActivateEquipment_BoundToOtherRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.requestIn(t, 10, domainwf.StateConfigPending)
	second := h.requestIn(t, 11, domainwf.StateUserCreated)

	_, err := h.engine.ActivateEquipment(ctx, second.ID, 55)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	stored, _ := h.engine.Get(ctx, second.ID)
	assert.Equal(t, domainwf.StateUserCreated, stored.State)
	eq, _ := h.equipment.GetByID(ctx, 55)
	assert.Equal(t, first.ID, *eq.BoundRequestID)
}

func TestActivateEquipment_FreedByArchivedCompletedRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	done := h.requestIn(t, 10, domainwf.StateCompleted)
	require.NotNil(t, done.EquipmentID)
	require.Equal(t, int64(55), *done.EquipmentID)

	_, err := h.engine.Deactivate(ctx, done.ID)
	require.NoError(t, err)

	next := h.requestIn(t, 11, domainwf.StateUserCreated)
	activated, err := h.engine.ActivateEquipment(ctx, next.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateConfigPending, activated.State)

	eq, _ := h.equipment.GetByID(ctx, 55)
	require.NotNil(t, eq.BoundRequestID)
	assert.Equal(t, next.ID, *eq.BoundRequestID)
	assert.True(t, eq.Active)
}

func TestActivateEquipment_StampsClaimWithEngineClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateConfigPending)

	eq, _ := h.equipment.GetByID(ctx, 55)
	assert.True(t, startTime.Equal(eq.UpdatedAt))

	later := h.clock.Now().Add(3 * time.Hour)
	h.clock.Advance(3 * time.Hour)
	_, err := h.engine.Cancel(ctx, req.ID)
	require.NoError(t, err)

	eq, _ = h.equipment.GetByID(ctx, 55)
	assert.Nil(t, eq.BoundRequestID)
	assert.True(t, later.Equal(eq.UpdatedAt))
}

func TestActivateEquipment_AlreadyActiveInRegistry(t *testing.T) {
	h := newHarness(t)
	req := h.requestIn(t, 10, domainwf.StateUserCreated)

	activated, err := h.engine.ActivateEquipment(context.Background(), req.ID, 77)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateConfigPending, activated.State)
	assert.Equal(t, 0, h.registry.markActives)
}
