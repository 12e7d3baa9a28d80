package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

func TestNewEngine_RequiresDeps(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.Error(t, err)
}

func TestEngine_FullProvisioningScenario(t *testing.T) {
	h := newHarness(t)
	ctx := WithActor(context.Background(), "ops.maria")

	req, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 10, Notes: "ground floor"})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingApproval, req.State)
	assert.Equal(t, startTime, req.RequestedAt)
	assert.True(t, req.Active)

	h.clock.Advance(time.Hour)
	req, err = h.engine.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingInstallation, req.State)
	require.NotNil(t, req.ApprovedAt)

	h.clock.Advance(time.Hour)
	req, err = h.engine.ProvisionUser(ctx, req.ID, newProfile())
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateUserCreated, req.State)
	require.NotNil(t, req.UserCreatedAt)
	require.NotNil(t, req.B2BUserID)
	assert.Equal(t, 1, h.directory.findOrCreates)

	h.clock.Advance(time.Hour)
	req, err = h.engine.ActivateEquipment(ctx, req.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateConfigPending, req.State)
	require.NotNil(t, req.EquipmentID)
	assert.Equal(t, int64(55), *req.EquipmentID)
	eq, _ := h.equipment.GetByID(ctx, 55)
	require.NotNil(t, eq.BoundRequestID)
	assert.Equal(t, req.ID, *eq.BoundRequestID)
	assert.True(t, eq.Active)
	assert.True(t, h.registry.equipment[55].Active)

	req, err = h.engine.Schedule(ctx, req.ID, installDate)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateScheduled, req.State)
	require.NotNil(t, req.InstallationDate)
	assert.True(t, installDate.Equal(*req.InstallationDate))

	h.clock.Advance(8 * 24 * time.Hour)
	req, err = h.engine.Finalize(ctx, req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, req.State)
	require.NotNil(t, req.TrainingCompletedAt)
	require.NotNil(t, req.FinalizedAt)
	assert.True(t, req.TrainingCompleted)

	// milestones never go backwards
	assert.False(t, req.ApprovedAt.Before(req.RequestedAt))
	assert.False(t, req.UserCreatedAt.Before(*req.ApprovedAt))
	assert.False(t, req.FinalizedAt.Before(*req.UserCreatedAt))

	assert.Equal(t, []string{"CREATE", "APPROVE", "PROVISION_USER", "ACTIVATE_EQUIPMENT", "SCHEDULE", "FINALIZE"},
		h.history.actions(req.ID))
	rows, err := h.engine.History(ctx, req.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, "ops.maria", row.Actor)
	}

	types := h.dispatcher.types()
	assert.Contains(t, types, event.TypeRequestCreated)
	assert.Contains(t, types, event.TypeUserProvisioned)
	assert.Contains(t, types, event.TypeEquipmentActivated)
	assert.Contains(t, types, event.TypeRequestScheduled)
	assert.Contains(t, types, event.TypeRequestCompleted)
}

func TestEngine_CreateRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-positive case id", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 0})
		assert.ErrorIs(t, err, apperror.ErrValidation)
	})

	t.Run("unknown case", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 404})
		assert.ErrorIs(t, err, apperror.ErrRelatedResourceMissing)
	})

	t.Run("case not approved", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 12})
		assert.ErrorIs(t, err, apperror.ErrRelatedResourceMissing)
	})

	t.Run("unknown user", func(t *testing.T) {
		h := newHarness(t)
		userID := int64(99)
		_, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 10, B2BUserID: &userID})
		assert.ErrorIs(t, err, apperror.ErrRelatedResourceMissing)
	})

	t.Run("one open request per case", func(t *testing.T) {
		h := newHarness(t)
		first, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 10})
		require.NoError(t, err)

		_, err = h.engine.CreateRequest(ctx, CreateInput{CaseID: 10})
		assert.ErrorIs(t, err, apperror.ErrConflict)

		_, err = h.engine.Cancel(ctx, first.ID)
		require.NoError(t, err)
		_, err = h.engine.CreateRequest(ctx, CreateInput{CaseID: 10})
		assert.NoError(t, err)
	})

	t.Run("sanitizes notes", func(t *testing.T) {
		h := newHarness(t)
		req, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: 10, Notes: "  call first\x07 "})
		require.NoError(t, err)
		assert.Equal(t, "call first", req.Notes)
	})
}

func TestEngine_GetAndHistoryNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Get(ctx, 42)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = h.engine.History(ctx, 42)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = h.engine.Approve(ctx, 42)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestEngine_List(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.requestIn(t, 10, domainwf.StateUserCreated)
	h.requestIn(t, 11, domainwf.StatePendingApproval)

	all, err := h.engine.List(ctx, entity.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	created, err := h.engine.List(ctx, entity.RequestFilter{State: domainwf.StateUserCreated})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(10), created[0].CaseID)

	_, err = h.engine.List(ctx, entity.RequestFilter{State: "DONE"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestEngine_Approve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StatePendingInstallation)

	again, err := h.engine.Approve(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.Version, again.Version)

	advanced := h.requestIn(t, 11, domainwf.StateUserCreated)
	_, err = h.engine.Approve(ctx, advanced.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
}

func TestEngine_CancelFromEveryNonTerminalState(t *testing.T) {
	for _, state := range domainwf.AllStates() {
		if state.IsTerminal() {
			continue
		}
		t.Run(state.String(), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			req := h.requestIn(t, 10, state)

			cancelled, err := h.engine.Cancel(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, domainwf.StateCancelled, cancelled.State)
			require.NotNil(t, cancelled.CancelledAt)

			again, err := h.engine.Cancel(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, cancelled.Version, again.Version)
		})
	}
}

func TestEngine_CancelCompletedIsInvalid(t *testing.T) {
	h := newHarness(t)
	req := h.requestIn(t, 10, domainwf.StateCompleted)

	_, err := h.engine.Cancel(context.Background(), req.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
}

func TestEngine_CancelReleasesEquipment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.requestIn(t, 10, domainwf.StateConfigPending)
	second := h.requestIn(t, 11, domainwf.StateUserCreated)

	_, err := h.engine.ActivateEquipment(ctx, second.ID, 55)
	require.ErrorIs(t, err, apperror.ErrConflict)

	_, err = h.engine.Cancel(ctx, first.ID)
	require.NoError(t, err)

	second, err = h.engine.ActivateEquipment(ctx, second.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateConfigPending, second.State)
}

func TestEngine_EveryActionFailsAfterCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateCancelled)

	_, err := h.engine.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.ProvisionUser(ctx, req.ID, newProfile())
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.ActivateEquipment(ctx, req.ID, 55)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.Schedule(ctx, req.ID, installDate)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.Finalize(ctx, req.ID, true)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.AssignTechnician(ctx, req.ID, 7)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

	stored, err := h.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCancelled, stored.State)
	assert.Equal(t, 0, h.users.count(), "no side effects after cancel")
}

func TestEngine_IllegalSkipsLeaveStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StatePendingInstallation)

	_, err := h.engine.ActivateEquipment(ctx, req.ID, 55)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.Schedule(ctx, req.ID, installDate)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.Finalize(ctx, req.ID, true)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

	stored, err := h.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatePendingInstallation, stored.State)
	assert.Equal(t, req.Version, stored.Version)
	assert.Empty(t, h.equipment.rows)
}

func TestEngine_ArchivedRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateConfigPending)

	archived, err := h.engine.Deactivate(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, archived.Active)
	assert.Equal(t, domainwf.StateConfigPending, archived.State)

	eq, _ := h.equipment.GetByID(ctx, 55)
	assert.Nil(t, eq.BoundRequestID, "archiving frees the equipment claim")

	_, err = h.engine.Schedule(ctx, req.ID, installDate)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	_, err = h.engine.AssignTechnician(ctx, req.ID, 7)
	assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

	noted, err := h.engine.UpdateNotes(ctx, req.ID, "customer moved")
	require.NoError(t, err)
	assert.Equal(t, "customer moved", noted.Notes)

	again, err := h.engine.Deactivate(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, noted.Version, again.Version)

	// archived requests no longer block the case
	_, err = h.engine.CreateRequest(ctx, CreateInput{CaseID: 10})
	assert.NoError(t, err)

	cancelled, err := h.engine.Cancel(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCancelled, cancelled.State)
}

func TestEngine_AssignTechnician(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateConfigPending)

	_, err := h.engine.AssignTechnician(ctx, req.ID, 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assigned, err := h.engine.AssignTechnician(ctx, req.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, assigned.TechnicianUserID)
	assert.Equal(t, int64(7), *assigned.TechnicianUserID)
	assert.Equal(t, domainwf.StateConfigPending, assigned.State)

	again, err := h.engine.AssignTechnician(ctx, req.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, assigned.Version, again.Version)

	scheduled, err := h.engine.Schedule(ctx, req.ID, installDate)
	require.NoError(t, err)
	assert.Equal(t, int64(7), *scheduled.TechnicianUserID)

	h.dispatcher.mu.Lock()
	defer h.dispatcher.mu.Unlock()
	last := h.dispatcher.events[len(h.dispatcher.events)-1]
	assert.Equal(t, event.TypeRequestScheduled, last.Type)
	assert.Equal(t, int64(7), last.GetPayloadInt("technician_user_id"))
}

func TestEngine_UpdateNotesAnyState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateCompleted)

	updated, err := h.engine.UpdateNotes(ctx, req.ID, "trained two operators")
	require.NoError(t, err)
	assert.Equal(t, "trained two operators", updated.Notes)
	assert.Equal(t, domainwf.StateCompleted, updated.State)

	again, err := h.engine.UpdateNotes(ctx, req.ID, "trained two operators")
	require.NoError(t, err)
	assert.Equal(t, updated.Version, again.Version)
}

func TestEngine_NotesCommitWithTheAction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("applied in the action's save", func(t *testing.T) {
		req := h.requestIn(t, 10, domainwf.StatePendingApproval)

		approved, err := h.engine.Approve(ctx, req.ID, WithNotes("  call before noon "))
		require.NoError(t, err)
		assert.Equal(t, domainwf.StatePendingInstallation, approved.State)
		assert.Equal(t, "call before noon", approved.Notes)
		assert.Equal(t, req.Version+1, approved.Version)

		history, err := h.engine.History(ctx, req.ID)
		require.NoError(t, err)
		last := history[len(history)-1]
		assert.Equal(t, ActionUpdateNotes, last.Action)
	})

	t.Run("dropped when the action is rejected", func(t *testing.T) {
		req := h.requestIn(t, 11, domainwf.StateCompleted)

		_, err := h.engine.Cancel(ctx, req.ID, WithNotes("never mind"))
		assert.ErrorIs(t, err, apperror.ErrInvalidTransition)

		current, err := h.engine.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, current.State)
		assert.Empty(t, current.Notes)
		assert.Equal(t, req.Version, current.Version)
	})
}

func TestEngine_StaleSaveIsConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StatePendingApproval)

	h.requests.staleSaves = 1
	_, err := h.engine.Approve(ctx, req.ID)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	stored, _ := h.engine.Get(ctx, req.ID)
	assert.Equal(t, domainwf.StatePendingApproval, stored.State)
	assert.Equal(t, []string{"CREATE"}, h.history.actions(req.ID))
}

func TestEngine_ActionTimeout(t *testing.T) {
	h := newHarness(t, WithActionTimeout(20*time.Millisecond))
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StateUserCreated)

	h.registry.block = true
	_, err := h.engine.ActivateEquipment(ctx, req.ID, 55)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrTimeout)
	assert.True(t, apperror.IsRetryable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	stored, _ := h.engine.Get(ctx, req.ID)
	assert.Equal(t, domainwf.StateUserCreated, stored.State)
}

func TestEngine_MilestonesNeverPrecedeEarlierOnes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StatePendingInstallation)

	// a row approved by a node whose clock ran ahead
	stored, _ := h.requests.GetByID(ctx, req.ID)
	ahead := startTime.Add(48 * time.Hour)
	stored.ApprovedAt = &ahead
	h.requests.put(stored)

	provisioned, err := h.engine.ProvisionUser(ctx, req.ID, newProfile())
	require.NoError(t, err)
	assert.True(t, provisioned.UserCreatedAt.Equal(ahead))
}

func TestEngine_ConcurrentActionsOnSameRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.requestIn(t, 10, domainwf.StatePendingApproval)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.Approve(ctx, req.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// one approval applies, the rest observe PENDING_INSTALLATION and are no-ops
	assert.Equal(t, 8, successes)
	assert.Equal(t, []string{"CREATE", "APPROVE"}, h.history.actions(req.ID))
}

func TestEngine_ConcurrentClaimsOnSameEquipment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.requestIn(t, 10, domainwf.StateUserCreated)
	b := h.requestIn(t, 11, domainwf.StateUserCreated)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = h.engine.ActivateEquipment(ctx, id, 77)
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, apperror.ErrConflict)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}
