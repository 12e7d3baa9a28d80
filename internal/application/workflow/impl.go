package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"

	"github.com/garyjia/b2b-provisioning/internal/application/dispatcher"
	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/apperror"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
	"github.com/garyjia/b2b-provisioning/pkg/utils"
)

// Actions recorded in history that are not state machine triggers
const (
	ActionCreate           = "CREATE"
	ActionAssignTechnician = "ASSIGN_TECHNICIAN"
	ActionUpdateNotes      = "UPDATE_NOTES"
	ActionDeactivate       = "DEACTIVATE"
)

// DefaultActionTimeout bounds one action including its external calls
const DefaultActionTimeout = 30 * time.Second

// Deps are the collaborators the engine cannot run without
type Deps struct {
	Requests  port.InstallRequestRepository
	Users     port.UserAccountRepository
	Equipment port.EquipmentRepository
	History   port.HistoryRepository
	Tx        port.TransactionManager

	Cases     port.CaseLookup
	Directory port.UserDirectory
	Registry  port.EquipmentRegistry
}

func (d Deps) validate() error {
	switch {
	case d.Requests == nil, d.Users == nil, d.Equipment == nil, d.History == nil:
		return errors.New("workflow engine requires all repositories")
	case d.Tx == nil:
		return errors.New("workflow engine requires a transaction manager")
	case d.Cases == nil, d.Directory == nil, d.Registry == nil:
		return errors.New("workflow engine requires case lookup, user directory and equipment registry")
	}
	return nil
}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	Deps

	builder       domainwf.StateMachineBuilder
	reconciler    *reconciler
	dispatcher    dispatcher.Dispatcher
	clock         clock.Clock
	logger        Logger
	locks         *kmutex.Kmutex
	actionTimeout time.Duration

	allowFinalizeWithoutSchedule bool
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock replaces the wall clock used for milestone stamps
func WithClock(c clock.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithActionTimeout bounds each action
func WithActionTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d > 0 {
			e.actionTimeout = d
		}
	}
}

// WithFinalizeWithoutSchedule permits FINALIZE from CONFIG_PENDING
func WithFinalizeWithoutSchedule(allow bool) EngineOption {
	return func(e *engineImpl) {
		e.allowFinalizeWithoutSchedule = allow
	}
}

// WithLogger sets a logger for the engine
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(deps Deps, opts ...EngineOption) (Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	e := &engineImpl{
		Deps:          deps,
		clock:         clock.WallClock,
		logger:        nopLogger{},
		locks:         kmutex.New(),
		actionTimeout: DefaultActionTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.builder = NewInstallationBuilder(e.allowFinalizeWithoutSchedule)
	e.reconciler = &reconciler{users: deps.Users, directory: deps.Directory, clock: e.clock}
	return e, nil
}

// caseKey keeps per-case locks apart from per-request locks in the same kmutex
type caseKey int64

func (e *engineImpl) CreateRequest(ctx context.Context, input CreateInput) (*entity.InstallRequest, error) {
	if input.CaseID <= 0 {
		return nil, apperror.Validation("case id must be positive")
	}
	if input.B2BUserID != nil && *input.B2BUserID <= 0 {
		return nil, apperror.Validation("b2b user id must be positive")
	}

	e.locks.Lock(caseKey(input.CaseID))
	defer e.locks.Unlock(caseKey(input.CaseID))

	ctx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	var (
		created *entity.InstallRequest
		evt     *event.Event
	)
	err := e.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		caseInfo, err := e.Cases.GetCase(txCtx, input.CaseID)
		if err != nil {
			return apperror.Wrap(err, "look up case %d", input.CaseID)
		}
		if caseInfo == nil {
			return apperror.RelatedResourceMissing("case %d does not exist", input.CaseID)
		}
		if !caseInfo.Approved {
			return apperror.RelatedResourceMissing("case %d is not approved for installation", input.CaseID)
		}

		if input.B2BUserID != nil {
			account, err := e.Users.GetByID(txCtx, *input.B2BUserID)
			if err != nil {
				return apperror.Wrap(err, "look up user %d", *input.B2BUserID)
			}
			if account == nil {
				return apperror.RelatedResourceMissing("user %d does not exist", *input.B2BUserID)
			}
		}

		open, err := e.Requests.FindOpenByCase(txCtx, input.CaseID)
		if err != nil {
			return apperror.Wrap(err, "look up open request for case %d", input.CaseID)
		}
		if open != nil {
			return apperror.Conflict("case %d already has open request %d", input.CaseID, open.ID)
		}

		now := e.clock.Now().UTC()
		req := &entity.InstallRequest{
			CaseID:      input.CaseID,
			B2BUserID:   input.B2BUserID,
			State:       domainwf.StatePendingApproval,
			RequestedAt: now,
			Notes:       utils.SanitizeString(input.Notes),
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Requests.Create(txCtx, req); err != nil {
			return apperror.Wrap(err, "create request for case %d", input.CaseID)
		}

		history := &entity.RequestHistory{
			RequestID: req.ID,
			NewState:  req.State.String(),
			Action:    ActionCreate,
			Actor:     ActorFrom(ctx),
			Detail:    fmt.Sprintf("case %d: %s", caseInfo.ID, caseInfo.Title),
			Timestamp: now,
		}
		if err := e.Deps.History.Create(txCtx, history); err != nil {
			return apperror.Wrap(err, "write history for request %d", req.ID)
		}

		created = req
		evt = event.NewEvent(event.TypeRequestCreated, req.ID, req.CaseID, map[string]interface{}{
			"state": req.State.String(),
		}, "")
		return nil
	})
	if err != nil {
		err = apperror.Wrap(err, "create request for case %d", input.CaseID)
		e.logger.Error("Failed to create install request", "case_id", input.CaseID, "error", err)
		return nil, err
	}

	e.logger.Info("Install request created", "request_id", created.ID, "case_id", created.CaseID)
	e.publish(ctx, []*event.Event{evt})
	return created, nil
}

func (e *engineImpl) Get(ctx context.Context, id int64) (*entity.InstallRequest, error) {
	req, err := e.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Wrap(err, "get request %d", id)
	}
	if req == nil {
		return nil, apperror.NotFound("install request %d not found", id)
	}
	return req, nil
}

func (e *engineImpl) List(ctx context.Context, filter entity.RequestFilter) ([]*entity.InstallRequest, error) {
	if filter.State != "" && !filter.State.IsValid() {
		return nil, apperror.Validation("unknown state %q", filter.State)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, apperror.Validation("limit and offset must not be negative")
	}
	requests, err := e.Requests.List(ctx, filter)
	if err != nil {
		return nil, apperror.Wrap(err, "list requests")
	}
	return requests, nil
}

func (e *engineImpl) History(ctx context.Context, id int64) ([]*entity.RequestHistory, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	rows, err := e.Deps.History.GetByRequestID(ctx, id)
	if err != nil {
		return nil, apperror.Wrap(err, "get history of request %d", id)
	}
	return rows, nil
}

func (e *engineImpl) Approve(ctx context.Context, id int64, opts ...ActionOption) (*entity.InstallRequest, error) {
	return e.apply(ctx, id, domainwf.TriggerApprove.String(), func(ctx context.Context, m *mutation) error {
		if err := m.requireActive(); err != nil {
			return err
		}
		if m.req.State == domainwf.StatePendingInstallation {
			return nil
		}
		return m.approve(ctx)
	}, opts...)
}

func (e *engineImpl) Cancel(ctx context.Context, id int64, opts ...ActionOption) (*entity.InstallRequest, error) {
	return e.apply(ctx, id, domainwf.TriggerCancel.String(), func(ctx context.Context, m *mutation) error {
		if m.req.State == domainwf.StateCancelled {
			return nil
		}
		if err := m.fire(ctx, domainwf.TriggerCancel, ""); err != nil {
			return err
		}

		if m.req.EquipmentID != nil {
			if err := e.Equipment.Release(ctx, *m.req.EquipmentID, m.req.ID, m.now); err != nil {
				return apperror.Wrap(err, "release equipment %d", *m.req.EquipmentID)
			}
		}
		m.req.CancelledAt = m.stamp()
		m.emit(event.TypeRequestCancelled, nil)
		return nil
	}, opts...)
}

func (e *engineImpl) AssignTechnician(ctx context.Context, id int64, technicianUserID int64) (*entity.InstallRequest, error) {
	if technicianUserID <= 0 {
		return nil, apperror.Validation("technician user id must be positive")
	}
	return e.apply(ctx, id, ActionAssignTechnician, func(ctx context.Context, m *mutation) error {
		if err := m.requireActive(); err != nil {
			return err
		}
		if m.req.State.IsTerminal() {
			return apperror.InvalidTransition("cannot assign a technician to request %d in state %s", m.req.ID, m.req.State)
		}
		if m.req.TechnicianUserID != nil && *m.req.TechnicianUserID == technicianUserID {
			return nil
		}

		m.req.TechnicianUserID = &technicianUserID
		m.record(ActionAssignTechnician, m.req.State, fmt.Sprintf("technician %d", technicianUserID))
		m.emit(event.TypeTechnicianAssigned, map[string]interface{}{"technician_user_id": technicianUserID})
		return nil
	})
}

func (e *engineImpl) UpdateNotes(ctx context.Context, id int64, notes string) (*entity.InstallRequest, error) {
	notes = utils.SanitizeString(notes)
	return e.apply(ctx, id, ActionUpdateNotes, func(ctx context.Context, m *mutation) error {
		m.setNotes(notes)
		return nil
	})
}

func (e *engineImpl) Deactivate(ctx context.Context, id int64) (*entity.InstallRequest, error) {
	return e.apply(ctx, id, ActionDeactivate, func(ctx context.Context, m *mutation) error {
		if !m.req.Active {
			return nil
		}
		m.req.Active = false

		// an archived request holds no equipment, whatever its state
		if m.req.EquipmentID != nil {
			if err := e.Equipment.Release(ctx, *m.req.EquipmentID, m.req.ID, m.now); err != nil {
				return apperror.Wrap(err, "release equipment %d", *m.req.EquipmentID)
			}
		}
		m.record(ActionDeactivate, m.req.State, "")
		m.emit(event.TypeRequestArchived, nil)
		return nil
	})
}

// apply runs one action on request id: per-id lock, bounded transaction,
// locked read, action body, CAS save plus history, then async events.
func (e *engineImpl) apply(ctx context.Context, id int64, action string, fn func(ctx context.Context, m *mutation) error, opts ...ActionOption) (*entity.InstallRequest, error) {
	if id <= 0 {
		return nil, apperror.Validation("request id must be positive")
	}

	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	ctx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	var m *mutation
	err := e.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		req, err := e.Requests.GetForUpdate(txCtx, id)
		if err != nil {
			return apperror.Wrap(err, "load request %d", id)
		}
		if req == nil {
			return apperror.NotFound("install request %d not found", id)
		}

		m = e.newMutation(ctx, req)
		if err := fn(txCtx, m); err != nil {
			return err
		}
		for _, opt := range opts {
			opt(m)
		}
		if !m.changed() {
			return nil
		}

		m.req.UpdatedAt = m.now
		if err := e.Requests.Save(txCtx, m.req); err != nil {
			if errors.Is(err, port.ErrStaleVersion) {
				return apperror.Conflict("install request %d was modified concurrently", id)
			}
			return apperror.Wrap(err, "save request %d", id)
		}
		for _, h := range m.history {
			if err := e.Deps.History.Create(txCtx, h); err != nil {
				return apperror.Wrap(err, "write history for request %d", id)
			}
		}
		return nil
	})
	if err != nil {
		err = apperror.Wrap(err, "%s request %d", action, id)
		e.logger.Error("Workflow action failed",
			"request_id", id,
			"action", action,
			"code", apperror.CodeOf(err),
			"error", err,
		)
		return nil, err
	}

	if !m.changed() {
		e.logger.Info("Workflow action was a no-op", "request_id", id, "action", action, "state", m.req.State)
		return m.req, nil
	}

	e.logger.Info("Workflow action applied",
		"request_id", id,
		"action", action,
		"previous_state", m.initial,
		"new_state", m.req.State,
	)
	e.publish(ctx, m.events)
	return m.req, nil
}

// publish hands events to the dispatcher after commit. Handlers outlive the
// action's deadline.
func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, evt := range events {
		e.dispatcher.DispatchAsync(detached, evt)
	}
}

// mutation collects what one action does to a request before it is saved
type mutation struct {
	req           *entity.InstallRequest
	initial       domainwf.State
	machine       domainwf.StateMachine
	now           time.Time
	actor         string
	correlationID string

	history []*entity.RequestHistory
	events  []*event.Event
}

func (e *engineImpl) newMutation(ctx context.Context, req *entity.InstallRequest) *mutation {
	// stamps never precede an earlier milestone, even if the clock stepped back
	now := e.clock.Now().UTC()
	if latest := req.LatestStamp(); latest.After(now) {
		now = latest
	}
	return &mutation{
		req:           req,
		initial:       req.State,
		machine:       e.builder.Build(req.State),
		now:           now,
		actor:         ActorFrom(ctx),
		correlationID: uuid.NewString(),
	}
}

func (m *mutation) setNotes(notes string) {
	if m.req.Notes == notes {
		return
	}
	m.req.Notes = notes
	m.record(ActionUpdateNotes, m.req.State, "")
}

func (m *mutation) changed() bool {
	return len(m.history) > 0
}

func (m *mutation) stamp() *time.Time {
	t := m.now
	return &t
}

func (m *mutation) requireActive() error {
	if !m.req.Active {
		return apperror.InvalidTransition("install request %d is archived", m.req.ID)
	}
	return nil
}

// check verifies trigger is legal from the current state without moving
func (m *mutation) check(ctx context.Context, trigger domainwf.Trigger) error {
	if _, err := m.machine.Target(ctx, trigger); err != nil {
		return transitionError(err, m.req.ID, trigger, m.machine.State())
	}
	return nil
}

// fire moves the request along trigger and records the edge
func (m *mutation) fire(ctx context.Context, trigger domainwf.Trigger, detail string) error {
	from := m.machine.State()
	if err := m.machine.Fire(ctx, trigger); err != nil {
		return transitionError(err, m.req.ID, trigger, from)
	}
	m.req.State = m.machine.State()

	m.history = append(m.history, &entity.RequestHistory{
		RequestID:     m.req.ID,
		PreviousState: from.String(),
		NewState:      m.req.State.String(),
		Action:        trigger.String(),
		Actor:         m.actor,
		Detail:        detail,
		Timestamp:     m.now,
	})
	m.emit(event.TypeStatusChanged, map[string]interface{}{
		"previous_state": from.String(),
		"new_state":      m.req.State.String(),
		"trigger":        trigger.String(),
	})
	return nil
}

// record adds a history row for an action that keeps the state
func (m *mutation) record(action string, state domainwf.State, detail string) {
	m.history = append(m.history, &entity.RequestHistory{
		RequestID:     m.req.ID,
		PreviousState: state.String(),
		NewState:      state.String(),
		Action:        action,
		Actor:         m.actor,
		Detail:        detail,
		Timestamp:     m.now,
	})
}

func (m *mutation) emit(eventType event.Type, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["state"] = m.req.State.String()
	payload["actor"] = m.actor
	m.events = append(m.events, event.NewEvent(eventType, m.req.ID, m.req.CaseID, payload, m.correlationID))
}

func (m *mutation) approve(ctx context.Context) error {
	if err := m.fire(ctx, domainwf.TriggerApprove, ""); err != nil {
		return err
	}
	m.req.ApprovedAt = m.stamp()
	return nil
}

func transitionError(err error, id int64, trigger domainwf.Trigger, from domainwf.State) error {
	if errors.Is(err, domainwf.ErrInvalidTransition) || errors.Is(err, domainwf.ErrGuardFailed) {
		return &apperror.Error{
			Code:    apperror.CodeInvalidTransition,
			Message: fmt.Sprintf("cannot %s request %d in state %s", trigger, id, from),
			Err:     err,
		}
	}
	return err
}
