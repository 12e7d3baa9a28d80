package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/b2b-provisioning/internal/application/dispatcher"
	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/entity"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
	domainwf "github.com/garyjia/b2b-provisioning/internal/domain/workflow"
)

var errStorage = errors.New("storage unavailable")

type fakeRequests struct {
	mu     sync.Mutex
	rows   map[int64]*entity.InstallRequest
	nextID int64

	// staleSaves makes the next n saves fail as if another writer won
	staleSaves int
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{rows: make(map[int64]*entity.InstallRequest)}
}

func (f *fakeRequests) Create(ctx context.Context, req *entity.InstallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	req.ID = f.nextID
	req.Version = 1
	f.rows[req.ID] = req.Clone()
	return nil
}

func (f *fakeRequests) GetByID(ctx context.Context, id int64) (*entity.InstallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Clone(), nil
}

func (f *fakeRequests) GetForUpdate(ctx context.Context, id int64) (*entity.InstallRequest, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRequests) FindOpenByCase(ctx context.Context, caseID int64) (*entity.InstallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.CaseID == caseID && r.Active && r.State != domainwf.StateCancelled {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeRequests) Save(ctx context.Context, req *entity.InstallRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staleSaves > 0 {
		f.staleSaves--
		return port.ErrStaleVersion
	}
	stored, ok := f.rows[req.ID]
	if !ok || stored.Version != req.Version {
		return port.ErrStaleVersion
	}
	req.Version++
	f.rows[req.ID] = req.Clone()
	return nil
}

func (f *fakeRequests) List(ctx context.Context, filter entity.RequestFilter) ([]*entity.InstallRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.InstallRequest
	for _, r := range f.rows {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		if filter.CaseID != 0 && r.CaseID != filter.CaseID {
			continue
		}
		if filter.Active != nil && r.Active != *filter.Active {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// put overwrites a stored row, for tests that need a specific starting point
func (f *fakeRequests) put(req *entity.InstallRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[req.ID] = req.Clone()
}

type fakeUsers struct {
	mu     sync.Mutex
	rows   map[int64]*entity.UserAccount
	nextID int64

	// failCreates makes the next n creates fail
	failCreates int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{rows: make(map[int64]*entity.UserAccount)}
}

func (f *fakeUsers) Create(ctx context.Context, account *entity.UserAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreates > 0 {
		f.failCreates--
		return errStorage
	}
	for _, u := range f.rows {
		if u.Username == account.Username {
			return fmt.Errorf("duplicate username %s", account.Username)
		}
	}
	f.nextID++
	account.ID = f.nextID
	c := *account
	f.rows[account.ID] = &c
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id int64) (*entity.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.rows[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*entity.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.rows {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeEquipment struct {
	mu   sync.Mutex
	rows map[int64]*entity.Equipment
}

func newFakeEquipment() *fakeEquipment {
	return &fakeEquipment{rows: make(map[int64]*entity.Equipment)}
}

func (f *fakeEquipment) GetByID(ctx context.Context, id int64) (*entity.Equipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eq, ok := f.rows[id]; ok {
		c := *eq
		return &c, nil
	}
	return nil, nil
}

func (f *fakeEquipment) Claim(ctx context.Context, equipmentID, requestID int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eq, ok := f.rows[equipmentID]
	if !ok {
		eq = &entity.Equipment{ID: equipmentID}
		f.rows[equipmentID] = eq
	}
	if eq.BoundRequestID != nil && *eq.BoundRequestID != requestID {
		return false, nil
	}
	eq.BoundRequestID = &requestID
	eq.Active = true
	eq.Version++
	eq.UpdatedAt = at
	return true, nil
}

func (f *fakeEquipment) Release(ctx context.Context, equipmentID, requestID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eq, ok := f.rows[equipmentID]; ok && eq.BoundRequestID != nil && *eq.BoundRequestID == requestID {
		eq.BoundRequestID = nil
		eq.Version++
		eq.UpdatedAt = at
	}
	return nil
}

type fakeHistory struct {
	mu   sync.Mutex
	rows []*entity.RequestHistory
}

func (f *fakeHistory) Create(ctx context.Context, h *entity.RequestHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, h)
	return nil
}

func (f *fakeHistory) GetByRequestID(ctx context.Context, requestID int64) ([]*entity.RequestHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.RequestHistory
	for _, h := range f.rows {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHistory) actions(requestID int64) []string {
	rows, _ := f.GetByRequestID(context.Background(), requestID)
	out := make([]string, len(rows))
	for i, h := range rows {
		out[i] = h.Action
	}
	return out
}

// fakeTx runs fn directly; a context that expired during fn fails the commit
type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

type fakeCases map[int64]*port.CaseInfo

func (f fakeCases) GetCase(ctx context.Context, id int64) (*port.CaseInfo, error) {
	return f[id], nil
}

type fakeDirectory struct {
	mu            sync.Mutex
	users         map[string]*port.DirectoryUser
	findOrCreates int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[string]*port.DirectoryUser)}
}

func (f *fakeDirectory) FindOrCreateUser(ctx context.Context, profile port.DirectoryProfile) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findOrCreates++
	if u, ok := f.users[profile.Username]; ok {
		return u.ID, nil
	}
	u := &port.DirectoryUser{
		ID:       fmt.Sprintf("dir-%d", len(f.users)+1),
		Username: profile.Username,
		FullName: profile.FullName,
		Email:    profile.Email,
	}
	f.users[profile.Username] = u
	return u.ID, nil
}

func (f *fakeDirectory) GetUser(ctx context.Context, username string) (*port.DirectoryUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[username]; ok {
		c := *u
		return &c, nil
	}
	return nil, nil
}

type fakeRegistry struct {
	mu          sync.Mutex
	equipment   map[int64]*port.RegistryEquipment
	markActives int

	// block makes GetEquipment wait for the context to end
	block bool
}

func newFakeRegistry(ids ...int64) *fakeRegistry {
	r := &fakeRegistry{equipment: make(map[int64]*port.RegistryEquipment)}
	for _, id := range ids {
		r.equipment[id] = &port.RegistryEquipment{ID: id}
	}
	return r
}

func (f *fakeRegistry) GetEquipment(ctx context.Context, id int64) (*port.RegistryEquipment, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if eq, ok := f.equipment[id]; ok {
		c := *eq
		return &c, nil
	}
	return nil, nil
}

func (f *fakeRegistry) MarkActive(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markActives++
	f.equipment[id].Active = true
	return nil
}

// recordingDispatcher captures events instead of running handlers
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(event.Type, string, dispatcher.Handler) {}

func (d *recordingDispatcher) SubscribeAll(string, dispatcher.Handler) {}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.DispatchAsync(ctx, evt)
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) ListHandlers(event.Type) []dispatcher.HandlerInfo { return nil }

func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

var startTime = time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	engine     Engine
	requests   *fakeRequests
	users      *fakeUsers
	equipment  *fakeEquipment
	history    *fakeHistory
	directory  *fakeDirectory
	registry   *fakeRegistry
	dispatcher *recordingDispatcher
	clock      *testclock.Clock
}

func newHarness(t *testing.T, opts ...EngineOption) *harness {
	t.Helper()
	h := &harness{
		requests:   newFakeRequests(),
		users:      newFakeUsers(),
		equipment:  newFakeEquipment(),
		history:    &fakeHistory{},
		directory:  newFakeDirectory(),
		registry:   newFakeRegistry(55, 56, 77),
		dispatcher: &recordingDispatcher{},
		clock:      testclock.NewClock(startTime),
	}
	h.registry.equipment[77].Active = true

	cases := fakeCases{
		10: {ID: 10, Title: "Acme clinic", Approved: true},
		11: {ID: 11, Title: "Globex lab", Approved: true},
		12: {ID: 12, Title: "Initech office", Approved: false},
	}

	deps := Deps{
		Requests:  h.requests,
		Users:     h.users,
		Equipment: h.equipment,
		History:   h.history,
		Tx:        fakeTx{},
		Cases:     cases,
		Directory: h.directory,
		Registry:  h.registry,
	}
	opts = append([]EngineOption{WithDispatcher(h.dispatcher), WithClock(h.clock)}, opts...)
	engine, err := NewEngine(deps, opts...)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func newProfile() UserProfile {
	return UserProfile{
		FullName: "Acme Admin",
		Username: "acme.admin",
		Email:    "admin@acme.example.com",
		Password: "s3cret-pass",
	}
}

var installDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

// requestIn creates a request for caseID and drives it to state
func (h *harness) requestIn(t *testing.T, caseID int64, state domainwf.State) *entity.InstallRequest {
	t.Helper()
	ctx := context.Background()

	req, err := h.engine.CreateRequest(ctx, CreateInput{CaseID: caseID})
	require.NoError(t, err)

	steps := []struct {
		reach domainwf.State
		run   func() (*entity.InstallRequest, error)
	}{
		{domainwf.StatePendingInstallation, func() (*entity.InstallRequest, error) { return h.engine.Approve(ctx, req.ID) }},
		{domainwf.StateUserCreated, func() (*entity.InstallRequest, error) {
			p := newProfile()
			p.Username = fmt.Sprintf("user.case%d", caseID)
			return h.engine.ProvisionUser(ctx, req.ID, p)
		}},
		{domainwf.StateConfigPending, func() (*entity.InstallRequest, error) {
			return h.engine.ActivateEquipment(ctx, req.ID, 45+caseID)
		}},
		{domainwf.StateScheduled, func() (*entity.InstallRequest, error) { return h.engine.Schedule(ctx, req.ID, installDate) }},
		{domainwf.StateCompleted, func() (*entity.InstallRequest, error) { return h.engine.Finalize(ctx, req.ID, true) }},
	}

	if state == domainwf.StateCancelled {
		req, err = h.engine.Cancel(ctx, req.ID)
		require.NoError(t, err)
		return req
	}
	for _, step := range steps {
		if req.State == state {
			break
		}
		req, err = step.run()
		require.NoError(t, err)
		require.Equal(t, step.reach, req.State)
	}
	require.Equal(t, state, req.State)
	return req
}
