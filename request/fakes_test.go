package request

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maintflow/access"
	"maintflow/auth"
	"maintflow/equipment"
	"maintflow/team"
)

// memStore is an in-memory Repository, EquipmentReader and MemberLister with
// the same compare-and-swap semantics as PGRepository.Commit.
type memStore struct {
	mu        sync.Mutex
	requests  map[string]Request
	logs      []LogEntry
	equipment map[string]equipment.Equipment
	members   map[string][]team.Member
	nextID    int
	nextLogID int64

	// readBarrier, when set, makes every Get wait until all participants have read.
	readBarrier *sync.WaitGroup
	commits     int
	commitErr   error
}

func newMemStore() *memStore {
	return &memStore{
		requests:  make(map[string]Request),
		equipment: make(map[string]equipment.Equipment),
		members:   make(map[string][]team.Member),
	}
}

func (m *memStore) Get(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	req, ok := m.requests[id]
	m.mu.Unlock()

	if m.readBarrier != nil {
		m.readBarrier.Done()
		m.readBarrier.Wait()
	}
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (m *memStore) Create(_ context.Context, req Request, equipmentStatus equipment.Status, entry LogEntry) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eq, ok := m.equipment[req.EquipmentID]
	if !ok {
		return Request{}, equipment.ErrNotFound
	}
	if err := equipmentMoved(eq.ID, equipmentStatus, eq.Status); err != nil {
		return Request{}, err
	}

	m.nextID++
	req.ID = fmt.Sprintf("req-%d", m.nextID)
	m.requests[req.ID] = req

	entry.RequestID = req.ID
	m.appendLog(entry)
	return req, nil
}

func (m *memStore) Commit(_ context.Context, ws WriteSet) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return Request{}, m.commitErr
	}
	req, ok := m.requests[ws.RequestID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != ws.ExpectedStatus || !sameID(req.TechnicianID, ws.ExpectedTechnicianID) {
		return Request{}, ErrConflict
	}

	req.Status = ws.Status
	if req.StartedAt == nil {
		req.StartedAt = ws.StartedAt
	}
	if req.CompletedAt == nil {
		req.CompletedAt = ws.CompletedAt
	}
	if ws.DurationMinutes != nil {
		req.DurationMinutes = ws.DurationMinutes
	}
	if ws.RepairNotes != nil {
		req.RepairNotes = ws.RepairNotes
	}
	if ws.SetTechnician {
		req.TechnicianID = ws.TechnicianID
	}
	if ws.Title != nil {
		req.Title = *ws.Title
	}
	if ws.Description != nil {
		req.Description = *ws.Description
	}
	if ws.Priority != nil {
		req.Priority = *ws.Priority
	}
	if ws.ScheduledDate != nil {
		req.ScheduledDate = ws.ScheduledDate
	}
	req.UpdatedAt = ws.At

	if ws.ScrapEquipmentID != "" {
		eq := m.equipment[ws.ScrapEquipmentID]
		eq.Status = equipment.StatusScrapped
		m.equipment[ws.ScrapEquipmentID] = eq
	}

	m.requests[req.ID] = req
	m.appendLog(ws.Log)
	m.commits++
	return req, nil
}

func (m *memStore) Delete(_ context.Context, id string, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != expected {
		return ErrConflict
	}
	delete(m.requests, id)
	kept := m.logs[:0]
	for _, e := range m.logs {
		if e.RequestID != id {
			kept = append(kept, e)
		}
	}
	m.logs = kept
	return nil
}

func (m *memStore) Logs(_ context.Context, requestID string) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LogEntry
	for _, e := range m.logs {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (equipment.Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eq, ok := m.equipment[id]
	if !ok {
		return equipment.Equipment{}, equipment.ErrNotFound
	}
	return eq, nil
}

func (m *memStore) Members(_ context.Context, teamID string) ([]team.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.members[teamID]
	if !ok {
		return nil, team.ErrNotFound
	}
	return members, nil
}

func (m *memStore) appendLog(entry LogEntry) {
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs = append(m.logs, entry)
}

func (m *memStore) logCount(requestID string) int {
	logs, _ := m.Logs(context.Background(), requestID)
	return len(logs)
}

func (m *memStore) equipmentStatus(id string) equipment.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equipment[id].Status
}

// put stores req directly, bypassing the service.
func (m *memStore) put(req Request) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID == "" {
		m.nextID++
		req.ID = fmt.Sprintf("req-%d", m.nextID)
	}
	m.requests[req.ID] = req
	return req
}

func (m *memStore) stored(id string) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id]
}

// hookedEquipment runs afterRead once the service has read the equipment,
// before anything is written.
type hookedEquipment struct {
	*memStore
	afterRead func()
}

func (h hookedEquipment) GetByID(ctx context.Context, id string) (equipment.Equipment, error) {
	eq, err := h.memStore.GetByID(ctx, id)
	if h.afterRead != nil {
		h.afterRead()
	}
	return eq, err
}

// fixture is a small plant: one team with two technicians and a manager, a
// second team, and one active pump routed to the first team.
type fixture struct {
	store *memStore
	svc   *Service
	now   time.Time

	admin     access.Actor
	manager   access.Actor
	tech      access.Actor
	tech2     access.Actor
	outsider  access.Actor
	requester access.Actor
}

const (
	teamMechanics  = "team-mech"
	teamElectrical = "team-elec"
	pumpID         = "eq-pump"
	lathe          = "eq-lathe"
	brokenPress    = "eq-press"
)

func newFixture() *fixture {
	store := newMemStore()
	f := &fixture{
		store:     store,
		now:       time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC),
		admin:     access.Actor{UserID: "u-admin", Role: auth.RoleAdmin},
		manager:   access.Actor{UserID: "u-manager", Role: auth.RoleManager},
		tech:      access.Actor{UserID: "u-tech", Role: auth.RoleTechnician},
		tech2:     access.Actor{UserID: "u-tech2", Role: auth.RoleTechnician},
		outsider:  access.Actor{UserID: "u-sparky", Role: auth.RoleTechnician},
		requester: access.Actor{UserID: "u-req", Role: auth.RoleRequester},
	}

	store.members[teamMechanics] = []team.Member{
		{TeamID: teamMechanics, UserID: f.tech.UserID, Role: auth.RoleTechnician},
		{TeamID: teamMechanics, UserID: f.tech2.UserID, Role: auth.RoleTechnician},
		{TeamID: teamMechanics, UserID: "u-lead", Role: auth.RoleManager},
	}
	store.members[teamElectrical] = []team.Member{
		{TeamID: teamElectrical, UserID: f.outsider.UserID, Role: auth.RoleTechnician},
	}

	mech := teamMechanics
	store.equipment[pumpID] = equipment.Equipment{ID: pumpID, Name: "Coolant pump", Category: "Pumps", Status: equipment.StatusActive, DefaultTeamID: &mech}
	store.equipment[lathe] = equipment.Equipment{ID: lathe, Name: "Lathe", Category: "Machining", Status: equipment.StatusActive}
	store.equipment[brokenPress] = equipment.Equipment{ID: brokenPress, Name: "Press", Category: "Presses", Status: equipment.StatusScrapped}

	f.svc = NewService(store, store, store).WithClock(func() time.Time { return f.now })
	return f
}

// seed stores a request on the pump in the given status, bypassing the service.
func (f *fixture) seed(status Status, technicianID *string) Request {
	mech := teamMechanics
	req := Request{
		Title:        "Pump leaking",
		Type:         TypeCorrective,
		Status:       status,
		Priority:     PriorityHigh,
		Category:     "Pumps",
		EquipmentID:  pumpID,
		TeamID:       &mech,
		TechnicianID: technicianID,
		CreatedBy:    f.requester.UserID,
		CreatedAt:    f.now.Add(-time.Hour),
		UpdatedAt:    f.now.Add(-time.Hour),
	}
	if status != StatusNew {
		started := f.now.Add(-30 * time.Minute)
		req.StartedAt = &started
	}
	return f.store.put(req)
}

func intPtr(v int) *int              { return &v }
func strPtr(v string) *string        { return &v }
func timePtr(v time.Time) *time.Time { return &v }
