package request

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"maintflow/access"
	"maintflow/auth"
	"maintflow/equipment"
)

func TestCreate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateParams{
		Title:       "  Pump leaking  ",
		EquipmentID: pumpID,
		Actor:       f.requester,
	})
	require.NoError(t, err)

	assert.Equal(t, "Pump leaking", req.Title)
	assert.Equal(t, StatusNew, req.Status)
	assert.Equal(t, TypeCorrective, req.Type)
	assert.Equal(t, PriorityMedium, req.Priority)
	assert.Equal(t, "Pumps", req.Category)
	require.NotNil(t, req.TeamID)
	assert.Equal(t, teamMechanics, *req.TeamID)
	assert.Nil(t, req.TechnicianID)
	assert.Equal(t, f.requester.UserID, req.CreatedBy)

	logs, err := f.store.Logs(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionCreated, logs[0].Action)
	assert.Equal(t, f.requester.UserID, logs[0].ActorUserID)
	assert.Equal(t, pumpID, logs[0].Details["equipmentId"])
}

func TestCreateWithoutDefaultTeam(t *testing.T) {
	f := newFixture()

	req, err := f.svc.Create(context.Background(), CreateParams{Title: "Chuck wobble", EquipmentID: lathe, Actor: f.manager})
	require.NoError(t, err)
	assert.Nil(t, req.TeamID)
	assert.Equal(t, "Machining", req.Category)
}

func TestCreateRejects(t *testing.T) {
	f := newFixture()
	scheduled := f.now.Add(72 * time.Hour)

	cases := []struct {
		name   string
		params CreateParams
		want   error
	}{
		{name: "blank title", params: CreateParams{Title: "  ", EquipmentID: pumpID}, want: ErrValidation},
		{name: "long title", params: CreateParams{Title: strings.Repeat("x", maxTitleLength+1), EquipmentID: pumpID}, want: ErrValidation},
		{name: "unknown type", params: CreateParams{Title: "t", Type: "EMERGENCY", EquipmentID: pumpID}, want: ErrValidation},
		{name: "unknown priority", params: CreateParams{Title: "t", Priority: "URGENT", EquipmentID: pumpID}, want: ErrValidation},
		{name: "preventive without date", params: CreateParams{Title: "t", Type: "preventive", EquipmentID: pumpID}, want: ErrValidation},
		{name: "missing equipment id", params: CreateParams{Title: "t"}, want: ErrValidation},
		{name: "unknown equipment", params: CreateParams{Title: "t", EquipmentID: "eq-nope"}, want: equipment.ErrNotFound},
		{name: "scrapped equipment", params: CreateParams{Title: "t", EquipmentID: brokenPress, ScheduledDate: &scheduled}, want: ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.params.Actor = f.requester
			_, err := f.svc.Create(context.Background(), tc.params)
			require.ErrorIs(t, err, tc.want)
		})
	}

	assert.Empty(t, f.store.requests)
	assert.Empty(t, f.store.logs)
}

func TestCreatePreventive(t *testing.T) {
	f := newFixture()
	scheduled := f.now.Add(72 * time.Hour)

	req, err := f.svc.Create(context.Background(), CreateParams{
		Title: "Quarterly inspection", Type: "preventive", Priority: "low",
		EquipmentID: pumpID, ScheduledDate: &scheduled, Actor: f.manager,
	})
	require.NoError(t, err)
	assert.Equal(t, TypePreventive, req.Type)
	assert.Equal(t, PriorityLow, req.Priority)
	assert.True(t, req.ScheduledDate.Equal(scheduled))
}

// A scrap that commits between the equipment read and the insert must win:
// no NEW request may land on scrapped equipment.
func TestCreateLosesToConcurrentScrap(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	open := f.seed(StatusInProgress, strPtr(f.tech.UserID))

	reader := hookedEquipment{memStore: f.store, afterRead: func() {
		_, err := f.svc.Transition(ctx, TransitionParams{RequestID: open.ID, Target: StatusScrap, Actor: f.manager})
		require.NoError(t, err)
	}}
	svc := NewService(f.store, reader, f.store).WithClock(func() time.Time { return f.now })

	_, err := svc.Create(ctx, CreateParams{Title: "Pump leaking again", EquipmentID: pumpID, Actor: f.requester})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, KindValidation, KindOf(err))

	assert.Equal(t, equipment.StatusScrapped, f.store.equipmentStatus(pumpID))
	assert.Len(t, f.store.requests, 1)
	assert.Equal(t, 1, f.store.logCount(open.ID))
}

func TestCreateRequiresKnownActor(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), CreateParams{Title: "t", EquipmentID: pumpID})
	require.ErrorIs(t, err, ErrForbidden)
}

// A technician from another team cannot start the request.
func TestTransitionOutsiderForbidden(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusNew, nil)

	_, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: f.outsider})
	require.ErrorIs(t, err, ErrForbidden)

	assert.Equal(t, StatusNew, f.store.stored(req.ID).Status)
	assert.Zero(t, f.store.logCount(req.ID))
}

func TestManagerStartsWithoutAssigning(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusNew, nil)

	got, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: f.manager})
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(f.now))
	assert.Nil(t, got.TechnicianID)
	assert.Equal(t, 1, f.store.logCount(req.ID))
}

func TestAdminRepairs(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusInProgress, nil)
	startedAt := *req.StartedAt

	got, err := f.svc.Transition(context.Background(), TransitionParams{
		RequestID: req.ID, Target: StatusRepaired, DurationMinutes: intPtr(45), RepairNotes: strPtr("replaced seal"), Actor: f.admin,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRepaired, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(f.now))
	assert.True(t, got.StartedAt.Equal(startedAt), "startedAt must survive completion")
	assert.Equal(t, 45, *got.DurationMinutes)
	assert.Equal(t, "replaced seal", *got.RepairNotes)
	assert.Equal(t, equipment.StatusActive, f.store.equipmentStatus(pumpID))

	logs, _ := f.store.Logs(context.Background(), req.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionStatusChanged, logs[0].Action)
	assert.Equal(t, StatusInProgress, logs[0].Details["from"])
	assert.Equal(t, StatusRepaired, logs[0].Details["to"])
	assert.NotContains(t, logs[0].Details, "equipmentScrapped")
}

func TestManagerScrapsCascadesToEquipment(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusInProgress, nil)

	got, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusScrap, Actor: f.manager})
	require.NoError(t, err)

	assert.Equal(t, StatusScrap, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, equipment.StatusScrapped, f.store.equipmentStatus(pumpID))

	logs, _ := f.store.Logs(context.Background(), req.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, true, logs[0].Details["equipmentScrapped"])
}

func TestTerminalRequestsRejectEveryMove(t *testing.T) {
	f := newFixture()
	tech := f.tech.UserID

	for _, terminal := range []Status{StatusRepaired, StatusScrap} {
		req := f.seed(terminal, &tech)
		for _, actor := range []access.Actor{f.admin, f.manager, f.tech} {
			for _, target := range Statuses {
				if target == terminal {
					continue
				}
				_, err := f.svc.Transition(context.Background(), TransitionParams{
					RequestID: req.ID, Target: target, DurationMinutes: intPtr(10), Actor: actor,
				})
				assert.ErrorIs(t, err, ErrTerminalState, "%s by %s -> %s", terminal, actor.Role, target)
			}
		}
		assert.Zero(t, f.store.logCount(req.ID))
	}
}

func TestTechnicianStartAutoAssigns(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusNew, nil)

	got, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: f.tech})
	require.NoError(t, err)

	require.NotNil(t, got.TechnicianID)
	assert.Equal(t, f.tech.UserID, *got.TechnicianID)

	logs, _ := f.store.Logs(context.Background(), req.ID)
	require.Len(t, logs, 1, "self-assignment is part of the transition commit")
	assert.Equal(t, true, logs[0].Details["autoAssigned"])

	// Retrying the same move is a no-op.
	again, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: f.tech})
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, f.store.logCount(req.ID))
}

func TestSameStatusIsNoop(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusInProgress, nil)

	got, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: f.tech})
	require.NoError(t, err)

	assert.Nil(t, got.TechnicianID, "a no-op never self-assigns")
	assert.Zero(t, f.store.commits)
	assert.Zero(t, f.store.logCount(req.ID))
}

func TestTransitionRejections(t *testing.T) {
	f := newFixture()
	other := f.tech2.UserID

	cases := []struct {
		name   string
		status Status
		tech   *string
		params TransitionParams
		want   error
	}{
		{name: "unknown target", status: StatusNew, params: TransitionParams{Target: "DONE", Actor: f.admin}, want: ErrValidation},
		{name: "skip ahead", status: StatusNew, params: TransitionParams{Target: StatusRepaired, DurationMinutes: intPtr(5), Actor: f.admin}, want: ErrInvalidTransition},
		{name: "repair without duration", status: StatusInProgress, params: TransitionParams{Target: StatusRepaired, Actor: f.admin}, want: ErrMissingDuration},
		{name: "repair zero duration", status: StatusInProgress, params: TransitionParams{Target: StatusRepaired, DurationMinutes: intPtr(0), Actor: f.admin}, want: ErrMissingDuration},
		{name: "scrap negative duration", status: StatusInProgress, params: TransitionParams{Target: StatusScrap, DurationMinutes: intPtr(-1), Actor: f.admin}, want: ErrValidation},
		{name: "requester", status: StatusNew, params: TransitionParams{Target: StatusInProgress, Actor: f.requester}, want: ErrForbidden},
		{name: "someone else's job", status: StatusInProgress, tech: &other, params: TransitionParams{Target: StatusScrap, Actor: f.tech}, want: ErrForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.seed(tc.status, tc.tech)
			tc.params.RequestID = req.ID

			_, err := f.svc.Transition(context.Background(), tc.params)
			require.ErrorIs(t, err, tc.want)

			assert.Equal(t, tc.status, f.store.stored(req.ID).Status)
			assert.Zero(t, f.store.logCount(req.ID))
		})
	}
	assert.Equal(t, equipment.StatusActive, f.store.equipmentStatus(pumpID))
}

func TestTransitionUnknownRequest(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: "req-404", Target: StatusInProgress, Actor: f.admin})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestAssignedTechnicianFinishesOwnJob(t *testing.T) {
	f := newFixture()
	tech := f.tech.UserID
	req := f.seed(StatusInProgress, &tech)

	got, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusRepaired, DurationMinutes: intPtr(20), Actor: f.tech})
	require.NoError(t, err)
	assert.Equal(t, StatusRepaired, got.Status)
}

func TestAssign(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := f.seed(StatusNew, nil)

	got, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech.UserID), Actor: f.manager})
	require.NoError(t, err)
	assert.Equal(t, f.tech.UserID, *got.TechnicianID)

	got, err = f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech2.UserID), Actor: f.manager})
	require.NoError(t, err)
	assert.Equal(t, f.tech2.UserID, *got.TechnicianID)

	// Same technician again: nothing written.
	_, err = f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech2.UserID), Actor: f.manager})
	require.NoError(t, err)

	got, err = f.svc.Assign(ctx, AssignParams{RequestID: req.ID, Actor: f.manager})
	require.NoError(t, err)
	assert.Nil(t, got.TechnicianID)

	logs, err := f.store.Logs(ctx, req.ID)
	require.NoError(t, err)
	actions := make([]LogAction, len(logs))
	for i, l := range logs {
		actions[i] = l.Action
	}
	assert.Equal(t, []LogAction{ActionAssigned, ActionAssigned, ActionUnassigned}, actions)
	assert.Equal(t, f.tech.UserID, logs[1].Details["previousTechnicianId"])
}

// Terminal requests freeze their status, not their record: a manager may still
// correct who did the work, and the status and completion stay as they were.
func TestAssignOnTerminalRequestCorrectsRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, terminal := range []Status{StatusRepaired, StatusScrap} {
		req := f.seed(terminal, strPtr(f.tech.UserID))
		completed := f.now.Add(-10 * time.Minute)
		req.CompletedAt = &completed
		f.store.put(req)

		got, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech2.UserID), Actor: f.manager})
		require.NoError(t, err, terminal)
		assert.Equal(t, terminal, got.Status)
		assert.Equal(t, f.tech2.UserID, *got.TechnicianID)
		assert.True(t, got.CompletedAt.Equal(completed))

		logs, err := f.store.Logs(ctx, req.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, ActionAssigned, logs[0].Action)

		_, err = f.svc.Transition(ctx, TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: f.manager})
		require.ErrorIs(t, err, ErrTerminalState)
	}
}

func TestAssignTargetValidation(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusNew, nil)

	cases := map[string]string{
		"not a member":               f.outsider.UserID,
		"member who is not a worker": "u-lead",
		"unknown user":               "u-ghost",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Assign(context.Background(), AssignParams{RequestID: req.ID, TechnicianID: strPtr(target), Actor: f.manager})
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	noTeam := f.store.put(Request{Title: "Lathe", Status: StatusNew, EquipmentID: lathe, CreatedBy: f.requester.UserID})
	_, err := f.svc.Assign(context.Background(), AssignParams{RequestID: noTeam.ID, TechnicianID: strPtr(f.tech.UserID), Actor: f.admin})
	require.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, f.store.commits)
}

func TestTechnicianAssignment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	t.Run("self", func(t *testing.T) {
		req := f.seed(StatusNew, nil)
		got, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech.UserID), Actor: f.tech})
		require.NoError(t, err)
		assert.Equal(t, f.tech.UserID, *got.TechnicianID)

		got, err = f.svc.Assign(ctx, AssignParams{RequestID: req.ID, Actor: f.tech})
		require.NoError(t, err, "technicians may release their own job")
		assert.Nil(t, got.TechnicianID)
	})

	t.Run("colleague", func(t *testing.T) {
		req := f.seed(StatusNew, nil)
		_, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech2.UserID), Actor: f.tech})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("taken", func(t *testing.T) {
		other := f.tech2.UserID
		req := f.seed(StatusInProgress, &other)
		_, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech.UserID), Actor: f.tech})
		require.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.Assign(ctx, AssignParams{RequestID: req.ID, Actor: f.tech})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("outsider", func(t *testing.T) {
		req := f.seed(StatusNew, nil)
		_, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.outsider.UserID), Actor: f.outsider})
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("requester", func(t *testing.T) {
		req := f.seed(StatusNew, nil)
		_, err := f.svc.Assign(ctx, AssignParams{RequestID: req.ID, TechnicianID: strPtr(f.tech.UserID), Actor: f.requester})
		require.ErrorIs(t, err, ErrForbidden)
	})
}

func TestUpdate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := f.seed(StatusNew, nil)

	got, err := f.svc.Update(ctx, UpdateParams{RequestID: req.ID, Title: strPtr("Pump leaking badly"), Priority: strPtr("critical"), Actor: f.requester})
	require.NoError(t, err)
	assert.Equal(t, "Pump leaking badly", got.Title)
	assert.Equal(t, PriorityCritical, got.Priority)

	// Unchanged values are a no-op.
	_, err = f.svc.Update(ctx, UpdateParams{RequestID: req.ID, Title: strPtr("Pump leaking badly"), Actor: f.requester})
	require.NoError(t, err)

	logs, _ := f.store.Logs(ctx, req.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionUpdated, logs[0].Action)

	_, err = f.svc.Update(ctx, UpdateParams{RequestID: req.ID, Priority: strPtr("soon"), Actor: f.requester})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	started := f.seed(StatusInProgress, nil)
	_, err := f.svc.Update(ctx, UpdateParams{RequestID: started.ID, Title: strPtr("x"), Actor: f.requester})
	require.ErrorIs(t, err, ErrForbidden, "creators edit only while NEW")

	_, err = f.svc.Update(ctx, UpdateParams{RequestID: started.ID, Title: strPtr("x"), Actor: f.tech})
	require.NoError(t, err)

	done := f.seed(StatusRepaired, nil)
	_, err = f.svc.Update(ctx, UpdateParams{RequestID: done.ID, Title: strPtr("x"), Actor: f.admin})
	require.ErrorIs(t, err, ErrTerminalState)
}

func TestDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateParams{Title: "Pump leaking", EquipmentID: pumpID, Actor: f.requester})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(ctx, req.ID, f.tech), ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, req.ID, f.requester))

	_, err = f.store.Get(ctx, req.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.store.logCount(req.ID), "logs are removed with the request")

	require.ErrorIs(t, f.svc.Delete(ctx, req.ID, f.admin), ErrNotFound)

	started := f.seed(StatusInProgress, nil)
	require.ErrorIs(t, f.svc.Delete(ctx, started.ID, f.admin), ErrInvalidState)
}

func TestReadRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := f.seed(StatusNew, nil)

	for _, actor := range []access.Actor{f.admin, f.manager, f.tech, f.requester} {
		_, err := f.svc.Get(ctx, req.ID, actor)
		assert.NoError(t, err, "role %s", actor.Role)
	}

	_, err := f.svc.Get(ctx, req.ID, f.outsider)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.History(ctx, req.ID, access.Actor{UserID: "u-someone", Role: auth.RoleRequester})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(ctx, "", f.admin)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStaleCommitConflicts(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusInProgress, nil)
	f.store.commitErr = ErrConflict

	_, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusScrap, Actor: f.manager})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestStorageFailuresAreInternal(t *testing.T) {
	f := newFixture()
	logger, hook := logtest.NewNullLogger()
	f.svc.WithLogger(logger)
	req := f.seed(StatusInProgress, nil)
	f.store.commitErr = errors.New("connection reset")

	_, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusScrap, Actor: f.manager})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, req.ID, hook.LastEntry().Data["request_id"])
}

// Two managers scrap the same request at once: exactly one wins and the
// equipment cascade is applied once.
func TestConcurrentScrapOneWins(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusInProgress, nil)

	var barrier sync.WaitGroup
	barrier.Add(2)
	f.store.readBarrier = &barrier

	var (
		mu        sync.Mutex
		conflicts int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for _, actor := range []access.Actor{f.manager, f.admin} {
		g.Go(func() error {
			_, err := f.svc.Transition(ctx, TransitionParams{RequestID: req.ID, Target: StatusScrap, Actor: actor})
			if errors.Is(err, ErrConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	f.store.readBarrier = nil

	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.store.commits)
	assert.Equal(t, 1, f.store.logCount(req.ID))
	assert.Equal(t, equipment.StatusScrapped, f.store.equipmentStatus(pumpID))
}

// Two technicians start the same unassigned request: only one is assigned.
func TestConcurrentStartAssignsOnce(t *testing.T) {
	f := newFixture()
	req := f.seed(StatusNew, nil)

	var barrier sync.WaitGroup
	barrier.Add(2)
	f.store.readBarrier = &barrier

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, actor := range []access.Actor{f.tech, f.tech2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transition(context.Background(), TransitionParams{RequestID: req.ID, Target: StatusInProgress, Actor: actor})
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	f.store.readBarrier = nil

	var ok, conflict int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)

	stored := f.store.stored(req.ID)
	require.NotNil(t, stored.TechnicianID)
	assert.Contains(t, []string{f.tech.UserID, f.tech2.UserID}, *stored.TechnicianID)
	assert.Equal(t, 1, f.store.logCount(req.ID))
}

func TestKindOf(t *testing.T) {
	cases := map[error]Kind{
		ErrValidation:                KindValidation,
		ErrInvalidTransition:         KindInvalidTransition,
		ErrTerminalState:             KindTerminalState,
		ErrMissingDuration:           KindMissingDuration,
		access.ErrForbidden:          KindForbidden,
		ErrNotFound:                  KindNotFound,
		equipment.ErrNotFound:        KindNotFound,
		ErrConflict:                  KindConflict,
		equipment.ErrDuplicateSerial: KindDuplicate,
		auth.ErrDuplicateEmail:       KindDuplicate,
		ErrInvalidState:              KindInvalidState,
		errors.New("disk on fire"):   KindInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, KindOf(err), err.Error())
	}
	assert.Equal(t, Kind(""), KindOf(nil))
}
