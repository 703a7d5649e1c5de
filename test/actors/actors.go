// Package actors drives the request service from many goroutines at once.
// Business rejections are the expected outcome of contention and are only
// counted; the database oracles decide whether the run was correct.
package actors

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"maintflow/access"
	"maintflow/auth"
	"maintflow/request"
)

// Stats counts outcomes across all actors.
type Stats struct {
	Accepted  atomic.Int64
	Rejected  atomic.Int64
	Conflicts atomic.Int64
	Internal  atomic.Int64
}

func (s *Stats) record(err error) {
	switch kind := request.KindOf(err); {
	case err == nil:
		s.Accepted.Add(1)
	case kind == request.KindConflict:
		s.Conflicts.Add(1)
	case kind == request.KindInternal:
		s.Internal.Add(1)
	default:
		s.Rejected.Add(1)
	}
}

// Board is the shared set of request ids actors pick their targets from.
type Board struct {
	mu  sync.Mutex
	ids []string
}

func NewBoard(ids ...string) *Board {
	return &Board{ids: append([]string(nil), ids...)}
}

func (b *Board) add(id string) {
	b.mu.Lock()
	b.ids = append(b.ids, id)
	b.mu.Unlock()
}

func (b *Board) pick(rng *rand.Rand) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ids) == 0 {
		return "", false
	}
	// Bias towards recent requests so terminal ones stop dominating.
	n := len(b.ids)
	window := min(n, 32)
	return b.ids[n-1-rng.Intn(window)], true
}

// Env is what every actor shares.
type Env struct {
	Service     *request.Service
	Board       *Board
	Stats       *Stats
	EquipmentID []string
	Technicians []string
	Manager     access.Actor
	Requester   access.Actor
}

// Creator files new corrective requests against random equipment.
func Creator(ctx context.Context, env Env, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, func() {
		req, err := env.Service.Create(ctx, request.CreateParams{
			Title:       "Stress ticket",
			Priority:    string(request.PriorityMedium),
			EquipmentID: env.EquipmentID[rng.Intn(len(env.EquipmentID))],
			Actor:       env.Requester,
		})
		env.Stats.record(err)
		if err == nil {
			env.Board.add(req.ID)
		}
	})
}

// Starter has a random technician pick up a request.
func Starter(ctx context.Context, env Env, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, func() {
		id, ok := env.Board.pick(rng)
		if !ok {
			return
		}
		_, err := env.Service.Transition(ctx, request.TransitionParams{
			RequestID: id,
			Target:    request.StatusInProgress,
			Actor:     env.technician(rng),
		})
		env.Stats.record(err)
	})
}

// Finisher repairs requests, sometimes forgetting the duration.
func Finisher(ctx context.Context, env Env, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, func() {
		id, ok := env.Board.pick(rng)
		if !ok {
			return
		}
		params := request.TransitionParams{
			RequestID: id,
			Target:    request.StatusRepaired,
			Actor:     env.technician(rng),
		}
		if rng.Intn(4) != 0 {
			minutes := 1 + rng.Intn(240)
			params.DurationMinutes = &minutes
		}
		_, err := env.Service.Transition(ctx, params)
		env.Stats.record(err)
	})
}

// Scrapper occasionally writes equipment off through a request.
func Scrapper(ctx context.Context, env Env, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, func() {
		if rng.Intn(10) != 0 {
			return
		}
		id, ok := env.Board.pick(rng)
		if !ok {
			return
		}
		_, err := env.Service.Transition(ctx, request.TransitionParams{
			RequestID: id,
			Target:    request.StatusScrap,
			Actor:     env.Manager,
		})
		env.Stats.record(err)
	})
}

// Assigner reshuffles technicians, clearing the assignment now and then.
func Assigner(ctx context.Context, env Env, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	return loop(ctx, stop, rng, func() {
		id, ok := env.Board.pick(rng)
		if !ok {
			return
		}
		var tech *string
		if rng.Intn(5) != 0 {
			t := env.Technicians[rng.Intn(len(env.Technicians))]
			tech = &t
		}
		_, err := env.Service.Assign(ctx, request.AssignParams{
			RequestID:    id,
			TechnicianID: tech,
			Actor:        env.Manager,
		})
		env.Stats.record(err)
	})
}

func (e Env) technician(rng *rand.Rand) access.Actor {
	return access.Actor{UserID: e.Technicians[rng.Intn(len(e.Technicians))], Role: auth.RoleTechnician}
}

func loop(ctx context.Context, stop <-chan struct{}, rng *rand.Rand, step func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		default:
		}
		step()
		time.Sleep(time.Duration(2+rng.Intn(10)) * time.Millisecond)
	}
}
