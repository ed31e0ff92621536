// Package scheduler implements the admission/dispatch loop (spec.md §4.6,
// the "Pump"): an edge-triggered loop that recomputes the ready candidate
// set on every plan/node/pulse/resume/reshape signal, admits candidates
// FIFO-per-plan and round-robin across plans under the capacity cap, and
// dispatches admitted nodes to the Pipeline on a worker goroutine. Modeled
// on the teacher's WaveExecutor/Orchestrator split — this package only
// decides WHAT runs next and WHEN; the Pipeline decides HOW a node runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/orcworks/orc/internal/capacity"
	"github.com/orcworks/orc/internal/events"
	"github.com/orcworks/orc/internal/plan"
)

// PlanSource is the narrow registry view the Scheduler needs from the Plan
// Runner: the live set of non-terminal plans, recomputed readiness, and
// mutation of a node's status as it moves through scheduled/running.
type PlanSource interface {
	ActivePlans() []*plan.Plan
	Lock(planID string) (unlock func())
}

// Dispatcher runs one admitted node to completion. In production this is
// pipeline.Pipeline.RunAttempt wrapped to also call RecomputeReadiness and
// persist afterward; kept as an interface here so scheduler tests can
// substitute a fake that completes instantly.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *plan.Plan, node *plan.Node)
}

// Scheduler is the admission loop itself.
type Scheduler struct {
	Source     PlanSource
	Dispatcher Dispatcher
	Capacity   *capacity.Broker
	Bus        *events.Bus
	GlobalCap  int

	mu      sync.Mutex
	inFlight int
	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New returns a Scheduler ready to Start.
func New(source PlanSource, dispatcher Dispatcher, broker *capacity.Broker, bus *events.Bus, globalCap int) *Scheduler {
	return &Scheduler{
		Source:     source,
		Dispatcher: dispatcher,
		Capacity:   broker,
		Bus:        bus,
		GlobalCap:  globalCap,
		trigger:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Start launches the loop goroutine and subscribes it to the events the
// spec names as admission triggers (planCreated/planCompleted/
// nodeTransition/pulse), plus an explicit Kick for resume/reshape calls
// that don't themselves publish a bus event before calling in.
func (s *Scheduler) Start(ctx context.Context) {
	sub, unsubscribe := s.Bus.Subscribe(
		events.TopicPlanCreated,
		events.TopicPlanCompleted,
		events.TopicNodeTransition,
		events.TopicPulse,
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-sub:
				s.admit(ctx)
			case <-s.trigger:
				s.admit(ctx)
			}
		}
	}()
}

// Stop halts the loop. Running dispatches are not interrupted; callers
// that want to stop in-flight work should cancel ctx instead.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Kick forces an immediate admission pass, used by resume/reshape/retry
// operations that need the loop to react without waiting for a bus event.
func (s *Scheduler) Kick() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// admit recomputes readiness for every active plan and admits candidates
// FIFO-per-plan, round-robin across plans, until the capacity cap is hit.
func (s *Scheduler) admit(ctx context.Context) {
	plans := s.Source.ActivePlans()
	if len(plans) == 0 {
		return
	}

	queues := make(map[string][]string, len(plans))
	byID := make(map[string]*plan.Plan, len(plans))
	for _, p := range plans {
		if p.IsPaused {
			continue
		}
		unlock := s.Source.Lock(p.ID)
		changed := plan.RecomputeReadiness(p)
		ready := plan.Ready(p)
		unlock()
		if len(changed) > 0 {
			s.Bus.Publish(events.Event{Topic: events.TopicNodeTransition, PlanID: p.ID})
		}
		if len(ready) > 0 {
			queues[p.ID] = ready
			byID[p.ID] = p
		}
	}

	order := make([]string, 0, len(queues))
	for id := range queues {
		order = append(order, id)
	}

	for len(order) > 0 {
		progressed := false
		next := order[:0]
		for _, planID := range order {
			q := queues[planID]
			if len(q) == 0 {
				continue
			}
			p := byID[planID]
			nodeID := q[0]
			queues[planID] = q[1:]

			// min(plan.maxParallel if > 0, globalCap) per spec.md §4.6: the
			// global cap always bounds admission, a plan's own limit can
			// only tighten it.
			effectiveCap := p.Spec.MaxParallel
			if effectiveCap <= 0 || effectiveCap > s.GlobalCap {
				effectiveCap = s.GlobalCap
			}
			ok, err := s.Capacity.TryAcquire(nodeID, effectiveCap)
			if err != nil || !ok {
				if len(queues[planID]) > 0 {
					next = append(next, planID)
				}
				continue
			}

			unlock := s.Source.Lock(planID)
			node := p.Nodes[nodeID]
			ns := p.NodeStates[nodeID]
			ns.Status = plan.StatusScheduled
			now := time.Now()
			ns.ScheduledAt = &now
			unlock()

			s.dispatch(ctx, p, node)
			progressed = true
			if len(queues[planID]) > 0 {
				next = append(next, planID)
			}
		}
		order = next
		if !progressed {
			break
		}
	}
}

// dispatch runs one admitted node on its own goroutine so the admission
// loop never blocks on a single node's execution.
func (s *Scheduler) dispatch(ctx context.Context, p *plan.Plan, node *plan.Node) {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = s.Capacity.Release(node.ID)
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			s.Kick()
		}()
		s.Dispatcher.Dispatch(ctx, p, node)
	}()
}

// InFlight reports how many nodes this instance is currently running, for
// status reporting and tests.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
