package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chaseline/internal/domain"
	"chaseline/internal/logging"
	"chaseline/internal/repo"
)

// maxStepsPerPass bounds the number of committed transitions one processing
// pass may chain for a single item (e.g. sent -> awaiting -> overdue ->
// escalated plus the escalated send).
const maxStepsPerPass = 4

// TickStats summarizes one scheduler pass.
type TickStats struct {
	Due       int `json:"due"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
}

// Orchestrator drives the chase lifecycle: each tick it picks up due items,
// leases them, and walks each one through the predictor, the policy, the
// responsible agent and the dispatcher. Item writes go through the engine's
// versioned commits, so a lost race discards the change rather than
// clobbering a concurrent writer.
type Orchestrator struct {
	Engine     Engine
	Agents     *AgentRegistry
	Dispatcher *Dispatcher
	Predictor  Predictor
	Policy     *Policy
	OwnerID    string

	log *slog.Logger
}

// NewOrchestrator wires an orchestrator around the engine. rng seeds the
// policy jitter; pass nil for a time-seeded source.
func NewOrchestrator(e Engine, rng *rand.Rand) *Orchestrator {
	o := &Orchestrator{
		Engine:     e,
		Agents:     NewAgentRegistry(),
		Dispatcher: NewDispatcher(nil),
		Predictor:  NewPredictor(e.Config),
		Policy:     NewPolicy(e.Config, rng),
		OwnerID:    uuid.New().String(),
		log:        logging.New("orchestrator"),
	}
	o.Agents.Now = e.now
	return o
}

// Run ticks at the configured interval until the context is cancelled or a
// persistence error surfaces. Persistence failures stop the loop rather than
// risk acting on stale state.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.Engine.Config.Engine.TickInterval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	o.log.Info("orchestrator running", "interval", interval, "workers", o.Engine.Config.Engine.Workers, "owner_id", o.OwnerID)
	for {
		stats, err := o.Tick(ctx)
		if err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if stats.Due > 0 {
			o.log.Info("tick complete", "due", stats.Due, "processed", stats.Processed, "skipped", stats.Skipped, "conflicts", stats.Conflicts)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduler pass over all due items.
func (o *Orchestrator) Tick(ctx context.Context) (TickStats, error) {
	now := o.Engine.now().UTC()
	due, err := o.Engine.Repo.DueItems(ctx, now)
	if err != nil {
		return TickStats{}, fmt.Errorf("list due items: %w", err)
	}
	orderForProcessing(due)

	stats := TickStats{Due: len(due)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Engine.Config.Engine.Workers)
	for _, it := range due {
		g.Go(func() error {
			res, err := o.processItem(gctx, it.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			switch res {
			case resultProcessed:
				stats.Processed++
			case resultSkipped:
				stats.Skipped++
			case resultConflict:
				stats.Conflicts++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// ProcessOne runs a full processing pass for a single item on demand,
// regardless of its next action time.
func (o *Orchestrator) ProcessOne(ctx context.Context, itemID string) error {
	if _, err := o.Engine.Repo.GetItem(ctx, itemID); err != nil {
		return err
	}
	res, err := o.processItem(ctx, itemID)
	if err != nil {
		return err
	}
	if res == resultSkipped {
		return ErrLeaseHeld
	}
	return nil
}

// orderForProcessing sorts due items by urgency: stuck items first, then
// priority, then risk, then oldest due time, with the id as a stable tiebreak.
func orderForProcessing(items []domain.ChaseItem) {
	urgent := func(s domain.ChaseStatus) bool {
		return s == domain.StatusOverdue || s == domain.StatusEscalated
	}
	dueAt := func(it domain.ChaseItem) time.Time {
		if it.NextActionAt != nil {
			return *it.NextActionAt
		}
		return it.CreatedAt
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if au, bu := urgent(a.Status), urgent(b.Status); au != bu {
			return au
		}
		if ar, br := a.Priority.Rank(), b.Priority.Rank(); ar != br {
			return ar > br
		}
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		if at, bt := dueAt(a), dueAt(b); !at.Equal(bt) {
			return at.Before(bt)
		}
		return a.ID < b.ID
	})
}

type processResult int

const (
	resultProcessed processResult = iota
	resultSkipped
	resultConflict
)

func (o *Orchestrator) processItem(ctx context.Context, itemID string) (processResult, error) {
	if _, err := o.Engine.TryLease(ctx, itemID, o.OwnerID); err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			o.log.Debug("item leased elsewhere, skipping", "item_id", itemID)
			return resultSkipped, nil
		}
		return resultSkipped, err
	}
	defer func() {
		if err := o.Engine.ReleaseLease(context.WithoutCancel(ctx), itemID, o.OwnerID); err != nil {
			o.log.Warn("lease release failed", "item_id", itemID, "error", err)
		}
	}()

	for range maxStepsPerPass {
		it, err := o.Engine.Repo.GetItem(ctx, itemID)
		if err != nil {
			return resultSkipped, err
		}
		if it.Status.Terminal() {
			return resultProcessed, nil
		}
		cont, err := o.step(ctx, it)
		if errors.Is(err, repo.ErrVersionConflict) {
			o.log.Info("lost update race, change discarded", "item_id", itemID, "status", it.Status)
			return resultConflict, nil
		}
		if err != nil {
			return resultSkipped, err
		}
		if !cont {
			break
		}
	}
	return resultProcessed, nil
}

// step advances the item by one committed transition. It returns true when
// the pass should continue with the item's new state in the same tick.
func (o *Orchestrator) step(ctx context.Context, it domain.ChaseItem) (bool, error) {
	e := o.Engine
	now := e.now().UTC()
	client, err := e.Repo.GetClient(ctx, it.ClientID)
	if err != nil {
		return false, fmt.Errorf("client %s: %w", it.ClientID, err)
	}
	var profile *domain.ProviderProfile
	if it.ProviderID != nil {
		p, err := e.Profiles.Get(ctx, *it.ProviderID)
		if err != nil {
			return false, err
		}
		profile = &p
	}
	assessment := o.Predictor.Assess(it, profile, now)
	it.RiskScore = assessment.Score
	decision := o.Policy.Evaluate(it, assessment)

	switch it.Status {
	case domain.StatusCreated:
		next := now
		it.Status = domain.StatusPending
		it.NextActionAt = &next
		_, err := e.commit(ctx, it, domain.Activity{
			AgentType: AgentTypeOrchestrator,
			Action:    "chase_activated",
			Outcome:   "success",
		})
		return true, err

	case domain.StatusPending:
		return o.dispatchStep(ctx, it, client, profile, decision, now, domain.StatusSent, "chase_sent")

	case domain.StatusSent:
		it.Status = domain.StatusAwaitingResponse
		_, err := e.commit(ctx, it, domain.Activity{
			AgentType: AgentTypeOrchestrator,
			Action:    "await_response",
			Outcome:   "success",
			Detail:    "chase delivered, awaiting response",
		})
		return true, err

	case domain.StatusAwaitingResponse:
		if now.After(o.Policy.OverdueDeadline(it, assessment.ExpectedDays)) {
			it.Status = domain.StatusOverdue
			_, err := e.commit(ctx, it, domain.Activity{
				AgentType: AgentTypeOrchestrator,
				Action:    "marked_overdue",
				Outcome:   "success",
				Detail:    fmt.Sprintf("no response after %.0f days, expected within %.0f", assessment.ElapsedDays, assessment.ExpectedDays),
			})
			return true, err
		}
		return o.dispatchStep(ctx, it, client, profile, decision, now, it.Status, "reminder_sent")

	case domain.StatusOverdue:
		if o.Policy.ShouldEscalate(it, assessment.ElapsedDays) {
			it.Status = domain.StatusEscalated
			if it.Priority != domain.PriorityHigh {
				it.Priority = domain.PriorityHigh
			}
			_, err := e.commit(ctx, it, domain.Activity{
				AgentType: AgentTypeOrchestrator,
				Action:    "escalated",
				Outcome:   "success",
				Detail:    fmt.Sprintf("escalated after %d attempts, %.0f days outstanding", it.Attempts, assessment.ElapsedDays),
			})
			return true, err
		}
		return o.dispatchStep(ctx, it, client, profile, decision, now, it.Status, "reminder_sent")

	case domain.StatusEscalated:
		return o.dispatchStep(ctx, it, client, profile, decision, now, domain.StatusAwaitingResponse, "escalation_sent")
	}
	return false, nil
}

// dispatchStep has an agent plan the contact, sends it, and commits the
// resulting item state. A successful send moves the item to nextStatus and
// bumps the attempt counter; a transient channel failure bumps the counter
// and reschedules without changing status; a permanent one fails the chase.
func (o *Orchestrator) dispatchStep(ctx context.Context, it domain.ChaseItem, client domain.Client, profile *domain.ProviderProfile, decision Decision, now time.Time, nextStatus domain.ChaseStatus, action string) (bool, error) {
	e := o.Engine

	if it.Attempts >= e.Config.Engine.AttemptHardCap {
		return false, o.failLocked(ctx, it, now, FailReasonAttemptsExhausted,
			fmt.Sprintf("gave up after %d attempts", it.Attempts))
	}

	agent, ok := o.Agents.For(it.Type)
	if !ok {
		return false, o.failLocked(ctx, it, now, FailReasonInvalidTarget,
			fmt.Sprintf("no agent for chase type %s", it.Type))
	}

	o.Agents.MarkBusy(agent.Type())
	lastAction := action
	defer func() { o.Agents.MarkIdle(agent.Type(), lastAction) }()

	act := agent.Decide(it, client, decision)
	if act.Kind == ActionFail {
		lastAction = "chase_failed"
		return false, o.failLocked(ctx, it, now, act.Reason, "agent rejected item: "+act.Reason)
	}

	providerName := ""
	if profile != nil {
		providerName = profile.Name
	}
	outcome, _, detail := o.Dispatcher.Dispatch(ctx, it, client, providerName, act)
	next := now.Add(decision.Delay)

	switch outcome {
	case SendSuccess:
		it.Status = nextStatus
		it.Attempts++
		it.LastTone = act.Tone
		it.LastChannel = act.Channel
		it.LastActionAt = &now
		it.NextActionAt = &next
		_, err := e.commit(ctx, it, domain.Activity{
			AgentType: agent.Type(),
			Action:    action,
			Channel:   act.Channel,
			Tone:      act.Tone,
			Outcome:   "success",
			Detail:    detail,
		})
		return false, err

	case SendTransientFailure:
		it.Attempts++
		it.LastActionAt = &now
		it.NextActionAt = &next
		_, err := e.commit(ctx, it, domain.Activity{
			AgentType: agent.Type(),
			Action:    action,
			Channel:   act.Channel,
			Tone:      act.Tone,
			Outcome:   "transient_error",
			Detail:    detail,
		})
		return false, err

	default:
		lastAction = "chase_failed"
		return false, o.failLocked(ctx, it, now, FailReasonChannelRejected, detail)
	}
}

// failLocked fails an item already held under the caller's lease.
func (o *Orchestrator) failLocked(ctx context.Context, it domain.ChaseItem, now time.Time, reason, detail string) error {
	it.Status = domain.StatusFailed
	it.FailReason = reason
	it.ResolvedAt = &now
	it.NextActionAt = nil
	_, err := o.Engine.commit(ctx, it, domain.Activity{
		AgentType: AgentTypeOrchestrator,
		Action:    "chase_failed",
		Outcome:   "failure",
		Detail:    detail,
	})
	return err
}
