package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"chaseline/internal/domain"
	"chaseline/internal/engine"
	"chaseline/internal/repo"
)

// scriptedSender replays a fixed list of outcomes, then succeeds.
type scriptedSender struct {
	outcomes []engine.SendOutcome
	sent     []engine.Delivery
}

func (s *scriptedSender) Send(ctx context.Context, d engine.Delivery) (engine.SendOutcome, string) {
	s.sent = append(s.sent, d)
	if len(s.outcomes) == 0 {
		return engine.SendSuccess, "delivered"
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	switch out {
	case engine.SendTransientFailure:
		return out, "channel timed out"
	case engine.SendPermanentFailure:
		return out, "address rejected"
	default:
		return out, "delivered"
	}
}

func newTestOrchestrator(env testEnv) *engine.Orchestrator {
	return engine.NewOrchestrator(env.Engine, rand.New(rand.NewSource(1)))
}

func actionNames(acts []domain.Activity) []string {
	names := make([]string, 0, len(acts))
	for _, a := range acts {
		names = append(names, a.Action)
	}
	return names
}

func hasAction(acts []domain.Activity, action string) bool {
	for _, a := range acts {
		if a.Action == action {
			return true
		}
	}
	return false
}

func TestTickSendsPendingChase(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	stats, err := o.Tick(env.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Due != 1 || stats.Processed != 1 {
		t.Fatalf("stats = %+v, want one due and processed", stats)
	}

	got, err := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastTone != domain.ToneFriendly || got.LastChannel != domain.ChannelEmail {
		t.Fatalf("tone/channel = %s/%s, want friendly/email", got.LastTone, got.LastChannel)
	}
	if got.NextActionAt == nil || !got.NextActionAt.After(env.Clock.Now()) {
		t.Fatalf("next action = %v, want in the future", got.NextActionAt)
	}
	acts, _ := env.Engine.Repo.ListItemActivities(env.Ctx, it.ID)
	if !hasAction(acts, "chase_sent") {
		t.Fatalf("activities = %v, want chase_sent", actionNames(acts))
	}
}

func TestTickSkipsItemsNotYetDue(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// The next contact is scheduled out by the backoff; an immediate second
	// tick finds nothing due.
	stats, err := o.Tick(env.Ctx)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if stats.Due != 0 {
		t.Fatalf("due = %d, want 0", stats.Due)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
}

func TestChaseEscalatesOverTime(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{Phone: "07700900001"})
	it := mustChase(t, env, engine.ChaseCreateOptions{
		ClientID:   client.ID,
		Type:       domain.TypeLOA,
		ProviderID: "aviva",
	})
	o := newTestOrchestrator(env)

	start := env.Clock.Now()
	// Aviva expects 15 days; the overdue deadline lands at 22.5 days. Each
	// offset clears the longest possible backoff from the previous pass.
	for _, days := range []float64{0, 4, 9, 15, 24} {
		env.Clock.t = start.Add(time.Duration(days * 24 * float64(time.Hour)))
		if _, err := o.Tick(env.Ctx); err != nil {
			t.Fatalf("tick at day %.0f: %v", days, err)
		}
	}

	got, err := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Status != domain.StatusAwaitingResponse {
		t.Fatalf("status = %s, want awaiting_response after escalation contact", got.Status)
	}
	if got.Priority != domain.PriorityHigh {
		t.Fatalf("priority = %s, want high after escalation", got.Priority)
	}
	if got.LastChannel != domain.ChannelPhone || got.LastTone != domain.ToneUrgent {
		t.Fatalf("channel/tone = %s/%s, want phone/urgent", got.LastChannel, got.LastTone)
	}
	if got.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", got.Attempts)
	}

	acts, _ := env.Engine.Repo.ListItemActivities(env.Ctx, it.ID)
	for _, want := range []string{"chase_sent", "await_response", "reminder_sent", "marked_overdue", "escalated", "escalation_sent"} {
		if !hasAction(acts, want) {
			t.Fatalf("activities = %v, missing %s", actionNames(acts), want)
		}
	}
}

// racingSender commits a competing versioned write to the item while the send
// is in flight, so the orchestrator's own commit arrives stale.
type racingSender struct {
	env    testEnv
	itemID string
	err    error
}

func (s *racingSender) Send(ctx context.Context, d engine.Delivery) (engine.SendOutcome, string) {
	it, err := s.env.Engine.Repo.GetItem(ctx, s.itemID)
	if err != nil {
		s.err = err
		return engine.SendSuccess, "delivered"
	}
	tx, err := s.env.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		s.err = err
		return engine.SendSuccess, "delivered"
	}
	defer tx.Rollback()
	if err := s.env.Engine.Repo.UpdateItemVersioned(ctx, tx, it); err != nil {
		s.err = err
		return engine.SendSuccess, "delivered"
	}
	if err := tx.Commit(); err != nil {
		s.err = err
	}
	return engine.SendSuccess, "delivered"
}

func TestConflictingCommitIsDiscarded(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)
	sender := &racingSender{env: env, itemID: it.ID}
	o.Dispatcher = engine.NewDispatcher(sender)

	stats, err := o.Tick(env.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sender.err != nil {
		t.Fatalf("competing write: %v", sender.err)
	}
	if stats.Conflicts != 1 || stats.Processed != 0 {
		t.Fatalf("stats = %+v, want one conflict", stats)
	}

	// The losing change is discarded wholesale: no status move, no attempt
	// bump, no activity for the dropped send.
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusPending || got.Attempts != 0 {
		t.Fatalf("item = %s attempts=%d, want untouched pending", got.Status, got.Attempts)
	}
	acts, _ := env.Engine.Repo.ListItemActivities(env.Ctx, it.ID)
	if len(acts) != 1 || acts[0].Action != "chase_registered" {
		t.Fatalf("activities = %v, want only the registration", actionNames(acts))
	}
}

func TestTransientSendFailureRetries(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)
	sender := &scriptedSender{outcomes: []engine.SendOutcome{engine.SendTransientFailure}}
	o.Dispatcher = engine.NewDispatcher(sender)

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after transient failure", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", got.Attempts)
	}
	acts, _ := env.Engine.Repo.ListItemActivities(env.Ctx, it.ID)
	last := acts[len(acts)-1]
	if last.Outcome != "transient_error" {
		t.Fatalf("last outcome = %s, want transient_error", last.Outcome)
	}

	// The retry succeeds on the next due pass.
	env.Clock.AdvanceDays(3)
	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("retry tick: %v", err)
	}
	got, _ = env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusSent || got.Attempts != 2 {
		t.Fatalf("item = %s attempts=%d, want sent with 2 attempts", got.Status, got.Attempts)
	}
}

func TestPermanentSendFailureFailsChase(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)
	o.Dispatcher = engine.NewDispatcher(&scriptedSender{outcomes: []engine.SendOutcome{engine.SendPermanentFailure}})

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusFailed || got.FailReason != engine.FailReasonChannelRejected {
		t.Fatalf("item = %s/%s, want failed/channel_rejected", got.Status, got.FailReason)
	}
}

func TestAttemptHardCapFailsChase(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Engine.EscalationThreshold = 1
	env.Engine.Config.Engine.AttemptHardCap = 1
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	env.Clock.AdvanceDays(8)
	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusFailed || got.FailReason != engine.FailReasonAttemptsExhausted {
		t.Fatalf("item = %s/%s, want failed/attempts_exhausted", got.Status, got.FailReason)
	}
}

func TestMissingContactFailsDocumentChase(t *testing.T) {
	env := newTestEnv(t)
	// Inserted below the engine, so the contact requirement is not enforced.
	uncontactable := domain.Client{ID: "ghost", Name: "Ghost", CreatedAt: env.Clock.Now()}
	if err := env.Engine.Repo.InsertClient(env.Ctx, uncontactable); err != nil {
		t.Fatalf("insert client: %v", err)
	}
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: uncontactable.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusFailed || got.FailReason != engine.FailReasonMissingContact {
		t.Fatalf("item = %s/%s, want failed/missing_contact", got.Status, got.FailReason)
	}
}

func TestDocumentChaserFallsBackToAvailableChannel(t *testing.T) {
	env := newTestEnv(t)
	// Phone only: the friendly email plan falls back to a call.
	client := mustClient(t, env, engine.ClientCreateOptions{Name: "Phone Only", Phone: "07700900002"})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusSent || got.LastChannel != domain.ChannelPhone {
		t.Fatalf("item = %s channel=%s, want sent over phone", got.Status, got.LastChannel)
	}
}

func TestProcessOneSkipsLeasedItem(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	it := mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	if _, err := env.Engine.TryLease(env.Ctx, it.ID, "another-worker"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := o.ProcessOne(env.Ctx, it.ID); !errors.Is(err, engine.ErrLeaseHeld) {
		t.Fatalf("process err = %v, want ErrLeaseHeld", err)
	}
	stats, err := o.Tick(env.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if stats.Skipped != 1 || stats.Processed != 0 {
		t.Fatalf("stats = %+v, want one skipped", stats)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, leased item must stay untouched", got.Status)
	}
}

func TestProcessOneUnknownItem(t *testing.T) {
	env := newTestEnv(t)
	o := newTestOrchestrator(env)
	if err := o.ProcessOne(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAgentStatusesTrackWork(t *testing.T) {
	env := newTestEnv(t)
	client := mustClient(t, env, engine.ClientCreateOptions{})
	mustChase(t, env, engine.ChaseCreateOptions{ClientID: client.ID, Type: domain.TypeDocument})
	o := newTestOrchestrator(env)

	if _, err := o.Tick(env.Ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	var doc domain.AgentStatus
	for _, s := range o.Agents.Statuses() {
		if s.AgentType == engine.AgentTypeDocument {
			doc = s
		}
	}
	if doc.Status != "idle" || doc.Processed != 1 || doc.LastAction != "chase_sent" {
		t.Fatalf("document agent status = %+v", doc)
	}
}
