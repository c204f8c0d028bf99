package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chaseline/internal/config"
	"chaseline/internal/domain"
	"chaseline/internal/events"
	"chaseline/internal/logging"
	"chaseline/internal/repo"
)

// ErrLeaseHeld signals that another worker currently holds the item.
var ErrLeaseHeld = errors.New("lease held by another owner")

// Fail reasons recorded on terminal failures.
const (
	FailReasonInvalidTarget     = "invalid_target"
	FailReasonMissingContact    = "missing_contact"
	FailReasonChannelRejected   = "channel_rejected"
	FailReasonAttemptsExhausted = "attempts_exhausted"
)

// Agent type tags used on activity records.
const (
	AgentTypeOrchestrator = "orchestrator"
	AgentTypeDocument     = "document_chaser"
	AgentTypeLOA          = "loa_chaser"
)

// Engine owns chase item state. Every mutation commits the item update and
// its activity record in one transaction, then publishes to the bus.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Bus      *events.Bus
	Config   *config.Config
	Profiles *ProfileStore
	Now      func() time.Time

	log *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Bus:    events.NewBus(),
		Config: cfg,
		Now:    time.Now,
		log:    logging.New("engine"),
	}
	e.Profiles = NewProfileStore(r, cfg)
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ensureChaseTransition validates a status edge. Same-status writes are not
// transitions and are checked by callers separately.
func ensureChaseTransition(oldStatus, newStatus domain.ChaseStatus) error {
	if oldStatus.Terminal() {
		return fmt.Errorf("item is terminal in %s", oldStatus)
	}
	// External completion or failure can interrupt any live state.
	if newStatus == domain.StatusCompleted || newStatus == domain.StatusFailed {
		return nil
	}
	switch oldStatus {
	case domain.StatusCreated:
		if newStatus == domain.StatusPending {
			return nil
		}
	case domain.StatusPending:
		if newStatus == domain.StatusSent {
			return nil
		}
	case domain.StatusSent:
		if newStatus == domain.StatusAwaitingResponse {
			return nil
		}
	case domain.StatusAwaitingResponse:
		if newStatus == domain.StatusOverdue || newStatus == domain.StatusReceived {
			return nil
		}
	case domain.StatusOverdue:
		if newStatus == domain.StatusEscalated || newStatus == domain.StatusReceived {
			return nil
		}
	case domain.StatusEscalated:
		if newStatus == domain.StatusAwaitingResponse || newStatus == domain.StatusReceived {
			return nil
		}
	}
	return fmt.Errorf("invalid chase status transition %s -> %s", oldStatus, newStatus)
}

// ClientCreateOptions are parameters for registering a client.
type ClientCreateOptions struct {
	ID          string
	Name        string
	Email       string
	Phone       string
	RiskProfile string
}

// CreateClient registers a client record. At least one contact detail is
// required so the document chaser has a channel to use.
func (e Engine) CreateClient(ctx context.Context, opts ClientCreateOptions) (domain.Client, error) {
	if opts.Name == "" {
		return domain.Client{}, errors.New("name is required")
	}
	if opts.Email == "" && opts.Phone == "" {
		return domain.Client{}, errors.New("email or phone is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Client{
		ID:          id,
		Name:        opts.Name,
		Email:       opts.Email,
		Phone:       opts.Phone,
		RiskProfile: opts.RiskProfile,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.Repo.InsertClient(ctx, c); err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

// ChaseCreateOptions are parameters for registering a chase.
type ChaseCreateOptions struct {
	ID          string
	ClientID    string
	Type        domain.ChaseType
	ProviderID  string
	Description string
	Priority    domain.Priority
}

// CreateChase registers a chase item. The item enters pending immediately and
// is due on the next tick.
func (e Engine) CreateChase(ctx context.Context, opts ChaseCreateOptions) (domain.ChaseItem, error) {
	if e.Config == nil {
		return domain.ChaseItem{}, errors.New("config not loaded")
	}
	if opts.ClientID == "" {
		return domain.ChaseItem{}, errors.New("client is required")
	}
	if opts.Type != domain.TypeDocument && opts.Type != domain.TypeLOA {
		return domain.ChaseItem{}, fmt.Errorf("unknown chase type %q", opts.Type)
	}
	if opts.Type == domain.TypeLOA && opts.ProviderID == "" {
		return domain.ChaseItem{}, errors.New("provider is required for loa chases")
	}
	if _, err := e.Repo.GetClient(ctx, opts.ClientID); err != nil {
		return domain.ChaseItem{}, fmt.Errorf("client %s: %w", opts.ClientID, err)
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC()
	targetKind := domain.TargetClient
	var providerID *string
	if opts.ProviderID != "" {
		targetKind = domain.TargetProvider
		providerID = &opts.ProviderID
		if _, err := e.Profiles.Get(ctx, opts.ProviderID); err != nil {
			return domain.ChaseItem{}, fmt.Errorf("provider %s: %w", opts.ProviderID, err)
		}
	}
	next := now
	it := domain.ChaseItem{
		ID:           id,
		ClientID:     opts.ClientID,
		Type:         opts.Type,
		TargetKind:   targetKind,
		ProviderID:   providerID,
		Description:  opts.Description,
		Status:       domain.StatusPending,
		Priority:     opts.Priority,
		Version:      1,
		CreatedAt:    now,
		NextActionAt: &next,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChaseItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.ChaseItem{}, fmt.Errorf("insert chase item: %w", err)
	}
	act, err := e.Events.Append(ctx, tx, domain.Activity{
		ItemID:    it.ID,
		AgentType: AgentTypeOrchestrator,
		Action:    "chase_registered",
		Outcome:   "success",
		Detail:    fmt.Sprintf("%s chase registered with %s priority", it.Type, it.Priority),
		TS:        now,
	})
	if err != nil {
		return domain.ChaseItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChaseItem{}, err
	}
	e.Bus.Publish(act)
	return it, nil
}

// commit applies a versioned item update together with one activity record.
// A version conflict rolls everything back: the caller's change is discarded
// and no activity is recorded for the attempt.
func (e Engine) commit(ctx context.Context, it domain.ChaseItem, act domain.Activity) (domain.ChaseItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateItemVersioned(ctx, tx, it); err != nil {
		return it, err
	}
	act.ItemID = it.ID
	// Stamp from the engine clock so the audit entry agrees with the item
	// state it records.
	if act.TS.IsZero() {
		act.TS = e.now().UTC()
	}
	recorded, err := e.Events.Append(ctx, tx, act)
	if err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	it.Version++
	e.Bus.Publish(recorded)
	return it, nil
}

// RecordResponse marks an item as received following an external response.
// Receiving a terminal item is a no-op conflict, logged and swallowed.
func (e Engine) RecordResponse(ctx context.Context, itemID string) (domain.ChaseItem, error) {
	return e.resolve(ctx, itemID, domain.StatusReceived, "response_received", "response received from target")
}

// CompleteChase marks an item completed by an external caller (advisor closed
// it out, document arrived via another route).
func (e Engine) CompleteChase(ctx context.Context, itemID string) (domain.ChaseItem, error) {
	return e.resolve(ctx, itemID, domain.StatusCompleted, "chase_completed", "chase closed by caller")
}

func (e Engine) resolve(ctx context.Context, itemID string, target domain.ChaseStatus, action, detail string) (domain.ChaseItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if it.Status.Terminal() {
		e.log.Warn("transition conflict on terminal item", "item_id", it.ID, "status", it.Status, "wanted", target)
		return it, nil
	}
	if err := ensureChaseTransition(it.Status, target); err != nil {
		return it, err
	}
	wasOverdue := it.Status == domain.StatusOverdue || it.Status == domain.StatusEscalated
	now := e.now().UTC()
	it.Status = target
	it.ResolvedAt = &now
	it.NextActionAt = nil
	updated, err := e.commit(ctx, it, domain.Activity{
		AgentType: AgentTypeOrchestrator,
		Action:    action,
		Outcome:   "success",
		Detail:    detail,
	})
	if err != nil {
		return updated, err
	}
	// Received and completed chases feed the provider's latency statistics.
	if updated.ProviderID != nil {
		latencyDays := now.Sub(updated.CreatedAt).Hours() / 24
		if err := e.Profiles.RecordResolution(ctx, *updated.ProviderID, latencyDays, wasOverdue); err != nil {
			e.log.Warn("provider profile update failed", "provider_id", *updated.ProviderID, "error", err)
		}
	}
	return updated, nil
}

// FailChase marks an item failed with a reason. Failed chases do not count
// toward provider latency statistics.
func (e Engine) FailChase(ctx context.Context, itemID, reason string) (domain.ChaseItem, error) {
	it, err := e.Repo.GetItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if it.Status.Terminal() {
		e.log.Warn("transition conflict on terminal item", "item_id", it.ID, "status", it.Status, "wanted", domain.StatusFailed)
		return it, nil
	}
	now := e.now().UTC()
	it.Status = domain.StatusFailed
	it.FailReason = reason
	it.ResolvedAt = &now
	it.NextActionAt = nil
	return e.commit(ctx, it, domain.Activity{
		AgentType: AgentTypeOrchestrator,
		Action:    "chase_failed",
		Outcome:   "failure",
		Detail:    reason,
	})
}

// TryLease claims the item for owner without waiting. A live lease held by a
// different owner yields ErrLeaseHeld; the caller skips and retries next tick.
func (e Engine) TryLease(ctx context.Context, itemID, ownerID string) (domain.Lease, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC()
	existing, err := e.Repo.GetLeaseTx(ctx, tx, itemID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Lease{}, err
	}
	if err == nil && existing.OwnerID != ownerID && now.Before(existing.ExpiresAt) {
		return domain.Lease{}, ErrLeaseHeld
	}
	lease := domain.Lease{
		ItemID:     itemID,
		OwnerID:    ownerID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(e.Config.Engine.LeaseTTL.Std()),
	}
	if err := e.Repo.UpsertLease(ctx, tx, lease); err != nil {
		return domain.Lease{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, err
	}
	return lease, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (e Engine) ReleaseLease(ctx context.Context, itemID, ownerID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	existing, err := e.Repo.GetLeaseTx(ctx, tx, itemID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.OwnerID != ownerID {
		return nil
	}
	if err := e.Repo.DeleteLease(ctx, tx, itemID); err != nil {
		return err
	}
	return tx.Commit()
}

// Snapshot assembles the dashboard analytics aggregate.
func (e Engine) Snapshot(ctx context.Context) (domain.AnalyticsSnapshot, error) {
	counts, err := e.Repo.CountByStatus(ctx)
	if err != nil {
		return domain.AnalyticsSnapshot{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	now := e.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	completedToday, err := e.Repo.CompletedSince(ctx, startOfDay)
	if err != nil {
		return domain.AnalyticsSnapshot{}, err
	}
	avgDays, err := e.Repo.AvgCompletionDays(ctx)
	if err != nil {
		return domain.AnalyticsSnapshot{}, err
	}
	highRisk, err := e.Repo.HighRiskCount(ctx, bandHighMin)
	if err != nil {
		return domain.AnalyticsSnapshot{}, err
	}
	providers, err := e.Repo.ListProviderProfiles(ctx)
	if err != nil {
		return domain.AnalyticsSnapshot{}, err
	}
	return domain.AnalyticsSnapshot{
		TotalItems:        total,
		ByStatus:          counts,
		OverdueItems:      counts[domain.StatusOverdue] + counts[domain.StatusEscalated],
		HighRiskItems:     highRisk,
		CompletedToday:    completedToday,
		AvgCompletionDays: avgDays,
		Providers:         providers,
	}, nil
}
