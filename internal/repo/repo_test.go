package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"chaseline/internal/db"
	"chaseline/internal/domain"
	"chaseline/internal/migrate"
	"chaseline/internal/repo"
)

var seedTime = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.InsertClient(context.Background(), domain.Client{
		ID:        "client-1",
		Name:      "Jane Doe",
		Email:     "jane@example.com",
		CreatedAt: seedTime,
	}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return r
}

func insertItem(t *testing.T, r repo.Repo, it domain.ChaseItem) domain.ChaseItem {
	t.Helper()
	if it.ClientID == "" {
		it.ClientID = "client-1"
	}
	if it.Type == "" {
		it.Type = domain.TypeDocument
	}
	if it.TargetKind == "" {
		it.TargetKind = domain.TargetClient
	}
	if it.Status == "" {
		it.Status = domain.StatusPending
	}
	if it.Priority == "" {
		it.Priority = domain.PriorityMedium
	}
	if it.Version == 0 {
		it.Version = 1
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = seedTime
	}
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertItem(ctx, tx, it); err != nil {
		t.Fatalf("insert item %s: %v", it.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return it
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func TestItemRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	providerID := "aviva"
	if err := r.UpsertProviderProfile(ctx, domain.ProviderProfile{
		ProviderID: providerID,
		Name:       "Aviva",
		MeanDays:   15,
		P90Days:    22.5,
		UpdatedAt:  seedTime,
	}); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	next := seedTime.Add(time.Hour)
	want := insertItem(t, r, domain.ChaseItem{
		ID:           "it-1",
		Type:         domain.TypeLOA,
		TargetKind:   domain.TargetProvider,
		ProviderID:   &providerID,
		Description:  "pension transfer LOA",
		Priority:     domain.PriorityHigh,
		RiskScore:    0.42,
		LastTone:     domain.ToneFriendly,
		LastChannel:  domain.ChannelEmail,
		NextActionAt: &next,
	})

	got, err := r.GetItem(ctx, "it-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.ProviderID == nil || *got.ProviderID != providerID {
		t.Fatalf("provider = %v", got.ProviderID)
	}
	if got.Description != want.Description || got.Priority != want.Priority {
		t.Fatalf("got %+v", got)
	}
	if got.RiskScore != 0.42 {
		t.Fatalf("risk score = %v", got.RiskScore)
	}
	if got.NextActionAt == nil || !got.NextActionAt.Equal(next) {
		t.Fatalf("next action = %v, want %v", got.NextActionAt, next)
	}
	if got.ResolvedAt != nil || got.LastActionAt != nil {
		t.Fatalf("unset times should stay nil: %+v", got)
	}

	if _, err := r.GetItem(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestVersionedUpdate(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	it := insertItem(t, r, domain.ChaseItem{ID: "it-1"})

	it.Status = domain.StatusSent
	it.Attempts = 1
	if err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateItemVersioned(ctx, tx, it)
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	got, _ := r.GetItem(ctx, it.ID)
	if got.Version != 2 || got.Status != domain.StatusSent {
		t.Fatalf("got version=%d status=%s, want 2/sent", got.Version, got.Status)
	}

	// The same in-memory copy is now stale.
	it.Status = domain.StatusFailed
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateItemVersioned(ctx, tx, it)
	})
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}
	got, _ = r.GetItem(ctx, it.ID)
	if got.Status != domain.StatusSent {
		t.Fatalf("status = %s, stale write must not land", got.Status)
	}
}

func TestDueItemsFiltering(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := seedTime.Add(24 * time.Hour)
	past := seedTime
	future := now.Add(time.Hour)

	insertItem(t, r, domain.ChaseItem{ID: "due", NextActionAt: &past})
	insertItem(t, r, domain.ChaseItem{ID: "due-exactly-now", NextActionAt: &now})
	insertItem(t, r, domain.ChaseItem{ID: "not-yet", NextActionAt: &future})
	insertItem(t, r, domain.ChaseItem{ID: "unscheduled"})
	insertItem(t, r, domain.ChaseItem{ID: "done", Status: domain.StatusCompleted, NextActionAt: &past})

	due, err := r.DueItems(ctx, now)
	if err != nil {
		t.Fatalf("due items: %v", err)
	}
	ids := map[string]bool{}
	for _, it := range due {
		ids[it.ID] = true
	}
	if len(due) != 2 || !ids["due"] || !ids["due-exactly-now"] {
		t.Fatalf("due = %v", ids)
	}
}

func TestListItemsFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertClient(ctx, domain.Client{ID: "client-2", Name: "Sam Poe", Phone: "07700900002", CreatedAt: seedTime}); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	insertItem(t, r, domain.ChaseItem{ID: "a", Type: domain.TypeDocument})
	insertItem(t, r, domain.ChaseItem{ID: "b", Type: domain.TypeLOA, TargetKind: domain.TargetProvider})
	insertItem(t, r, domain.ChaseItem{ID: "c", ClientID: "client-2", Status: domain.StatusSent})

	byType, err := r.ListItems(ctx, repo.ItemFilter{Type: domain.TypeLOA})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != "b" {
		t.Fatalf("by type = %+v", byType)
	}

	byClient, err := r.ListItems(ctx, repo.ItemFilter{ClientID: "client-2"})
	if err != nil {
		t.Fatalf("list by client: %v", err)
	}
	if len(byClient) != 1 || byClient[0].ID != "c" {
		t.Fatalf("by client = %+v", byClient)
	}

	byStatus, err := r.ListItems(ctx, repo.ItemFilter{Status: domain.StatusSent})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "c" {
		t.Fatalf("by status = %+v", byStatus)
	}

	limited, err := r.ListItems(ctx, repo.ItemFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d items, want 2", len(limited))
	}
}

func TestActivityCursorPaging(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertItem(t, r, domain.ChaseItem{ID: "it-1"})

	for _, action := range []string{"chase_registered", "chase_sent", "reminder_sent", "chase_failed"} {
		if err := inTx(t, r, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO activities(item_id,agent_type,action,outcome,ts) VALUES (?,?,?,?,?)`,
				"it-1", "orchestrator", action, "success", seedTime.Format(time.RFC3339))
			return err
		}); err != nil {
			t.Fatalf("insert activity: %v", err)
		}
	}

	latest, err := r.LatestActivityID(ctx)
	if err != nil {
		t.Fatalf("latest id: %v", err)
	}
	if latest != 4 {
		t.Fatalf("latest id = %d, want 4", latest)
	}

	page, err := r.ActivitiesAfter(ctx, 2, 1)
	if err != nil {
		t.Fatalf("activities after: %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 || page[1].ID != 3 {
		t.Fatalf("page = %+v", page)
	}

	newest, err := r.LatestActivities(ctx, 2, "")
	if err != nil {
		t.Fatalf("latest activities: %v", err)
	}
	if len(newest) != 2 || newest[0].ID != 4 {
		t.Fatalf("newest = %+v", newest)
	}

	failed, err := r.LatestActivities(ctx, 10, "chase_failed")
	if err != nil {
		t.Fatalf("filtered activities: %v", err)
	}
	if len(failed) != 1 || failed[0].Action != "chase_failed" {
		t.Fatalf("filtered = %+v", failed)
	}

	empty := newTestRepo(t)
	if id, err := empty.LatestActivityID(ctx); err != nil || id != 0 {
		t.Fatalf("empty log id = %d err=%v, want 0", id, err)
	}
}
