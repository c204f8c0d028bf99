package engine

import (
	"testing"
	"time"

	"chaseline/internal/domain"
)

func TestOrderForProcessing(t *testing.T) {
	at := func(days int) *time.Time {
		ts := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
		return &ts
	}
	items := []domain.ChaseItem{
		{ID: "late-low", Status: domain.StatusPending, Priority: domain.PriorityLow, NextActionAt: at(5)},
		{ID: "calm", Status: domain.StatusAwaitingResponse, Priority: domain.PriorityMedium, RiskScore: 0.2, NextActionAt: at(1)},
		{ID: "risky", Status: domain.StatusAwaitingResponse, Priority: domain.PriorityMedium, RiskScore: 0.8, NextActionAt: at(2)},
		{ID: "stuck", Status: domain.StatusOverdue, Priority: domain.PriorityLow, NextActionAt: at(3)},
		{ID: "tie-b", Status: domain.StatusPending, Priority: domain.PriorityLow, RiskScore: 0.5, NextActionAt: at(4)},
		{ID: "tie-a", Status: domain.StatusPending, Priority: domain.PriorityLow, RiskScore: 0.5, NextActionAt: at(4)},
		{ID: "early-low", Status: domain.StatusPending, Priority: domain.PriorityLow, NextActionAt: at(0)},
	}

	orderForProcessing(items)

	// Overdue first regardless of priority, then priority, then risk within
	// the same priority, then the earlier due time, then the id.
	want := []string{"stuck", "risky", "calm", "tie-a", "tie-b", "early-low", "late-low"}
	for i, id := range want {
		if items[i].ID != id {
			got := make([]string, len(items))
			for j, it := range items {
				got[j] = it.ID
			}
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
