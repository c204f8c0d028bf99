package domain

import "time"

// ChaseStatus is a chase item lifecycle state.
type ChaseStatus string

const (
	StatusCreated          ChaseStatus = "created"
	StatusPending          ChaseStatus = "pending"
	StatusSent             ChaseStatus = "sent"
	StatusAwaitingResponse ChaseStatus = "awaiting_response"
	StatusOverdue          ChaseStatus = "overdue"
	StatusReceived         ChaseStatus = "received"
	StatusEscalated        ChaseStatus = "escalated"
	StatusCompleted        ChaseStatus = "completed"
	StatusFailed           ChaseStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s ChaseStatus) Terminal() bool {
	switch s {
	case StatusReceived, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for scheduling; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

type ChaseType string

const (
	TypeDocument ChaseType = "document"
	TypeLOA      ChaseType = "loa"
)

type TargetKind string

const (
	TargetClient   TargetKind = "client"
	TargetProvider TargetKind = "provider"
)

type Tone string

const (
	ToneFriendly Tone = "friendly"
	ToneGentle   Tone = "gentle"
	ToneUrgent   Tone = "urgent"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPhone Channel = "phone"
)

// Rank orders channels by urgency; a chase never regresses to a lower rank.
func (c Channel) Rank() int {
	switch c {
	case ChannelPhone:
		return 2
	case ChannelSMS:
		return 1
	case ChannelEmail:
		return 0
	default:
		return -1
	}
}

// ChaseItem is one outstanding document or LOA request being tracked.
type ChaseItem struct {
	ID           string      `json:"id"`
	ClientID     string      `json:"client_id"`
	Type         ChaseType   `json:"type" enum:"document,loa"`
	TargetKind   TargetKind  `json:"target_kind" enum:"client,provider"`
	ProviderID   *string     `json:"provider_id,omitempty"`
	Description  string      `json:"description,omitempty"`
	Status       ChaseStatus `json:"status" enum:"created,pending,sent,awaiting_response,overdue,received,escalated,completed,failed"`
	Priority     Priority    `json:"priority" enum:"low,medium,high"`
	Attempts     int         `json:"attempts"`
	RiskScore    float64     `json:"risk_score"`
	LastTone     Tone        `json:"last_tone,omitempty"`
	LastChannel  Channel     `json:"last_channel,omitempty"`
	Version      int64       `json:"version"`
	CreatedAt    time.Time   `json:"created_at" format:"date-time"`
	LastActionAt *time.Time  `json:"last_action_at,omitempty" format:"date-time"`
	NextActionAt *time.Time  `json:"next_action_at,omitempty" format:"date-time"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty" format:"date-time"`
	FailReason   string      `json:"fail_reason,omitempty"`
}

type Client struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	RiskProfile string    `json:"risk_profile,omitempty"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

// ProviderProfile carries learned response-latency statistics for a provider.
type ProviderProfile struct {
	ProviderID   string    `json:"provider_id"`
	Name         string    `json:"name,omitempty"`
	MeanDays     float64   `json:"mean_days"`
	P90Days      float64   `json:"p90_days"`
	SampleCount  int       `json:"sample_count"`
	OverdueCount int       `json:"overdue_count"`
	UpdatedAt    time.Time `json:"updated_at" format:"date-time"`
}

// OverdueRate is the fraction of sampled chases that went overdue before
// resolving. With no samples it reports a conservative 0.5.
func (p ProviderProfile) OverdueRate() float64 {
	if p.SampleCount == 0 {
		return 0.5
	}
	return float64(p.OverdueCount) / float64(p.SampleCount)
}

// Activity is an immutable audit record of one action taken on a chase item.
type Activity struct {
	ID        int64     `json:"id"`
	ItemID    string    `json:"item_id"`
	AgentType string    `json:"agent_type"`
	Action    string    `json:"action"`
	Channel   Channel   `json:"channel,omitempty"`
	Tone      Tone      `json:"tone,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	TS        time.Time `json:"ts" format:"date-time"`
}

// Lease marks a chase item as exclusively held by one worker.
type Lease struct {
	ItemID     string    `json:"item_id"`
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at" format:"date-time"`
	ExpiresAt  time.Time `json:"expires_at" format:"date-time"`
}

type APIKey struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Name      string    `json:"name,omitempty"`
	KeyHash   string    `json:"key_hash"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

// AgentStatus reports one chase agent's processing state.
type AgentStatus struct {
	AgentID      string     `json:"agent_id"`
	AgentType    string     `json:"agent_type"`
	Status       string     `json:"status" enum:"idle,busy"`
	LastAction   string     `json:"last_action,omitempty"`
	LastActionAt *time.Time `json:"last_action_at,omitempty" format:"date-time"`
	Processed    int        `json:"processed"`
}

// AnalyticsSnapshot aggregates engine state for dashboards.
type AnalyticsSnapshot struct {
	TotalItems        int                 `json:"total_items"`
	ByStatus          map[ChaseStatus]int `json:"by_status"`
	OverdueItems      int                 `json:"overdue_items"`
	HighRiskItems     int                 `json:"high_risk_items"`
	CompletedToday    int                 `json:"completed_today"`
	AvgCompletionDays float64             `json:"avg_completion_days"`
	Providers         []ProviderProfile   `json:"providers,omitempty"`
}
