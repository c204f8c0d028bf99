package server

import (
	"time"

	"chaseline/internal/domain"
	"chaseline/internal/engine"
)

// Request payloads

type CreateClientRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	RiskProfile *string `json:"risk_profile,omitempty"`
}

type CreateChaseRequest struct {
	ID          *string `json:"id,omitempty"`
	ClientID    string  `json:"client_id"`
	Type        string  `json:"type" enum:"document,loa"`
	ProviderID  *string `json:"provider_id,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
}

type FailChaseRequest struct {
	Reason string `json:"reason"`
}

// Response payloads

type ClientResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	RiskProfile string `json:"risk_profile,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ChaseResponse struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"client_id"`
	Type         string  `json:"type" enum:"document,loa"`
	TargetKind   string  `json:"target_kind" enum:"client,provider"`
	ProviderID   *string `json:"provider_id,omitempty"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"created,pending,sent,awaiting_response,overdue,received,escalated,completed,failed"`
	Priority     string  `json:"priority" enum:"low,medium,high"`
	Attempts     int     `json:"attempts"`
	RiskScore    float64 `json:"risk_score"`
	LastTone     string  `json:"last_tone,omitempty" enum:",friendly,gentle,urgent"`
	LastChannel  string  `json:"last_channel,omitempty" enum:",email,sms,phone"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	LastActionAt *string `json:"last_action_at,omitempty" format:"date-time"`
	NextActionAt *string `json:"next_action_at,omitempty" format:"date-time"`
	ResolvedAt   *string `json:"resolved_at,omitempty" format:"date-time"`
	FailReason   string  `json:"fail_reason,omitempty"`
}

type ActivityResponse struct {
	ID        int64  `json:"id"`
	ItemID    string `json:"item_id"`
	AgentType string `json:"agent_type"`
	Action    string `json:"action"`
	Channel   string `json:"channel,omitempty"`
	Tone      string `json:"tone,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	TS        string `json:"ts" format:"date-time"`
}

type ProviderProfileResponse struct {
	ProviderID   string  `json:"provider_id"`
	Name         string  `json:"name,omitempty"`
	MeanDays     float64 `json:"mean_days"`
	P90Days      float64 `json:"p90_days"`
	SampleCount  int     `json:"sample_count"`
	OverdueCount int     `json:"overdue_count"`
	OverdueRate  float64 `json:"overdue_rate"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type RiskResponse struct {
	ItemID         string   `json:"item_id"`
	Score          float64  `json:"score"`
	Band           string   `json:"band" enum:"low,medium,high"`
	ExpectedDays   float64  `json:"expected_days"`
	ElapsedDays    float64  `json:"elapsed_days"`
	Factors        []string `json:"factors,omitempty"`
	Recommendation string   `json:"recommendation"`
}

func formatTS(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatNullableTS(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTS(*t)
	return &s
}

func clientResponse(c domain.Client) ClientResponse {
	return ClientResponse{
		ID:          c.ID,
		Name:        c.Name,
		Email:       c.Email,
		Phone:       c.Phone,
		RiskProfile: c.RiskProfile,
		CreatedAt:   formatTS(c.CreatedAt),
	}
}

func mapClients(items []domain.Client) []ClientResponse {
	res := make([]ClientResponse, 0, len(items))
	for _, c := range items {
		res = append(res, clientResponse(c))
	}
	return res
}

func chaseResponse(it domain.ChaseItem) ChaseResponse {
	return ChaseResponse{
		ID:           it.ID,
		ClientID:     it.ClientID,
		Type:         string(it.Type),
		TargetKind:   string(it.TargetKind),
		ProviderID:   it.ProviderID,
		Description:  it.Description,
		Status:       string(it.Status),
		Priority:     string(it.Priority),
		Attempts:     it.Attempts,
		RiskScore:    it.RiskScore,
		LastTone:     string(it.LastTone),
		LastChannel:  string(it.LastChannel),
		Version:      it.Version,
		CreatedAt:    formatTS(it.CreatedAt),
		LastActionAt: formatNullableTS(it.LastActionAt),
		NextActionAt: formatNullableTS(it.NextActionAt),
		ResolvedAt:   formatNullableTS(it.ResolvedAt),
		FailReason:   it.FailReason,
	}
}

func mapChases(items []domain.ChaseItem) []ChaseResponse {
	res := make([]ChaseResponse, 0, len(items))
	for _, it := range items {
		res = append(res, chaseResponse(it))
	}
	return res
}

func activityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:        a.ID,
		ItemID:    a.ItemID,
		AgentType: a.AgentType,
		Action:    a.Action,
		Channel:   string(a.Channel),
		Tone:      string(a.Tone),
		Outcome:   a.Outcome,
		Detail:    a.Detail,
		TS:        formatTS(a.TS),
	}
}

func mapActivities(items []domain.Activity) []ActivityResponse {
	res := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		res = append(res, activityResponse(a))
	}
	return res
}

func profileResponse(p domain.ProviderProfile) ProviderProfileResponse {
	return ProviderProfileResponse{
		ProviderID:   p.ProviderID,
		Name:         p.Name,
		MeanDays:     p.MeanDays,
		P90Days:      p.P90Days,
		SampleCount:  p.SampleCount,
		OverdueCount: p.OverdueCount,
		OverdueRate:  p.OverdueRate(),
		UpdatedAt:    formatTS(p.UpdatedAt),
	}
}

func mapProfiles(items []domain.ProviderProfile) []ProviderProfileResponse {
	res := make([]ProviderProfileResponse, 0, len(items))
	for _, p := range items {
		res = append(res, profileResponse(p))
	}
	return res
}

func riskResponse(itemID string, a engine.Assessment) RiskResponse {
	return RiskResponse{
		ItemID:         itemID,
		Score:          a.Score,
		Band:           string(a.Band),
		ExpectedDays:   a.ExpectedDays,
		ElapsedDays:    a.ElapsedDays,
		Factors:        a.Factors,
		Recommendation: a.Recommendation,
	}
}
