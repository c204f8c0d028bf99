package engine

import (
	"fmt"
	"sync"
	"time"

	"chaseline/internal/domain"
)

// ActionKind is what an agent wants done with a chase item.
type ActionKind string

const (
	ActionSend     ActionKind = "send"
	ActionEscalate ActionKind = "escalate"
	ActionFail     ActionKind = "fail"
)

// Action is an agent's decision for one item on one pass.
type Action struct {
	Kind    ActionKind
	Channel domain.Channel
	Tone    domain.Tone
	Reason  string
}

// Agent plans the contact for one chase type. Agents are stateless; the
// registry tracks their processing status.
type Agent interface {
	Type() string
	Decide(it domain.ChaseItem, client domain.Client, d Decision) Action
}

// DocumentChaser chases clients for outstanding documents. It downgrades the
// channel when the client lacks the contact detail it needs, and gives up when
// no channel is reachable at all.
type DocumentChaser struct{}

func (DocumentChaser) Type() string { return AgentTypeDocument }

func (DocumentChaser) Decide(it domain.ChaseItem, client domain.Client, d Decision) Action {
	kind := ActionSend
	if d.Escalate || it.Status == domain.StatusEscalated {
		kind = ActionEscalate
	}
	ch, ok := usableChannel(d.Channel, client)
	if !ok {
		return Action{Kind: ActionFail, Reason: FailReasonMissingContact}
	}
	return Action{Kind: kind, Channel: ch, Tone: d.Tone}
}

// usableChannel keeps the planned channel when the client has the contact
// detail for it, otherwise walks down: phone and sms need a number, email
// needs an address.
func usableChannel(want domain.Channel, client domain.Client) (domain.Channel, bool) {
	hasFor := func(ch domain.Channel) bool {
		if ch == domain.ChannelEmail {
			return client.Email != ""
		}
		return client.Phone != ""
	}
	if hasFor(want) {
		return want, true
	}
	for _, ch := range []domain.Channel{domain.ChannelPhone, domain.ChannelSMS, domain.ChannelEmail} {
		if ch != want && hasFor(ch) {
			return ch, true
		}
	}
	return want, false
}

// LOAChaser chases providers for letter of authority confirmations. Provider
// contact goes through their servicing inbox, so every channel is assumed
// reachable; an item without a provider reference is malformed and fails.
type LOAChaser struct{}

func (LOAChaser) Type() string { return AgentTypeLOA }

func (LOAChaser) Decide(it domain.ChaseItem, client domain.Client, d Decision) Action {
	if it.ProviderID == nil || *it.ProviderID == "" {
		return Action{Kind: ActionFail, Reason: FailReasonInvalidTarget}
	}
	kind := ActionSend
	if d.Escalate || it.Status == domain.StatusEscalated {
		kind = ActionEscalate
	}
	return Action{Kind: kind, Channel: d.Channel, Tone: d.Tone}
}

// AgentRegistry holds the agents keyed by chase type and tracks each one's
// live processing status for the dashboard.
type AgentRegistry struct {
	Now func() time.Time

	mu     sync.Mutex
	agents map[domain.ChaseType]Agent
	status map[string]*domain.AgentStatus
}

func NewAgentRegistry() *AgentRegistry {
	r := &AgentRegistry{
		Now:    time.Now,
		agents: make(map[domain.ChaseType]Agent),
		status: make(map[string]*domain.AgentStatus),
	}
	r.register(domain.TypeDocument, DocumentChaser{})
	r.register(domain.TypeLOA, LOAChaser{})
	return r
}

func (r *AgentRegistry) register(t domain.ChaseType, a Agent) {
	r.agents[t] = a
	r.status[a.Type()] = &domain.AgentStatus{
		AgentID:   fmt.Sprintf("%s-1", a.Type()),
		AgentType: a.Type(),
		Status:    "idle",
	}
}

// For returns the agent responsible for the chase type.
func (r *AgentRegistry) For(t domain.ChaseType) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[t]
	return a, ok
}

func (r *AgentRegistry) MarkBusy(agentType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.status[agentType]; ok {
		s.Status = "busy"
	}
}

func (r *AgentRegistry) MarkIdle(agentType, lastAction string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[agentType]
	if !ok {
		return
	}
	s.Status = "idle"
	if lastAction != "" {
		now := r.Now().UTC()
		s.LastAction = lastAction
		s.LastActionAt = &now
		s.Processed++
	}
}

// Statuses returns a copy of every agent's status.
func (r *AgentRegistry) Statuses() []domain.AgentStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]domain.AgentStatus, 0, len(r.status))
	for _, s := range r.status {
		res = append(res, *s)
	}
	return res
}
