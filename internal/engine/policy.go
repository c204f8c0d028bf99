package engine

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"chaseline/internal/config"
	"chaseline/internal/domain"
)

// Decision is the policy's plan for the next contact on a chase item.
type Decision struct {
	Delay    time.Duration
	Tone     domain.Tone
	Channel  domain.Channel
	Escalate bool
}

// Policy decides when and how to chase next: exponential backoff between
// attempts, a tone ladder that hardens with attempts, and a channel ladder
// that never regresses. Given the same item, assessment and random sequence
// it always produces the same decision.
type Policy struct {
	cfg *config.Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPolicy(cfg *config.Config, rng *rand.Rand) *Policy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{cfg: cfg, rng: rng}
}

// Backoff returns the delay before the next attempt: base * growth^n with n
// capped, clamped to [min, max], with symmetric jitter applied last.
func (p *Policy) Backoff(attempts int) time.Duration {
	b := p.cfg.Engine.Backoff
	n := attempts
	if n > b.CapAttempts {
		n = b.CapAttempts
	}
	d := float64(b.Base.Std()) * math.Pow(b.Growth, float64(n))
	if min := float64(b.Min.Std()); d < min {
		d = min
	}
	if max := float64(b.Max.Std()); d > max {
		d = max
	}
	if b.Jitter > 0 {
		p.mu.Lock()
		f := p.rng.Float64()
		p.mu.Unlock()
		d *= 1 + (f*2-1)*b.Jitter
	}
	return time.Duration(d)
}

// ShouldEscalate reports whether a chase has exhausted the normal ladder,
// either by attempts or by age.
func (p *Policy) ShouldEscalate(it domain.ChaseItem, elapsedDays float64) bool {
	return it.Attempts >= p.cfg.Engine.EscalationThreshold || elapsedDays >= p.cfg.Engine.EscalateAfterDays
}

// OverdueDeadline is when an unanswered chase flips to overdue.
func (p *Policy) OverdueDeadline(it domain.ChaseItem, expectedDays float64) time.Time {
	slack := expectedDays * p.cfg.Engine.OverdueMultiplier
	return it.CreatedAt.Add(time.Duration(slack * 24 * float64(time.Hour)))
}

// Evaluate plans the next contact for the item.
func (p *Policy) Evaluate(it domain.ChaseItem, a Assessment) Decision {
	d := Decision{
		Delay:    p.Backoff(it.Attempts),
		Escalate: p.ShouldEscalate(it, a.ElapsedDays),
	}
	d.Tone = p.tone(it)
	d.Channel = p.channel(it, a, d)
	return d
}

// tone hardens with attempts alone; risk influences the channel, not the
// wording.
func (p *Policy) tone(it domain.ChaseItem) domain.Tone {
	if it.Status == domain.StatusOverdue || it.Status == domain.StatusEscalated {
		return domain.ToneUrgent
	}
	switch {
	case it.Attempts >= p.cfg.Engine.EscalationThreshold:
		return domain.ToneUrgent
	case it.Attempts >= 2:
		return domain.ToneGentle
	default:
		return domain.ToneFriendly
	}
}

func (p *Policy) channel(it domain.ChaseItem, a Assessment, d Decision) domain.Channel {
	ch := domain.ChannelEmail
	if d.Tone == domain.ToneUrgent || a.Band == RiskHigh {
		ch = domain.ChannelSMS
	}
	if d.Escalate || it.Status == domain.StatusEscalated {
		ch = domain.ChannelPhone
	}
	// A chase never steps back down the ladder.
	if ch.Rank() < it.LastChannel.Rank() {
		ch = it.LastChannel
	}
	return ch
}
