package engine

import (
	"context"
	"fmt"
	"log/slog"

	"chaseline/internal/domain"
	"chaseline/internal/logging"
)

// SendOutcome classifies a delivery attempt. Transient failures leave the
// item in place for a retry on a later tick; permanent failures fail the
// chase.
type SendOutcome int

const (
	SendSuccess SendOutcome = iota
	SendTransientFailure
	SendPermanentFailure
)

// Delivery is one rendered outbound communication.
type Delivery struct {
	ItemID  string
	Target  string
	Channel domain.Channel
	Tone    domain.Tone
	Body    string
}

// Sender delivers a communication over its channel. Implementations do not
// retry internally; the orchestrator owns retry timing.
type Sender interface {
	Send(ctx context.Context, d Delivery) (SendOutcome, string)
}

// SimulatedSender logs deliveries instead of sending them. It is the default
// sender until real channel integrations are configured.
type SimulatedSender struct {
	log *slog.Logger
}

func NewSimulatedSender() *SimulatedSender {
	return &SimulatedSender{log: logging.New("sender")}
}

func (s *SimulatedSender) Send(ctx context.Context, d Delivery) (SendOutcome, string) {
	s.log.Info("simulated delivery",
		"item_id", d.ItemID, "channel", d.Channel, "tone", d.Tone, "target", d.Target)
	return SendSuccess, fmt.Sprintf("simulated %s delivery to %s", d.Channel, d.Target)
}

// Dispatcher renders the outbound message for an action and hands it to the
// sender.
type Dispatcher struct {
	Sender Sender
}

func NewDispatcher(sender Sender) *Dispatcher {
	if sender == nil {
		sender = NewSimulatedSender()
	}
	return &Dispatcher{Sender: sender}
}

// Dispatch sends one communication for the item and reports the outcome.
// providerName may be empty for client-target chases.
func (d *Dispatcher) Dispatch(ctx context.Context, it domain.ChaseItem, client domain.Client, providerName string, action Action) (SendOutcome, Delivery, string) {
	delivery := Delivery{
		ItemID:  it.ID,
		Target:  targetAddress(it, client, providerName, action.Channel),
		Channel: action.Channel,
		Tone:    action.Tone,
		Body:    renderMessage(it, client, providerName, action),
	}
	outcome, detail := d.Sender.Send(ctx, delivery)
	return outcome, delivery, detail
}

func targetAddress(it domain.ChaseItem, client domain.Client, providerName string, ch domain.Channel) string {
	if it.TargetKind == domain.TargetProvider {
		if providerName != "" {
			return providerName
		}
		if it.ProviderID != nil {
			return *it.ProviderID
		}
		return "provider"
	}
	if ch == domain.ChannelEmail {
		return client.Email
	}
	return client.Phone
}

func renderMessage(it domain.ChaseItem, client domain.Client, providerName string, action Action) string {
	subject := it.Description
	if subject == "" {
		subject = string(it.Type)
	}
	if it.TargetKind == domain.TargetProvider {
		name := providerName
		if name == "" && it.ProviderID != nil {
			name = *it.ProviderID
		}
		switch action.Tone {
		case domain.ToneUrgent:
			return fmt.Sprintf("Dear %s team, the letter of authority for our client %s remains unactioned despite repeated follow-ups. This is now urgent; please confirm receipt and processing status today.", name, client.Name)
		case domain.ToneGentle:
			return fmt.Sprintf("Dear %s team, following up on the letter of authority submitted for our client %s. Please confirm receipt and an expected processing date.", name, client.Name)
		default:
			return fmt.Sprintf("Dear %s team, we recently submitted a letter of authority for our client %s. Could you confirm receipt when convenient?", name, client.Name)
		}
	}
	switch action.Tone {
	case domain.ToneUrgent:
		return fmt.Sprintf("Hi %s, this is now urgent. We still need %s and the delay is holding up your case. Please respond today or give us a call.", client.Name, subject)
	case domain.ToneGentle:
		return fmt.Sprintf("Hi %s, following up on our earlier request for %s. We need this to keep things moving, so please send it at your earliest convenience.", client.Name, subject)
	default:
		return fmt.Sprintf("Hi %s, hope you're well! Just a gentle reminder that we're still waiting on %s. Could you send it over when you get a chance? Thanks!", client.Name, subject)
	}
}
