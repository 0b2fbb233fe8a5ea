package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"jobboard/src/core/sponsorship"
)

// Topic is the queue the ledger publishes notification events to.
const Topic = "notifications"

// envelope is the wire form of a ledger event.
type envelope struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	EmployerID    int64     `json:"employer_id"`
	JobID         *int64    `json:"job_id,omitempty"`
	AmountDollars *float64  `json:"amount,omitempty"`
	Remaining     *int64    `json:"impressions_remaining,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher implements sponsorship.Notifier over a watermill publisher.
type Publisher struct {
	publisher message.Publisher
}

func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

func (p *Publisher) Notify(ctx context.Context, event sponsorship.Event) error {
	env := envelope{
		ID:         uuid.NewString(),
		Kind:       string(event.Kind),
		EmployerID: event.EmployerID,
		JobID:      event.JobID,
		Remaining:  event.Remaining,
		OccurredAt: time.Now().UTC(),
	}
	if event.Amount != nil {
		dollars := event.Amount.Dollars()
		env.AmountDollars = &dollars
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(Topic, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}

// Deliverer consumes notification messages on the worker side. Actual
// channel delivery (e-mail, in-app) is the external collaborator; the
// worker renders the event and hands it off via the log.
type Deliverer struct {
	logger watermill.LoggerAdapter
}

func NewDeliverer(logger watermill.LoggerAdapter) *Deliverer {
	return &Deliverer{logger: logger}
}

func (d *Deliverer) Handle(msg *message.Message) error {
	var env envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	var text string
	switch sponsorship.EventKind(env.Kind) {
	case sponsorship.EventSponsorshipExpired:
		text = "Your sponsored listing used its full impression quota and is now a free listing."
	case sponsorship.EventImpressionsLow:
		text = "Your sponsored listing is running low on impressions."
	case sponsorship.EventBalanceTopUp:
		text = "Your ad balance top-up was received."
	default:
		return fmt.Errorf("unknown notification kind: %s", env.Kind)
	}

	d.logger.Info("notification delivered", watermill.LogFields{
		"notification_id": env.ID,
		"kind":            env.Kind,
		"employer_id":     env.EmployerID,
		"text":            text,
	})
	return nil
}
