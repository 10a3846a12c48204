// Package events fans billing events out to NATS, the in-process bus that
// feeds notifications, and the Kafka ledger stream.
package events

import (
	"context"
	"time"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	pkgEvents "subscription-billing-be/pkg/events"
	"subscription-billing-be/pkg/kafka"
	pktNats "subscription-billing-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	TypeSubscriptionActivated = "BILLING_SUBSCRIPTION_ACTIVATED"
	TypeSubscriptionRenewed   = "BILLING_SUBSCRIPTION_RENEWED"
	TypeRenewalFailed         = "BILLING_RENEWAL_FAILED"
	TypeSubscriptionPaused    = "BILLING_SUBSCRIPTION_PAUSED"
	TypeSubscriptionResumed   = "BILLING_SUBSCRIPTION_RESUMED"
	TypeSubscriptionCancelled = "BILLING_SUBSCRIPTION_CANCELLED"
	TypeRefundPending         = "BILLING_REFUND_PENDING"
	TypeRefundReverted        = "BILLING_REFUND_REVERTED"
	TypePaymentFailed         = "BILLING_PAYMENT_FAILED"
	TypeInstrumentRegistered  = "BILLING_INSTRUMENT_REGISTERED"
	TypeInstrumentRotated     = "BILLING_INSTRUMENT_ROTATED"
	TypeInstrumentDeleted     = "BILLING_INSTRUMENT_DELETED"

	// NotificationTopic is the in-process topic read by the mailer consumer.
	NotificationTopic = "billing.notifications"
)

type Publisher interface {
	Publish(ctx context.Context, evt pkgEvents.Event)
	PublishLedger(ctx context.Context, entries ...*entity.LedgerEntry)
}

// LedgerRecord is the Kafka value of one ledger entry.
type LedgerRecord struct {
	EntryID        string    `json:"entry_id"`
	PaymentID      string    `json:"payment_id"`
	SubscriptionID string    `json:"subscription_id"`
	Kind           string    `json:"kind"`
	Amount         string    `json:"amount"`
	GatewayRef     string    `json:"gateway_ref"`
	CreatedAt      time.Time `json:"created_at"`
}

// Bus publishes to every configured transport. A nil transport is skipped and
// transport failures are logged, never returned: events are emitted after the
// ledger commit and must not undo it.
type Bus struct {
	nats   *pktNats.Publisher
	pubSub *gochannel.GoChannel
	ledger *kafka.Producer
	logger logger.ILogger
}

func NewBus(nats *pktNats.Publisher, pubSub *gochannel.GoChannel, ledger *kafka.Producer, log logger.ILogger) *Bus {
	return &Bus{nats: nats, pubSub: pubSub, ledger: ledger, logger: log}
}

func (b *Bus) Publish(ctx context.Context, evt pkgEvents.Event) {
	if b.nats != nil {
		if err := b.nats.Publish(ctx, evt); err != nil {
			b.logger.Error("BILLING", "Failed to publish "+evt.EventType()+" event", map[string]interface{}{"error": err.Error()})
		}
	}

	if b.pubSub != nil {
		data, err := pkgEvents.Marshal(evt)
		if err != nil {
			b.logger.Error("BILLING", "Failed to marshal "+evt.EventType()+" event", map[string]interface{}{"error": err.Error()})
			return
		}
		if err := b.pubSub.Publish(NotificationTopic, message.NewMessage(watermill.NewUUID(), data)); err != nil {
			b.logger.Error("BILLING", "Failed to enqueue "+evt.EventType()+" notification", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (b *Bus) PublishLedger(ctx context.Context, entries ...*entity.LedgerEntry) {
	if b.ledger == nil || len(entries) == 0 {
		return
	}

	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, kafka.Message{
			Key:   e.SubscriptionId.String(),
			Value: ToLedgerRecord(e),
			At:    e.CreatedAt,
		})
	}
	if err := b.ledger.Publish(ctx, msgs...); err != nil {
		b.logger.Error("BILLING", "Failed to stream ledger entries", map[string]interface{}{
			"error": err.Error(),
			"count": len(entries),
			"topic": b.ledger.Topic(),
		})
	}
}

func ToLedgerRecord(e *entity.LedgerEntry) LedgerRecord {
	return LedgerRecord{
		EntryID:        e.Id.String(),
		PaymentID:      e.PaymentId.String(),
		SubscriptionID: e.SubscriptionId.String(),
		Kind:           string(e.Kind),
		Amount:         e.Amount.String(),
		GatewayRef:     e.GatewayRef,
		CreatedAt:      e.CreatedAt,
	}
}
