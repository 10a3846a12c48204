package service

import (
	"context"
	"fmt"

	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/pkg/mailer"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/billing/events"
	pkgEvents "subscription-billing-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService mails subscribers about billing events read from the
// in-process notification topic.
type consumerService struct {
	pubSub     *gochannel.GoChannel
	topicName  string
	uowFactory unitofwork.RepositoryFactory
	mailer     mailer.IEmailService
	logger     logger.ILogger
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	mailer mailer.IEmailService,
	logger logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:     pubSub,
		topicName:  topicName,
		uowFactory: uowFactory,
		mailer:     mailer,
		logger:     logger,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func str(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

// Notice maps an event onto the email a subscriber receives. ok is false for
// events that are not mailed.
func Notice(evt pkgEvents.BaseEvent) (mailer.Notice, bool) {
	plan := str(evt.Data, "plan_name")
	switch evt.Type {
	case events.TypeSubscriptionActivated:
		return mailer.Notice{
			Subject: "Your subscription is active",
			Heading: "Welcome aboard",
			Lines: []string{
				fmt.Sprintf("Your %s subscription is active.", plan),
				fmt.Sprintf("We charged %s. Your next billing date is %s.", str(evt.Data, "amount"), str(evt.Data, "next_bill_date")),
			},
		}, true
	case events.TypeSubscriptionRenewed:
		return mailer.Notice{
			Subject: "Subscription renewed",
			Heading: "Thanks for staying with us",
			Lines: []string{
				fmt.Sprintf("Your %s subscription renewed for %s.", plan, str(evt.Data, "amount")),
				fmt.Sprintf("Next billing date: %s.", str(evt.Data, "next_bill_date")),
			},
		}, true
	case events.TypeRenewalFailed:
		return mailer.Notice{
			Subject: "We could not renew your subscription",
			Heading: "Payment issue",
			Lines: []string{
				fmt.Sprintf("The renewal charge for %s did not go through.", plan),
				"We will retry automatically. You can update your card at any time.",
			},
		}, true
	case events.TypeSubscriptionCancelled:
		return mailer.Notice{
			Subject: "Subscription cancelled",
			Heading: "Your refund is on its way",
			Lines: []string{
				fmt.Sprintf("Your %s subscription is cancelled.", plan),
				fmt.Sprintf("Refunded amount: %s.", str(evt.Data, "refunded_amount")),
			},
		}, true
	case events.TypeRefundReverted:
		return mailer.Notice{
			Subject: "Cancellation not completed",
			Heading: "Please try again",
			Lines: []string{
				"We could not confirm your refund with the payment provider.",
				"Your subscription is unchanged. You can request the cancellation again.",
			},
		}, true
	case events.TypePaymentFailed:
		return mailer.Notice{
			Subject: "Payment failed",
			Heading: "Automatic renewal turned off",
			Lines: []string{
				"A payment for your subscription failed or was cancelled by the provider.",
				"Automatic renewal is now off. Resubscribe or update your card to continue.",
			},
		}, true
	}
	return mailer.Notice{}, false
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	// Delivery is best effort; every message is acked.
	defer msg.Ack()

	evt, err := pkgEvents.Unmarshal(msg.Payload)
	if err != nil {
		cs.logger.Error("NOTIFY", "Failed to unmarshal notification", map[string]interface{}{"error": err.Error()})
		return
	}
	notice, ok := Notice(evt)
	if !ok {
		return
	}

	to := str(evt.Data, "email")
	if to == "" {
		userId, err := uuid.Parse(str(evt.Data, "user_id"))
		if err != nil {
			return
		}
		user, err := cs.uowFactory.NewUnitOfWork(ctx).UserRepository().FindByID(ctx, userId)
		if err != nil || user == nil || user.Email == "" {
			return
		}
		to = user.Email
	}

	fields := map[string]interface{}{"type": evt.Type, "to": to}
	if cs.mailer == nil {
		cs.logger.Debug("NOTIFY", "Mailer disabled, notification dropped", fields)
		return
	}
	if err := cs.mailer.SendNotice(to, notice); err != nil {
		fields["error"] = err.Error()
		cs.logger.Error("NOTIFY", "Failed to send notification", fields)
		return
	}
	cs.logger.Info("NOTIFY", "Notification sent", fields)
}
