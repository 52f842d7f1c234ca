package notify

import (
	"context"

	"stockwatch/internal/clock"
	"stockwatch/internal/domain"
)

// InAppSender stores alerts in the in-app inbox.
type InAppSender struct {
	inbox *Inbox
	clock clock.Clock
}

// NewInAppSender creates in-app channel handler.
// Params: destination inbox and clock.
// Returns: in-app sender.
func NewInAppSender(inbox *Inbox, clk clock.Clock) *InAppSender {
	return &InAppSender{inbox: inbox, clock: clk}
}

// Channel returns sender channel name.
func (s *InAppSender) Channel() string {
	return domain.ChannelInApp
}

// Send creates inbox entry sharing the delivery record id.
// Params: context and delivery.
// Returns: notification id as message id.
func (s *InAppSender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	alert := delivery.Alert
	s.inbox.Add(domain.InAppNotification{
		ID:        delivery.NotificationID,
		AlertID:   alert.ID,
		Type:      alert.Type,
		Priority:  alert.Priority,
		Title:     domain.TitleForPriority(alert.Priority),
		Message:   alert.Message,
		Data:      alert.Data,
		Timestamp: s.clock.Now(),
	})
	return SendResult{MessageID: delivery.NotificationID}, nil
}
