package domain

import "time"

// ChannelStatus is delivery outcome for one channel.
// Params: success flag, error text, send attempts, and provider metadata.
// Returns: per-channel entry of delivery record.
type ChannelStatus struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Notification is one dispatch record for one alert.
// Params: alert reference, requested channels, largest per-channel attempt count, and outcomes.
// Returns: delivery audit entry.
type Notification struct {
	ID       string                   `json:"id"`
	AlertID  string                   `json:"alert_id"`
	Channels []string                 `json:"channels"`
	SentAt   time.Time                `json:"sent_at"`
	Attempts int                      `json:"attempts"`
	Status   map[string]ChannelStatus `json:"status"`
}

// Clone returns notification copy with detached map and slices.
// Params: none.
// Returns: copy safe for concurrent readers.
func (n Notification) Clone() Notification {
	out := n
	out.Channels = append([]string(nil), n.Channels...)
	out.Status = make(map[string]ChannelStatus, len(n.Status))
	for channel, status := range n.Status {
		out.Status[channel] = status
	}
	return out
}

// InAppNotification is the inbox representation of an alert.
// Params: notification id, alert type/priority, title, message, payload, and flags.
// Returns: entry shown to users and pushed to connected clients.
type InAppNotification struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Type      AlertType `json:"type"`
	Priority  Priority  `json:"priority"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Dismissed bool      `json:"dismissed"`
}

// TitleForPriority derives in-app title from alert priority.
// Params: alert priority.
// Returns: short title.
func TitleForPriority(priority Priority) string {
	switch priority {
	case PriorityHigh:
		return "Critical Alert"
	case PriorityLow:
		return "Notice"
	default:
		return "Warning"
	}
}

// Recipients holds concrete delivery addresses per channel family.
// Params: email addresses and phone numbers (or chat ids for messenger-backed sms).
// Returns: address set passed to dispatcher.
type Recipients struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
}

// ForChannel selects addresses used by one channel.
// Params: channel key.
// Returns: address list (nil for in-app).
func (r Recipients) ForChannel(channel string) []string {
	switch channel {
	case ChannelEmail:
		return r.Emails
	case ChannelSMS:
		return r.Phones
	default:
		return nil
	}
}

// EventKind names outbound transport events.
// Params: alert-triggered/in-app-notification constants.
// Returns: event discriminator.
type EventKind string

const (
	// EventAlertTriggered carries an Alert payload.
	EventAlertTriggered EventKind = "alert-triggered"
	// EventInAppNotification carries an InAppNotification payload.
	EventInAppNotification EventKind = "in-app-notification"
)

// Event is one message published toward real-time clients.
// Params: kind, payload, and publish time.
// Returns: transport envelope.
type Event struct {
	Kind      EventKind `json:"event"`
	Payload   any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
