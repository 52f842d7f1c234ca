package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"stockwatch/internal/domain"
	"stockwatch/internal/ring"
)

// DefaultInboxSize bounds retained in-app notifications.
const DefaultInboxSize = 50

// InAppHandler receives newly created in-app notifications.
type InAppHandler func(notification domain.InAppNotification)

// Inbox keeps bounded in-app notifications with read/dismiss flags.
// Params: ring buffer guarded by mutex and subscriber list.
// Returns: in-app notification store.
type Inbox struct {
	mu       sync.RWMutex
	items    *ring.Buffer[*domain.InAppNotification]
	handlers []InAppHandler
	logger   *slog.Logger
}

// NewInbox creates inbox with fixed capacity.
// Params: capacity (<=0 uses DefaultInboxSize) and logger for subscriber panics.
// Returns: empty inbox.
func NewInbox(capacity int, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if capacity <= 0 {
		capacity = DefaultInboxSize
	}
	return &Inbox{items: ring.New[*domain.InAppNotification](capacity), logger: logger}
}

// Subscribe registers handler called after each Add.
func (b *Inbox) Subscribe(handler InAppHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

// Add stores notification, evicting oldest when full, then notifies subscribers.
// A panicking subscriber is logged and does not affect the stored entry or other subscribers.
// Params: notification to store.
// Returns: none.
func (b *Inbox) Add(notification domain.InAppNotification) {
	stored := notification
	b.mu.Lock()
	b.items.Push(&stored)
	handlers := append([]InAppHandler(nil), b.handlers...)
	b.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					b.logger.Error("in-app subscriber panicked", "notification_id", notification.ID, "panic", fmt.Sprint(recovered))
				}
			}()
			handler(notification)
		}()
	}
}

// List returns newest non-dismissed notifications first.
// Params: max entries (<=0 = all) and unread-only filter.
// Returns: notification snapshots.
func (b *Inbox) List(limit int, unreadOnly bool) []domain.InAppNotification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.InAppNotification, 0, b.items.Len())
	for _, item := range b.items.Newest(0) {
		if item.Dismissed || (unreadOnly && item.Read) {
			continue
		}
		out = append(out, *item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// MarkRead sets read flag; repeated calls have no further effect.
// Params: notification id.
// Returns: false when id is unknown.
func (b *Inbox) MarkRead(id string) bool {
	return b.update(id, func(item *domain.InAppNotification) { item.Read = true })
}

// Dismiss sets dismissed flag; repeated calls have no further effect.
// Params: notification id.
// Returns: false when id is unknown.
func (b *Inbox) Dismiss(id string) bool {
	return b.update(id, func(item *domain.InAppNotification) { item.Dismissed = true })
}

func (b *Inbox) update(id string, apply func(item *domain.InAppNotification)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	b.items.Each(func(item *domain.InAppNotification) bool {
		if item.ID != id {
			return true
		}
		apply(item)
		found = true
		return false
	})
	return found
}

// Counts returns retained and unread (non-dismissed) totals.
func (b *Inbox) Counts() (total, unread int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.items.Each(func(item *domain.InAppNotification) bool {
		total++
		if !item.Read && !item.Dismissed {
			unread++
		}
		return true
	})
	return total, unread
}
