package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"stockwatch/internal/clock"
	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/metrics"
	"stockwatch/internal/permanent"
	"stockwatch/internal/ring"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	// DefaultDeliveryLogSize bounds retained delivery records.
	DefaultDeliveryLogSize = 100
	// DefaultChannelTimeout bounds one channel attempt.
	DefaultChannelTimeout = 15 * time.Second

	errChannelNotConfigured = "channel not configured"
	errNoRecipients         = "no recipients for channel"
)

// Delivery is one channel attempt input.
// Params: delivery record id, alert snapshot, and channel addresses.
// Returns: payload handed to ChannelSender.
type Delivery struct {
	NotificationID string
	Alert          domain.Alert
	Recipients     []string
}

// SendResult returns channel-specific metadata after successful delivery.
// Params: provider message id and extra metadata.
// Returns: values copied into delivery status.
type SendResult struct {
	MessageID string
	Metadata  map[string]string
}

// ChannelSender sends one alert through one channel.
// Params: context bounded by channel timeout and delivery payload.
// Returns: channel metadata or error; permanent.MarkAuth errors disable the channel.
type ChannelSender interface {
	Channel() string
	Send(ctx context.Context, delivery Delivery) (SendResult, error)
}

// ChannelStats counts outcomes per channel.
type ChannelStats struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Stats summarizes dispatcher state.
// Params: delivery totals, inbox counters, per-channel outcomes, and channel availability.
// Returns: snapshot for status reporting.
type Stats struct {
	TotalNotifications int64                   `json:"total_notifications"`
	InAppTotal         int                     `json:"in_app_total"`
	Unread             int                     `json:"unread"`
	Channels           map[string]ChannelStats `json:"channels"`
	ConfiguredChannels []string                `json:"configured_channels"`
	DisabledChannels   []string                `json:"disabled_channels"`
}

// Options configures dispatcher runtime.
// Params: per-channel timeout, retry policy, clock, logger, and bounded list sizes.
// Returns: dispatcher settings.
type Options struct {
	ChannelTimeout  time.Duration
	Retry           config.RetryConfig
	Clock           clock.Clock
	Logger          *slog.Logger
	InboxSize       int
	DeliveryLogSize int
}

// Dispatcher delivers alerts to channels independently and records per-channel outcomes.
// Params: channel senders, inbox, and delivery log.
// Returns: notification service used by manager.
type Dispatcher struct {
	senders map[string]ChannelSender
	inbox   *Inbox
	timeout time.Duration
	retry   config.RetryConfig
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.RWMutex
	log      *ring.Buffer[domain.Notification]
	total    int64
	stats    map[string]ChannelStats
	disabled map[string]string
}

// New builds dispatcher with in-app channel and extra senders.
// Params: options and external channel senders (later duplicates replace earlier ones).
// Returns: dispatcher.
func New(opts Options, senders ...ChannelSender) *Dispatcher {
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = DefaultChannelTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DeliveryLogSize <= 0 {
		opts.DeliveryLogSize = DefaultDeliveryLogSize
	}

	logger := opts.Logger.With("component", "notify")
	inbox := NewInbox(opts.InboxSize, logger)
	d := &Dispatcher{
		senders:  make(map[string]ChannelSender),
		inbox:    inbox,
		timeout:  opts.ChannelTimeout,
		retry:    opts.Retry,
		clock:    opts.Clock,
		logger:   logger,
		log:      ring.New[domain.Notification](opts.DeliveryLogSize),
		stats:    make(map[string]ChannelStats),
		disabled: make(map[string]string),
	}
	d.senders[domain.ChannelInApp] = NewInAppSender(inbox, opts.Clock)
	for _, sender := range senders {
		if sender == nil {
			continue
		}
		d.senders[sender.Channel()] = sender
	}
	return d
}

// NewFromConfig builds dispatcher with senders for enabled channels.
// Params: notify config, logger, and clock.
// Returns: dispatcher or sender setup error (template parse, bot init).
func NewFromConfig(cfg config.NotifyConfig, logger *slog.Logger, clk clock.Clock) (*Dispatcher, error) {
	var senders []ChannelSender
	if cfg.Email.Enabled {
		sender, err := NewEmailSender(cfg.Email, clk)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	if cfg.SMS.Enabled {
		sender, err := NewSMSSender(cfg.SMS)
		if err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	if cfg.Breaker.Enabled {
		for i, sender := range senders {
			senders[i] = WithBreaker(sender, cfg.Breaker, logger)
		}
	}
	return New(Options{
		ChannelTimeout: cfg.ChannelTimeout(),
		Retry:          cfg.Retry,
		Clock:          clk,
		Logger:         logger,
	}, senders...), nil
}

// Send dispatches alert to every requested channel concurrently.
// Params: context, alert, and default recipient set.
// Returns: delivery record with one status per requested channel.
func (d *Dispatcher) Send(ctx context.Context, alert domain.Alert, recipients domain.Recipients) domain.Notification {
	channels := uniqueChannels(alert.Channels)
	notification := domain.Notification{
		ID:       uuid.NewString(),
		AlertID:  alert.ID,
		Channels: channels,
		SentAt:   d.clock.Now(),
		Attempts: 1,
		Status:   make(map[string]domain.ChannelStatus, len(channels)),
	}

	var (
		wg      sync.WaitGroup
		statusM sync.Mutex
	)
	for _, channel := range channels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			status := d.deliver(ctx, channel, Delivery{
				NotificationID: notification.ID,
				Alert:          alert,
				Recipients:     recipients.ForChannel(channel),
			})
			statusM.Lock()
			notification.Status[channel] = status
			statusM.Unlock()
		}(channel)
	}
	wg.Wait()

	for _, status := range notification.Status {
		notification.Attempts = max(notification.Attempts, status.Attempts)
	}

	d.mu.Lock()
	d.total++
	for channel, status := range notification.Status {
		counters := d.stats[channel]
		if status.Success {
			counters.Success++
		} else {
			counters.Failure++
		}
		d.stats[channel] = counters
	}
	d.log.Push(notification.Clone())
	d.mu.Unlock()

	return notification
}

// deliver runs one channel send (with retries) under panic recovery and timeout.
// Params: context, channel key, and delivery payload.
// Returns: channel status with attempt count; never panics.
func (d *Dispatcher) deliver(ctx context.Context, channel string, delivery Delivery) (status domain.ChannelStatus) {
	sender, ok := d.senders[channel]
	if !ok || d.isDisabled(channel) {
		metrics.NotificationDeliveriesTotal.WithLabelValues(channel, "skipped").Inc()
		return domain.ChannelStatus{Error: errChannelNotConfigured}
	}
	if channel != domain.ChannelInApp && len(delivery.Recipients) == 0 {
		metrics.NotificationDeliveriesTotal.WithLabelValues(channel, "skipped").Inc()
		return domain.ChannelStatus{Error: errNoRecipients}
	}

	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("notify channel panicked", "channel", channel, "alert_id", delivery.Alert.ID, "panic", fmt.Sprint(recovered))
			status = domain.ChannelStatus{Error: fmt.Sprintf("channel panic: %v", recovered)}
		}
		outcome := "success"
		if !status.Success {
			outcome = "failure"
		}
		metrics.NotificationDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
		metrics.NotificationDeliveryDuration.WithLabelValues(channel).Observe(time.Since(started).Seconds())
	}()

	channelCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	attempts := 1
	result, err := d.sendWithRetry(channelCtx, sender, delivery, &attempts)
	if err != nil {
		if permanent.Is(err) {
			d.disable(channel, err)
		} else {
			d.logger.Warn("notify send failed", "channel", channel, "alert_id", delivery.Alert.ID, "attempts", attempts, "error", err.Error())
		}
		return domain.ChannelStatus{Error: err.Error(), Attempts: attempts}
	}
	return domain.ChannelStatus{
		Success:   true,
		Attempts:  attempts,
		MessageID: result.MessageID,
		Metadata:  result.Metadata,
	}
}

// sendWithRetry sends one delivery with the dispatcher retry policy.
// Params: channel-bounded context, sender, payload, and attempt counter updated in place.
// Returns: channel metadata and final error; permanent and circuit-open errors are not retried.
func (d *Dispatcher) sendWithRetry(ctx context.Context, sender ChannelSender, delivery Delivery, attempts *int) (SendResult, error) {
	if !d.retry.Enabled {
		return sender.Send(ctx, delivery)
	}

	backoff := time.Duration(d.retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(d.retry.MaxMS) * time.Millisecond
	for attempt := 1; ; attempt++ {
		*attempts = attempt
		result, err := sender.Send(ctx, delivery)
		if err == nil {
			if d.retry.LogEachAttempt && attempt > 1 {
				d.logger.Info("notify send recovered after retries", "channel", sender.Channel(), "attempt", attempt)
			}
			return result, nil
		}
		if !retryable(err) {
			return SendResult{}, err
		}
		if d.retry.LogEachAttempt {
			d.logger.Warn("notify send attempt failed", "channel", sender.Channel(), "attempt", attempt, "error", err.Error())
		}
		if d.retry.MaxAttempts > 0 && attempt >= d.retry.MaxAttempts {
			return SendResult{}, fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SendResult{}, fmt.Errorf("channel %s gave up after %d attempts: %w", sender.Channel(), attempt, err)
		case <-timer.C:
		}

		if d.retry.Backoff == config.RetryBackoffExponential {
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	if permanent.Is(err) {
		return false
	}
	return !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
}

// disable marks channel unusable for process lifetime; logs only the first time.
func (d *Dispatcher) disable(channel string, cause error) {
	d.mu.Lock()
	_, already := d.disabled[channel]
	if !already {
		d.disabled[channel] = cause.Error()
	}
	d.mu.Unlock()
	if already {
		return
	}
	metrics.ChannelsDisabledTotal.WithLabelValues(channel).Inc()
	d.logger.Error("notify channel disabled after unrecoverable failure",
		"channel", channel,
		"reason", permanent.ReasonOf(cause),
		"error", cause.Error())
}

func (d *Dispatcher) isDisabled(channel string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, disabled := d.disabled[channel]
	return disabled
}

// OnInApp registers subscriber for new in-app notifications.
func (d *Dispatcher) OnInApp(handler InAppHandler) {
	d.inbox.Subscribe(handler)
}

// InAppNotifications lists newest non-dismissed in-app notifications.
// Params: limit (<=0 = all) and unread filter.
// Returns: notification snapshots.
func (d *Dispatcher) InAppNotifications(limit int, unreadOnly bool) []domain.InAppNotification {
	return d.inbox.List(limit, unreadOnly)
}

// MarkAsRead sets read flag on in-app notification.
func (d *Dispatcher) MarkAsRead(id string) bool {
	return d.inbox.MarkRead(id)
}

// DismissNotification sets dismissed flag on in-app notification.
func (d *Dispatcher) DismissNotification(id string) bool {
	return d.inbox.Dismiss(id)
}

// RecentNotifications returns newest delivery records first.
// Params: limit (<=0 = all retained).
// Returns: delivery record snapshots.
func (d *Dispatcher) RecentNotifications(limit int) []domain.Notification {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stored := d.log.Newest(limit)
	out := make([]domain.Notification, 0, len(stored))
	for _, notification := range stored {
		out = append(out, notification.Clone())
	}
	return out
}

// Stats returns delivery counters and channel availability.
func (d *Dispatcher) Stats() Stats {
	inAppTotal, unread := d.inbox.Counts()

	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := Stats{
		TotalNotifications: d.total,
		InAppTotal:         inAppTotal,
		Unread:             unread,
		Channels:           make(map[string]ChannelStats, len(d.stats)),
		ConfiguredChannels: make([]string, 0, len(d.senders)),
		DisabledChannels:   make([]string, 0, len(d.disabled)),
	}
	for channel, counters := range d.stats {
		stats.Channels[channel] = counters
	}
	for channel := range d.senders {
		if _, disabled := d.disabled[channel]; !disabled {
			stats.ConfiguredChannels = append(stats.ConfiguredChannels, channel)
		}
	}
	for channel := range d.disabled {
		stats.DisabledChannels = append(stats.DisabledChannels, channel)
	}
	sort.Strings(stats.ConfiguredChannels)
	sort.Strings(stats.DisabledChannels)
	return stats
}

// uniqueChannels keeps first occurrence order.
func uniqueChannels(channels []string) []string {
	out := make([]string, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		if _, dup := seen[channel]; dup {
			continue
		}
		seen[channel] = struct{}{}
		out = append(out, channel)
	}
	return out
}

// unexpectedHTTPStatusError formats non-2xx HTTP response with optional body.
// Params: sender prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
	if readErr != nil {
		return fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	}
	trimmedBody := strings.TrimSpace(string(rawBody))
	if trimmedBody == "" {
		return fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	}
	return fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
}
