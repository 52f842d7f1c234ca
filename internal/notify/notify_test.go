package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stockwatch/internal/clock"
	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/permanent"
)

type captureSender struct {
	channel string
	mu      sync.Mutex
	items   []Delivery
	err     error
}

func (s *captureSender) Channel() string { return s.channel }

func (s *captureSender) Send(_ context.Context, delivery Delivery) (SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, delivery)
	if s.err != nil {
		return SendResult{}, s.err
	}
	return SendResult{MessageID: "msg-" + delivery.NotificationID}, nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type panicSender struct{ channel string }

func (s panicSender) Channel() string { return s.channel }

func (s panicSender) Send(context.Context, Delivery) (SendResult, error) {
	panic("sender bug")
}

type blockingSender struct{ channel string }

func (s blockingSender) Channel() string { return s.channel }

func (s blockingSender) Send(ctx context.Context, _ Delivery) (SendResult, error) {
	<-ctx.Done()
	return SendResult{}, ctx.Err()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		ChannelTimeout: time.Second,
		Clock:          clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger:         testLogger(),
	}
}

func testAlert(channels ...string) domain.Alert {
	return domain.Alert{
		ID:        "alert-1",
		RuleID:    "low-stock",
		RuleName:  "Low stock",
		Type:      domain.AlertTypeInventory,
		Priority:  domain.PriorityHigh,
		Message:   "2 product(s) have stock below 20 units",
		Channels:  channels,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data: domain.StockPayload{
			Products:  []domain.Product{{ID: "p1", Name: "Widget", Stock: 5}},
			Count:     1,
			Threshold: 20,
		},
	}
}

func testRecipients() domain.Recipients {
	return domain.Recipients{Emails: []string{"ops@example.com"}, Phones: []string{"+15550100"}}
}

func TestDispatchIsolatesChannelFailures(t *testing.T) {
	t.Parallel()

	sms := &captureSender{channel: domain.ChannelSMS}
	dispatcher := New(testOptions(), panicSender{channel: domain.ChannelEmail}, sms)

	notification := dispatcher.Send(context.Background(), testAlert("in-app", "email", "sms"), testRecipients())

	if len(notification.Status) != 3 {
		t.Fatalf("expected status for all channels, got %+v", notification.Status)
	}
	if !notification.Status["in-app"].Success || notification.Status["in-app"].MessageID != notification.ID {
		t.Fatalf("unexpected in-app status %+v", notification.Status["in-app"])
	}
	if email := notification.Status["email"]; email.Success || !strings.Contains(email.Error, "panic") {
		t.Fatalf("unexpected email status %+v", email)
	}
	if !notification.Status["sms"].Success || sms.count() != 1 {
		t.Fatalf("expected sms delivered despite email panic")
	}
	if got := sms.items[0].Recipients; len(got) != 1 || got[0] != "+15550100" {
		t.Fatalf("unexpected sms recipients %v", got)
	}
}

func TestDispatchUnconfiguredAndEmptyRecipients(t *testing.T) {
	t.Parallel()

	email := &captureSender{channel: domain.ChannelEmail}
	dispatcher := New(testOptions(), email)

	notification := dispatcher.Send(context.Background(), testAlert("email", "sms"), domain.Recipients{})
	if status := notification.Status["sms"]; status.Success || status.Error != "channel not configured" {
		t.Fatalf("unexpected sms status %+v", status)
	}
	if status := notification.Status["email"]; status.Success || status.Error != "no recipients for channel" {
		t.Fatalf("unexpected email status %+v", status)
	}
	if email.count() != 0 {
		t.Fatalf("sender must not be called without recipients")
	}
}

func TestDispatchDisablesChannelOnPermanentFailure(t *testing.T) {
	t.Parallel()

	email := &captureSender{channel: domain.ChannelEmail, err: permanent.MarkAuth(errors.New("535 bad credentials"))}
	dispatcher := New(testOptions(), email)

	first := dispatcher.Send(context.Background(), testAlert("email"), testRecipients())
	if first.Status["email"].Success || !strings.Contains(first.Status["email"].Error, "535") {
		t.Fatalf("unexpected first status %+v", first.Status["email"])
	}

	second := dispatcher.Send(context.Background(), testAlert("email", "in-app"), testRecipients())
	if second.Status["email"].Error != "channel not configured" {
		t.Fatalf("expected short-circuit, got %+v", second.Status["email"])
	}
	if !second.Status["in-app"].Success {
		t.Fatalf("other channels must keep working")
	}
	if email.count() != 1 {
		t.Fatalf("expected one network attempt, got %d", email.count())
	}

	stats := dispatcher.Stats()
	if len(stats.DisabledChannels) != 1 || stats.DisabledChannels[0] != "email" {
		t.Fatalf("unexpected disabled channels %v", stats.DisabledChannels)
	}
	if stats.Channels["email"].Failure != 2 || stats.Channels["in-app"].Success != 1 {
		t.Fatalf("unexpected channel stats %+v", stats.Channels)
	}
}

func TestDispatchTransientFailureKeepsChannel(t *testing.T) {
	t.Parallel()

	email := &captureSender{channel: domain.ChannelEmail, err: errors.New("connection refused")}
	dispatcher := New(testOptions(), email)

	dispatcher.Send(context.Background(), testAlert("email"), testRecipients())
	dispatcher.Send(context.Background(), testAlert("email"), testRecipients())
	if email.count() != 2 {
		t.Fatalf("transient failures must not disable channel")
	}
}

func TestDispatchTimeoutBoundsChannel(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.ChannelTimeout = 20 * time.Millisecond
	dispatcher := New(opts, blockingSender{channel: domain.ChannelSMS})

	started := time.Now()
	notification := dispatcher.Send(context.Background(), testAlert("sms", "in-app"), testRecipients())
	if time.Since(started) > time.Second {
		t.Fatalf("dispatch not bounded by channel timeout")
	}
	if status := notification.Status["sms"]; status.Success || !strings.Contains(status.Error, "deadline") {
		t.Fatalf("unexpected sms status %+v", status)
	}
	if !notification.Status["in-app"].Success {
		t.Fatalf("expected in-app success")
	}
}

func TestInAppInboxLifecycle(t *testing.T) {
	t.Parallel()

	dispatcher := New(testOptions())
	var pushed []domain.InAppNotification
	dispatcher.OnInApp(func(n domain.InAppNotification) { pushed = append(pushed, n) })

	alert := testAlert("in-app")
	notification := dispatcher.Send(context.Background(), alert, domain.Recipients{})
	if len(pushed) != 1 || pushed[0].ID != notification.ID || pushed[0].Title != "Critical Alert" {
		t.Fatalf("unexpected pushed notifications %+v", pushed)
	}

	items := dispatcher.InAppNotifications(10, false)
	if len(items) != 1 || items[0].AlertID != alert.ID || items[0].Read {
		t.Fatalf("unexpected inbox %+v", items)
	}

	if !dispatcher.MarkAsRead(notification.ID) || !dispatcher.MarkAsRead(notification.ID) {
		t.Fatalf("mark as read must be idempotent and succeed")
	}
	if got := dispatcher.InAppNotifications(10, true); len(got) != 0 {
		t.Fatalf("expected no unread notifications, got %+v", got)
	}
	if !dispatcher.InAppNotifications(10, false)[0].Read {
		t.Fatalf("expected read flag")
	}

	if !dispatcher.DismissNotification(notification.ID) || !dispatcher.DismissNotification(notification.ID) {
		t.Fatalf("dismiss must be idempotent and succeed")
	}
	if got := dispatcher.InAppNotifications(10, false); len(got) != 0 {
		t.Fatalf("dismissed notifications must be hidden, got %+v", got)
	}
	if dispatcher.MarkAsRead("missing") || dispatcher.DismissNotification("missing") {
		t.Fatalf("unknown ids must report false")
	}
}

func TestInboxCappedFIFO(t *testing.T) {
	t.Parallel()

	dispatcher := New(testOptions())
	var ids []string
	for i := 0; i < DefaultInboxSize+1; i++ {
		alert := testAlert("in-app")
		alert.ID = fmt.Sprintf("alert-%d", i)
		ids = append(ids, dispatcher.Send(context.Background(), alert, domain.Recipients{}).ID)
	}

	items := dispatcher.InAppNotifications(0, false)
	if len(items) != DefaultInboxSize {
		t.Fatalf("expected %d notifications, got %d", DefaultInboxSize, len(items))
	}
	if items[0].ID != ids[len(ids)-1] {
		t.Fatalf("expected newest first")
	}
	for _, item := range items {
		if item.ID == ids[0] {
			t.Fatalf("oldest notification should be evicted")
		}
	}
	if got := dispatcher.InAppNotifications(3, false); len(got) != 3 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}

	stats := dispatcher.Stats()
	if stats.InAppTotal != DefaultInboxSize || stats.Unread != DefaultInboxSize {
		t.Fatalf("unexpected inbox stats %+v", stats)
	}
}

func TestDeliveryLogCapped(t *testing.T) {
	t.Parallel()

	dispatcher := New(testOptions())
	for i := 0; i < DefaultDeliveryLogSize+5; i++ {
		dispatcher.Send(context.Background(), testAlert("in-app"), domain.Recipients{})
	}

	if got := len(dispatcher.RecentNotifications(0)); got != DefaultDeliveryLogSize {
		t.Fatalf("expected %d delivery records, got %d", DefaultDeliveryLogSize, got)
	}
	if got := dispatcher.RecentNotifications(2); len(got) != 2 {
		t.Fatalf("expected limit to apply")
	}
	if stats := dispatcher.Stats(); stats.TotalNotifications != int64(DefaultDeliveryLogSize+5) {
		t.Fatalf("unexpected total %d", stats.TotalNotifications)
	}
}

func TestDispatchDeduplicatesChannels(t *testing.T) {
	t.Parallel()

	email := &captureSender{channel: domain.ChannelEmail}
	dispatcher := New(testOptions(), email)
	notification := dispatcher.Send(context.Background(), testAlert("email", "email"), testRecipients())
	if len(notification.Channels) != 1 || email.count() != 1 {
		t.Fatalf("expected single email attempt, got channels=%v calls=%d", notification.Channels, email.count())
	}
}

type countingFailSender struct {
	channel string
	calls   atomic.Int32
}

func (s *countingFailSender) Channel() string { return s.channel }

func (s *countingFailSender) Send(context.Context, Delivery) (SendResult, error) {
	s.calls.Add(1)
	return SendResult{}, errors.New("upstream 503")
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	inner := &countingFailSender{channel: domain.ChannelSMS}
	wrapped := WithBreaker(inner, config.BreakerConfig{Enabled: true, MaxFailures: 2, OpenSec: 60}, testLogger())
	if wrapped.Channel() != domain.ChannelSMS {
		t.Fatalf("unexpected channel %q", wrapped.Channel())
	}

	for i := 0; i < 2; i++ {
		if _, err := wrapped.Send(context.Background(), Delivery{}); err == nil || !strings.Contains(err.Error(), "503") {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	_, err := wrapped.Send(context.Background(), Delivery{})
	if err == nil || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Fatalf("open circuit must not call sender, calls=%d", inner.calls.Load())
	}
}

func TestNewFromConfigInAppOnly(t *testing.T) {
	t.Parallel()

	dispatcher, err := NewFromConfig(config.NotifyConfig{ChannelTimeoutSec: 5}, testLogger(), nil)
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	stats := dispatcher.Stats()
	if len(stats.ConfiguredChannels) != 1 || stats.ConfiguredChannels[0] != "in-app" {
		t.Fatalf("unexpected configured channels %v", stats.ConfiguredChannels)
	}

	_, err = NewFromConfig(config.NotifyConfig{
		SMS: config.SMSConfig{Enabled: true, Provider: "http", URL: "http://gw", Template: "{{ .Broken "},
	}, testLogger(), nil)
	if err == nil {
		t.Fatalf("expected template error")
	}
}

// flakySender fails the first failures calls with err, then succeeds.
type flakySender struct {
	channel  string
	failures int32
	err      error
	calls    atomic.Int32
}

func (s *flakySender) Channel() string { return s.channel }

func (s *flakySender) Send(context.Context, Delivery) (SendResult, error) {
	if s.calls.Add(1) <= s.failures {
		return SendResult{}, s.err
	}
	return SendResult{MessageID: "ok"}, nil
}

func retryOptions(maxAttempts int) Options {
	opts := testOptions()
	opts.Retry = config.RetryConfig{
		Enabled:     true,
		Backoff:     config.RetryBackoffExponential,
		InitialMS:   1,
		MaxMS:       4,
		MaxAttempts: maxAttempts,
	}
	return opts
}

func TestRetryRecoversTransientFailure(t *testing.T) {
	t.Parallel()

	email := &flakySender{channel: domain.ChannelEmail, failures: 1, err: errors.New("421 try again later")}
	dispatcher := New(retryOptions(3), email)

	notification := dispatcher.Send(context.Background(), testAlert("in-app", "email"), testRecipients())
	status := notification.Status[domain.ChannelEmail]
	if !status.Success || status.Attempts != 2 || status.MessageID != "ok" {
		t.Fatalf("expected success on second attempt, got %+v", status)
	}
	if notification.Attempts != 2 {
		t.Fatalf("expected notification attempts 2, got %d", notification.Attempts)
	}
	if inApp := notification.Status[domain.ChannelInApp]; !inApp.Success || inApp.Attempts != 1 {
		t.Fatalf("unexpected in-app status %+v", inApp)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	email := &flakySender{channel: domain.ChannelEmail, failures: 10, err: errors.New("upstream 503")}
	dispatcher := New(retryOptions(3), email)

	status := dispatcher.Send(context.Background(), testAlert("email"), testRecipients()).Status[domain.ChannelEmail]
	if status.Success || status.Attempts != 3 || !strings.Contains(status.Error, "failed after 3 attempts") {
		t.Fatalf("unexpected status %+v", status)
	}
	if email.calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", email.calls.Load())
	}
}

func TestRetrySkipsPermanentFailure(t *testing.T) {
	t.Parallel()

	email := &flakySender{channel: domain.ChannelEmail, failures: 10, err: permanent.MarkAuth(errors.New("535 bad credentials"))}
	dispatcher := New(retryOptions(5), email)

	notification := dispatcher.Send(context.Background(), testAlert("email"), testRecipients())
	if status := notification.Status[domain.ChannelEmail]; status.Success || status.Attempts != 1 {
		t.Fatalf("permanent failure must not be retried, got %+v", status)
	}
	if email.calls.Load() != 1 || notification.Attempts != 1 {
		t.Fatalf("unexpected calls=%d attempts=%d", email.calls.Load(), notification.Attempts)
	}
	if disabled := dispatcher.Stats().DisabledChannels; len(disabled) != 1 || disabled[0] != domain.ChannelEmail {
		t.Fatalf("expected email disabled, got %v", disabled)
	}
}

func TestRetryStopsAtChannelTimeout(t *testing.T) {
	t.Parallel()

	opts := retryOptions(0)
	opts.ChannelTimeout = 50 * time.Millisecond
	opts.Retry.InitialMS = 20
	opts.Retry.MaxMS = 20
	email := &flakySender{channel: domain.ChannelEmail, failures: 1000, err: errors.New("upstream 503")}
	dispatcher := New(opts, email)

	status := dispatcher.Send(context.Background(), testAlert("email"), testRecipients()).Status[domain.ChannelEmail]
	if status.Success || !strings.Contains(status.Error, "gave up after") {
		t.Fatalf("expected retry to stop at channel timeout, got %+v", status)
	}
	if status.Attempts < 1 || int32(status.Attempts) != email.calls.Load() {
		t.Fatalf("attempt count %d does not match calls %d", status.Attempts, email.calls.Load())
	}
}

func TestInAppSubscriberPanicKeepsDeliverySuccessful(t *testing.T) {
	t.Parallel()

	dispatcher := New(testOptions())
	var after atomic.Int32
	dispatcher.OnInApp(func(domain.InAppNotification) { panic("publish failed") })
	dispatcher.OnInApp(func(domain.InAppNotification) { after.Add(1) })

	notification := dispatcher.Send(context.Background(), testAlert("in-app"), domain.Recipients{})
	if status := notification.Status[domain.ChannelInApp]; !status.Success {
		t.Fatalf("subscriber panic must not fail in-app delivery, got %+v", status)
	}
	if after.Load() != 1 {
		t.Fatalf("later subscribers must still run, got %d", after.Load())
	}
	if items := dispatcher.InAppNotifications(0, false); len(items) != 1 {
		t.Fatalf("expected stored notification, got %d", len(items))
	}
}
