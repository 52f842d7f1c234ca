package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/permanent"
	"stockwatch/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/time/rate"
)

// textTransport delivers one short text to one address.
type textTransport interface {
	deliver(ctx context.Context, to, text string) (string, error)
}

// SMSSender renders short message and sends it to every phone recipient under a rate limit.
// Params: provider transport, template, and limiter.
// Returns: sms channel sender.
type SMSSender struct {
	provider  string
	transport textTransport
	body      *template.Template
	limiter   *rate.Limiter
}

// NewSMSSender builds sms sender for configured provider.
// Params: sms config.
// Returns: sender or provider/template setup error.
func NewSMSSender(cfg config.SMSConfig) (*SMSSender, error) {
	body, err := templatefmt.ParseNotificationTemplate("notify.sms.template", cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parse sms template: %w", err)
	}

	var transport textTransport
	switch cfg.Provider {
	case config.SMSProviderHTTP, "":
		transport = &gatewayTransport{
			url:    strings.TrimSpace(cfg.URL),
			token:  strings.TrimSpace(cfg.Token),
			from:   strings.TrimSpace(cfg.From),
			client: &http.Client{},
		}
	case config.SMSProviderTelegram:
		client, err := tgbot.New(cfg.BotToken,
			tgbot.WithSkipGetMe(),
			tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
		)
		if err != nil {
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
		transport = &telegramTransport{client: client}
	default:
		return nil, fmt.Errorf("unsupported sms provider %q", cfg.Provider)
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ratePerSec := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		ratePerSec = rate.Inf
	}
	return &SMSSender{
		provider:  cfg.Provider,
		transport: transport,
		body:      body,
		limiter:   rate.NewLimiter(ratePerSec, burst),
	}, nil
}

// Channel returns sender channel name.
func (s *SMSSender) Channel() string {
	return domain.ChannelSMS
}

// Send delivers rendered text to each recipient; per-recipient failures do not stop the rest,
// a permanent (credential) failure does.
// Params: context and delivery with phone (or chat id) recipients.
// Returns: provider message ids joined by comma; error when any recipient failed.
func (s *SMSSender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	text, err := templatefmt.Render(s.body, delivery.Alert)
	if err != nil {
		return SendResult{}, fmt.Errorf("render sms template: %w", err)
	}
	text = strings.TrimSpace(text)

	ids := make([]string, 0, len(delivery.Recipients))
	var errs []error
	for _, to := range delivery.Recipients {
		if err := s.limiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sms rate limit wait: %w", err))
			break
		}
		id, err := s.transport.deliver(ctx, to, text)
		if err != nil {
			if permanent.Is(err) {
				return SendResult{}, err
			}
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
			continue
		}
		ids = append(ids, id)
	}
	if len(errs) > 0 {
		return SendResult{}, errors.Join(errs...)
	}
	return SendResult{
		MessageID: strings.Join(ids, ","),
		Metadata: map[string]string{
			"provider":   s.provider,
			"recipients": strconv.Itoa(len(ids)),
		},
	}, nil
}

// gatewayTransport posts messages to HTTP SMS gateway.
type gatewayTransport struct {
	url    string
	token  string
	from   string
	client *http.Client
}

func (g *gatewayTransport) deliver(ctx context.Context, to, text string) (string, error) {
	payload := struct {
		To      string `json:"to"`
		From    string `json:"from,omitempty"`
		Message string `json:"message"`
	}{To: to, From: g.from, Message: text}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode sms payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		request.Header.Set("Authorization", "Bearer "+g.token)
	}

	response, err := g.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("sms gateway send: %w", err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return "", permanent.MarkAuth(unexpectedHTTPStatusError("sms gateway", response))
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return "", unexpectedHTTPStatusError("sms gateway", response)
	}

	var decoded struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
	}
	// Gateways that reply without a JSON body still count as delivered.
	_ = json.NewDecoder(response.Body).Decode(&decoded)
	if decoded.MessageID != "" {
		return decoded.MessageID, nil
	}
	return decoded.ID, nil
}

// telegramTransport sends text through a Telegram bot; recipients are chat ids.
type telegramTransport struct {
	client *tgbot.Bot
}

func (t *telegramTransport) deliver(ctx context.Context, to, text string) (string, error) {
	sent, err := t.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: normalizeChatID(to),
		Text:   text,
	})
	if err != nil {
		// Forbidden is per chat (bot blocked or kicked); only a rejected token disables the channel.
		if errors.Is(err, tgbot.ErrorUnauthorized) {
			return "", permanent.MarkAuth(fmt.Errorf("telegram send: %w", err))
		}
		return "", fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return "", errors.New("telegram send returned empty message id")
	}
	return strconv.Itoa(sent.ID), nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps non-numeric IDs as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
