package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/permanent"
	"stockwatch/internal/templatefmt"
)

// fakeSMTPServer speaks just enough ESMTP for one client session per connection.
type fakeSMTPServer struct {
	listener    net.Listener
	acceptAuth  bool
	connections atomic.Int32

	mu       sync.Mutex
	rcpts    []string
	messages []string
}

func startFakeSMTP(t *testing.T, acceptAuth bool) *fakeSMTPServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &fakeSMTPServer{listener: listener, acceptAuth: acceptAuth}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			server.connections.Add(1)
			go server.handle(conn)
		}
	}()
	t.Cleanup(func() { _ = listener.Close() })
	return server
}

func (s *fakeSMTPServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake.local ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		command := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(command, "EHLO"):
			_ = tp.PrintfLine("250-fake.local")
			_ = tp.PrintfLine("250-AUTH PLAIN")
			_ = tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(command, "HELO"):
			_ = tp.PrintfLine("250 fake.local")
		case strings.HasPrefix(command, "AUTH"):
			if s.acceptAuth {
				_ = tp.PrintfLine("235 2.7.0 Authentication successful")
			} else {
				_ = tp.PrintfLine("535 5.7.8 Authentication credentials invalid")
			}
		case strings.HasPrefix(command, "MAIL"):
			_ = tp.PrintfLine("250 2.1.0 OK")
		case strings.HasPrefix(command, "RCPT"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 2.1.5 OK")
		case strings.HasPrefix(command, "DATA"):
			_ = tp.PrintfLine("354 Go ahead")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, strings.Join(lines, "\n"))
			s.mu.Unlock()
			_ = tp.PrintfLine("250 2.0.0 queued")
		case strings.HasPrefix(command, "RSET"), strings.HasPrefix(command, "NOOP"):
			_ = tp.PrintfLine("250 2.0.0 OK")
		case strings.HasPrefix(command, "QUIT"):
			_ = tp.PrintfLine("221 2.0.0 bye")
			return
		default:
			_ = tp.PrintfLine("502 5.5.2 not implemented")
		}
	}
}

func (s *fakeSMTPServer) snapshot() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rcpts...), append([]string(nil), s.messages...)
}

func emailConfig(port int) config.EmailConfig {
	return config.EmailConfig{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            port,
		Username:        "alerts",
		Password:        "secret",
		From:            "alerts@example.com",
		SubjectTemplate: templatefmt.DefaultEmailSubject,
		BodyTemplate:    templatefmt.DefaultEmailBody,
	}
}

func TestEmailSenderDeliversMessage(t *testing.T) {
	t.Parallel()

	server := startFakeSMTP(t, true)
	sender, err := NewEmailSender(emailConfig(server.port()), nil)
	if err != nil {
		t.Fatalf("new email sender: %v", err)
	}

	result, err := sender.Send(context.Background(), Delivery{
		NotificationID: "n-1",
		Alert:          testAlert("email"),
		Recipients:     []string{"ops@example.com", "lead@example.com"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasSuffix(result.MessageID, "@stockwatch>") || result.Metadata["recipients"] != "2" {
		t.Fatalf("unexpected result %+v", result)
	}

	rcpts, messages := server.snapshot()
	if len(rcpts) != 2 || len(messages) != 1 {
		t.Fatalf("unexpected smtp transcript rcpts=%v messages=%d", rcpts, len(messages))
	}
	message := messages[0]
	for _, want := range []string{
		"Subject: [HIGH] Low stock",
		"To: ops@example.com, lead@example.com",
		"2 product(s) have stock below 20 units",
		`"threshold":20`,
	} {
		if !strings.Contains(message, want) {
			t.Fatalf("message missing %q:\n%s", want, message)
		}
	}
}

func TestEmailAuthFailureDisablesChannel(t *testing.T) {
	t.Parallel()

	server := startFakeSMTP(t, false)
	sender, err := NewEmailSender(emailConfig(server.port()), nil)
	if err != nil {
		t.Fatalf("new email sender: %v", err)
	}

	_, err = sender.Send(context.Background(), Delivery{Alert: testAlert("email"), Recipients: []string{"ops@example.com"}})
	if !permanent.Is(err) || permanent.ReasonOf(err) != "authentication" {
		t.Fatalf("expected permanent auth error, got %v", err)
	}

	dispatcher := New(testOptions(), sender)
	first := dispatcher.Send(context.Background(), testAlert("email"), testRecipients())
	if first.Status["email"].Success || !strings.Contains(first.Status["email"].Error, "535") {
		t.Fatalf("unexpected first status %+v", first.Status["email"])
	}
	connections := server.connections.Load()

	second := dispatcher.Send(context.Background(), testAlert("email"), testRecipients())
	if second.Status["email"].Error != "channel not configured" {
		t.Fatalf("unexpected second status %+v", second.Status["email"])
	}
	if got := server.connections.Load(); got != connections {
		t.Fatalf("disabled channel opened new connection: %d -> %d", connections, got)
	}
}

type gatewayRequest struct {
	Authorization string
	To            string `json:"to"`
	From          string `json:"from"`
	Message       string `json:"message"`
}

func TestSMSGatewaySender(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		requests []gatewayRequest
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request gatewayRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		request.Authorization = r.Header.Get("Authorization")
		mu.Lock()
		requests = append(requests, request)
		id := len(requests)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"message_id": fmt.Sprintf("sms-%d", id)})
	}))
	t.Cleanup(gateway.Close)

	sender, err := NewSMSSender(config.SMSConfig{
		Enabled:  true,
		Provider: config.SMSProviderHTTP,
		URL:      gateway.URL,
		Token:    "tok",
		From:     "STOCK",
		Template: templatefmt.DefaultSMSBody,
	})
	if err != nil {
		t.Fatalf("new sms sender: %v", err)
	}

	result, err := sender.Send(context.Background(), Delivery{
		Alert:      testAlert("sms"),
		Recipients: []string{"+15550100", "+15550101"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.MessageID != "sms-1,sms-2" || result.Metadata["provider"] != "http" {
		t.Fatalf("unexpected result %+v", result)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 2 {
		t.Fatalf("expected two gateway requests, got %d", len(requests))
	}
	first := requests[0]
	if first.Authorization != "Bearer tok" || first.From != "STOCK" || first.To != "+15550100" {
		t.Fatalf("unexpected request %+v", first)
	}
	if first.Message != "[HIGH] 2 product(s) have stock below 20 units" {
		t.Fatalf("unexpected text %q", first.Message)
	}
}

func TestSMSGatewayUnauthorizedIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	t.Cleanup(gateway.Close)

	sender, err := NewSMSSender(config.SMSConfig{Provider: config.SMSProviderHTTP, URL: gateway.URL, Template: templatefmt.DefaultSMSBody})
	if err != nil {
		t.Fatalf("new sms sender: %v", err)
	}

	_, err = sender.Send(context.Background(), Delivery{Alert: testAlert("sms"), Recipients: []string{"+1", "+2"}})
	if !permanent.Is(err) || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected permanent 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent failure must stop remaining recipients, calls=%d", calls.Load())
	}
}

func TestSMSGatewayServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(gateway.Close)

	sender, err := NewSMSSender(config.SMSConfig{Provider: config.SMSProviderHTTP, URL: gateway.URL, Template: templatefmt.DefaultSMSBody})
	if err != nil {
		t.Fatalf("new sms sender: %v", err)
	}
	_, err = sender.Send(context.Background(), Delivery{Alert: testAlert("sms"), Recipients: []string{"+1"}})
	if err == nil || permanent.Is(err) || !strings.Contains(err.Error(), "status=502") {
		t.Fatalf("expected transient 502 error, got %v", err)
	}
}

func TestSMSTelegramSender(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		chats  []string
		texts  []string
		reject atomic.Bool
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if reject.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		chats = append(chats, r.FormValue("chat_id"))
		texts = append(texts, r.FormValue("text"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":101,"date":1,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	}))
	t.Cleanup(api.Close)

	sender, err := NewSMSSender(config.SMSConfig{
		Enabled:  true,
		Provider: config.SMSProviderTelegram,
		BotToken: "123:abc",
		APIBase:  api.URL + "/",
		Template: templatefmt.DefaultSMSBody,
	})
	if err != nil {
		t.Fatalf("new telegram sender: %v", err)
	}

	result, err := sender.Send(context.Background(), Delivery{Alert: testAlert("sms"), Recipients: []string{"42"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.MessageID != "101" || result.Metadata["provider"] != "telegram" {
		t.Fatalf("unexpected result %+v", result)
	}
	mu.Lock()
	if len(chats) != 1 || chats[0] != "42" || !strings.Contains(texts[0], "stock below 20") {
		t.Fatalf("unexpected telegram requests chats=%v texts=%v", chats, texts)
	}
	mu.Unlock()

	reject.Store(true)
	_, err = sender.Send(context.Background(), Delivery{Alert: testAlert("sms"), Recipients: []string{"42"}})
	if !permanent.Is(err) {
		t.Fatalf("expected permanent telegram error, got %v", err)
	}
}

func TestSMSTelegramBlockedChatDoesNotDisableChannel(t *testing.T) {
	t.Parallel()

	var delivered atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("chat_id") == "1" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		delivered.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":202,"date":1,"chat":{"id":2,"type":"private"},"text":"ok"}}`))
	}))
	t.Cleanup(api.Close)

	sender, err := NewSMSSender(config.SMSConfig{
		Enabled:  true,
		Provider: config.SMSProviderTelegram,
		BotToken: "123:abc",
		APIBase:  api.URL,
		Template: templatefmt.DefaultSMSBody,
	})
	if err != nil {
		t.Fatalf("new telegram sender: %v", err)
	}
	dispatcher := New(testOptions(), sender)

	first := dispatcher.Send(context.Background(), testAlert("sms"), domain.Recipients{Phones: []string{"1", "2"}})
	status := first.Status[domain.ChannelSMS]
	if status.Success || !strings.Contains(status.Error, "sms to 1") {
		t.Fatalf("expected per-recipient failure for blocked chat, got %+v", status)
	}
	if delivered.Load() != 1 {
		t.Fatalf("healthy chat must still receive the message, delivered=%d", delivered.Load())
	}

	second := dispatcher.Send(context.Background(), testAlert("sms"), domain.Recipients{Phones: []string{"2"}})
	if got := second.Status[domain.ChannelSMS]; !got.Success || got.MessageID != "202" {
		t.Fatalf("expected channel to stay enabled, got %+v", got)
	}
	if disabled := dispatcher.Stats().DisabledChannels; len(disabled) != 0 {
		t.Fatalf("expected no disabled channels, got %v", disabled)
	}
}

func TestNormalizeChatID(t *testing.T) {
	t.Parallel()

	if got, ok := normalizeChatID(" 42 ").(int64); !ok || got != 42 {
		t.Fatalf("expected numeric chat id, got %#v", normalizeChatID(" 42 "))
	}
	if got, ok := normalizeChatID("@ops").(string); !ok || got != "@ops" {
		t.Fatalf("expected channel username, got %#v", normalizeChatID("@ops"))
	}
}

func TestSMSChannelName(t *testing.T) {
	t.Parallel()

	sender, err := NewSMSSender(config.SMSConfig{Provider: config.SMSProviderHTTP, URL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new sms sender: %v", err)
	}
	if sender.Channel() != domain.ChannelSMS {
		t.Fatalf("unexpected channel %q", sender.Channel())
	}
}
