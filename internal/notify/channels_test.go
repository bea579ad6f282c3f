package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentwarden/internal/schema"
)

func TestWebhookChannelSend(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("custom header not forwarded")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL, map[string]string{"X-Token": "secret"})
	if ch.Name() != "ops" {
		t.Errorf("name = %q, want ops", ch.Name())
	}

	event := schema.NewEvent(schema.CategoryWallet, schema.SeverityCritical,
		"Wallet drain detected: treasury", map[string]any{"drop_percent": 80.0})
	if err := ch.Send(context.Background(), event); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if received["title"] != "Wallet drain detected: treasury" {
		t.Errorf("payload title = %v", received["title"])
	}
	if received["severity"] != "critical" {
		t.Errorf("payload severity = %v", received["severity"])
	}
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("ops", srv.URL, nil)
	event := schema.NewEvent(schema.CategoryNetwork, schema.SeverityWarning, "Endpoint stalled: main-rpc", nil)
	err := ch.Send(context.Background(), event)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error does not mention status: %v", err)
	}
}

func TestTelegramChatRouting(t *testing.T) {
	var gotChatIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotChatIDs = append(gotChatIDs, payload["chat_id"].(string))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTelegramChannel("token", "admin-chat", "channel-chat")
	// Point the channel at the test server instead of api.telegram.org.
	ch.client = srv.Client()
	ch.client.Transport = rewriteTransport{base: srv.URL}

	ctx := context.Background()
	warn := schema.NewEvent(schema.CategoryNetwork, schema.SeverityWarning, "Endpoint stalled: main-rpc", nil)
	crit := schema.NewEvent(schema.CategoryAgent, schema.SeverityCritical, "Agent quarantined: scout-1", nil)
	emerg := schema.NewEvent(schema.CategoryWallet, schema.SeverityEmergency, "Wallet drain detected: treasury", nil)

	for _, e := range []*schema.SecurityEvent{warn, crit, emerg} {
		if err := ch.Send(ctx, e); err != nil {
			t.Fatalf("Send(%s) error: %v", e.Severity, err)
		}
	}

	want := []string{"channel-chat", "admin-chat", "admin-chat"}
	for i, chatID := range want {
		if gotChatIDs[i] != chatID {
			t.Errorf("event %d routed to %q, want %q", i, gotChatIDs[i], chatID)
		}
	}
}

func TestTelegramAdminOnlyConfigSkipsSubCritical(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// No monitoring channel: warnings must not leak into the admin chat.
	ch := NewTelegramChannel("token", "admin-chat", "")
	ch.client = srv.Client()
	ch.client.Transport = rewriteTransport{base: srv.URL}

	ctx := context.Background()
	warn := schema.NewEvent(schema.CategoryNetwork, schema.SeverityWarning, "Endpoint stalled: main-rpc", nil)
	if err := ch.Send(ctx, warn); err != nil {
		t.Fatalf("Send(warning) error: %v", err)
	}
	if requests != 0 {
		t.Errorf("warning delivered to admin chat: %d requests", requests)
	}

	crit := schema.NewEvent(schema.CategoryAgent, schema.SeverityCritical, "Agent quarantined: scout-1", nil)
	if err := ch.Send(ctx, crit); err != nil {
		t.Fatalf("Send(critical) error: %v", err)
	}
	if requests != 1 {
		t.Errorf("critical not delivered: %d requests", requests)
	}
}

// rewriteTransport redirects all requests to the test server.
type rewriteTransport struct {
	base string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target := strings.TrimPrefix(rt.base, "http://")
	req.URL.Scheme = "http"
	req.URL.Host = target
	return http.DefaultTransport.RoundTrip(req)
}

func TestFormatDetails(t *testing.T) {
	event := schema.NewEvent(schema.CategoryWallet, schema.SeverityWarning,
		"Wallet balance low: treasury",
		map[string]any{"balance": 0.5, "address": "abc"})

	got := formatDetails(event)
	// Keys render sorted, one per line.
	if got != "address: abc\nbalance: 0.5" {
		t.Errorf("formatDetails() = %q", got)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b*c[d`e"); got != `a\_b\*c\[d`+"\\`e" {
		t.Errorf("escapeMarkdown() = %q", got)
	}
}
