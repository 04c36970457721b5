package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mamutelabs/steward/internal/audit"
)

func TestLogSink_SeverityMapping(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	entries := []struct {
		severity audit.Severity
		want     zapcore.Level
	}{
		{audit.SeverityInfo, zap.InfoLevel},
		{audit.SeverityWarning, zap.WarnLevel},
		{audit.SeverityError, zap.ErrorLevel},
		{audit.SeverityCritical, zap.ErrorLevel},
	}
	for _, tt := range entries {
		e := audit.NewEntry(audit.EventDecisionMade).WithSeverity(tt.severity)
		if err := sink.Notify(context.Background(), e); err != nil {
			t.Fatalf("Notify error: %v", err)
		}
	}

	all := logs.All()
	if len(all) != len(entries) {
		t.Fatalf("logged = %d, want %d", len(all), len(entries))
	}
	for i, tt := range entries {
		if all[i].Level != tt.want {
			t.Errorf("severity %s logged at %s, want %s", tt.severity, all[i].Level, tt.want)
		}
	}
}

func TestLogSink_MessageFallsBackToEventType(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	e := audit.NewEntry(audit.EventEngineStarted)
	if err := sink.Notify(context.Background(), e); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := logs.All()[0].Message; got != string(audit.EventEngineStarted) {
		t.Errorf("message = %q", got)
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"http://localhost:3000"}, "", true},
		{"allowed origin", []string{"http://localhost:3000"}, "http://localhost:3000", true},
		{"denied origin", []string{"http://localhost:3000"}, "http://evil.example.com", false},
		{"wildcard", []string{"*"}, "http://anywhere.example.com", true},
		{"empty allowlist denies", nil, "http://localhost:3000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(tt.allowed, nil)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHub_StreamsEvents(t *testing.T) {
	h := NewHub([]string{"*"}, nil)
	defer h.Close()

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	// Wait for the hub to register the client.
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	entry := audit.NewEntry(audit.EventExecutionSucceeded).WithAction("clean_logs")
	entry.Seq = 7
	if err := h.Notify(context.Background(), entry); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if event.Type != "event" || event.Event == nil {
		t.Fatalf("event = %+v", event)
	}
	if event.Event.Seq != 7 || event.Event.ActionID != "clean_logs" {
		t.Errorf("entry = %+v", event.Event)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub([]string{"*"}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Close()
	if h.ClientCount() != 0 {
		t.Errorf("clients = %d after Close, want 0", h.ClientCount())
	}

	// Notify after Close is a no-op, not a panic.
	if err := h.Notify(context.Background(), audit.NewEntry(audit.EventEngineStopped)); err != nil {
		t.Errorf("Notify after Close error: %v", err)
	}
}
