package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mamutelabs/steward/internal/audit"
	"github.com/mamutelabs/steward/internal/db"
	"github.com/mamutelabs/steward/internal/engine"
	"github.com/mamutelabs/steward/internal/engine/confirm"
	"github.com/mamutelabs/steward/internal/engine/detect"
	"github.com/mamutelabs/steward/internal/engine/execute"
	"github.com/mamutelabs/steward/internal/engine/policy"
	"github.com/mamutelabs/steward/internal/engine/registry"
	"github.com/mamutelabs/steward/internal/engine/score"
	"github.com/mamutelabs/steward/internal/models"
	"github.com/mamutelabs/steward/internal/telemetry"
)

type okHandler struct{}

func (okHandler) Execute(context.Context, models.Opportunity) (registry.Result, error) {
	return registry.Result{Summary: "done"}, nil
}

// newTestServer assembles a full engine behind the HTTP surface. The returned
// httptest server routes through the same mux production uses.
func newTestServer(t *testing.T, signals []models.Signal, rules []detect.Rule) (*Server, *httptest.Server) {
	t.Helper()

	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "steward.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auditCfg := audit.DefaultConfig()
	auditCfg.AuditLogPath = filepath.Join(t.TempDir(), "audit.log")
	recorder, err := audit.NewRecorder(auditCfg, store, nil)
	if err != nil {
		t.Fatalf("NewRecorder error: %v", err)
	}
	t.Cleanup(func() { recorder.Close() })

	reg := registry.New()
	if err := reg.Register(okHandler{}, registry.Descriptor{ActionID: "drain_queue", RiskLevel: models.RiskLow, Idempotent: true}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	gate, err := policy.NewGate(policy.DefaultTable())
	if err != nil {
		t.Fatalf("NewGate error: %v", err)
	}

	eng := engine.New(engine.Config{ProactiveMode: true},
		telemetry.Static(signals...),
		reg,
		detect.New(nil, rules...),
		score.New(score.DefaultConfig(), nil, nil),
		gate,
		confirm.New(time.Minute, time.Minute, store, nil),
		execute.New(execute.Config{}, reg, recorder, nil),
		recorder,
		nil,
	)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine Start error: %v", err)
	}
	t.Cleanup(eng.Stop)

	srv, err := NewServer(&Config{Host: "127.0.0.1", Port: 0}, eng, store, nil, nil)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	srv.mu.Lock()
	srv.running = true
	srv.mu.Unlock()
	t.Cleanup(func() { srv.limiter.Stop() })

	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	post, err := http.Post(ts.URL+"/health", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", post.StatusCode)
	}
}

func TestHandleReady(t *testing.T) {
	srv, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/ready")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	srv.mu.Lock()
	srv.running = false
	srv.mu.Unlock()

	resp = get(t, ts.URL+"/ready")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status while stopped = %d, want 503", resp.StatusCode)
	}
}

func TestHandleStatus(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/api/v1/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status engine.Status
	decode(t, resp, &status)
	if !status.ProactiveMode {
		t.Error("proactive mode off")
	}
	if len(status.RegisteredActions) != 1 || status.RegisteredActions[0] != "drain_queue" {
		t.Errorf("registered = %v", status.RegisteredActions)
	}
}

func TestHandleAnalyze(t *testing.T) {
	signals := []models.Signal{{Name: "queue_depth", Value: 500, ObservedAt: time.Now().UTC()}}
	rules := []detect.Rule{detect.ThresholdRule{
		RuleName:       "queue_backlog",
		SignalName:     "queue_depth",
		Op:             detect.Above,
		Threshold:      100,
		ActionID:       "drain_queue",
		BaseConfidence: 0.95,
	}}
	_, ts := newTestServer(t, signals, rules)

	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result engine.AnalysisResult
	decode(t, resp, &result)
	if result.SignalCount != 1 || result.Opportunities != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(result.Applied) != 1 || result.Applied[0].Status != models.ExecSucceeded {
		t.Errorf("applied = %+v", result.Applied)
	}

	// GET is not accepted on the analyze endpoint.
	getResp := get(t, ts.URL+"/api/v1/analyze")
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestHandleProactive(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/api/v1/proactive")
	var state ProactiveRequest
	decode(t, resp, &state)
	if !state.Enabled {
		t.Error("initial proactive mode off")
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/proactive", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Content-Type", "application/json")
	putResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT error: %v", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", putResp.StatusCode)
	}
	var changed ProactiveResponse
	decode(t, putResp, &changed)
	if changed.Enabled || !changed.Previous {
		t.Errorf("response = %+v", changed)
	}

	resp = get(t, ts.URL+"/api/v1/proactive")
	decode(t, resp, &state)
	if state.Enabled {
		t.Error("proactive mode still on after PUT")
	}
}

func TestHandleProactive_BadBody(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/proactive", strings.NewReader("not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleConfirmations(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/api/v1/confirmations")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var pending []models.ConfirmationRequest
	decode(t, resp, &pending)
	if len(pending) != 0 {
		t.Errorf("pending = %+v, want none", pending)
	}
}

func TestHandleConfirmationResolve_Unknown(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/api/v1/confirmations/ghost", "application/json", strings.NewReader(`{"approved":true}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleConfirmationResolve_Flow(t *testing.T) {
	signals := []models.Signal{{Name: "queue_depth", Value: 500, ObservedAt: time.Now().UTC()}}
	rules := []detect.Rule{detect.ThresholdRule{
		RuleName:       "queue_backlog",
		SignalName:     "queue_depth",
		Op:             detect.Above,
		Threshold:      100,
		ActionID:       "drain_queue",
		BaseConfidence: 0.7, // lands in the confirm band
	}}
	_, ts := newTestServer(t, signals, rules)

	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", nil)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	var result engine.AnalysisResult
	decode(t, resp, &result)
	resp.Body.Close()
	if len(result.Pending) != 1 {
		t.Fatalf("pending = %+v, want one request", result.Pending)
	}
	id := result.Pending[0].ID

	approve, err := http.Post(ts.URL+"/api/v1/confirmations/"+id, "application/json", strings.NewReader(`{"approved":true}`))
	if err != nil {
		t.Fatalf("approve error: %v", err)
	}
	defer approve.Body.Close()
	if approve.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, want 200", approve.StatusCode)
	}
	var rec models.ExecutionRecord
	decode(t, approve, &rec)
	if rec.Status != models.ExecSucceeded {
		t.Errorf("record = %+v", rec)
	}

	// A second answer hits the already-resolved conflict.
	again, err := http.Post(ts.URL+"/api/v1/confirmations/"+id, "application/json", strings.NewReader(`{"approved":false}`))
	if err != nil {
		t.Fatalf("second answer error: %v", err)
	}
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second answer status = %d, want 409", again.StatusCode)
	}
}

func TestHandleActionResume(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/api/v1/actions/drain_queue/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	// Nothing is suspended, so resume reports not found.
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	bad, err := http.Post(ts.URL+"/api/v1/actions/drain_queue", "application/json", nil)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusNotFound {
		t.Errorf("malformed route status = %d, want 404", bad.StatusCode)
	}
}

func TestHandleAuditEvents(t *testing.T) {
	signals := []models.Signal{{Name: "queue_depth", Value: 500, ObservedAt: time.Now().UTC()}}
	rules := []detect.Rule{detect.ThresholdRule{
		RuleName:       "queue_backlog",
		SignalName:     "queue_depth",
		Op:             detect.Above,
		Threshold:      100,
		ActionID:       "drain_queue",
		BaseConfidence: 0.95,
	}}
	_, ts := newTestServer(t, signals, rules)

	// Run a pass so the trail has something in it, then wait for the
	// recorder to persist.
	resp, err := http.Post(ts.URL+"/api/v1/analyze", "application/json", nil)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	var entries []audit.Entry
	for {
		r := get(t, ts.URL+"/api/v1/audit/events?action_id=drain_queue")
		if r.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", r.StatusCode)
		}
		decode(t, r, &entries)
		if len(entries) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(entries) == 0 {
		t.Fatal("no audit entries for the executed action")
	}
	for _, e := range entries {
		if e.ActionID != "drain_queue" {
			t.Errorf("entry for unexpected action %s", e.ActionID)
		}
	}
}

func TestHandleAuditEvents_Validation(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/api/v1/audit/events?min_severity=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus severity status = %d, want 400", resp.StatusCode)
	}

	resp = get(t, ts.URL+"/api/v1/audit/events?limit=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero limit status = %d, want 400", resp.StatusCode)
	}

	resp = get(t, ts.URL+"/api/v1/audit/events?limit=5000")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized limit status = %d, want 400", resp.StatusCode)
	}

	resp = get(t, ts.URL+"/api/v1/audit/events")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("default query status = %d, want 200", resp.StatusCode)
	}
	var entries []audit.Entry
	decode(t, resp, &entries)
	// Empty trail answers with an empty array, not null.
	if entries == nil {
		t.Error("entries decoded as nil")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil, nil)

	resp := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
