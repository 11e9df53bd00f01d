package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veyra/solace/internal/agency"
	"github.com/veyra/solace/internal/channel"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/orchestrator"
	"github.com/veyra/solace/internal/profile"
	"github.com/veyra/solace/internal/rategate"
	"github.com/veyra/solace/internal/schedule"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

type echoContent struct{}

func (echoContent) Generate(context.Context, string, map[string]any) (string, error) {
	return "hello from solace", nil
}

type emptyContext struct{}

func (emptyContext) Snapshot(context.Context, string) (map[string]any, error) {
	return map[string]any{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *agency.Engine) {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewManual(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	catalog := trigger.NewCatalog(nil, logger)
	history := trigger.NewFireHistory()
	prefs := profile.NewStaticStore()
	scorers := trigger.NewScorers(nil)
	content := echoContent{}

	evaluator := trigger.NewEvaluator(catalog, history, content, emptyContext{}, prefs, scorers, clk, logger)
	sched := schedule.NewManager(clk, logger)
	gate := rategate.New(0, clk, logger)
	reg := channel.NewRegistry(logger)
	outbox := channel.NewOutbox(logger)
	reg.Register(outbox)
	orch := orchestrator.New(gate, reg, sched, history, prefs, content, nil, clk, logger)
	engine := agency.NewEngine(evaluator, sched, orch, gate, history, reg, prefs, clk, logger, agency.Options{})

	srv := httptest.NewServer(NewHandler(engine, outbox, logger).Router())
	t.Cleanup(srv.Close)
	return srv, engine
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("body: %v", body)
	}
}

func TestAgencyLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/users/u1/agency"

	resp, _ := doJSON(t, http.MethodPost, base+"/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, base+"/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate start: got %d, want 409", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, base+"/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if body["active"] != true {
		t.Errorf("status body: %v", body)
	}

	resp, _ = doJSON(t, http.MethodPost, base+"/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, base+"/stop", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second stop: got %d, want 404", resp.StatusCode)
	}
}

func TestPushEventAndDrainOutbox(t *testing.T) {
	srv, engine := newTestServer(t)
	base := srv.URL + "/api/users/u1"

	// No session yet: the event is rejected.
	resp, _ := doJSON(t, http.MethodPost, base+"/events", `{"priority":"high","content":"hi"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("push without session: got %d, want 409", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, base+"/agency/start", "")
	resp, _ = doJSON(t, http.MethodPost, base+"/events",
		`{"priority":"high","content":"we miss you","metadata":{"origin":"test"}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("push: got %d, want 202", resp.StatusCode)
	}

	engine.RunOnce(context.Background())

	resp, body := doJSON(t, http.MethodGet, base+"/outbox", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("outbox: got %d", resp.StatusCode)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("outbox messages: %v", body["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["content"] != "we miss you" {
		t.Errorf("message content: %v", first["content"])
	}

	// A second drain comes back empty.
	_, body = doJSON(t, http.MethodGet, base+"/outbox", "")
	if msgs, _ := body["messages"].([]any); len(msgs) != 0 {
		t.Errorf("second drain: got %d messages, want 0", len(msgs))
	}
}

func TestPushEventRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/users/u1/events", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: got %d, want 400", resp.StatusCode)
	}
}

func TestInteractionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/users/u1"

	// Needs a session.
	resp, _ := doJSON(t, http.MethodPost, base+"/interactions",
		`{"kind":"checkin","pattern":"daily","time_of_day":"09:00","priority":"medium"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("create without session: got %d, want 409", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, base+"/agency/start", "")
	resp, created := doJSON(t, http.MethodPost, base+"/interactions",
		`{"kind":"checkin","pattern":"weekly","time_of_day":"09:00","weekdays":[1,3],"priority":"medium"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: got %d, want 201", resp.StatusCode)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created interaction has no id: %v", created)
	}

	resp, body := doJSON(t, http.MethodGet, base+"/interactions", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: got %d", resp.StatusCode)
	}
	if ins, _ := body["interactions"].([]any); len(ins) != 1 {
		t.Errorf("list: got %v", body["interactions"])
	}

	resp, _ = doJSON(t, http.MethodDelete, base+"/interactions/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: got %d, want 204", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, base+"/interactions/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", resp.StatusCode)
	}
}
