package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeAgent answers the agent routes under /api with canned payloads.
func fakeAgent(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Status{Worker: "bot", Running: true, PID: 4242})
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "3" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unexpected limit"})
			return
		}
		_ = json.NewEncoder(w).Encode([]Event{
			{DeployID: "d2", Phase: "deploy", Status: "ok"},
			{DeployID: "d1", Phase: "deploy", Status: "failed"},
		})
	})
	mux.HandleFunc("POST /api/redeploy", func(w http.ResponseWriter, r *http.Request) {
		rep := &Report{DeployID: "d3", Worker: "bot", PID: 4243, Result: "ok"}
		if r.URL.Query().Get("update") == "true" {
			rep.Phases = []PhaseResult{{Phase: "update", Status: "ok"}}
		}
		_ = json.NewEncoder(w).Encode(runResponse{OK: true, Report: rep})
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(runResponse{OK: false, Error: "another run is already in progress for worker bot"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{
		BaseURL: baseURL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestClientStatus(t *testing.T) {
	srv := fakeAgent(t)
	c := testClient(t, srv.URL+"/api")
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Worker != "bot" || !st.Running || st.PID != 4242 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestClientHistory(t *testing.T) {
	srv := fakeAgent(t)
	c := testClient(t, srv.URL+"/api")
	events, err := c.History(context.Background(), 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 2 || events[0].DeployID != "d2" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestClientRedeployWithUpdate(t *testing.T) {
	srv := fakeAgent(t)
	c := testClient(t, srv.URL+"/api")
	rep, err := c.Redeploy(context.Background(), true)
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if rep.PID != 4243 || len(rep.Phases) != 1 || rep.Phases[0].Phase != "update" {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestClientRunErrorSurfaced(t *testing.T) {
	srv := fakeAgent(t)
	c := testClient(t, srv.URL+"/api")
	_, err := c.Stop(context.Background())
	if err == nil {
		t.Fatal("expected error from conflicting run")
	}
	if !strings.Contains(err.Error(), "already in progress") {
		t.Fatalf("error = %v, want agent message passed through", err)
	}
}

func TestClientIsReachable(t *testing.T) {
	srv := fakeAgent(t)
	c := testClient(t, srv.URL+"/api")
	if !c.IsReachable(context.Background()) {
		t.Fatal("agent should be reachable")
	}
	srv.Close()
	if c.IsReachable(context.Background()) {
		t.Fatal("closed agent should not be reachable")
	}
}
