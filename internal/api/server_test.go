// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/offcourse/offcourse/internal/config"
	"github.com/offcourse/offcourse/internal/connectivity"
	syncengine "github.com/offcourse/offcourse/internal/sync"
)

type fakeEngine struct {
	state    syncengine.State
	lastSync time.Time
	result   *syncengine.Result
}

func (e *fakeEngine) State() syncengine.State        { return e.state }
func (e *fakeEngine) LastSyncTime() time.Time        { return e.lastSync }
func (e *fakeEngine) LastResult() *syncengine.Result { return e.result }

type fakeTrigger struct{ accept bool }

func (t *fakeTrigger) TriggerSync() bool { return t.accept }

type fakeQueue struct{ depth int }

func (q *fakeQueue) Len() (int, error) { return q.depth, nil }

type fakeMonitor struct{ status connectivity.Status }

func (m *fakeMonitor) Status() connectivity.Status { return m.status }

func testServer(engine *fakeEngine, trigger *fakeTrigger) *httptest.Server {
	s := NewServer(
		&config.ServerConfig{Addr: "127.0.0.1:0", Timeout: 5 * time.Second},
		engine, trigger,
		&fakeQueue{depth: 2},
		&fakeMonitor{status: connectivity.Status{Online: true, Type: connectivity.TypeWifi}},
		nil, nil, nil,
	)
	return httptest.NewServer(s.Router())
}

func TestHealthz(t *testing.T) {
	srv := testServer(&fakeEngine{state: syncengine.StateIdle}, &fakeTrigger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(&fakeEngine{state: syncengine.StateIdle}, &fakeTrigger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestTriggerSync(t *testing.T) {
	trigger := &fakeTrigger{accept: true}
	srv := testServer(&fakeEngine{state: syncengine.StateIdle}, trigger)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}

	trigger.accept = false
	resp2, err := http.Post(srv.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("busy engine should 409, got %d", resp2.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{
		state:    syncengine.StatePulling,
		lastSync: at,
		result:   &syncengine.Result{Pulled: 7, Pushed: 1, At: at},
	}
	srv := testServer(engine, &fakeTrigger{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		State      string             `json:"state"`
		LastSync   *time.Time         `json:"last_sync"`
		LastResult *syncengine.Result `json:"last_result"`
		QueueDepth int                `json:"queue_depth"`
		Online     bool               `json:"online"`
		Connection string             `json:"connection_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != string(syncengine.StatePulling) {
		t.Errorf("state: %s", body.State)
	}
	if body.LastSync == nil || !body.LastSync.Equal(at) {
		t.Errorf("last sync: %v", body.LastSync)
	}
	if body.LastResult == nil || body.LastResult.Pulled != 7 {
		t.Errorf("last result: %+v", body.LastResult)
	}
	if body.QueueDepth != 2 || !body.Online || body.Connection != "wifi" {
		t.Errorf("status fields: %+v", body)
	}
}
