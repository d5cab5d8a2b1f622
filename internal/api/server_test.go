package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/engine"
	"futures-trading-engine/internal/risk"
	"futures-trading-engine/internal/store"
)

type stubControl struct {
	panicCalls  int
	resumeCalls int
	panicErr    error
	positions   []risk.Position
	trades      []risk.Trade
}

func (s *stubControl) PanicClose(_ risk.CloseFunc, _ int64) (int, error) {
	s.panicCalls++
	return len(s.positions), s.panicErr
}

func (s *stubControl) Resume() { s.resumeCalls++ }
func (s *stubControl) Positions() []risk.Position { return s.positions }
func (s *stubControl) Trades() []risk.Trade { return s.trades }

func testServer(t *testing.T, control *stubControl) (*Server, *store.SnapshotStore) {
	t.Helper()
	snaps := store.NewSnapshotStore(nil, zerolog.Nop())
	s := NewServer(config.Default(), snaps, nil, control,
		func(p risk.Position) (float64, float64, error) { return p.EntryPrice, 0, nil },
		zerolog.Nop())
	return s, snaps
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t, &stubControl{})
	w := doRequest(s, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	s, _ := testServer(t, &stubControl{})
	if w := doRequest(s, http.MethodGet, "/api/status"); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before any snapshot", w.Code)
	}
}

func TestStatusServesSnapshot(t *testing.T) {
	s, snaps := testServer(t, &stubControl{})
	_ = snaps.SaveStatus(context.Background(), engine.Status{Symbol: "BTCUSDT", Balance: 12345})

	w := doRequest(s, http.MethodGet, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Balance != 12345 {
		t.Errorf("balance = %v, want 12345", got.Balance)
	}
}

func TestPanicEndpoint(t *testing.T) {
	control := &stubControl{positions: []risk.Position{{Symbol: "BTCUSDT"}}}
	s, _ := testServer(t, control)

	w := doRequest(s, http.MethodPost, "/api/panic")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if control.panicCalls != 1 {
		t.Fatalf("panic calls = %d, want 1", control.panicCalls)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["suspended"] != true {
		t.Errorf("suspended = %v, want true", resp["suspended"])
	}
}

func TestPanicPartialFailureReports207(t *testing.T) {
	control := &stubControl{panicErr: errors.New("close ETHUSDT: venue down")}
	s, _ := testServer(t, control)

	w := doRequest(s, http.MethodPost, "/api/panic")
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207", w.Code)
	}
}

func TestResumeEndpoint(t *testing.T) {
	control := &stubControl{}
	s, _ := testServer(t, control)

	if w := doRequest(s, http.MethodPost, "/api/resume"); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if control.resumeCalls != 1 {
		t.Fatalf("resume calls = %d, want 1", control.resumeCalls)
	}
}

func TestTradesFallsBackToMemoryLog(t *testing.T) {
	control := &stubControl{trades: []risk.Trade{{ID: "t1"}, {ID: "t2"}}}
	s, _ := testServer(t, control)

	w := doRequest(s, http.MethodGet, "/api/trades?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Trades []risk.Trade `json:"trades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Trades) != 1 || resp.Trades[0].ID != "t2" {
		t.Fatalf("trades = %+v, want newest single trade", resp.Trades)
	}
}

func TestTradesRejectsBadLimit(t *testing.T) {
	s, _ := testServer(t, &stubControl{})
	if w := doRequest(s, http.MethodGet, "/api/trades?limit=0"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
