package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/config"
	"callbridge/internal/dispatch"
	"callbridge/internal/escalation"
	"callbridge/internal/records"
	"callbridge/internal/rooms"
	"callbridge/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testHandlers(t *testing.T) (Handlers, *records.MemoryRepo) {
	t.Helper()
	provider := session.NewSimProvider()
	provider.ConnectDelay = time.Millisecond
	ctrl := rooms.NewController(provider, rooms.NewMemoryRegistry(), "ST_test", nil)

	cfg := config.EscalationConfig{
		SupervisorNumber: "+15559990000",
		HoldMax:          time.Second,
		DialTimeout:      time.Second,
	}
	calls := escalation.NewService(ctrl, nil, cfg, nil)

	tokens, err := session.NewTokenManager(config.ProviderConfig{
		APIKey:    "key",
		APISecret: "secret",
		TokenTTL:  time.Minute,
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	repo := records.NewMemoryRepo()
	h := Handlers{
		Calls:       calls,
		Dispatch:    dispatch.NewCoordinator(calls, nil, nil, nil, repo, config.DispatchConfig{WorkerLimit: 2}, nil),
		Reports:     records.NewService(repo),
		Records:     repo,
		Tokens:      tokens,
		CallMaxWait: 200 * time.Millisecond,
	}
	return h, repo
}

func doJSON(t *testing.T, handler gin.HandlerFunc, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r := gin.New()
	r.Handle(method, "/test", handler)
	req.URL.Path = "/test"
	r.ServeHTTP(w, req)
	return w
}

func TestOutboundCall_MaxDurationRecordedAsFailure(t *testing.T) {
	h, repo := testHandlers(t)

	// No driver posts a transcript in this test; the max-duration cap ends
	// the call. The response still carries the identifiers, but the cutoff
	// must not read as a clean completion.
	w := doJSON(t, h.OutboundCall, http.MethodPost, "/v1/calls/outbound", gin.H{
		"phone_number": "+15550000001",
		"instruction":  "say hello",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status  string `json:"status"`
		Details struct {
			RoomName string `json:"room_name"`
			LegID    string `json:"leg_id"`
		} `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "failed" || resp.Details.RoomName == "" || resp.Details.LegID == "" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}

	now := time.Now().UTC()
	saved, err := repo.ListCallRecords(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(saved) != 1 || saved[0].RoomName != resp.Details.RoomName {
		t.Fatalf("record not persisted: %+v", saved)
	}
	if saved[0].Status != records.StatusFailed {
		t.Fatalf("cut-off call recorded as %q, want failed", saved[0].Status)
	}
}

// connectedRooms forwards every customer-connected room name to a channel.
type connectedRooms struct{ ch chan string }

func (n connectedRooms) LegReady(context.Context, string) {}
func (n connectedRooms) CustomerConnected(_ context.Context, room string) { n.ch <- room }
func (n connectedRooms) EscalationFailed(context.Context, string, string) {}

func TestOutboundCall_CompletedCallRecordedAsSuccess(t *testing.T) {
	h, repo := testHandlers(t)
	notifier := connectedRooms{ch: make(chan string, 1)}
	h.Calls = escalation.NewService(
		rooms.NewController(session.NewSimProvider(), rooms.NewMemoryRegistry(), "ST_test", nil),
		notifier,
		config.EscalationConfig{HoldMax: time.Second, DialTimeout: time.Second, TranscriptWait: time.Second},
		nil,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		room := <-notifier.ch
		deadline := time.Now().Add(time.Second)
		for h.Calls.Lookup(room) == nil && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		if err := h.Calls.Deliver(room, escalation.CallEnded{Transcript: "done talking"}); err != nil {
			t.Errorf("deliver: %v", err)
		}
	}()

	w := doJSON(t, h.OutboundCall, http.MethodPost, "/v1/calls/outbound", gin.H{
		"phone_number": "+15550000001",
	}, nil)
	<-done
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status     string `json:"status"`
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "success" || resp.Transcript != "done talking" {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}

	now := time.Now().UTC()
	saved, err := repo.ListCallRecords(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil || len(saved) != 1 {
		t.Fatalf("expected one record, got %d (err %v)", len(saved), err)
	}
	if saved[0].Status != records.StatusSuccess || saved[0].Transcript != "done talking" {
		t.Fatalf("completed call record = %+v", saved[0])
	}
}

func TestOutboundCall_InvalidDestination(t *testing.T) {
	h, _ := testHandlers(t)

	w := doJSON(t, h.OutboundCall, http.MethodPost, "/v1/calls/outbound", gin.H{
		"phone_number": "nope",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != records.CodeInvalidDestination {
		t.Fatalf("error code = %q", resp.Error)
	}
}

func TestOutboundCallWithEscalation_ReturnsIdentifiers(t *testing.T) {
	h, _ := testHandlers(t)

	w := doJSON(t, h.OutboundCallWithEscalation, http.MethodPost, "/v1/calls/outbound-with-escalation", gin.H{
		"phone_number": "+15550000001",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status            string `json:"status"`
		RoomName          string `json:"room_name"`
		LegID             string `json:"leg_id"`
		EscalationEnabled bool   `json:"escalation_enabled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RoomName == "" || resp.LegID == "" {
		t.Fatalf("identifiers missing: %s", w.Body.String())
	}
	if !resp.EscalationEnabled {
		t.Fatal("escalation should be enabled with a supervisor configured")
	}

	// Clean up the long-running context.
	h.Calls.End(context.Background(), resp.RoomName)
}

func TestBulkSend_ValidationFailure(t *testing.T) {
	h, _ := testHandlers(t)

	w := doJSON(t, h.BulkSend, http.MethodPost, "/v1/bulk/send", gin.H{
		"contacts": []gin.H{{"name": "A", "phone": "+15550000001"}},
		"types":    []string{"sms"},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestDriverEvent_RequiresToken(t *testing.T) {
	h, _ := testHandlers(t)

	w := doJSON(t, h.DriverEvent, http.MethodPost, "/webhooks/driver/events", gin.H{
		"room_name": "outbound-x",
		"type":      "call_ended",
	}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestDriverEvent_UnknownRoom(t *testing.T) {
	h, _ := testHandlers(t)

	tok, err := h.Tokens.AccessToken(time.Now(), session.RoomGrant{Room: "outbound-x"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	w := doJSON(t, h.DriverEvent, http.MethodPost, "/webhooks/driver/events", gin.H{
		"room_name": "outbound-x",
		"type":      "call_ended",
	}, map[string]string{"Authorization": "Bearer " + tok})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestCallsReport_DefaultsAndBadInput(t *testing.T) {
	h, repo := testHandlers(t)
	_ = repo.SaveCallRecord(context.Background(), records.CallRecord{ID: "1", Status: records.StatusSuccess, CreatedAt: time.Now().UTC()})

	w := doJSON(t, h.CallsReport, http.MethodGet, "/v1/reports/calls", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var sum records.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalCalls != 1 {
		t.Fatalf("total = %d", sum.TotalCalls)
	}

	req := httptest.NewRequest(http.MethodGet, "/test?from=garbage", nil)
	rec := httptest.NewRecorder()
	r := gin.New()
	r.GET("/test", h.CallsReport)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
