package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trustmesh/gateway/internal/core/domain"
	"github.com/trustmesh/gateway/internal/events"
)

// ===== Mocks =====

type mockCore struct {
	mu sync.Mutex

	submitErr     error
	receipt       *domain.SubmissionReceipt
	statuses      map[string]domain.BatchStatus
	statusErr     error
	lastIDs       []string
	lastWait      time.Duration
	distributor   *events.Distributor
	subs          []*events.Subscriber
	healthy       bool
	deregistered  []uuid.UUID
	lastSubmitter string
}

func newMockCore() *mockCore {
	return &mockCore{
		receipt: &domain.SubmissionReceipt{BatchID: "abc", StatusLink: "/api/batch_statuses?id=abc"},
		statuses: map[string]domain.BatchStatus{
			"abc": domain.BatchStatusPending,
		},
		distributor: events.NewDistributor(events.NewRegistry(), nil, events.Config{}, nil),
		healthy:     true,
	}
}

func (m *mockCore) SubmitBatch(_ context.Context, _ []byte, submitterKey string) (*domain.SubmissionReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSubmitter = submitterKey
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.receipt, nil
}

func (m *mockCore) BatchStatuses(_ context.Context, ids []string, wait time.Duration) (map[string]domain.BatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastIDs = ids
	m.lastWait = wait
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.statuses, nil
}

func (m *mockCore) Subscribe(filter events.Filter) *events.Subscriber {
	sub := m.distributor.Subscribe(filter)
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()
	return sub
}

func (m *mockCore) subscribers() []*events.Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*events.Subscriber(nil), m.subs...)
}

func (m *mockCore) Deregister(id uuid.UUID, reason domain.DisconnectReason) {
	m.mu.Lock()
	m.deregistered = append(m.deregistered, id)
	m.mu.Unlock()
	m.distributor.Deregister(id, reason)
}

func (m *mockCore) Health(context.Context) (bool, map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy, map[string]string{"feed": "ok"}
}

func newTestServer(core Core) *httptest.Server {
	s := NewServer(core, 0)
	return httptest.NewServer(s.server.Handler)
}

// ===== Submit Handler Tests =====

func TestSubmitAccepted(t *testing.T) {
	core := newMockCore()
	ts := newTestServer(core)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/batches", strings.NewReader(`{}`))
	req.Header.Set(submitterHeader, "key-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var body struct {
		Data domain.SubmissionReceipt `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.BatchID != "abc" {
		t.Errorf("expected batch id abc, got %q", body.Data.BatchID)
	}
	if body.Data.StatusLink == "" {
		t.Error("expected status link in receipt")
	}
	if core.lastSubmitter != "key-1" {
		t.Errorf("expected submitter key-1, got %q", core.lastSubmitter)
	}
}

func TestSubmitMissingKey(t *testing.T) {
	ts := newTestServer(newMockCore())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/batches", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{domain.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload"},
		{domain.ErrEmptyBatch, http.StatusBadRequest, "empty_batch"},
		{domain.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{domain.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
		{domain.ErrUnauthorizedAddress, http.StatusForbidden, "unauthorized_address"},
		{domain.ErrDuplicateBatch, http.StatusConflict, "duplicate_batch"},
		{domain.ErrRejectedByValidator, http.StatusBadRequest, "rejected_by_validator"},
		{domain.ErrTransportUnavailable, http.StatusServiceUnavailable, "transport_unavailable"},
	}

	for _, tc := range cases {
		core := newMockCore()
		core.submitErr = tc.err
		ts := newTestServer(core)

		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/batches", strings.NewReader(`{}`))
		req.Header.Set(submitterHeader, "key-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%v: request failed: %v", tc.err, err)
		}

		if resp.StatusCode != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, resp.StatusCode)
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%v: decode: %v", tc.err, err)
		}
		if body.Error.Code != tc.code {
			t.Errorf("%v: expected code %q, got %q", tc.err, tc.code, body.Error.Code)
		}
		resp.Body.Close()
		ts.Close()
	}
}

// ===== Status Handler Tests =====

func TestStatusesQuery(t *testing.T) {
	core := newMockCore()
	ts := newTestServer(core)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/batch_statuses?id=abc&id=def&wait=5")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(core.lastIDs) != 2 {
		t.Errorf("expected 2 ids forwarded, got %v", core.lastIDs)
	}
	if core.lastWait != 5*time.Second {
		t.Errorf("expected 5s wait, got %v", core.lastWait)
	}

	var body struct {
		Data []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Status != string(domain.BatchStatusPending) {
		t.Errorf("unexpected payload: %+v", body.Data)
	}
}

func TestStatusesWaitClamped(t *testing.T) {
	core := newMockCore()
	ts := newTestServer(core)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/batch_statuses?id=abc&wait=9999")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if core.lastWait != time.Duration(maxWait)*time.Second {
		t.Errorf("expected wait clamped to %ds, got %v", maxWait, core.lastWait)
	}
}

func TestStatusesInvalidWait(t *testing.T) {
	ts := newTestServer(newMockCore())
	defer ts.Close()

	for _, wait := range []string{"-1", "soon"} {
		resp, err := http.Get(ts.URL + "/api/batch_statuses?id=abc&wait=" + wait)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("wait=%s: expected 400, got %d", wait, resp.StatusCode)
		}
	}
}

func TestStatusesTooManyIDs(t *testing.T) {
	core := newMockCore()
	core.statusErr = domain.ErrTooManyIDs
	ts := newTestServer(core)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/batch_statuses?id=abc")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ===== Event Stream Tests =====

func TestEventStreamDeliversAndDisconnects(t *testing.T) {
	core := newMockCore()
	ts := newTestServer(core)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events?namespaces=certificate")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	// Exactly one subscriber should be registered; feed it an event,
	// then force a disconnect and expect a disconnect frame.
	var sub *events.Subscriber
	deadline := time.After(2 * time.Second)
	for sub == nil {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		default:
			if subs := core.subscribers(); len(subs) == 1 {
				sub = subs[0]
			} else {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}

	core.Deregister(sub.ID, domain.DisconnectLagExceeded)

	scanner := bufio.NewScanner(resp.Body)
	var sawDisconnect bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: disconnect" {
			sawDisconnect = true
		}
		if sawDisconnect && strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, string(domain.DisconnectLagExceeded)) {
				t.Errorf("disconnect frame missing reason: %q", line)
			}
			if !strings.Contains(line, domain.ErrorCode(domain.ErrSubscriberLag)) {
				t.Errorf("disconnect frame missing error code: %q", line)
			}
			return
		}
	}
	t.Fatal("stream ended without disconnect frame")
}

// ===== Health Handler Tests =====

func TestHealthDegraded(t *testing.T) {
	core := newMockCore()
	core.healthy = false
	ts := newTestServer(core)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHealthOK(t *testing.T) {
	ts := newTestServer(newMockCore())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
}

// ===== Filter Parsing Tests =====

func TestParseFilter(t *testing.T) {
	if f := parseFilter(""); len(f.Types) != 0 {
		t.Errorf("empty query should give empty filter, got %v", f.Types)
	}
	f := parseFilter("certificate, organization ,")
	if len(f.Types) != 2 {
		t.Fatalf("expected 2 types, got %v", f.Types)
	}
	if f.Types[0] != domain.ResourceCertificate || f.Types[1] != domain.ResourceOrganization {
		t.Errorf("unexpected types: %v", f.Types)
	}
}
