package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"can-channel-server/internal/can"
	"can-channel-server/internal/driver"
	"can-channel-server/internal/models"
)

// apiFakeDriver counts Open calls so tests can prove that rejected requests
// never touch the hardware.
type apiFakeDriver struct {
	count int
	opens int
}

func (d *apiFakeDriver) NumberOfChannels() (int, error) { return d.count, nil }

func (d *apiFakeDriver) ChannelInfo(channel int) (models.ChannelInfo, error) {
	if channel < 0 || channel >= d.count {
		return models.ChannelInfo{}, fmt.Errorf("channel %d out of range", channel)
	}
	return models.ChannelInfo{
		ChannelNumber: channel,
		ChannelName:   fmt.Sprintf("Test Channel %d", channel),
	}, nil
}

func (d *apiFakeDriver) Open(channel int) (driver.Channel, error) {
	d.opens++
	return nil, fmt.Errorf("no hardware in this test")
}

func newTestServer(t *testing.T, drv driver.Driver) (*Server, *can.Registry) {
	t.Helper()
	registry := can.NewRegistry(drv)
	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0}, drv, registry)
	t.Cleanup(func() {
		if registry.Stop() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			registry.Join(ctx)
		}
	})
	return srv, registry
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func intptr(v int) *int { return &v }

func TestRootEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 2})

	rec := doRequest(t, srv, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	var info map[string]any
	decodeBody(t, rec, &info)
	if info["version"] != serviceVersion {
		t.Fatalf("version = %v, want %s", info["version"], serviceVersion)
	}
	if _, ok := info["endpoints"]; !ok {
		t.Fatalf("root response missing endpoint index: %v", info)
	}

	rec = doRequest(t, srv, http.MethodGet, "/no-such-path", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /no-such-path status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 2})

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d", rec.Code)
	}
	var health models.HealthResponse
	decodeBody(t, rec, &health)
	if health.Status != "healthy" || health.Version != serviceVersion {
		t.Fatalf("health = %+v", health)
	}
	if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not RFC3339: %v", health.Timestamp, err)
	}
}

func TestListChannels(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 3})

	rec := doRequest(t, srv, http.MethodGet, "/channels", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /channels status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.ChannelsResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "success" || resp.TotalChannels != 3 || len(resp.Channels) != 3 {
		t.Fatalf("channels response = %+v", resp)
	}
}

func TestGetChannel(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 3})

	rec := doRequest(t, srv, http.MethodGet, "/channels/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /channels/1 status = %d: %s", rec.Code, rec.Body.String())
	}
	var info models.ChannelInfo
	decodeBody(t, rec, &info)
	if info.ChannelNumber != 1 {
		t.Fatalf("channel info = %+v", info)
	}
}

func TestGetChannelNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 3})

	rec := doRequest(t, srv, http.MethodGet, "/channels/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /channels/999 status = %d, want 404", rec.Code)
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "0-2") {
		t.Fatalf("error %q should name the available range", msg)
	}
}

func TestGetChannelBadID(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 3})

	rec := doRequest(t, srv, http.MethodGet, "/channels/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET /channels/abc status = %d, want 400", rec.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    models.SendMessageRequest
		wantMsg string
	}{
		{
			name:    "missing channel",
			body:    models.SendMessageRequest{CANID: intptr(123), DLC: 1},
			wantMsg: "channel is required",
		},
		{
			name:    "channel out of declared range",
			body:    models.SendMessageRequest{Channel: intptr(999), CANID: intptr(123), DLC: 1},
			wantMsg: "Invalid channel 999",
		},
		{
			name:    "channel beyond detected count",
			body:    models.SendMessageRequest{Channel: intptr(3), CANID: intptr(123), DLC: 1},
			wantMsg: "Available channels: 0-1",
		},
		{
			name:    "missing can_id",
			body:    models.SendMessageRequest{Channel: intptr(0), DLC: 1},
			wantMsg: "can_id is required",
		},
		{
			name:    "can_id too large",
			body:    models.SendMessageRequest{Channel: intptr(0), CANID: intptr(3000), DLC: 1},
			wantMsg: "Invalid CAN ID 3000",
		},
		{
			name:    "negative can_id",
			body:    models.SendMessageRequest{Channel: intptr(0), CANID: intptr(-1), DLC: 1},
			wantMsg: "Invalid CAN ID -1",
		},
		{
			name:    "dlc too large",
			body:    models.SendMessageRequest{Channel: intptr(0), CANID: intptr(123), DLC: 9},
			wantMsg: "Invalid DLC 9",
		},
		{
			name: "data array too long",
			body: models.SendMessageRequest{
				Channel: intptr(0), CANID: intptr(123), DLC: 8,
				Data: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			},
			wantMsg: "Data array too long",
		},
		{
			name: "byte value out of range",
			body: models.SendMessageRequest{
				Channel: intptr(0), CANID: intptr(123), DLC: 2,
				Data: []int{1, 256},
			},
			wantMsg: "Invalid byte value 256",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drv := &apiFakeDriver{count: 2}
			srv, _ := newTestServer(t, drv)

			rec := doRequest(t, srv, http.MethodPost, "/messages/send", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			if msg := errorMessage(t, rec); !strings.Contains(msg, tc.wantMsg) {
				t.Fatalf("error %q should contain %q", msg, tc.wantMsg)
			}
			if drv.opens != 0 {
				t.Fatalf("rejected request opened the channel %d times", drv.opens)
			}
		})
	}
}

func TestSendMessageBadBody(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 2})

	req := httptest.NewRequest(http.MethodPost, "/messages/send", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSendMessageMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 2})

	rec := doRequest(t, srv, http.MethodGet, "/messages/send", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

// TestSendMessageSuccess drives a whole transmission through the virtual
// bus. Local echo acknowledges the frame, so the send succeeds without a
// second device attached.
func TestSendMessageSuccess(t *testing.T) {
	srv, _ := newTestServer(t, driver.NewVirtual(2))

	body := models.SendMessageRequest{
		Channel: intptr(0),
		CANID:   intptr(123),
		DLC:     6,
		Data:    []int{72, 69, 76, 76, 79, 33},
	}
	rec := doRequest(t, srv, http.MethodPost, "/messages/send", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.StatusResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "success" {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.Contains(resp.Message, "channel 0") || !strings.Contains(resp.Message, "ID 123") {
		t.Fatalf("confirmation %q should name channel and ID", resp.Message)
	}
}

func TestMonitoringLifecycle(t *testing.T) {
	v := driver.NewVirtual(2)
	srv, _ := newTestServer(t, v)

	// Initially inactive.
	rec := doRequest(t, srv, http.MethodGet, "/monitoring/status", nil)
	var status models.MonitoringStatusResponse
	decodeBody(t, rec, &status)
	if status.MonitoringActive {
		t.Fatalf("monitoring should start inactive: %+v", status)
	}
	if status.MaxStoredMessages != can.BufferCapacity {
		t.Fatalf("capacity = %d, want %d", status.MaxStoredMessages, can.BufferCapacity)
	}

	// Start a session.
	rec = doRequest(t, srv, http.MethodPost, "/monitoring/start",
		models.MonitorStartRequest{Channel: intptr(0), Duration: 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	var started models.StatusResponse
	decodeBody(t, rec, &started)
	if started.Status != "success" || !strings.Contains(started.Message, "channel 0") {
		t.Fatalf("start response = %+v", started)
	}

	// A second start is rejected while the first runs.
	rec = doRequest(t, srv, http.MethodPost, "/monitoring/start",
		models.MonitorStartRequest{Channel: intptr(1), Duration: 30})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second start status = %d, want 400", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Monitoring is already active" {
		t.Fatalf("second start error = %q", msg)
	}

	// Feed traffic into the bus until the capture stores it.
	peer, err := v.AttachPeer(0)
	if err != nil {
		t.Fatalf("AttachPeer: %v", err)
	}
	defer peer.Close()

	frame := models.Frame{ID: 0x100, DLC: 2, Flags: models.FlagStandard}
	frame.Data[0], frame.Data[1] = 0xBE, 0xEF
	deadline := time.Now().Add(3 * time.Second)
	var messages models.MessagesResponse
	for {
		peer.Send(frame)
		rec = doRequest(t, srv, http.MethodGet, "/monitoring/messages", nil)
		decodeBody(t, rec, &messages)
		if messages.TotalMessages > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no captured messages after %v", 3*time.Second)
		}
		time.Sleep(20 * time.Millisecond)
	}
	got := messages.Messages[0]
	if got.CANID != 0x100 || got.Channel != 0 || got.DLC != 2 {
		t.Fatalf("captured message = %+v", got)
	}

	// Stop reports success the first time, info the second.
	rec = doRequest(t, srv, http.MethodPost, "/monitoring/stop", nil)
	var stopped models.StatusResponse
	decodeBody(t, rec, &stopped)
	if stopped.Status != "success" {
		t.Fatalf("stop response = %+v", stopped)
	}
	rec = doRequest(t, srv, http.MethodPost, "/monitoring/stop", nil)
	decodeBody(t, rec, &stopped)
	if stopped.Status != "info" {
		t.Fatalf("second stop response = %+v", stopped)
	}

	// Messages stay readable after the session ends.
	rec = doRequest(t, srv, http.MethodGet, "/monitoring/messages", nil)
	decodeBody(t, rec, &messages)
	if messages.TotalMessages == 0 {
		t.Fatalf("buffer drained by stop")
	}
}

func TestMonitoringStartValidation(t *testing.T) {
	drv := &apiFakeDriver{count: 2}
	srv, _ := newTestServer(t, drv)

	rec := doRequest(t, srv, http.MethodPost, "/monitoring/start",
		models.MonitorStartRequest{Channel: intptr(0), Duration: 301})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if msg := errorMessage(t, rec); !strings.Contains(msg, "Invalid duration 301") {
		t.Fatalf("error = %q", msg)
	}

	rec = doRequest(t, srv, http.MethodPost, "/monitoring/start",
		models.MonitorStartRequest{Duration: 30})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing channel status = %d, want 400", rec.Code)
	}
	if drv.opens != 0 {
		t.Fatalf("rejected start opened the channel %d times", drv.opens)
	}
}

func TestMonitoringStartDefaultDuration(t *testing.T) {
	srv, registry := newTestServer(t, driver.NewVirtual(1))

	rec := doRequest(t, srv, http.MethodPost, "/monitoring/start",
		models.MonitorStartRequest{Channel: intptr(0)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.StatusResponse
	decodeBody(t, rec, &resp)
	if !strings.Contains(resp.Message, "for 30 seconds") {
		t.Fatalf("default duration not applied: %+v", resp)
	}
	if !registry.Status().Active {
		t.Fatalf("registry should be active after start")
	}
}

func TestTroubleshoot(t *testing.T) {
	srv, _ := newTestServer(t, driver.NewVirtual(2))

	rec := doRequest(t, srv, http.MethodGet, "/troubleshoot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.StatusResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "success" {
		t.Fatalf("diagnostics status = %q: %s", resp.Status, resp.Message)
	}
	if !strings.Contains(resp.Message, "Channel 0") || !strings.Contains(resp.Message, "Channel 1") {
		t.Fatalf("diagnostics should cover every channel: %s", resp.Message)
	}
}

func TestTroubleshootNoChannels(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 0})

	rec := doRequest(t, srv, http.MethodGet, "/troubleshoot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.StatusResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "error" || !strings.Contains(resp.Message, "No CAN channels found") {
		t.Fatalf("diagnostics = %+v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &apiFakeDriver{count: 1})

	rec := doRequest(t, srv, http.MethodOptions, "/channels", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("OPTIONS status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}
