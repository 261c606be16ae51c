package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"camlink/internal/codec"
	"camlink/internal/coordinator"
	"camlink/internal/keyring"
	"camlink/internal/protocol"
	"camlink/internal/signaling"
	"camlink/internal/store"
)

// stubPublisher records published payloads.
type stubPublisher struct {
	mu   sync.Mutex
	sent map[string][][]byte
	err  error
}

func (p *stubPublisher) Publish(_ context.Context, deviceID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.sent == nil {
		p.sent = make(map[string][][]byte)
	}
	p.sent[deviceID] = append(p.sent[deviceID], payload)
	return nil
}

func (p *stubPublisher) last(t *testing.T, cdc *codec.Codec, deviceID string) map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.sent[deviceID]
	if len(msgs) == 0 {
		t.Fatalf("nothing published to %s", deviceID)
	}
	plain, err := cdc.Decrypt(msgs[len(msgs)-1], "")
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(plain, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

type testServer struct {
	srv   *Server
	coord *coordinator.Coordinator
	db    *store.BoltStore
	pub   *stubPublisher
	codec *codec.Codec
}

func setupTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewBoltStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	pub := &stubPublisher{}
	cdc := codec.New("")
	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(pub, db, keyring.New(), cdc, signaling.NewMemoryCache(), events, coordinator.Config{}, logger)

	srv := NewServer(coord, logger, opts...)
	t.Cleanup(func() { srv.Stop() })

	return &testServer{srv: srv, coord: coord, db: db, pub: pub, codec: cdc}
}

func seedDevice(t *testing.T, db store.Store, id string, online bool) {
	t.Helper()
	now := time.Now()
	if err := db.SaveDevice(&store.DeviceState{
		DeviceID:        id,
		Online:          online,
		LastOnlineAt:    now,
		LastHeartbeatAt: now,
		SignalStrength:  -60,
		FirstSeenAt:     now,
		UpdatedAt:       now,
	}); err != nil {
		t.Fatal(err)
	}
}

// deviceFrame encrypts a device report with the fallback secret.
func (ts *testServer) deviceFrame(t *testing.T, msg map[string]any) []byte {
	t.Helper()
	data, err := ts.codec.Encrypt(msg, "")
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	return w
}

func TestAPIListDevices(t *testing.T) {
	ts := setupTestServer(t)
	seedDevice(t, ts.db, "CAM01", true)
	seedDevice(t, ts.db, "CAM02", false)

	w := ts.do("GET", "/api/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var devices []store.DeviceState
	if err := json.Unmarshal(w.Body.Bytes(), &devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Errorf("got %d devices, want 2", len(devices))
	}
}

func TestAPIGetDevice(t *testing.T) {
	ts := setupTestServer(t)
	seedDevice(t, ts.db, "CAM01", true)

	w := ts.do("GET", "/api/devices/CAM01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var dev store.DeviceState
	if err := json.Unmarshal(w.Body.Bytes(), &dev); err != nil {
		t.Fatal(err)
	}
	if dev.DeviceID != "CAM01" || !dev.Online || dev.SignalStrength != -60 {
		t.Errorf("device = %+v", dev)
	}

	if w := ts.do("GET", "/api/devices/NOPE", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}
}

func TestAPIStats(t *testing.T) {
	ts := setupTestServer(t)
	seedDevice(t, ts.db, "CAM01", true)
	seedDevice(t, ts.db, "CAM02", false)
	seedDevice(t, ts.db, "CAM03", true)

	w := ts.do("GET", "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats coordinator.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Online != 2 || stats.Offline != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAPICommands(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		field    string
		want     any
	}{
		{"info", "/api/devices/CAM01/info", "", protocol.CodeRequestInfo, "", nil},
		{"format", "/api/devices/CAM01/format", "", protocol.CodeFormatStorage, "", nil},
		{"reboot", "/api/devices/CAM01/reboot", "", protocol.CodeReboot, "", nil},
		{"rotate on", "/api/devices/CAM01/rotate", `{"enable":true}`, protocol.CodeSetRotation, "enable", float64(1)},
		{"floodlight off", "/api/devices/CAM01/floodlight", `{"enable":false}`, protocol.CodeSetFloodlight, "enable", float64(0)},
		{"ptz", "/api/devices/CAM01/ptz", `{"direction":"left"}`, protocol.CodeDirectionalCommand, "command", "left"},
		{"raw command", "/api/devices/CAM01/command", `{"code":11,"fields":{"x":"y"}}`, protocol.CodeRequestInfo, "x", "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t)
			w := ts.do("POST", tt.path, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			msg := ts.pub.last(t, ts.codec, "CAM01")
			if msg["code"] != float64(tt.wantCode) {
				t.Errorf("code = %v, want %d", msg["code"], tt.wantCode)
			}
			if _, ok := msg["time"]; !ok {
				t.Error("envelope has no time")
			}
			if tt.field != "" && msg[tt.field] != tt.want {
				t.Errorf("%s = %v, want %v", tt.field, msg[tt.field], tt.want)
			}
		})
	}
}

func TestAPICommandErrors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad direction", "/api/devices/CAM01/ptz", `{"direction":"spin"}`, http.StatusBadRequest},
		{"bad json", "/api/devices/CAM01/rotate", `{`, http.StatusBadRequest},
		{"missing code", "/api/devices/CAM01/command", `{"fields":{}}`, http.StatusBadRequest},
		{"answer without sdp", "/api/devices/CAM01/webrtc/answer", `{"sid":"s1"}`, http.StatusBadRequest},
		{"candidate without sid", "/api/devices/CAM01/webrtc/candidate", `{"candidate":"c"}`, http.StatusBadRequest},
		{"wildcard id", "/api/devices/CAM+1/info", "", http.StatusBadRequest},
		{"empty secret", "/api/devices/CAM01/secret", `{"secret":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do("POST", tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIPublishFailureIsBadGateway(t *testing.T) {
	ts := setupTestServer(t)
	ts.pub.err = errors.New("mqtt not connected")

	w := ts.do("POST", "/api/devices/CAM01/reboot", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestAPIRegisterSecret(t *testing.T) {
	ts := setupTestServer(t)

	if w := ts.do("POST", "/api/devices/CAM01/secret", `{"secret":"HomeWifi"}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got, ok := ts.coord.Keys().Get("CAM01"); !ok || got != "HomeWifi" {
		t.Errorf("secret = %q, %v", got, ok)
	}

	// Commands are now encrypted with the registered secret.
	if w := ts.do("POST", "/api/devices/CAM01/info", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	ts.pub.mu.Lock()
	payload := ts.pub.sent["CAM01"][0]
	ts.pub.mu.Unlock()
	if _, err := ts.codec.Decrypt(payload, "HomeWifi"); err != nil {
		t.Errorf("decrypt with registered secret: %v", err)
	}
}

func TestAPICheckDevice(t *testing.T) {
	ts := setupTestServer(t)
	seedDevice(t, ts.db, "CAM01", true)
	seedDevice(t, ts.db, "CAM02", false)

	tests := []struct {
		id         string
		wantDevice bool
		wantOnline bool
	}{
		{"CAM01", true, true},
		{"CAM02", true, false},
		{"NEWCAM", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := ts.do("POST", "/api/devices/"+tt.id+"/check", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			var resp struct {
				Status string             `json:"status"`
				Device *store.DeviceState `json:"device"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != "ok" || (resp.Device != nil) != tt.wantDevice {
				t.Fatalf("response = %s", w.Body.String())
			}
			if resp.Device != nil && resp.Device.Online != tt.wantOnline {
				t.Errorf("online = %v, want %v", resp.Device.Online, tt.wantOnline)
			}
			if msg := ts.pub.last(t, ts.codec, tt.id); msg["code"] != float64(protocol.CodeRequestInfo) {
				t.Errorf("check sent code %v", msg["code"])
			}
		})
	}
}

func TestAPIWebRTCFlow(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do("POST", "/api/devices/CAM01/webrtc/offer", `{"rtc":"turn:relay,u,p"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("offer request status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	sid := resp["sid"]
	if sid == "" {
		t.Fatal("no sid generated")
	}
	msg := ts.pub.last(t, ts.codec, "CAM01")
	if msg["sid"] != sid || msg["rtc"] != "turn:relay,u,p" {
		t.Errorf("offer request = %v", msg)
	}

	if w := ts.do("GET", "/api/webrtc/offer/"+sid, ""); w.Code != http.StatusNotFound {
		t.Errorf("offer before device reply: status = %d, want 404", w.Code)
	}

	d := ts.coord.Dispatcher()
	d.Process("CAM01", ts.deviceFrame(t, map[string]any{"code": 151, "time": 1, "sid": sid, "sdp": "v=0\r\n", "status": 1}))
	d.Process("CAM01", ts.deviceFrame(t, map[string]any{"code": 153, "time": 2, "sid": sid, "candidate": "cand-1"}))
	d.Process("CAM01", ts.deviceFrame(t, map[string]any{"code": 153, "time": 3, "sid": sid}))
	d.Process("CAM01", ts.deviceFrame(t, map[string]any{"code": 153, "time": 4, "sid": sid, "candidate": "cand-2"}))

	w = ts.do("GET", "/api/webrtc/offer/"+sid, "")
	if w.Code != http.StatusOK {
		t.Fatalf("offer status = %d", w.Code)
	}
	var offer protocol.WebRTCMessage
	if err := json.Unmarshal(w.Body.Bytes(), &offer); err != nil {
		t.Fatal(err)
	}
	if offer.SDP != "v=0\r\n" || offer.SessionID != sid {
		t.Errorf("offer = %+v", offer)
	}

	w = ts.do("GET", "/api/webrtc/candidates/"+sid, "")
	var drained struct {
		SID        string   `json:"sid"`
		Candidates []string `json:"candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &drained); err != nil {
		t.Fatal(err)
	}
	if len(drained.Candidates) != 2 || drained.Candidates[0] != "cand-1" || drained.Candidates[1] != "cand-2" {
		t.Errorf("candidates = %v", drained.Candidates)
	}

	// Drained once.
	w = ts.do("GET", "/api/webrtc/candidates/"+sid, "")
	drained.Candidates = nil
	if err := json.Unmarshal(w.Body.Bytes(), &drained); err != nil {
		t.Fatal(err)
	}
	if len(drained.Candidates) != 0 {
		t.Errorf("second drain = %v", drained.Candidates)
	}

	if w := ts.do("POST", "/api/devices/CAM01/webrtc/answer", `{"sid":"`+sid+`","sdp":"v=0\\r\\n"}`); w.Code != http.StatusOK {
		t.Errorf("answer status = %d", w.Code)
	}
	if msg := ts.pub.last(t, ts.codec, "CAM01"); msg["code"] != float64(protocol.CodeWebRTCAnswer) {
		t.Errorf("answer code = %v", msg["code"])
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := setupTestServer(t, WithAPIKey("secret123"))

	w := ts.do("GET", "/api/devices", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "secret123")
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", rec.Code)
	}

	// Metrics are outside /api/.
	if w := ts.do("GET", "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("metrics status = %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	ts := setupTestServer(t, WithAllowedOrigins([]string{"https://ops.example.com"}))

	req := httptest.NewRequest("OPTIONS", "/api/devices/CAM01/reboot", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/devices/CAM01/reboot", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", w.Code)
	}
}

func TestAPIVersion(t *testing.T) {
	ts := setupTestServer(t, WithVersion("1.2.3"))
	w := ts.do("GET", "/api/version", "")
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "1.2.3" {
		t.Errorf("version = %q", resp["version"])
	}
}
