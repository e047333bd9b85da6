package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/charlink/internal/link"
	"github.com/danmuck/charlink/internal/protocol"
	"github.com/danmuck/charlink/internal/protocol/dispatch"
	"github.com/danmuck/charlink/internal/testutil/testlog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Link.Node = "fe-test"
	cfg.Link.Address = "authority.test:6121"
	cfg.Link.UserID = "zone01"
	cfg.Link.Password = "secret"
	cfg.Link.PublicAddr = netip.MustParseAddrPort("10.0.0.5:5121")
	cfg.Link.Zones = []string{"prontera"}
	cfg.Link.StartDelay = time.Hour
	cfg.Link.TickInterval = 2 * time.Millisecond
	return cfg
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Admin.ListenAddr = "127.0.0.1:0"
	cfg.Admin.Token = "operator-key"
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Link().Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	router := svc.Admin().Router()

	rr := get(t, router, "/health", "")
	if rr.Code != http.StatusOK || decode(t, rr)["node"] != "fe-test" {
		t.Fatalf("health: %d %s", rr.Code, rr.Body.String())
	}

	rr = get(t, router, "/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready while disconnected: %d", rr.Code)
	}
	if body := decode(t, rr); body["ready"] != false || body["state"] != "disconnected" {
		t.Fatalf("ready body=%v", body)
	}

	if rr = get(t, router, "/link", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("link without token: %d", rr.Code)
	}
	if rr = get(t, router, "/link", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("link with wrong token: %d", rr.Code)
	}
	rr = get(t, router, "/link", "operator-key")
	if rr.Code != http.StatusOK {
		t.Fatalf("link: %d %s", rr.Code, rr.Body.String())
	}
	var st link.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil || st.Node != "fe-test" {
		t.Fatalf("link status=%+v err=%v", st, err)
	}

	rr = get(t, router, "/zones", "operator-key")
	if rr.Code != http.StatusOK {
		t.Fatalf("zones: %d %s", rr.Code, rr.Body.String())
	}
	if zones, ok := decode(t, rr)["zones"].([]any); !ok || len(zones) != 0 {
		t.Fatalf("zones body=%s", rr.Body.String())
	}

	rr = get(t, router, "/sessions", "operator-key")
	if body := decode(t, rr); rr.Code != http.StatusOK || body["online"] != float64(0) {
		t.Fatalf("sessions: %d %v", rr.Code, body)
	}

	rr = get(t, router, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "charlink_") {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestAdminZonesUnavailableWhenLinkStopped(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Admin.ListenAddr = "127.0.0.1:0"
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Link().Run(ctx) }()
	cancel()
	<-done

	rr := get(t, svc.Admin().Router(), "/zones", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("zones after stop: %d %s", rr.Code, rr.Body.String())
	}
}

func TestNewServiceValidates(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	if _, err := NewService(cfg); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
	cfg = testConfig()
	cfg.Link.Address = ""
	if _, err := NewService(cfg); !errors.Is(err, link.ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
	svc, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Admin() != nil {
		t.Fatalf("admin must be disabled without a listen address")
	}
}

func TestServeStopsOnContext(t *testing.T) {
	testlog.Start(t)
	svc, err := NewService(testConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestServeReturnsAuthorityRejection(t *testing.T) {
	testlog.Start(t)
	peers := make(chan net.Conn, 1)
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		peers <- server
		return client, nil
	}
	cfg := testConfig()
	cfg.Link.StartDelay = 5 * time.Millisecond
	svc, err := NewService(cfg, link.WithDialer(dial))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- svc.Serve(context.Background()) }()

	var peer net.Conn
	select {
	case peer = <-peers:
	case <-time.After(3 * time.Second):
		t.Fatalf("service never dialed")
	}
	defer peer.Close()
	_ = peer.SetDeadline(time.Now().Add(3 * time.Second))
	hs := make([]byte, 60)
	if _, err := io.ReadFull(peer, hs); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if _, err := peer.Write(protocol.HandshakeAck{Result: protocol.ResultRejected}.Encode()); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	select {
	case err := <-served:
		if !errors.Is(err, link.ErrHandshakeRejected) {
			t.Fatalf("expected ErrHandshakeRejected, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not return after rejection")
	}
}

func TestServiceInstallsDiscardPlugin(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.DiscardOpcodes = []uint16{0x2b09, 0x2b0d}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if all := svc.Plugins().All(); len(all) != 1 || all[0].Name() != "discard" {
		t.Fatalf("plugins=%v", all)
	}

	cfg.DiscardOpcodes = []uint16{0x1234}
	if _, err := NewService(cfg); !errors.Is(err, dispatch.ErrNoHandler) {
		t.Fatalf("opcode outside the table must be refused, got %v", err)
	}

	cfg.DiscardOpcodes = []uint16{0x2b09, protocol.OpAuthPush}
	if _, err := NewService(cfg); !errors.Is(err, link.ErrOpcodeReserved) {
		t.Fatalf("discarding a link opcode must be refused, got %v", err)
	}
}
