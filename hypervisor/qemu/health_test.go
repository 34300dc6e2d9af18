package qemu

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openclaw/carapace/hypervisor"
)

// pointHealthAt rewires the supervisor's health URL at the test server.
func pointHealthAt(t *testing.T, s *Supervisor, srv *httptest.Server) {
	t.Helper()
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	s.conf.GatewayPort = port
	s.conf.HealthPath = "/health"
}

func TestWaitHealthy_EventualSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSupervisor(t)
	s.healthInterval = 20 * time.Millisecond
	pointHealthAt(t, s, srv)

	if err := s.WaitHealthy(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("wait healthy: %v", err)
	}
	if got := hits.Load(); got < 3 {
		t.Errorf("expected at least 3 polls, got %d", got)
	}
}

func TestWaitHealthy_AcceptsAnySuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := newTestSupervisor(t)
	s.healthInterval = 20 * time.Millisecond
	pointHealthAt(t, s, srv)

	if err := s.WaitHealthy(context.Background(), time.Second); err != nil {
		t.Fatalf("204 should count as healthy: %v", err)
	}
}

func TestWaitHealthy_ConnectionErrorsAreNotReady(t *testing.T) {
	// A port with nothing listening: polls must keep going until timeout,
	// then report a health timeout rather than a dial failure.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := newTestSupervisor(t)
	s.healthInterval = 20 * time.Millisecond
	s.conf.GatewayPort = port

	err = s.WaitHealthy(context.Background(), 150*time.Millisecond)
	if !errors.Is(err, hypervisor.ErrHealthTimeout) {
		t.Fatalf("expected ErrHealthTimeout, got %v", err)
	}
}
