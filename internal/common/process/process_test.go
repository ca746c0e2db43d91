package process

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func sleepBinary(t *testing.T) string {
	t.Helper()
	path, err := BinaryPath("sleep")
	if err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	return path
}

func TestStartWaitsForTCPReadiness(t *testing.T) {
	bin := sleepBinary(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	svc, err := Start(context.Background(), ServiceConfig{
		Name:          "sleeper",
		Command:       bin,
		Args:          []string{"30"},
		ReadyAddr:     ln.Addr().String(),
		ReadyInterval: 10 * time.Millisecond,
		ReadyTimeout:  2 * time.Second,
		StopTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-svc.Done():
	default:
		t.Fatal("process still running after Stop")
	}
}

func TestStartFailsWhenProcessExitsEarly(t *testing.T) {
	bin := sleepBinary(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Start(context.Background(), ServiceConfig{
		Name:          "short",
		Command:       bin,
		Args:          []string{"0"},
		ReadyAddr:     addr,
		ReadyInterval: 20 * time.Millisecond,
		ReadyTimeout:  5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected readiness failure")
	}
	if !strings.Contains(err.Error(), "exited before reporting ready") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartTimesOutWaitingForReady(t *testing.T) {
	bin := sleepBinary(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	_, err = Start(context.Background(), ServiceConfig{
		Command:       bin,
		Args:          []string{"30"},
		ReadyAddr:     addr,
		ReadyInterval: 10 * time.Millisecond,
		ReadyTimeout:  100 * time.Millisecond,
		StopTimeout:   time.Second,
	})
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Start took %s", elapsed)
	}
}

func TestStartRequiresCommand(t *testing.T) {
	if _, err := Start(context.Background(), ServiceConfig{Name: "empty"}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestBinaryPathRejectsBlank(t *testing.T) {
	if _, err := BinaryPath("  "); err == nil {
		t.Fatal("expected error")
	}
}
