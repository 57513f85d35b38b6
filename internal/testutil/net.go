// Package testutil holds helpers shared by netlaunch tests that need real
// loopback sockets.
package testutil

import (
	"net"
	"strconv"
	"testing"
	"time"
)

// FreeUDPPort returns a loopback UDP port that was free a moment ago.
func FreeUDPPort(t testing.TB) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving udp port: %v", err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	_ = pc.Close()
	return port
}

// FreeTCPPort returns a loopback TCP port that was free a moment ago.
func FreeTCPPort(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving tcp port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// SendUDP sends msg as one datagram to 127.0.0.1:port.
func SendUDP(t testing.TB, port int, msg string) {
	t.Helper()
	send(t, "udp", port, msg)
}

// SendTCP connects to 127.0.0.1:port, writes msg and closes.
func SendTCP(t testing.TB, port int, msg string) {
	t.Helper()
	send(t, "tcp", port, msg)
}

func send(t testing.TB, network string, port int, msg string) {
	t.Helper()
	conn, err := net.DialTimeout(network, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 2*time.Second)
	if err != nil {
		t.Fatalf("dialing %s port %d: %v", network, port, err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(msg)); err != nil {
		t.Fatalf("writing to %s port %d: %v", network, port, err)
	}
}

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
