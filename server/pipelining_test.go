package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// TestPipeliningBatchedCommands exercises the PIPELINING extension this
// server advertises in EHLO: several commands written back-to-back in one
// write, without waiting for each reply, are still each answered in order.
func TestPipeliningBatchedCommands(t *testing.T) {
	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	s := NewSession(serverConn, newTestOptions(), DefaultEndpoint(), nil)
	go func() { _ = s.Handle(context.Background()) }()

	r := bufio.NewReader(client)
	readLine := func() string {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		return line
	}

	if greet := readLine(); !strings.HasPrefix(greet, "220") {
		t.Fatalf("expected 220 greeting, got %q", greet)
	}

	go func() {
		client.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_, _ = client.Write([]byte("NOOP\r\nNOOP\r\nQUIT\r\n"))
	}()

	if l := readLine(); !strings.HasPrefix(l, "250") {
		t.Fatalf("expected first NOOP 250, got %q", l)
	}
	if l := readLine(); !strings.HasPrefix(l, "250") {
		t.Fatalf("expected second NOOP 250, got %q", l)
	}
	if l := readLine(); !strings.HasPrefix(l, "221") {
		t.Fatalf("expected 221 on QUIT, got %q", l)
	}
}
