package server

import (
	"context"
	"path/filepath"
	"testing"

	"esmtpd/smtp"
)

func TestSpoolMessageStoreStoresAndExtractsHeaders(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSpoolMessageStore(filepath.Join(dir, "spool"))
	if err != nil {
		t.Fatalf("NewSpoolMessageStore: %v", err)
	}
	defer store.Close()

	from := smtp.NewMailbox("alice", "example.com", false)
	txn := &MessageTransaction{
		From: &from,
		To:   []smtp.Mailbox{smtp.NewMailbox("bob", "example.net", false)},
		MessageBytes: []byte(
			"Subject: hello there\r\nMessage-ID: <abc123@example.com>\r\n\r\nbody\r\n",
		),
	}

	if err := store.Store(context.Background(), txn); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entries, err := store.spool.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one spooled entry, got %d", len(entries))
	}
	if entries[0].Subject != "hello there" {
		t.Errorf("expected Subject extracted from body, got %q", entries[0].Subject)
	}
	if entries[0].MessageID != "<abc123@example.com>" {
		t.Errorf("expected Message-ID extracted from body, got %q", entries[0].MessageID)
	}
	if entries[0].From != "alice@example.com" {
		t.Errorf("expected From preserved, got %q", entries[0].From)
	}
}
