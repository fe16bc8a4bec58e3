package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"esmtpd/smtp"
)

func TestDefaultMessageStoreWritesToMaildir(t *testing.T) {
	dir := t.TempDir()
	store := NewDefaultMessageStore(filepath.Join(dir, "mailbox"))

	from := smtp.NewMailbox("alice", "example.com", false)
	txn := &MessageTransaction{
		From:         &from,
		To:           []smtp.Mailbox{smtp.NewMailbox("bob", "example.net", false)},
		MessageBytes: []byte("Subject: hi\r\n\r\nbody\r\n"),
	}

	if err := store.Store(context.Background(), txn); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "mailbox", "new"))
	if err != nil {
		t.Fatalf("read new/: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one delivered message, got %d", len(entries))
	}
}

func TestDefaultMessageStoreLazyInitIsConcurrencySafe(t *testing.T) {
	dir := t.TempDir()
	store := NewDefaultMessageStore(filepath.Join(dir, "mailbox"))

	from := smtp.NewMailbox("alice", "example.com", false)
	txn := func() *MessageTransaction {
		return &MessageTransaction{From: &from, MessageBytes: []byte("x\r\n")}
	}

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- store.Store(context.Background(), txn()) }()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent Store: %v", err)
		}
	}
}

func TestAllowAllFilter(t *testing.T) {
	f := NewAllowAllFilter()
	if r := f.AcceptSender(context.Background(), nil, nil); r.Result != Yes || r.Override != nil {
		t.Errorf("expected plain Yes for null reverse-path, got %+v", r)
	}
	mbox := smtp.NewMailbox("x", "y.com", false)
	if r := f.AcceptRecipient(context.Background(), nil, &mbox, 0); r.Result != Yes || r.Override != nil {
		t.Errorf("expected plain Yes, got %+v", r)
	}
}

func TestRecipientLimitFilterRejectsWith452PastLimit(t *testing.T) {
	f := NewRecipientLimitFilter(NewAllowAllFilter(), 2)
	mbox := smtp.NewMailbox("x", "y.com", false)

	for i := 0; i < 2; i++ {
		if r := f.AcceptRecipient(context.Background(), nil, &mbox, i); r.Result != Yes || r.Override != nil {
			t.Fatalf("expected recipient %d under the limit to be accepted, got %+v", i, r)
		}
	}

	r := f.AcceptRecipient(context.Background(), nil, &mbox, 2)
	if r.Override == nil || r.Override.Code != smtp.Code452 {
		t.Fatalf("expected a 452 override once the recipient limit is reached, got %+v", r)
	}
}

func TestDefaultAuthenticatorAddAndVerify(t *testing.T) {
	auth := NewDefaultAuthenticator()
	if err := auth.AddUser("carol", "s3cret"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	user, err := auth.Authenticate(context.Background(), "PLAIN", "carol", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "carol" {
		t.Errorf("expected username carol, got %q", user.Username)
	}

	if _, err := auth.Authenticate(context.Background(), "PLAIN", "carol", "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := auth.Authenticate(context.Background(), "PLAIN", "nobody", "s3cret"); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestDefaultAuthenticatorRejectsCramMechanisms(t *testing.T) {
	auth := NewDefaultAuthenticator()
	if err := auth.AddUser("carol", "s3cret"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), "CRAM-MD5", "carol", "challenge:hash"); err == nil {
		t.Error("expected CRAM-MD5 to be rejected by a bcrypt-backed authenticator")
	}
}

func TestNoOpObserverIsInert(t *testing.T) {
	var obs SessionObserver = NoOpObserver{}
	obs.OnSessionStart(nil)
	obs.OnAuthenticated(nil, nil)
	obs.OnMessageStored(nil, nil)
	obs.OnCommandError(nil, "", nil)
	obs.OnSessionEnd(nil)
	obs.OnEndpointEvent(EndpointStarted, EndpointDefinition{})
	obs.OnEndpointEvent(EndpointStopped, EndpointDefinition{})
	obs.CommandExecuting(nil, "")
}
