package server

import (
	"context"
	"fmt"
	"sync"

	"esmtpd/auth"
	"esmtpd/smtp"
	"esmtpd/storage"
)

// DefaultMessageStore delivers accepted messages to a Maildir-format
// directory, created on first use.
type DefaultMessageStore struct {
	mu      sync.Mutex
	dir     string
	maildir *storage.Maildir
}

// NewDefaultMessageStore returns a MessageStore backed by a Maildir rooted
// at dir. The directory (and its new/cur/tmp subdirectories) is created
// lazily on the first Store call, so construction never fails even if dir
// doesn't exist yet.
func NewDefaultMessageStore(dir string) *DefaultMessageStore {
	return &DefaultMessageStore{dir: dir}
}

// Store converts txn into a Maildir delivery: an envelope From, the
// recipient list, and the dot-unstuffed body the client sent in DATA.
func (s *DefaultMessageStore) Store(_ context.Context, txn *MessageTransaction) error {
	s.mu.Lock()
	if s.maildir == nil {
		maildir, err := storage.NewMaildir(s.dir)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("server: open default message store: %w", err)
		}
		s.maildir = maildir
	}
	maildir := s.maildir
	s.mu.Unlock()

	from, to := transactionAddrs(txn)
	return maildir.Save(from, to, txn.MessageBytes)
}

// allowAllFilter accepts every sender and recipient; local mailbox
// existence checks and relay policy are left to a caller-supplied
// MailboxFilter.
type allowAllFilter struct{}

// NewAllowAllFilter returns a MailboxFilter that never rejects an address.
func NewAllowAllFilter() MailboxFilter {
	return allowAllFilter{}
}

func (allowAllFilter) AcceptSender(context.Context, *SessionContext, *smtp.Mailbox) AcceptResult {
	return Accept()
}

func (allowAllFilter) AcceptRecipient(context.Context, *SessionContext, *smtp.Mailbox, int) AcceptResult {
	return Accept()
}

// DefaultAuthenticator is a bcrypt-backed in-memory credential store. It
// starts empty; a caller embedding this server adds accounts with AddUser
// before accepting connections that will authenticate.
type DefaultAuthenticator struct {
	mu    sync.RWMutex
	users map[string]string // username -> bcrypt hash
}

// NewDefaultAuthenticator returns an empty credential store.
func NewDefaultAuthenticator() *DefaultAuthenticator {
	return &DefaultAuthenticator{users: make(map[string]string)}
}

// AddUser registers username with password, hashing it with bcrypt before
// storing it.
func (d *DefaultAuthenticator) AddUser(username, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("server: hash password for %s: %w", username, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[username] = hash
	return nil
}

// Authenticate verifies secret (the plaintext password from PLAIN/LOGIN, or
// the CRAM "challenge:hash" pair this authenticator cannot verify) against
// the stored bcrypt hash.
func (d *DefaultAuthenticator) Authenticate(_ context.Context, mechanism, username, secret string) (*User, error) {
	if mechanism == auth.MechanismCramMD5 || mechanism == auth.MechanismCramSHA256 {
		return nil, fmt.Errorf("server: %s requires a reversible secret store, not supported by DefaultAuthenticator", mechanism)
	}

	d.mu.RLock()
	hash, ok := d.users[username]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("server: unknown user %q", username)
	}
	if !auth.VerifyPassword(hash, secret) {
		return nil, fmt.Errorf("server: invalid credentials for %q", username)
	}
	return &User{ID: username, Username: username}, nil
}

// NoOpObserver implements SessionObserver with no-op methods, the default
// when a caller supplies none of its own.
type NoOpObserver struct{}

func (NoOpObserver) OnSessionStart(*SessionContext)                      {}
func (NoOpObserver) OnAuthenticated(*SessionContext, *User)              {}
func (NoOpObserver) OnMessageStored(*SessionContext, *MessageTransaction) {}
func (NoOpObserver) OnCommandError(*SessionContext, string, error)       {}
func (NoOpObserver) OnSessionEnd(*SessionContext)                        {}
func (NoOpObserver) OnEndpointEvent(EndpointEvent, EndpointDefinition)   {}
func (NoOpObserver) CommandExecuting(*SessionContext, string)           {}
