// Package server implements the SMTP session runtime: the accept loop,
// per-connection session state, command handlers, and the pluggable
// collaborator interfaces (message store, mailbox filter, user
// authenticator) that let callers embed this core in their own service
// without forking it.
package server

import (
	"context"
	"net"

	"esmtpd/smtp"
)

// FilterResult is the three-valued outcome of a MailboxFilter decision,
// matching RFC 5321's distinction between a transient failure the client
// should retry and a permanent one it should not.
type FilterResult int

const (
	// Yes means the address is accepted.
	Yes FilterResult = iota
	// NoTemporarily means the address is rejected for now (4xx); the client
	// may retry later.
	NoTemporarily
	// NoPermanently means the address is rejected outright (5xx); the
	// client must not retry unmodified.
	NoPermanently
)

// String renders the result's name, used in logging.
func (r FilterResult) String() string {
	switch r {
	case Yes:
		return "Yes"
	case NoTemporarily:
		return "NoTemporarily"
	case NoPermanently:
		return "NoPermanently"
	default:
		return "Unknown"
	}
}

// AcceptResult is what a MailboxFilter returns: the three-valued Result, plus
// an optional Override response. When Override is non-nil the handler sends
// it verbatim instead of the generic 450/550 its Result would otherwise
// produce — the escape hatch for replies the three-valued result can't
// express on its own, such as a recipient-count limit's 452.
type AcceptResult struct {
	Result   FilterResult
	Override *smtp.Response
}

// Accept is the plain Yes result with no override, the common case.
func Accept() AcceptResult { return AcceptResult{Result: Yes} }

// Reject builds a rejection with no override, falling back to the handler's
// generic 450/550 for result.
func Reject(result FilterResult) AcceptResult { return AcceptResult{Result: result} }

// RejectWith builds a rejection whose reply is resp verbatim, regardless of
// what the handler's generic reply for result would otherwise have been.
func RejectWith(result FilterResult, resp *smtp.Response) AcceptResult {
	return AcceptResult{Result: result, Override: resp}
}

// MailboxFilter decides whether a sender or recipient address is acceptable
// for this transaction. Implementations typically check local mailbox
// existence, relay policy, or greylisting state; DNS/MX lookup and spam
// filtering are explicitly out of scope for any store shipped with this
// module.
type MailboxFilter interface {
	// AcceptSender is consulted on MAIL FROM. mailbox is nil for the null
	// reverse-path ("MAIL FROM:<>").
	AcceptSender(ctx context.Context, session *SessionContext, mailbox *smtp.Mailbox) AcceptResult
	// AcceptRecipient is consulted on RCPT TO. recipientCount is the number
	// of recipients already accepted in the current transaction, before this
	// one, so a filter can enforce a per-message recipient limit.
	AcceptRecipient(ctx context.Context, session *SessionContext, mailbox *smtp.Mailbox, recipientCount int) AcceptResult
}

// UserAuthenticator verifies AUTH credentials. Implementations can check
// against a local password store, an LDAP directory, or a remote API.
type UserAuthenticator interface {
	// Authenticate validates a decoded PLAIN/LOGIN/CRAM username+secret pair
	// and returns the authenticated identity on success.
	Authenticate(ctx context.Context, mechanism, username, secret string) (*User, error)
}

// User is an authenticated identity, attached to a SessionContext once AUTH
// succeeds.
type User struct {
	ID       string
	Username string
	Metadata map[string]any
}

// MessageStore persists an accepted message transaction. Store is called
// once per DATA command, after the dot-unstuffed body has been fully read
// and the size limit checked, and before the session replies 250 to DATA.
type MessageStore interface {
	Store(ctx context.Context, txn *MessageTransaction) error
}

// ConnectionThrottle decides whether a newly accepted TCP connection should
// be handed to a session at all, before any SMTP bytes are exchanged. This
// is a supplemental collaborator beyond the core protocol engine; the
// default implementation (see throttle.go) is a decaying per-IP counter.
type ConnectionThrottle interface {
	Allow(remoteIP net.IP) bool
	Release(remoteIP net.IP)
}

// SessionObserver receives lifecycle notifications. All methods must return
// promptly; long-running work should be dispatched to its own goroutine.
type SessionObserver interface {
	OnSessionStart(session *SessionContext)
	OnAuthenticated(session *SessionContext, user *User)
	OnMessageStored(session *SessionContext, txn *MessageTransaction)
	OnCommandError(session *SessionContext, verb string, err error)
	OnSessionEnd(session *SessionContext)

	// OnEndpointEvent fires EndpointStarted once an endpoint's listener has
	// successfully bound and begun accepting connections, and
	// EndpointStopped once it has been closed for the final time and its
	// accept loop has returned.
	OnEndpointEvent(event EndpointEvent, endpoint EndpointDefinition)

	// CommandExecuting fires inside a session immediately before a parsed
	// command's handler is invoked, letting an observer trace or audit the
	// exact sequence of commands a session executes.
	CommandExecuting(session *SessionContext, verb string)
}

// SessionContext is the read-only view of a session's identity exposed to
// collaborators; it intentionally does not expose the network connection or
// the raw parser state, only what a filter/authenticator/observer needs to
// make a decision or record an event.
type SessionContext struct {
	ID            string
	RemoteAddr    net.Addr
	ServerName    string
	TLSActive     bool
	Authenticated bool
	User          *User
	Properties    map[string]any
}
