package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"esmtpd/auth"
	"esmtpd/logging"
	"esmtpd/smtp"
)

// Session owns one accepted connection end to end: the buffered reader/
// writer pair, the smtp.State the protocol state table is driving, and the
// in-progress MessageTransaction. One Session is created per connection by
// Server.handleConnection and lives for exactly that connection's lifetime.
type Session struct {
	conn     net.Conn
	options  *Options
	def      EndpointDefinition
	tlsState *tls.ConnectionState

	reader *connReader
	writer *connWriter
	log    *logging.SMTPLogger

	id         string
	remoteAddr net.Addr
	peerName   string

	state       smtp.State
	transaction *MessageTransaction

	authenticatedUser *User
	retryCount        int
	authAttempts      int

	properties map[string]any
}

// NewSession builds a Session over an already-accepted (and, for implicit
// TLS endpoints, already-handshaken) connection.
func NewSession(conn net.Conn, opts *Options, def EndpointDefinition, tlsState *tls.ConnectionState) *Session {
	return &Session{
		conn:        conn,
		options:     opts,
		def:         def,
		tlsState:    tlsState,
		reader:      newConnReader(conn, opts.NetworkBufferSize, def.readTimeout()),
		writer:      &connWriter{conn: conn, timeout: def.readTimeout()},
		log:         logging.NewSMTPLogger(opts.Logger, conn, opts.ServerName),
		remoteAddr:  conn.RemoteAddr(),
		transaction: &MessageTransaction{},
		id:          ulid.Make().String(),
		properties:  make(map[string]any),
	}
}

// Handle runs the session to completion: an optional PROXY protocol sniff,
// the banner, then the command loop until QUIT, a connection-fatal error,
// or the peer going away.
func (s *Session) Handle(ctx context.Context) error {
	started := time.Now()
	pending, err := s.sniffProxyHeader(ctx)
	overlongOpening := errors.Is(err, errLineTooLong)
	if err != nil && !overlongOpening {
		return fmt.Errorf("server: read opening line: %w", err)
	}
	s.log.LogConnection(s.def.Port, s.isSecure())
	defer func() { s.log.LogConnectionClosed(time.Since(started)) }()

	if err := s.writeResponse(ctx, smtp.NewResponse(smtp.Code220, "", s.options.ServerName+" ESMTP ready")); err != nil {
		return err
	}
	s.state = smtp.Initialized
	if overlongOpening {
		if err := s.writeResponse(ctx, smtp.NewResponse(smtp.Code500, "5.5.2", "Line too long")); err != nil {
			return err
		}
	}

	for {
		line, err := s.nextLine(ctx, &pending)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				if werr := s.writeResponse(ctx, smtp.NewResponse(smtp.Code500, "5.5.2", "Line too long")); werr != nil {
					return werr
				}
				continue
			}
			return err
		}
		if line == "" {
			continue
		}

		if err := s.step(ctx, line); err != nil {
			if err == errSessionDone {
				return nil
			}
			return err
		}
	}
}

var errSessionDone = fmt.Errorf("server: session closed by peer request")

func (s *Session) nextLine(ctx context.Context, pending *string) (string, error) {
	if *pending != "" {
		line := *pending
		*pending = ""
		return line, nil
	}
	return s.reader.readLine(ctx)
}

// errMalformedProxyHeader means the connection's opening line claimed to be
// a PROXY v1 header (it started with "PROXY ") but failed to parse. Per the
// PROXY protocol's trust model, a proxy that sends a malformed header is not
// one we can trust to have sent a truthful SMTP stream either, so the
// session is aborted rather than treating the line as an ordinary command.
var errMalformedProxyHeader = fmt.Errorf("server: malformed PROXY header")

// sniffProxyHeader peeks the first line of the connection. If it parses as a
// PROXY v1 header it is applied and consumed; if it doesn't look like a
// PROXY header at all, the line is handed back as the session's first real
// command line; if it looks like a PROXY header but fails to parse, the
// session is aborted.
func (s *Session) sniffProxyHeader(ctx context.Context) (string, error) {
	line, err := s.reader.peekLine(ctx)
	if err != nil {
		return "", err
	}
	hdr, perr := smtp.ParseProxyHeader(line)
	if perr != nil {
		if errors.Is(perr, smtp.ErrNotProxyHeader) {
			return line, nil
		}
		return "", errMalformedProxyHeader
	}
	if hdr.Protocol != "UNKNOWN" {
		s.remoteAddr = &net.TCPAddr{IP: hdr.SourceIP, Port: hdr.SourcePort}
		s.log.LogProxyHeader(hdr.Protocol, hdr.SourceIP.String(), hdr.SourcePort)
	}
	return "", nil
}

// step executes one command line: lookup, parse, handler dispatch, response
// write, and state advance. A returned errSessionDone means the session
// asked to close cleanly (QUIT or a terminating response).
func (s *Session) step(ctx context.Context, line string) error {
	verb, tok := smtp.PeekVerb(line)
	s.logCommandLine(verb, line)
	entry, known, ok := smtp.Lookup(s.state, verb)
	if !ok {
		resp := smtp.UnrecognizedCommand(verb)
		if known {
			resp = smtp.BadSequenceFor(s.state, smtp.AllowedVerbs(s.state))
		}
		return s.recordFailure(ctx, resp)
	}

	cmd, parseResp := entry.Parse(tok)
	if parseResp != nil {
		return s.recordFailure(ctx, parseResp)
	}

	handler, has := handlers[cmd.Verb]
	if !has {
		return s.recordFailure(ctx, smtp.UnrecognizedCommand(cmd.Verb))
	}

	s.options.Observer.CommandExecuting(s.Context(), cmd.Verb)
	resp, err := handler(ctx, s, cmd)
	if err != nil {
		s.options.Observer.OnCommandError(s.Context(), cmd.Verb, err)
		return err
	}
	s.retryCount = 0

	if resp == nil {
		// The handler already conducted its own reply dialogue (STARTTLS's
		// "220 Ready to start TLS" before the handshake).
		return nil
	}

	switch cmd.Verb {
	case smtp.VerbMAIL, smtp.VerbRCPT:
		if resp.IsPositive() {
			s.state = entry.NextState(s.state)
		}
	default:
		s.state = entry.NextState(s.state)
	}

	if err := s.writeResponse(ctx, resp); err != nil {
		return err
	}
	s.log.LogResponse(resp.Render(), cmd.Verb)
	if resp.Terminate {
		return errSessionDone
	}
	return nil
}

// logCommandLine logs one received command line, redacting AUTH's
// credential payload so base64 secrets never reach the logger.
func (s *Session) logCommandLine(verb, line string) {
	fields := strings.Fields(line)
	var args []string
	if len(fields) > 1 {
		args = fields[1:]
	}
	if verb == smtp.VerbAUTH {
		args = auth.RedactAuthArgs(args)
	}
	s.log.LogCommand(verb, args, s.state.String())
}

// recordFailure writes resp and counts it against MaxRetryCount, closing the
// connection once more than MaxRetryCount consecutive failures have
// occurred (the default of 5 means a 6th consecutive failure closes the
// connection, per spec's worked example).
func (s *Session) recordFailure(ctx context.Context, resp *smtp.Response) error {
	s.retryCount++
	if s.retryCount > s.options.MaxRetryCount {
		_ = s.writeResponse(ctx, smtp.ResponseTooManyErrors())
		return fmt.Errorf("server: too many command errors")
	}
	return s.writeResponse(ctx, resp)
}

func (s *Session) writeResponse(_ context.Context, resp *smtp.Response) error {
	return s.writer.writeString(resp.Render())
}

func (s *Session) isSecure() bool {
	return s.tlsState != nil
}

func (s *Session) canAuthenticate() bool {
	return s.isSecure() || s.def.AllowUnsecureAuthentication
}

// authConversation adapts the session's reader/writer to auth.Conversation
// for the duration of one AUTH command's dialogue.
func (s *Session) authConversation() auth.Conversation {
	return sessionConversation{s: s}
}

type sessionConversation struct {
	s *Session
}

func (c sessionConversation) ReadLine(ctx context.Context) (string, error) {
	return c.s.reader.readLine(ctx)
}

func (c sessionConversation) WriteContinuation(ctx context.Context, base64Payload string) error {
	return c.s.writeResponse(ctx, smtp.NewResponse(smtp.Code334, "", base64Payload))
}

// authFailure turns an auth package or UserAuthenticator error into the
// right reply, closing the connection once MaxAuthenticationAttempts is
// exceeded.
func (s *Session) authFailure(err error) (*smtp.Response, error) {
	s.authAttempts++
	s.log.LogAuthentication("", "", false)
	s.options.Logger.Debug("authentication failed", logging.F("err", err.Error()))
	if s.authAttempts > s.options.MaxAuthenticationAttempts {
		return smtp.NewResponse(smtp.Code421, "4.7.0", "Too many authentication failures, closing connection").WithTerminate(), nil
	}
	return smtp.NewResponse(smtp.Code535, "5.7.8", "Authentication credentials invalid"), nil
}

// upgradeToTLS performs the in-band TLS handshake for STARTTLS, replacing
// the session's connection, reader and writer with ones wrapping the new
// tls.Conn. The caller (handleSTARTTLS) has already confirmed
// def.ServerCertificate is configured; unlike an implicit-TLS endpoint's
// listener, STARTTLS never falls back to a self-signed certificate — a
// client that asked for STARTTLS got a 454 earlier if none was set.
func (s *Session) upgradeToTLS(ctx context.Context) error {
	cfg := &tls.Config{
		MinVersion: MinTLSVersion,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return s.def.ServerCertificate, nil
		},
	}

	tlsConn := tls.Server(s.conn, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.Handshake(); err != nil {
		s.log.LogTLSHandshake(false, "", "", err)
		return err
	}
	state := tlsConn.ConnectionState()
	s.log.LogTLSHandshake(true, tlsVersionName(state.Version), tls.CipherSuiteName(state.CipherSuite), nil)

	s.conn = tlsConn
	s.tlsState = &state
	s.reader = newConnReader(tlsConn, s.options.NetworkBufferSize, s.def.readTimeout())
	s.writer = &connWriter{conn: tlsConn, timeout: s.def.readTimeout()}
	return nil
}

func tlsVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}

// Context returns the read-only SessionContext snapshot passed to
// collaborators (MailboxFilter, UserAuthenticator, SessionObserver).
func (s *Session) Context() *SessionContext {
	ctx := &SessionContext{
		ID:            s.id,
		RemoteAddr:    s.remoteAddr,
		ServerName:    s.options.ServerName,
		TLSActive:     s.isSecure(),
		Authenticated: s.authenticatedUser != nil,
		User:          s.authenticatedUser,
		Properties:    s.properties,
	}
	return ctx
}

// CloseWith421 writes a 421 reply and closes the connection; used by
// Server.Shutdown to notify in-flight sessions.
func (s *Session) CloseWith421(ctx context.Context, reason string) error {
	resp := smtp.NewResponse(smtp.Code421, "4.3.2", reason).WithTerminate()
	err := s.writeResponse(ctx, resp)
	_ = s.conn.Close()
	return err
}
