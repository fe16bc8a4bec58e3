package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"esmtpd/auth"
	"esmtpd/smtp"
)

// HandlerFunc executes one parsed Command against the session's runtime
// state and collaborators. It returns the response to send the client; a
// non-nil error means something connection-fatal happened (the DATA body
// could not be read, the TLS handshake failed) and the session must
// close without attempting further replies.
type HandlerFunc func(ctx context.Context, s *Session, cmd *smtp.Command) (*smtp.Response, error)

var handlers = map[string]HandlerFunc{
	smtp.VerbHELO:     handleHELO,
	smtp.VerbEHLO:     handleEHLO,
	smtp.VerbMAIL:     handleMAIL,
	smtp.VerbRCPT:     handleRCPT,
	smtp.VerbDATA:     handleDATA,
	smtp.VerbAUTH:     handleAUTH,
	smtp.VerbRSET:     handleRSET,
	smtp.VerbNOOP:     handleNOOP,
	smtp.VerbQUIT:     handleQUIT,
	smtp.VerbSTARTTLS: handleSTARTTLS,
	smtp.VerbVRFY:     handleVRFY,
}

func handleHELO(_ context.Context, s *Session, cmd *smtp.Command) (*smtp.Response, error) {
	s.peerName = cmd.Domain
	return smtp.NewResponse(smtp.Code250, "", s.options.ServerName+" Hello "+cmd.Domain), nil
}

func handleEHLO(_ context.Context, s *Session, cmd *smtp.Command) (*smtp.Response, error) {
	s.peerName = cmd.Domain

	lines := []string{s.options.ServerName + " Hello " + cmd.Domain}
	lines = append(lines, fmt.Sprintf("SIZE %d", s.options.MaxMessageSize))

	if !s.isSecure() && s.def.ServerCertificate != nil {
		lines = append(lines, "STARTTLS")
	}
	if s.canAuthenticate() {
		lines = append(lines, "AUTH "+strings.Join(s.options.SupportedAuthenticationMethods, " "))
	}
	lines = append(lines, "8BITMIME")
	lines = append(lines, "PIPELINING")

	return smtp.NewMultilineResponse(smtp.Code250, "", lines...), nil
}

func handleMAIL(_ context.Context, s *Session, cmd *smtp.Command) (*smtp.Response, error) {
	if size, ok := cmd.MailParams["SIZE"]; ok {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil && n > s.options.MaxMessageSize {
			return smtp.NewResponse(smtp.Code552, "5.3.4", "Message size exceeds fixed maximum message size"), nil
		}
	}

	accept := s.options.MailboxFilter.AcceptSender(context.Background(), s.Context(), cmd.From)
	if accept.Override != nil {
		return accept.Override, nil
	}
	switch accept.Result {
	case NoPermanently:
		return smtp.NewResponse(smtp.Code550, "5.1.0", "Sender address rejected"), nil
	case NoTemporarily:
		return smtp.NewResponse(smtp.Code450, "4.1.0", "Sender address rejected, try again later"), nil
	}

	s.transaction.Reset()
	s.transaction.From = cmd.From
	s.transaction.Parameters = cmd.MailParams
	return smtp.ResponseCommandOK(), nil
}

func handleRCPT(_ context.Context, s *Session, cmd *smtp.Command) (*smtp.Response, error) {
	accept := s.options.MailboxFilter.AcceptRecipient(context.Background(), s.Context(), cmd.To, len(s.transaction.To))
	if accept.Override != nil {
		return accept.Override, nil
	}
	switch accept.Result {
	case NoPermanently:
		return smtp.NewResponse(smtp.Code550, "5.1.1", "Recipient address rejected"), nil
	case NoTemporarily:
		return smtp.NewResponse(smtp.Code450, "4.1.1", "Recipient address rejected, try again later"), nil
	}

	s.transaction.To = append(s.transaction.To, *cmd.To)
	return smtp.ResponseCommandOK(), nil
}

func handleDATA(ctx context.Context, s *Session, _ *smtp.Command) (*smtp.Response, error) {
	if err := s.writeResponse(ctx, smtp.NewResponse(smtp.Code354, "", "Start mail input; end with <CRLF>.<CRLF>")); err != nil {
		return nil, err
	}

	from, to := transactionAddrs(s.transaction)
	s.log.LogMessageStart(from, to)

	body, err, oversized := s.reader.readDataBody(ctx, s.options.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("server: read DATA body: %w", err)
	}
	if oversized {
		s.transaction.Reset()
		return smtp.NewResponse(smtp.Code552, "5.3.4", "Message size exceeds fixed maximum message size"), nil
	}

	s.transaction.MessageBytes = body
	started := time.Now()
	if err := s.options.MessageStore.Store(ctx, s.transaction); err != nil {
		s.log.LogMessageStorageError(from, to, len(body), "maildir", err)
		s.transaction.Reset()
		return smtp.NewResponse(smtp.Code451, "4.3.0", "Requested action aborted: local error in processing"), nil
	}
	s.log.LogMessageStored(from, to, len(body), "maildir", time.Since(started))

	s.options.Observer.OnMessageStored(s.Context(), s.transaction)
	s.transaction.Reset()
	return smtp.ResponseCommandOK(), nil
}

// transactionAddrs renders a MessageTransaction's From/To as plain strings
// for the logger, ahead of the transaction being reset.
func transactionAddrs(txn *MessageTransaction) (string, []string) {
	from := ""
	if txn.From != nil {
		from = txn.From.String()
	}
	to := make([]string, 0, len(txn.To))
	for _, mbox := range txn.To {
		to = append(to, mbox.String())
	}
	return from, to
}

func handleAUTH(ctx context.Context, s *Session, cmd *smtp.Command) (*smtp.Response, error) {
	if s.authenticatedUser != nil {
		return smtp.NewResponse(smtp.Code503, "5.5.1", "Already authenticated"), nil
	}
	if !s.canAuthenticate() {
		return smtp.NewResponse(smtp.Code538, "5.7.11", "Encryption required for requested authentication mechanism"), nil
	}

	handler := auth.NewHandler(cmd.Mechanism)
	if handler == nil {
		return smtp.NewResponse(smtp.Code504, "5.5.4", "Unrecognized authentication mechanism"), nil
	}

	username, secret, err := handler.Authenticate(ctx, s.authConversation(), cmd.InitialResponse)
	if err != nil {
		return s.authFailure(err)
	}

	user, err := s.options.UserAuthenticator.Authenticate(ctx, cmd.Mechanism, username, secret)
	if err != nil {
		return s.authFailure(err)
	}

	s.authenticatedUser = user
	s.authAttempts = 0
	s.log.LogAuthentication(cmd.Mechanism, username, true)
	s.options.Observer.OnAuthenticated(s.Context(), user)
	return smtp.NewResponse(smtp.Code235, "2.7.0", "Authentication successful"), nil
}

func handleRSET(_ context.Context, s *Session, _ *smtp.Command) (*smtp.Response, error) {
	s.transaction.Reset()
	return smtp.ResponseCommandOK(), nil
}

func handleNOOP(_ context.Context, _ *Session, _ *smtp.Command) (*smtp.Response, error) {
	return smtp.ResponseCommandOK(), nil
}

func handleQUIT(_ context.Context, s *Session, _ *smtp.Command) (*smtp.Response, error) {
	return smtp.NewResponse(smtp.Code221, "2.0.0", s.options.ServerName+" closing connection").WithTerminate(), nil
}

func handleSTARTTLS(ctx context.Context, s *Session, _ *smtp.Command) (*smtp.Response, error) {
	if s.isSecure() {
		return smtp.NewResponse(smtp.Code454, "5.5.1", "TLS already active"), nil
	}
	if s.def.ServerCertificate == nil {
		return smtp.NewResponse(smtp.Code454, "5.5.1", "TLS not available due to temporary reason"), nil
	}
	if err := s.writeResponse(ctx, smtp.NewResponse(smtp.Code220, "", "Ready to start TLS")); err != nil {
		return nil, err
	}
	if err := s.upgradeToTLS(ctx); err != nil {
		return nil, fmt.Errorf("server: STARTTLS handshake: %w", err)
	}
	// RFC 3207: all prior protocol state is discarded after a successful
	// STARTTLS; the client must re-issue HELO/EHLO.
	s.peerName = ""
	s.transaction.Reset()
	s.state = smtp.Initialized
	return nil, nil
}

func handleVRFY(_ context.Context, _ *Session, _ *smtp.Command) (*smtp.Response, error) {
	// VRFY never confirms or denies mailbox existence, to avoid enabling
	// address enumeration; DNS/MX lookup and a real directory check are out
	// of scope for this module regardless.
	return smtp.NewResponse(smtp.Code252, "2.1.5", "Cannot VRFY user, but will accept message and attempt delivery"), nil
}
