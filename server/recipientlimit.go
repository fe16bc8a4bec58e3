package server

import (
	"context"

	"esmtpd/smtp"
)

// recipientLimitFilter wraps a MailboxFilter, capping the number of
// recipients a single transaction may accumulate. RCPT commands past the
// limit get a 452 ("too many recipients") rather than the generic 450/550 a
// bare FilterResult could produce, via AcceptResult's Override.
type recipientLimitFilter struct {
	next MailboxFilter
	max  int
}

// NewRecipientLimitFilter wraps next with a per-transaction recipient cap of
// max. AcceptSender is delegated unchanged; AcceptRecipient rejects with 452
// once recipientCount has already reached max, before consulting next.
func NewRecipientLimitFilter(next MailboxFilter, max int) MailboxFilter {
	return recipientLimitFilter{next: next, max: max}
}

func (f recipientLimitFilter) AcceptSender(ctx context.Context, session *SessionContext, mailbox *smtp.Mailbox) AcceptResult {
	return f.next.AcceptSender(ctx, session, mailbox)
}

func (f recipientLimitFilter) AcceptRecipient(ctx context.Context, session *SessionContext, mailbox *smtp.Mailbox, recipientCount int) AcceptResult {
	if recipientCount >= f.max {
		return RejectWith(NoTemporarily, smtp.NewResponse(smtp.Code452, "4.5.3", "Too many recipients"))
	}
	return f.next.AcceptRecipient(ctx, session, mailbox, recipientCount)
}
