package server

import (
	"context"
	"fmt"

	"esmtpd/storage"
)

// SpoolMessageStore adapts storage.Spool (a badger-backed embedded
// key-value store) to the MessageStore interface, as an alternative to
// DefaultMessageStore's Maildir directory for deployments that would
// rather not depend on a filesystem layout for message listing.
type SpoolMessageStore struct {
	spool *storage.Spool
}

// NewSpoolMessageStore opens (creating if absent) a badger database rooted
// at dir and returns a MessageStore backed by it.
func NewSpoolMessageStore(dir string) (*SpoolMessageStore, error) {
	spool, err := storage.OpenSpool(dir)
	if err != nil {
		return nil, fmt.Errorf("server: open spool message store: %w", err)
	}
	return &SpoolMessageStore{spool: spool}, nil
}

// Store converts txn into a storage.SpoolEntry, extracting Subject and
// Message-ID from the body via storage.ExtractHeaders so a spool reader
// doesn't need to re-parse MIME just to list messages.
func (s *SpoolMessageStore) Store(_ context.Context, txn *MessageTransaction) error {
	from, to := transactionAddrs(txn)
	headers := storage.ExtractHeaders(txn.MessageBytes)

	return s.spool.Put(storage.SpoolEntry{
		From:      from,
		To:        to,
		Subject:   headers.Subject,
		MessageID: headers.MessageID,
		Body:      txn.MessageBytes,
	})
}

// Close releases the underlying badger database.
func (s *SpoolMessageStore) Close() error {
	return s.spool.Close()
}
