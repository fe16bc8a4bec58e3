package storage

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v2"

	"esmtpd/logging"
)

// Spool is an embedded key-value alternative to Maildir: every accepted
// message is written as one badger entry keyed by its delivery timestamp
// and a monotonic counter, so iteration order matches arrival order without
// needing a directory listing.
type Spool struct {
	db *badger.DB
}

// SpoolEntry is the value stored for one message; Subject and MessageID are
// populated by storage.ExtractHeaders before Put is called, so a spool
// reader doesn't need to re-parse the MIME body just to list messages.
type SpoolEntry struct {
	From      string
	To        []string
	Subject   string
	MessageID string
	Body      []byte
	StoredAt  time.Time
}

// OpenSpool opens (creating if absent) a badger database rooted at dir.
func OpenSpool(dir string) (*Spool, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open spool at %s: %w", dir, err)
	}
	return &Spool{db: db}, nil
}

// Close releases the underlying badger database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Put persists one SpoolEntry, keyed so iteration in key order is arrival
// order.
func (s *Spool) Put(entry SpoolEntry) error {
	entry.StoredAt = time.Now()
	key := spoolKey(entry.StoredAt)

	err := s.db.Update(func(txn *badger.Txn) error {
		data, err := encodeSpoolEntry(entry)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err == nil {
		spoolLogger.Info("message spooled", logging.F("from", entry.From), logging.F("to", len(entry.To)))
	}
	return err
}

// List returns up to limit entries in arrival order, starting from the
// oldest retained message. limit <= 0 means no bound.
func (s *Spool) List(limit int) ([]SpoolEntry, error) {
	var entries []SpoolEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			item := it.Item()
			var entry SpoolEntry
			err := item.Value(func(val []byte) error {
				decoded, derr := decodeSpoolEntry(val)
				if derr != nil {
					return derr
				}
				entry = decoded
				return nil
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

var spoolCounter atomic.Int64

func spoolKey(t time.Time) []byte {
	n := spoolCounter.Add(1)
	return []byte(fmt.Sprintf("msg:%020d:%010d", t.UnixNano(), n))
}

// encodeSpoolEntry uses a flat length-prefixed text encoding rather than a
// general-purpose serialization library: the record shape is fixed and
// small, and badger already owns the on-disk format concerns (compaction,
// value-log GC) that a serialization library would not help with.
func encodeSpoolEntry(e SpoolEntry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", e.From)
	fmt.Fprintf(&b, "%s\n", strings.Join(e.To, ","))
	fmt.Fprintf(&b, "%s\n", strings.ReplaceAll(e.Subject, "\n", " "))
	fmt.Fprintf(&b, "%s\n", e.MessageID)
	fmt.Fprintf(&b, "%d\n", e.StoredAt.UnixNano())
	b.Write(e.Body)
	return []byte(b.String()), nil
}

func decodeSpoolEntry(data []byte) (SpoolEntry, error) {
	parts := strings.SplitN(string(data), "\n", 6)
	if len(parts) != 6 {
		return SpoolEntry{}, fmt.Errorf("storage: malformed spool entry")
	}
	var storedAtNanos int64
	if _, err := fmt.Sscanf(parts[4], "%d", &storedAtNanos); err != nil {
		return SpoolEntry{}, fmt.Errorf("storage: malformed spool timestamp: %w", err)
	}
	var to []string
	if parts[1] != "" {
		to = strings.Split(parts[1], ",")
	}
	return SpoolEntry{
		From:      parts[0],
		To:        to,
		Subject:   parts[2],
		MessageID: parts[3],
		StoredAt:  time.Unix(0, storedAtNanos),
		Body:      []byte(parts[5]),
	}, nil
}

var spoolLoggerCfg = logging.DefaultConfig()
var spoolLogger = logging.NewStdoutLogger(&spoolLoggerCfg)
