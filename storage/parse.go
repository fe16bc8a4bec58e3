package storage

import (
	"bytes"
	"strings"

	"github.com/jhillyerd/enmime"
)

// Headers carries the small set of MIME headers worth indexing alongside a
// stored message, without holding onto the parsed MIME tree itself.
type Headers struct {
	Subject   string
	MessageID string
	From      string
	To        []string
}

// ExtractHeaders parses just enough of a MIME message to pull its Subject,
// Message-ID, From and To headers, for SpoolEntry/maildir listing metadata.
// A malformed or non-MIME body is not an error here: ExtractHeaders returns
// the zero Headers rather than failing the whole DATA transaction over a
// header an upstream store doesn't strictly need.
func ExtractHeaders(body []byte) Headers {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(body))
	if err != nil || envelope == nil {
		return Headers{}
	}
	return Headers{
		Subject:   envelope.GetHeader("Subject"),
		MessageID: envelope.GetHeader("Message-ID"),
		From:      envelope.GetHeader("From"),
		To:        splitAddressList(envelope.GetHeader("To")),
	}
}

func splitAddressList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
