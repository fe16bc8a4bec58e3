package storage

import "testing"

func TestExtractHeaders(t *testing.T) {
	body := []byte(
		"From: alice@example.com\r\n" +
			"To: bob@example.net, carol@example.net\r\n" +
			"Subject: quarterly report\r\n" +
			"Message-ID: <abc123@example.com>\r\n" +
			"\r\n" +
			"body text\r\n",
	)

	h := ExtractHeaders(body)
	if h.Subject != "quarterly report" {
		t.Errorf("expected Subject extracted, got %q", h.Subject)
	}
	if h.MessageID != "<abc123@example.com>" {
		t.Errorf("expected Message-ID extracted, got %q", h.MessageID)
	}
	if h.From != "alice@example.com" {
		t.Errorf("expected From extracted, got %q", h.From)
	}
	if len(h.To) != 2 {
		t.Fatalf("expected two To addresses, got %d", len(h.To))
	}
}

func TestExtractHeadersEmptyOnMalformedBody(t *testing.T) {
	h := ExtractHeaders(nil)
	if h.Subject != "" || h.MessageID != "" {
		t.Error("expected zero Headers for an empty body, not an error")
	}
}
