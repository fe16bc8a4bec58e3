package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatEntryTruncatesOversizedFieldValues(t *testing.T) {
	cfg := LogConfig{Level: INFO, Format: "json", MaxFieldValueLength: 32}
	l := &stdoutLogger{baseLogger: baseLogger{config: cfg, fields: map[string]interface{}{}}}

	data := l.formatEntry(INFO, "ehlo", nil, []Field{F("hostname", strings.Repeat("a", 100))})

	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := entry.Fields["hostname"].(string)
	if !ok {
		t.Fatalf("expected hostname field to be a string, got %T", entry.Fields["hostname"])
	}
	if len(got) > 32 {
		t.Errorf("expected truncated value within 32 bytes, got %d bytes: %q", len(got), got)
	}
	if !strings.HasSuffix(got, truncatedSuffix) {
		t.Errorf("expected truncated value to end with %q, got %q", truncatedSuffix, got)
	}
}

func TestFormatEntryLeavesShortValuesUntouched(t *testing.T) {
	cfg := DefaultConfig()
	l := &stdoutLogger{baseLogger: baseLogger{config: cfg, fields: map[string]interface{}{}}}

	data := l.formatEntry(INFO, "mail from", nil, []Field{F("mailbox", "alice@example.com")})

	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Fields["mailbox"] != "alice@example.com" {
		t.Errorf("expected mailbox field unchanged, got %v", entry.Fields["mailbox"])
	}
}

func TestFormatEntryDoesNotTruncateNonStringFields(t *testing.T) {
	cfg := LogConfig{Level: INFO, Format: "json", MaxFieldValueLength: 1}
	l := &stdoutLogger{baseLogger: baseLogger{config: cfg, fields: map[string]interface{}{}}}

	data := l.formatEntry(INFO, "size", nil, []Field{F("bytes", 123456)})

	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry.Fields["bytes"].(float64) != 123456 {
		t.Errorf("expected numeric field untouched, got %v", entry.Fields["bytes"])
	}
}

func TestStdoutLoggerWritesExpectedLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = "text"
	l := &stdoutLogger{baseLogger: baseLogger{config: cfg, fields: map[string]interface{}{}}, writer: &buf}

	l.Info("session start", F("remote", "203.0.113.9:54321"))

	if !strings.Contains(buf.String(), "session start") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[INFO]") {
		t.Errorf("expected level in output, got %q", buf.String())
	}
}

func TestRedactFieldsReplacesMatchingKeys(t *testing.T) {
	fields := []Field{F("args", []string{"carol", "s3cret"}), F("mechanism", "PLAIN")}
	redacted := RedactFields(fields, map[string]interface{}{"args": []string{"[redacted]"}})

	if redacted[1].Value != "PLAIN" {
		t.Errorf("expected untouched field preserved, got %v", redacted[1].Value)
	}
	got, ok := redacted[0].Value.([]string)
	if !ok || len(got) != 1 || got[0] != "[redacted]" {
		t.Errorf("expected args replaced with redaction marker, got %v", redacted[0].Value)
	}
}
