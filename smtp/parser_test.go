package smtp

import "testing"

func TestParseHeloLike(t *testing.T) {
	_, tok := PeekVerb("EHLO mail.example.com")
	cmd, resp := parseHeloLike(VerbEHLO)(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.Domain != "mail.example.com" {
		t.Errorf("Domain = %q, want mail.example.com", cmd.Domain)
	}
}

func TestParseHeloAddressLiteral(t *testing.T) {
	_, tok := PeekVerb("EHLO [192.168.1.1]")
	cmd, resp := parseHeloLike(VerbEHLO)(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.AddressLiteral == "" {
		t.Error("expected AddressLiteral to be set for bracketed domain")
	}
}

func TestParseMAILNullPath(t *testing.T) {
	_, tok := PeekVerb("MAIL FROM:<>")
	cmd, resp := ParseMAIL(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.From != nil {
		t.Errorf("From = %+v, want nil for null reverse-path", cmd.From)
	}
}

func TestParseMAILWithSize(t *testing.T) {
	_, tok := PeekVerb("MAIL FROM:<a@b.com> SIZE=12345 BODY=8BITMIME")
	cmd, resp := ParseMAIL(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.From == nil || cmd.From.Local != "a" || cmd.From.Domain != "b.com" {
		t.Fatalf("From = %+v", cmd.From)
	}
	if cmd.MailParams["SIZE"] != "12345" {
		t.Errorf("SIZE param = %q, want 12345", cmd.MailParams["SIZE"])
	}
	if cmd.MailParams["BODY"] != "8BITMIME" {
		t.Errorf("BODY param = %q, want 8BITMIME", cmd.MailParams["BODY"])
	}
}

func TestParseRCPT(t *testing.T) {
	_, tok := PeekVerb("RCPT TO:<bob@example.com>")
	cmd, resp := ParseRCPT(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.To == nil || cmd.To.Local != "bob" {
		t.Fatalf("To = %+v", cmd.To)
	}
}

func TestParseRCPTRejectsNullPath(t *testing.T) {
	_, tok := PeekVerb("RCPT TO:<>")
	_, resp := ParseRCPT(tok)
	if resp == nil {
		t.Error("RCPT TO:<> should be a syntax error")
	}
}

func TestParseAUTHWithInitialResponse(t *testing.T) {
	_, tok := PeekVerb("AUTH PLAIN AGZvbwBiYXI=")
	cmd, resp := ParseAUTH(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.Mechanism != "PLAIN" {
		t.Errorf("Mechanism = %q, want PLAIN", cmd.Mechanism)
	}
	if cmd.InitialResponse != "AGZvbwBiYXI=" {
		t.Errorf("InitialResponse = %q", cmd.InitialResponse)
	}
}

func TestParseQuotedLocalPart(t *testing.T) {
	_, tok := PeekVerb(`MAIL FROM:<"john doe"@example.com>`)
	cmd, resp := ParseMAIL(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.From == nil || cmd.From.Local != `"john doe"` {
		t.Fatalf("From = %+v", cmd.From)
	}
}

func TestParsePlusTaggedLocalPart(t *testing.T) {
	_, tok := PeekVerb("MAIL FROM:<alice+tag@example.com>")
	cmd, resp := ParseMAIL(tok)
	if resp != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if cmd.From == nil || cmd.From.Local != "alice+tag" || cmd.From.Domain != "example.com" {
		t.Fatalf("From = %+v", cmd.From)
	}
}

func TestParserBacktracksOnFailure(t *testing.T) {
	_, tok := PeekVerb("MAIL GARBAGE")
	mark := tok.Mark()
	_, resp := ParseMAIL(tok)
	if resp == nil {
		t.Fatal("expected a syntax error response")
	}
	// The production should fail fast on the FROM: prefix check without
	// partially consuming the tokenizer beyond its own attempt.
	if tok.Mark() != mark {
		t.Errorf("tokenizer position moved from %d to %d after a failed production, checkpoint discipline broken", mark, tok.Mark())
	}
}
