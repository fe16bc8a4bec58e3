package smtp

import (
	"strings"
)

// ParseFunc parses a command's arguments from tok, which is positioned
// immediately after the verb token. It returns either a populated Command
// or a Response describing the syntax failure — never both.
type ParseFunc func(tok *Tokenizer) (*Command, *Response)

// knownVerbs lists every verb this parser recognises, used to distinguish
// "unrecognised command" (500) from "command recognised but illegal in this
// state" (503) in the state machine.
var knownVerbs = map[string]bool{
	VerbHELO: true, VerbEHLO: true, VerbAUTH: true, VerbMAIL: true,
	VerbRCPT: true, VerbDATA: true, VerbRSET: true, VerbNOOP: true,
	VerbQUIT: true, VerbSTARTTLS: true, VerbVRFY: true,
}

// IsKnownVerb reports whether verb names a command this parser implements.
func IsKnownVerb(verb string) bool {
	return knownVerbs[verb]
}

// PeekVerb lexes only the command verb from line (a single CRLF-stripped
// command line) and returns it uppercased, along with a Tokenizer positioned
// immediately after it, ready to be handed to that verb's ParseFunc. An
// empty line yields verb == "".
func PeekVerb(line string) (verb string, tok *Tokenizer) {
	tok = NewTokenizer(line)
	first := tok.Take()
	if first.Kind != Text {
		tok.Reset(0)
		return "", tok
	}
	return strings.ToUpper(first.Text), tok
}

// noArgs requires the tokenizer to be at end of input (after skipping a
// single optional trailing space), for verbs that take no arguments.
func noArgs(verb string) ParseFunc {
	return func(tok *Tokenizer) (*Command, *Response) {
		tok.SkipSpace()
		if !tok.AtEnd() {
			return nil, syntaxError(verb + " does not accept arguments")
		}
		return NewCommand(verb), nil
	}
}

// parseHeloLike returns the ParseFunc for the HELO/EHLO grammar: verb SP
// Domain-or-address-literal.
func parseHeloLike(verb string) ParseFunc {
	return func(tok *Tokenizer) (*Command, *Response) {
		if !tok.SkipSpace() {
			return nil, syntaxError(verb + " requires a domain argument")
		}
		domain, literal, ok := parseDomainOrLiteral(tok)
		if !ok || !tok.AtEnd() {
			return nil, syntaxError("invalid " + verb + " domain")
		}
		cmd := NewCommand(verb)
		cmd.Domain = domain
		if literal {
			cmd.AddressLiteral = domain
		}
		return cmd, nil
	}
}

// parseDomainOrLiteral parses either a dot-atom domain or a bracketed
// address literal, consuming the remainder of the tokenizer's current
// Text/Other run. Returns the domain text (without brackets) and whether it
// was an address literal.
func parseDomainOrLiteral(tok *Tokenizer) (domain string, literal bool, ok bool) {
	if _, bracket := tok.TakeIf(Other, "["); bracket {
		start := tok.Mark()
		for {
			if tok.AtEnd() {
				return "", false, false
			}
			if t := tok.Peek(); t.Kind == Other && t.Text == "]" {
				break
			}
			tok.Take()
		}
		inner := tok.line[start:tok.Mark()]
		tok.Take() // consume "]"
		d, valid := ParseAddressLiteral(inner)
		if !valid {
			return "", false, false
		}
		return d, true, true
	}

	start := tok.Mark()
	for {
		t := tok.Peek()
		if t.Kind == Text || t.Kind == Number {
			tok.Take()
			continue
		}
		if t.Kind == Other && t.Text == "." {
			tok.Take()
			continue
		}
		if t.Kind == Other && t.Text == "-" {
			tok.Take()
			continue
		}
		break
	}
	domain = tok.line[start:tok.Mark()]
	if !ValidateDomain(domain) {
		return "", false, false
	}
	return domain, false, true
}

// parsePath parses a reverse-path or forward-path: "<" [mailbox] ">" or a
// bare mailbox without angle brackets (accepted leniently, as most deployed
// clients and servers do). The null reverse-path "<>" yields a nil *Mailbox
// with ok=true.
func parsePath(tok *Tokenizer) (mbox *Mailbox, ok bool) {
	bracketed := false
	if _, has := tok.TakeIf(Other, "<"); has {
		bracketed = true
	}

	if bracketed {
		if _, empty := tok.TakeIf(Other, ">"); empty {
			return nil, true
		}
	}

	m, parsed := parseMailbox(tok)
	if !parsed {
		return nil, false
	}

	if bracketed {
		if _, close := tok.TakeIf(Other, ">"); !close {
			return nil, false
		}
	}
	return &m, true
}

// parseMailbox parses local-part "@" domain-or-literal.
func parseMailbox(tok *Tokenizer) (m Mailbox, ok bool) {
	local, ok := parseLocalPart(tok)
	if !ok {
		return Mailbox{}, false
	}
	if _, at := tok.TakeIf(Other, "@"); !at {
		return Mailbox{}, false
	}
	domain, literal, ok := parseDomainOrLiteral(tok)
	if !ok {
		return Mailbox{}, false
	}
	return NewMailbox(local, domain, literal), true
}

// parseLocalPart parses a dot-atom or quoted-string local-part. Quoted
// strings are read as raw characters (Advance), since they may legally
// contain spaces and '@' that the tokenizer would otherwise split on.
func parseLocalPart(tok *Tokenizer) (string, bool) {
	if !tok.AtEnd() && tok.Remainder()[0] == '"' {
		rest := tok.Remainder()
		escaped := false
		for i := 1; i < len(rest); i++ {
			c := rest[i]
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				local := rest[:i+1]
				tok.Advance(i + 1)
				if !validQuotedLocal(local) {
					return "", false
				}
				return local, true
			}
		}
		return "", false
	}

	start := tok.Mark()
	for {
		t := tok.Peek()
		if t.Kind == Text || t.Kind == Number {
			tok.Take()
			continue
		}
		if t.Kind == Other && len(t.Text) == 1 && isAtextRune(rune(t.Text[0])) {
			tok.Take()
			continue
		}
		break
	}
	local := tok.line[start:tok.Mark()]
	if !validDotAtom(local) {
		return "", false
	}
	return local, true
}

// parseEsmtpParams parses zero or more " KEYWORD[=value]" pairs, as used by
// MAIL FROM and RCPT TO for extensions such as SIZE= and BODY=. Keys are
// upper-cased; values retain their original case, per the esmtp-value
// grammar's legal octet range 33-60 / 62-126 (excludes '=' and control
// characters/space).
func parseEsmtpParams(tok *Tokenizer) (map[string]string, bool) {
	params := map[string]string{}
	for tok.SkipSpace() {
		start := tok.Mark()
		for {
			t := tok.Peek()
			if t.Kind == KindNone || t.Kind == Space {
				break
			}
			if t.Kind == Other && t.Text == "=" {
				break
			}
			tok.Take()
		}
		key := tok.line[start:tok.Mark()]
		if key == "" {
			return nil, false
		}
		key = strings.ToUpper(key)

		value := ""
		if _, eq := tok.TakeIf(Other, "="); eq {
			vstart := tok.Mark()
			for {
				t := tok.Peek()
				if t.Kind == KindNone || t.Kind == Space {
					break
				}
				tok.Take()
			}
			value = tok.line[vstart:tok.Mark()]
			for i := 0; i < len(value); i++ {
				if c := value[i]; c < 33 || c == '=' || c > 126 {
					return nil, false
				}
			}
		}
		params[key] = value
	}
	if !tok.AtEnd() {
		return nil, false
	}
	return params, true
}

// ParseMAIL parses "MAIL FROM:" path [SP esmtp-params].
func ParseMAIL(tok *Tokenizer) (*Command, *Response) {
	if !matchCaseInsensitivePrefix(tok, "FROM:") {
		return nil, syntaxError("MAIL requires FROM:<path>")
	}
	from, ok := parsePath(tok)
	if !ok {
		return nil, syntaxError("invalid reverse-path")
	}
	params, ok := parseEsmtpParams(tok)
	if !ok {
		return nil, syntaxError("invalid MAIL parameters")
	}
	cmd := NewCommand(VerbMAIL)
	cmd.From = from
	cmd.MailParams = params
	return cmd, nil
}

// ParseRCPT parses "RCPT TO:" path [SP esmtp-params].
func ParseRCPT(tok *Tokenizer) (*Command, *Response) {
	if !matchCaseInsensitivePrefix(tok, "TO:") {
		return nil, syntaxError("RCPT requires TO:<path>")
	}
	to, ok := parsePath(tok)
	if !ok || to == nil {
		return nil, syntaxError("invalid forward-path")
	}
	params, ok := parseEsmtpParams(tok)
	if !ok {
		return nil, syntaxError("invalid RCPT parameters")
	}
	cmd := NewCommand(VerbRCPT)
	cmd.To = to
	cmd.RcptParams = params
	return cmd, nil
}

// matchCaseInsensitivePrefix consumes and case-insensitively matches a
// literal prefix (e.g. "FROM:") against the tokenizer's raw remaining text,
// skipping any single leading space first. On a mismatch the tokenizer is
// left where it was.
func matchCaseInsensitivePrefix(tok *Tokenizer, prefix string) bool {
	mark := tok.Mark()
	tok.SkipSpace()
	rest := tok.Remainder()
	if len(rest) < len(prefix) || !strings.EqualFold(rest[:len(prefix)], prefix) {
		tok.Reset(mark)
		return false
	}
	tok.Advance(len(prefix))
	return true
}

// ParseAUTH parses "AUTH" SP mechanism [SP initial-response].
func ParseAUTH(tok *Tokenizer) (*Command, *Response) {
	if !tok.SkipSpace() {
		return nil, syntaxError("AUTH requires a mechanism")
	}
	start := tok.Mark()
	for {
		t := tok.Peek()
		if t.Kind != Text && t.Kind != Number {
			break
		}
		tok.Take()
	}
	mechanism := strings.ToUpper(tok.line[start:tok.Mark()])
	if mechanism == "" {
		return nil, syntaxError("AUTH requires a mechanism")
	}

	cmd := NewCommand(VerbAUTH)
	cmd.Mechanism = mechanism
	if tok.SkipSpace() {
		cmd.InitialResponse = tok.Remainder()
		tok.Advance(len(tok.Remainder()))
		if ir := cmd.InitialResponse; ir != "=" {
			if len(ir)%4 != 0 {
				return nil, syntaxError("initial response is not valid base64")
			}
			for i := 0; i < len(ir); i++ {
				c := ir[i]
				if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/' || c == '=') {
					return nil, syntaxError("initial response is not valid base64")
				}
			}
		}
	}
	if !tok.AtEnd() {
		return nil, syntaxError("invalid AUTH arguments")
	}
	return cmd, nil
}

// ParseVRFY parses "VRFY" SP query, where query is free-form text stored
// untouched in Command.Query (VRFY has no formal grammar for its argument
// beyond "some text identifying a user"). The VRFY handler answers 252
// without consulting it.
func ParseVRFY(tok *Tokenizer) (*Command, *Response) {
	if !tok.SkipSpace() {
		return nil, syntaxError("VRFY requires an argument")
	}
	cmd := NewCommand(VerbVRFY)
	cmd.Query = tok.Remainder()
	tok.Advance(len(tok.Remainder()))
	return cmd, nil
}

func syntaxError(detail string) *Response {
	return NewResponse(500, "5.5.2", "Syntax error: "+detail)
}
