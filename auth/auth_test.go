package auth

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

// scriptedConversation replays a fixed sequence of client responses and
// records every server continuation it was asked to write, so a mechanism's
// dialogue can be driven without a real network connection.
type scriptedConversation struct {
	responses []string
	pos       int
	written   []string
}

func (c *scriptedConversation) ReadLine(context.Context) (string, error) {
	if c.pos >= len(c.responses) {
		return "", context.DeadlineExceeded
	}
	line := c.responses[c.pos]
	c.pos++
	return line, nil
}

func (c *scriptedConversation) WriteContinuation(_ context.Context, payload string) error {
	c.written = append(c.written, payload)
	return nil
}

func TestPlainWithInitialResponse(t *testing.T) {
	h := NewHandler(MechanismPlain)
	initial := base64.StdEncoding.EncodeToString([]byte("\x00bob\x00swordfish"))
	conv := &scriptedConversation{}

	user, secret, err := h.Authenticate(context.Background(), conv, initial)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "bob" || secret != "swordfish" {
		t.Errorf("got user=%q secret=%q", user, secret)
	}
	if len(conv.written) != 0 {
		t.Error("expected no continuation when an initial response was supplied")
	}
}

func TestPlainWithoutInitialResponse(t *testing.T) {
	h := NewHandler(MechanismPlain)
	conv := &scriptedConversation{
		responses: []string{base64.StdEncoding.EncodeToString([]byte("\x00bob\x00swordfish"))},
	}

	user, secret, err := h.Authenticate(context.Background(), conv, "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "bob" || secret != "swordfish" {
		t.Errorf("got user=%q secret=%q", user, secret)
	}
	if len(conv.written) != 1 {
		t.Fatalf("expected one continuation prompt, got %d", len(conv.written))
	}
}

func TestPlainMalformedPayload(t *testing.T) {
	h := NewHandler(MechanismPlain)
	conv := &scriptedConversation{}
	bad := base64.StdEncoding.EncodeToString([]byte("justonepart"))

	if _, _, err := h.Authenticate(context.Background(), conv, bad); err == nil {
		t.Error("expected an error for a payload without exactly two NUL separators")
	}
}

func TestLoginDialogue(t *testing.T) {
	h := NewHandler(MechanismLogin)
	conv := &scriptedConversation{
		responses: []string{
			base64.StdEncoding.EncodeToString([]byte("carol")),
			base64.StdEncoding.EncodeToString([]byte("letmein")),
		},
	}

	user, secret, err := h.Authenticate(context.Background(), conv, "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "carol" || secret != "letmein" {
		t.Errorf("got user=%q secret=%q", user, secret)
	}
	if len(conv.written) != 2 {
		t.Fatalf("expected Username: and Password: prompts, got %d", len(conv.written))
	}
}

func TestLoginWithInitialUsername(t *testing.T) {
	h := NewHandler(MechanismLogin)
	initialUser := base64.StdEncoding.EncodeToString([]byte("carol"))
	conv := &scriptedConversation{
		responses: []string{base64.StdEncoding.EncodeToString([]byte("letmein"))},
	}

	user, secret, err := h.Authenticate(context.Background(), conv, initialUser)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "carol" || secret != "letmein" {
		t.Errorf("got user=%q secret=%q", user, secret)
	}
	if len(conv.written) != 1 {
		t.Errorf("expected only the Password: prompt, got %d", len(conv.written))
	}
}

func TestCramMD5RoundTrip(t *testing.T) {
	h := NewHandler(MechanismCramMD5)
	var challenge string
	conv := &recordingChallengeConv{
		scriptedConversation: &scriptedConversation{},
		onChallenge: func(c string) string {
			challenge = c
			resp := GenerateCramResponse("dave", "hunter2", c)
			return base64.StdEncoding.EncodeToString([]byte(resp))
		},
	}

	// Drive once to capture the server challenge, then compute the client
	// response against it the same way a real client would.
	user, secret, err := h.Authenticate(context.Background(), conv, "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "dave" {
		t.Errorf("expected username dave, got %q", user)
	}
	if !strings.HasPrefix(secret, challenge+":") {
		t.Errorf("expected secret to carry the challenge prefix, got %q", secret)
	}
}

// recordingChallengeConv decodes the base64 challenge the handler writes and
// computes the matching client response via onChallenge, so CRAM's
// challenge/response round trip can be exercised without a live socket.
type recordingChallengeConv struct {
	*scriptedConversation
	onChallenge func(challenge string) string
}

func (c *recordingChallengeConv) WriteContinuation(ctx context.Context, payload string) error {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	c.responses = append(c.responses, c.onChallenge(string(decoded)))
	return c.scriptedConversation.WriteContinuation(ctx, payload)
}

func TestXOAuth2ExtractsUsername(t *testing.T) {
	h := NewHandler(MechanismXOAuth2)
	payload := "user=erin\x01auth=Bearer sometoken\x01\x01"
	initial := base64.StdEncoding.EncodeToString([]byte(payload))
	conv := &scriptedConversation{}

	user, secret, err := h.Authenticate(context.Background(), conv, initial)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user != "erin" {
		t.Errorf("expected username erin, got %q", user)
	}
	if secret != payload {
		t.Errorf("expected secret to be the raw decoded payload, got %q", secret)
	}
}

func TestNewHandlerUnknownMechanism(t *testing.T) {
	if NewHandler("GSSAPI") != nil {
		t.Error("expected nil Handler for an unsupported mechanism")
	}
}

func TestRedactAuthArgs(t *testing.T) {
	out := RedactAuthArgs([]string{"PLAIN", "AGJvYgBzZWNyZXQ="})
	if out[0] != "PLAIN" {
		t.Errorf("expected mechanism preserved, got %q", out[0])
	}
	if out[1] != "[redacted]" {
		t.Errorf("expected credential payload redacted, got %q", out[1])
	}
}

func TestRedactAuthArgsEmpty(t *testing.T) {
	if got := RedactAuthArgs(nil); len(got) != 0 {
		t.Errorf("expected empty slice to pass through, got %v", got)
	}
}
