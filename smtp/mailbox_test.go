package smtp

import "testing"

func TestValidateLocalPart(t *testing.T) {
	valid := []string{"john", "john.doe", "john+tag", `"quoted local"`}
	for _, l := range valid {
		if !ValidateLocalPart(l) {
			t.Errorf("ValidateLocalPart(%q) = false, want true", l)
		}
	}
	invalid := []string{"", ".leading", "trailing.", "john..doe", `"unterminated`}
	for _, l := range invalid {
		if ValidateLocalPart(l) {
			t.Errorf("ValidateLocalPart(%q) = true, want false", l)
		}
	}
}

func TestValidateDomain(t *testing.T) {
	valid := []string{"example.com", "a.b.c", "xn--fsqu00a.com"}
	for _, d := range valid {
		if !ValidateDomain(d) {
			t.Errorf("ValidateDomain(%q) = false, want true", d)
		}
	}
	invalid := []string{"", "-lead.com", "trail-.com", ".com", "a..b"}
	for _, d := range invalid {
		if ValidateDomain(d) {
			t.Errorf("ValidateDomain(%q) = true, want false", d)
		}
	}
}

func TestParseAddressLiteralIPv4(t *testing.T) {
	d, ok := ParseAddressLiteral("192.168.1.1")
	if !ok || d != "192.168.1.1" {
		t.Fatalf("ParseAddressLiteral(192.168.1.1) = (%q, %v)", d, ok)
	}
	if _, ok := ParseAddressLiteral("256.1.1.1"); ok {
		t.Error("256.1.1.1 should not be a valid IPv4 literal")
	}
	if _, ok := ParseAddressLiteral("01.1.1.1"); ok {
		t.Error("octets with leading zero should be rejected")
	}
}

func TestParseAddressLiteralIPv6(t *testing.T) {
	d, ok := ParseAddressLiteral("IPv6:2001:db8::1")
	if !ok || d != "IPv6:2001:db8::1" {
		t.Fatalf("ParseAddressLiteral(IPv6:...) = (%q, %v)", d, ok)
	}
	if _, ok := ParseAddressLiteral("IPv6:not-an-address"); ok {
		t.Error("malformed IPv6 literal should be rejected")
	}
}

func TestMailboxString(t *testing.T) {
	m := NewMailbox("john", "example.com", false)
	if got, want := m.String(), "john@example.com"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMailboxStringAddressLiteral(t *testing.T) {
	m := NewMailbox("john", "192.168.1.1", true)
	if got, want := m.String(), "john@[192.168.1.1]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	m6 := NewMailbox("john", "IPv6:2001:db8::1", true)
	if got, want := m6.String(), "john@[IPv6:2001:db8::1]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMailboxAddressLiteralRoundTrips(t *testing.T) {
	for _, addr := range []string{"john@[192.168.1.1]", "john@[IPv6:2001:db8::1]"} {
		tok := NewTokenizer(addr)
		m, ok := parseMailbox(tok)
		if !ok {
			t.Fatalf("parseMailbox(%q) failed", addr)
		}
		if got := m.String(); got != addr {
			t.Errorf("round trip: parseMailbox(%q).String() = %q, want %q", addr, got, addr)
		}
	}
}

func TestMailboxValidate(t *testing.T) {
	m := NewMailbox("john", "example.com", false)
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	bad := NewMailbox("", "example.com", false)
	if err := bad.Validate(); err == nil {
		t.Error("Validate() with empty local-part should fail")
	}
}
