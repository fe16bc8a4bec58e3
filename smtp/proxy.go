package smtp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrNotProxyHeader is returned by ParseProxyHeader when line does not begin
// with the PROXY v1 prefix at all. Callers use errors.Is against this
// sentinel to distinguish "this connection isn't using PROXY" (the line
// should be handed back as the session's first SMTP command) from any other
// error ParseProxyHeader returns, which means the line claimed to be a
// PROXY header but was malformed (the connection should be aborted).
var ErrNotProxyHeader = errors.New("smtp: not a PROXY header")

// ProxyHeader is a parsed PROXY protocol v1 header, as sent by a load
// balancer or TLS-terminating proxy immediately upon connecting, before any
// SMTP traffic. See the PROXY protocol specification §2.1 (text header
// format).
type ProxyHeader struct {
	Protocol   string // "TCP4", "TCP6" or "UNKNOWN"
	SourceIP   net.IP
	DestIP     net.IP
	SourcePort int
	DestPort   int
}

// ParseProxyHeader parses a single PROXY v1 header line (without its
// trailing CRLF). It returns an error for anything not beginning with
// "PROXY ", or whose fields do not parse, so callers can distinguish "this
// connection doesn't use PROXY" (treat the line as the first SMTP command
// instead) from "this connection claims PROXY but sent garbage" (close the
// connection).
func ParseProxyHeader(line string) (*ProxyHeader, error) {
	const prefix = "PROXY "
	if !strings.HasPrefix(line, prefix) {
		return nil, ErrNotProxyHeader
	}
	fields := strings.Fields(line[len(prefix):])

	if len(fields) == 1 && fields[0] == "UNKNOWN" {
		return &ProxyHeader{Protocol: "UNKNOWN"}, nil
	}
	if len(fields) != 5 {
		return nil, fmt.Errorf("smtp: malformed PROXY header: expected 5 fields, got %d", len(fields))
	}

	protocol := fields[0]
	if protocol != "TCP4" && protocol != "TCP6" {
		return nil, fmt.Errorf("smtp: unsupported PROXY protocol family %q", protocol)
	}

	srcIP := net.ParseIP(fields[1])
	dstIP := net.ParseIP(fields[2])
	if srcIP == nil || dstIP == nil {
		return nil, fmt.Errorf("smtp: invalid PROXY address fields")
	}

	srcPort, err := strconv.Atoi(fields[3])
	if err != nil || srcPort < 0 || srcPort > 65535 {
		return nil, fmt.Errorf("smtp: invalid PROXY source port")
	}
	dstPort, err := strconv.Atoi(fields[4])
	if err != nil || dstPort < 0 || dstPort > 65535 {
		return nil, fmt.Errorf("smtp: invalid PROXY destination port")
	}

	return &ProxyHeader{
		Protocol:   protocol,
		SourceIP:   srcIP,
		DestIP:     dstIP,
		SourcePort: srcPort,
		DestPort:   dstPort,
	}, nil
}

// String renders the header back to its wire form, used by tests asserting
// the round-trip property.
func (p *ProxyHeader) String() string {
	if p.Protocol == "UNKNOWN" {
		return "PROXY UNKNOWN"
	}
	return fmt.Sprintf("PROXY %s %s %s %d %d", p.Protocol, p.SourceIP, p.DestIP, p.SourcePort, p.DestPort)
}
