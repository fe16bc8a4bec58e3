package server

import (
	"crypto/tls"
	"time"
)

// DefaultListenPort is the unprivileged port the default endpoint listens
// on when a caller configures nothing at all.
const DefaultListenPort = 2525

// EndpointDefinition describes one TCP listener the server should run.
// Endpoints are independent: one may be plaintext while another is implicit
// TLS (SMTPS), each with its own read timeout and certificate.
type EndpointDefinition struct {
	Address string
	Port    int

	// ReadTimeout bounds how long a single read may block before the
	// connection is abandoned. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration

	// IsSecure marks this endpoint as implicit TLS (SMTPS): the TLS
	// handshake happens immediately on accept, before any SMTP banner.
	// A plaintext endpoint can still upgrade via STARTTLS later in the
	// session; that is independent of this flag.
	IsSecure bool

	// ServerCertificate is used for both implicit-TLS and STARTTLS
	// handshakes on this endpoint. If nil, STARTTLS is not advertised and is
	// answered 454, while an implicit-TLS endpoint generates a self-signed
	// certificate on each handshake, for the client's SNI name or else
	// Options.ServerName.
	ServerCertificate *tls.Certificate

	// AllowUnsecureAuthentication permits AUTH before STARTTLS/implicit TLS
	// is established. Default false: AUTH is refused on a plaintext
	// channel unless this is set, or the endpoint is itself secure.
	AllowUnsecureAuthentication bool
}

// DefaultReadTimeout bounds a single read on an endpoint that did not
// specify one.
const DefaultReadTimeout = 2 * time.Minute

// DefaultEndpoint returns a single plaintext endpoint bound to all
// interfaces on DefaultListenPort, used when Options.Endpoints is empty.
func DefaultEndpoint() EndpointDefinition {
	return EndpointDefinition{
		Address:     "0.0.0.0",
		Port:        DefaultListenPort,
		ReadTimeout: DefaultReadTimeout,
	}
}

func (e EndpointDefinition) readTimeout() time.Duration {
	if e.ReadTimeout == 0 {
		return DefaultReadTimeout
	}
	return e.ReadTimeout
}

// EndpointEvent names a lifecycle transition an EndpointListener reports to
// the server's SessionObserver-shaped event surface.
type EndpointEvent int

const (
	EndpointStarted EndpointEvent = iota
	EndpointStopped
)
