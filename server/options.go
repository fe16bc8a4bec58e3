package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"esmtpd/logging"
)

const (
	// DefaultServerName is used for the EHLO greeting and generated
	// certificates when Options.ServerName is left empty.
	DefaultServerName = "esmtpd.local"
	// DefaultMaxMessageSize is the maximum accepted DATA body size in bytes (25MB).
	DefaultMaxMessageSize = 25 * 1024 * 1024
	// DefaultMaxRetryCount is the number of consecutive failed commands
	// tolerated before the session is closed with 421.
	DefaultMaxRetryCount = 5
	// DefaultMaxAuthenticationAttempts is the number of failed AUTH attempts
	// tolerated before the session is closed.
	DefaultMaxAuthenticationAttempts = 3
	// DefaultNetworkBufferSize is the line reader's buffer size in bytes; a
	// line longer than the buffer is read in several chunks.
	DefaultNetworkBufferSize = 128
	// DefaultMaxRecipients is the number of RCPT TO recipients tolerated in a
	// single transaction before further ones are rejected with 452.
	DefaultMaxRecipients = 100
	// DefaultCommandWaitTimeout is the value EnsureDefaults gives
	// Options.CommandWaitTimeout. The session runtime does not read that
	// field; each read is bounded by the endpoint's ReadTimeout instead.
	DefaultCommandWaitTimeout = 5 * time.Minute
	// CertValidityHours is how long a generated self-signed certificate is valid.
	CertValidityHours = 24 * 365
)

// Options is the server's immutable-after-Build configuration. A caller
// constructs one (directly, or via cmd's koanf/cobra CLI wiring), calls
// EnsureDefaults, and passes it to NewServer.
type Options struct {
	ServerName string
	Endpoints  []EndpointDefinition

	MessageStore       MessageStore
	MailboxFilter      MailboxFilter
	UserAuthenticator  UserAuthenticator
	ConnectionThrottle ConnectionThrottle
	Observer           SessionObserver

	MaxMessageSize             int64
	MaxRetryCount              int
	MaxAuthenticationAttempts  int
	NetworkBufferSize          int
	MaxRecipients              int
	CommandWaitTimeout         time.Duration
	SupportedAuthenticationMethods []string

	Logger logging.Logger
}

// EnsureDefaults fills in every zero-valued field with a usable default,
// mirroring the teacher's Config.EnsureDefaults builder pattern: scalars
// first, then collection fields, then pluggable-collaborator defaults, so a
// caller can supply only the fields it cares about.
func (o *Options) EnsureDefaults() {
	o.ensureScalarDefaults()
	o.ensureEndpointDefaults()
	o.ensureExtensionDefaults()
}

func (o *Options) ensureScalarDefaults() {
	if o.ServerName == "" {
		o.ServerName = DefaultServerName
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.MaxRetryCount == 0 {
		o.MaxRetryCount = DefaultMaxRetryCount
	}
	if o.MaxAuthenticationAttempts == 0 {
		o.MaxAuthenticationAttempts = DefaultMaxAuthenticationAttempts
	}
	if o.NetworkBufferSize == 0 {
		o.NetworkBufferSize = DefaultNetworkBufferSize
	}
	if o.MaxRecipients == 0 {
		o.MaxRecipients = DefaultMaxRecipients
	}
	if o.CommandWaitTimeout == 0 {
		o.CommandWaitTimeout = DefaultCommandWaitTimeout
	}
	if o.Logger == nil {
		cfg := logging.DefaultConfig()
		logger, err := logging.NewLogger(&cfg)
		if err != nil {
			logger = logging.NewStdoutLogger(&cfg)
		}
		o.Logger = logger
	}
}

func (o *Options) ensureEndpointDefaults() {
	if len(o.Endpoints) == 0 {
		o.Endpoints = []EndpointDefinition{DefaultEndpoint()}
	}
	if len(o.SupportedAuthenticationMethods) == 0 {
		o.SupportedAuthenticationMethods = []string{"PLAIN", "LOGIN"}
	}
}

func (o *Options) ensureExtensionDefaults() {
	if o.MessageStore == nil {
		o.MessageStore = NewDefaultMessageStore("./mailbox")
	}
	if o.MailboxFilter == nil {
		o.MailboxFilter = NewAllowAllFilter()
	}
	o.MailboxFilter = NewRecipientLimitFilter(o.MailboxFilter, o.MaxRecipients)
	if o.UserAuthenticator == nil {
		o.UserAuthenticator = NewDefaultAuthenticator()
	}
	if o.ConnectionThrottle == nil {
		o.ConnectionThrottle = NewDefaultThrottle()
	}
	if o.Observer == nil {
		o.Observer = &NoOpObserver{}
	}
}

// GenerateSelfSignedCert generates an ECDSA P-256 self-signed certificate
// for hostname, used by implicit-TLS endpoints that do not supply their own
// ServerCertificate.
func GenerateSelfSignedCert(hostname string) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"esmtpd"},
			CommonName:   hostname,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(CertValidityHours * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
	}
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal EC private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("build X509 key pair: %w", err)
	}
	return cert, nil
}
