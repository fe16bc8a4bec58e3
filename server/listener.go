package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"esmtpd/logging"
)

// MinTLSVersion is the minimum TLS version offered on any secure endpoint or
// STARTTLS upgrade.
const MinTLSVersion = tls.VersionTLS12

// endpointListener owns the net.Listener for one EndpointDefinition and runs
// its accept loop in its own goroutine, handing each accepted connection to
// the server's per-connection session handler.
type endpointListener struct {
	def      EndpointDefinition
	listener net.Listener
	server   *Server
}

func newTLSConfig(server *Server, def EndpointDefinition) *tls.Config {
	return &tls.Config{
		MinVersion: MinTLSVersion,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if def.ServerCertificate != nil {
				return def.ServerCertificate, nil
			}
			hostname := hello.ServerName
			if hostname == "" {
				hostname = server.options.ServerName
			}
			cert, err := GenerateSelfSignedCert(hostname)
			if err != nil {
				return nil, fmt.Errorf("generate self-signed certificate: %w", err)
			}
			return &cert, nil
		},
	}
}

// start opens the endpoint's listener (plain or implicit TLS) and returns
// once it is open. It does not accept connections itself; startAll runs
// acceptLoop in a new goroutine per endpoint.
func (el *endpointListener) start() error {
	addr := net.JoinHostPort(el.def.Address, strconv.Itoa(el.def.Port))

	var listener net.Listener
	var err error
	if el.def.IsSecure {
		listener, err = tls.Listen("tcp", addr, newTLSConfig(el.server, el.def))
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	el.listener = listener
	return nil
}

// acceptLoop runs until the listener is closed (by shutdown). Any other
// accept error is logged and the loop continues.
func (el *endpointListener) acceptLoop() {
	log := el.server.options.Logger
	addr := net.JoinHostPort(el.def.Address, strconv.Itoa(el.def.Port))
	log.Info("endpoint listening", logging.F("addr", addr), logging.F("secure", el.def.IsSecure))

	for {
		conn, err := el.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				log.Info("endpoint listener closed", logging.F("addr", addr))
				el.server.options.Observer.OnEndpointEvent(EndpointStopped, el.def)
				return
			}
			log.Warn("accept failed", logging.F("addr", addr), logging.F("err", err.Error()))
			continue
		}

		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			if !el.server.options.ConnectionThrottle.Allow(tcpAddr.IP) {
				log.Warn("connection throttled", logging.F("remote", tcpAddr.String()))
				_ = conn.Close()
				continue
			}
		}

		go el.server.handleConnection(conn, el.def)
	}
}

func (el *endpointListener) close() error {
	if el.listener == nil {
		return nil
	}
	return el.listener.Close()
}

// listenerSet tracks every endpointListener the server has opened, so
// Shutdown can close them all without accepting further connections.
type listenerSet struct {
	mu        sync.Mutex
	listeners []*endpointListener
}

func (ls *listenerSet) add(el *endpointListener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.listeners = append(ls.listeners, el)
}

func (ls *listenerSet) closeAll() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, el := range ls.listeners {
		_ = el.close()
	}
}

// startAll opens and begins accepting on every endpoint in defs, returning
// once all listeners are open (or the first error is hit).
func startAll(ctx context.Context, server *Server, defs []EndpointDefinition) (*listenerSet, error) {
	set := &listenerSet{}
	for _, def := range defs {
		el := &endpointListener{def: def, server: server}
		if err := el.start(); err != nil {
			set.closeAll()
			return nil, err
		}
		set.add(el)
		server.options.Observer.OnEndpointEvent(EndpointStarted, el.def)
		go el.acceptLoop()
	}
	return set, nil
}
