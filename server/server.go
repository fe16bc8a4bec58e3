package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"esmtpd/logging"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for in-flight
// sessions to drain once a caller asks for graceful shutdown without its
// own context deadline.
const DefaultShutdownTimeout = 10 * time.Second

// Server owns the set of endpoint listeners and the in-flight sessions they
// have produced; it is the top of the component dependency order described
// in this module's design (Tokenizer -> Parser -> Commands -> state machine
// -> Session -> Endpoint -> Server).
type Server struct {
	options *Options

	listeners *listenerSet

	sessions   map[*Session]struct{}
	sessionsMu sync.Mutex
	sessionsWG sync.WaitGroup

	shuttingDown int32
}

// NewServer validates opts (after EnsureDefaults has been applied by the
// caller, typically cmd/root.go) and returns a Server ready to Start.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("server: nil options")
	}
	return &Server{
		options:  opts,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Start opens every configured endpoint and blocks until ctx is cancelled,
// at which point it performs a graceful Shutdown before returning.
func (s *Server) Start(ctx context.Context) error {
	set, err := startAll(ctx, s, s.options.Endpoints)
	if err != nil {
		return fmt.Errorf("server: start endpoints: %w", err)
	}
	s.listeners = set

	s.options.Logger.Info("esmtpd server started",
		logging.F("server_name", s.options.ServerName),
		logging.F("endpoints", len(s.options.Endpoints)))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// handleConnection is invoked by each endpointListener's accept loop, one
// goroutine per accepted connection, for the lifetime of that connection's
// session. It closes conn when the session ends.
func (s *Server) handleConnection(conn net.Conn, def EndpointDefinition) {
	defer func() { _ = conn.Close() }()
	defer func() {
		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			s.options.ConnectionThrottle.Release(tcpAddr.IP)
		}
	}()

	var tlsState *tls.ConnectionState
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			s.options.Logger.Warn("implicit TLS handshake failed", logging.F("err", err.Error()))
			_ = conn.Close()
			return
		}
		state := tlsConn.ConnectionState()
		tlsState = &state
	}

	session := NewSession(conn, s.options, def, tlsState)
	s.registerSession(session)
	defer s.unregisterSession(session)

	s.options.Observer.OnSessionStart(session.Context())
	defer s.options.Observer.OnSessionEnd(session.Context())

	if err := session.Handle(context.Background()); err != nil {
		s.options.Logger.Debug("session ended", logging.F("err", err.Error()))
	}
}

func (s *Server) registerSession(sess *Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sess] = struct{}{}
	s.sessionsWG.Add(1)
}

func (s *Server) unregisterSession(sess *Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, ok := s.sessions[sess]; ok {
		delete(s.sessions, sess)
		s.sessionsWG.Done()
	}
}

func (s *Server) activeSessionSnapshot() []*Session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Shutdown stops accepting new connections, asks every in-flight session to
// close with a 421 reply, and waits for them to drain or for ctx to expire,
// whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
		return nil
	}

	if s.listeners != nil {
		s.listeners.closeAll()
	}

	sessions := s.activeSessionSnapshot()
	if len(sessions) == 0 {
		return nil
	}
	s.options.Logger.Info("shutting down: notifying sessions", logging.F("count", len(sessions)))

	for _, sess := range sessions {
		go func(ss *Session) {
			if err := ss.CloseWith421(ctx, "Service shutting down"); err != nil {
				s.options.Logger.Debug("CloseWith421 error", logging.F("err", err.Error()))
			}
		}(sess)
	}

	done := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
