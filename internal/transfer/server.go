package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/dhara/pkg/logging"
)

type ServerOptions struct {
	Port              int
	ReadHeaderTimeout time.Duration
	Logger            logrus.FieldLogger
}

// Server is the HTTP server for a single session. Every request is
// dispatched to the session, which answers its own route and 404s the rest.
type Server struct {
	session    Session
	httpServer *http.Server
	port       int
	log        logrus.FieldLogger

	mu       sync.Mutex
	listener net.Listener

	errs     chan error
	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a new transfer server
func NewServer(session Session, opts ServerOptions) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Logger()
	}
	return &Server{
		session: session,
		httpServer: &http.Server{
			Handler:           session,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
		},
		port: opts.Port,
		log:  log,
		errs: make(chan error, 1),
	}
}

// Start binds the port and serves in the background. Bind errors are
// returned directly; later serve failures arrive on Errors.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("transfer server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.listener = ln
	if lc, ok := s.session.(lifecycle); ok {
		lc.onListen()
	}

	s.log.WithField("addr", ln.Addr().String()).Info("Transfer server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
	}()
	return nil
}

// Addr is the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors reports a failure of the serve loop.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Stop drains in-flight requests until ctx is done, then closes every
// connection. Only the first call does anything; later calls return the
// first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown(ctx)
	})
	return s.stopErr
}

func (s *Server) shutdown(ctx context.Context) error {
	if lc, ok := s.session.(lifecycle); ok {
		defer lc.onStop()
	}

	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("In-flight transfers did not finish in time, closing connections")
		err = s.httpServer.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to stop transfer server: %w", err)
	}
	s.log.Info("Transfer server stopped")
	return nil
}
