package infra

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"time"
)

// HTTPServer owns the API listener and its graceful shutdown.
type HTTPServer struct {
	server *http.Server
	logger Logger
}

// NewHTTPServer builds a server from the configured timeouts. The write
// timeout is cleared per request by streaming endpoints.
func NewHTTPServer(cfg *Config, handler http.Handler, logger Logger) *HTTPServer {
	log := Component(logger, "http")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          stdlog.New(log, "", 0),
	}
	return &HTTPServer{server: srv, logger: log}
}

// Start listens on the configured address and serves until Shutdown. A
// graceful close is not reported as an error.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
