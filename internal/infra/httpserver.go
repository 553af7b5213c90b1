package infra

import (
	"context"
	"net"
	"net/http"
	"time"
)

// HTTPServer owns the process's listener lifecycle. All timeouts come from
// Config: generation starts validate against the database before returning
// 202 and snapshot responses are small, so the write timeout is the knob
// deployments stretch, not the read side.
type HTTPServer struct {
	srv *http.Server
}

// NewHTTPServer builds the server around the assembled router.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{srv: &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: headerTimeout(cfg.HTTPReadTimeout),
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}}
}

// headerTimeout keeps the header deadline inside the overall read timeout so
// a tightened HTTP_READ_TIMEOUT_SECONDS is not undercut by a looser default.
func headerTimeout(read time.Duration) time.Duration {
	const ceiling = 5 * time.Second
	if read > 0 && read < ceiling {
		return read
	}
	return ceiling
}

// Addr returns the listen address the server binds to.
func (s *HTTPServer) Addr() string {
	return s.srv.Addr
}

// Start runs the server in the current goroutine until shutdown or failure.
func (s *HTTPServer) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
