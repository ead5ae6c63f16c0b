package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"
)

const shutdownTimeout = 10 * time.Second

type HTTPServer interface {
	Run() error
	Shutdown() error
}

type Option func(s *http.Server)

func WithAddr(host string, port uint16) Option {
	return func(s *http.Server) {
		s.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	}
}

func WithListenAddr(addr string) Option {
	return func(s *http.Server) {
		s.Addr = addr
	}
}

func WithTimeout(read, write, idle time.Duration) Option {
	return func(s *http.Server) {
		s.ReadTimeout = read
		s.WriteTimeout = write
		s.IdleTimeout = idle
	}
}

func WithHandler(h http.Handler) Option {
	return func(s *http.Server) {
		s.Handler = h
	}
}

type httpServer struct {
	srv *http.Server
}

func NewHTTPServer(opts ...Option) HTTPServer {
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(srv)
	}

	return &httpServer{srv: srv}
}

func (s *httpServer) Run() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *httpServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
