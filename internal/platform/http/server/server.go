// Package server runs the HTTP listener(s) and owns the lifecycle of the
// mounted services.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FlowBondTech/flowb-sub000/internal/frameworks/service"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/config"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/deps"
	tlspkg "github.com/FlowBondTech/flowb-sub000/internal/platform/http/tls"
	"github.com/FlowBondTech/flowb-sub000/internal/platform/logutil"
)

// ErrMissingSharedDeps is returned by New before deps.SetDeps has run.
var ErrMissingSharedDeps = errors.New("server: shared deps not initialized")

const (
	acmeRenewInterval = 12 * time.Hour
	drainTimeout      = 2 * time.Second
)

// Server serves the API router, plus an ACME challenge listener in acme mode.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	tls    *tlspkg.Manager

	api       *http.Server
	challenge *http.Server
	stopRenew context.CancelFunc

	// Mount order; Shutdown closes them in reverse.
	mountedServices []service.Service
}

func newHTTPServer(addr string, h http.Handler, rw time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       rw,
		WriteTimeout:      rw,
		IdleTimeout:       60 * time.Second,
	}
}

// New mounts services (nil entries skipped) behind the middleware chain.
func New(cfg *config.Config, logger *slog.Logger, services []service.Service) (*Server, error) {
	d := deps.GetDeps()
	if d == nil {
		return nil, ErrMissingSharedDeps
	}
	logger = logutil.NoopIfNil(logger)
	s := &Server{cfg: cfg, logger: logger, tls: tlspkg.NewManager(&cfg.TLS, logger)}
	s.api = newHTTPServer(cfg.Server.ListenAddr, s.setupRoutes(d, services), 30*time.Second)
	return s, nil
}

// Handler is the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.api.Handler }

// Start blocks until the server stops. After Shutdown it returns
// http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	mode := s.cfg.TLS.Mode
	s.logger.Info("starting server",
		"addr", s.cfg.Server.ListenAddr,
		"public_origin", s.cfg.Server.PublicOrigin,
		"tls_mode", mode)

	tlsConfig, err := s.tls.Config(ctx)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	s.api.TLSConfig = tlsConfig

	switch mode {
	case "", "off":
		return s.api.ListenAndServe()
	case "static":
		return s.api.ListenAndServeTLS("", "")
	case "acme":
		return s.startACME(ctx)
	}
	return fmt.Errorf("%w: %s", tlspkg.ErrInvalidTLSMode, mode)
}

// startACME serves HTTP-01 challenges and HTTPS redirects on tls.http_port
// and the API on tls.https_port. Either listener failing stops both.
func (s *Server) startACME(ctx context.Context) error {
	httpPort, httpsPort := s.cfg.TLS.HTTPPort, s.cfg.TLS.HTTPSPort
	if httpPort == 0 || httpsPort == 0 {
		return errors.New("tls.http_port and tls.https_port are required in acme mode")
	}
	host, _, err := net.SplitHostPort(s.cfg.Server.ListenAddr)
	if err != nil {
		host = s.cfg.Server.ListenAddr
	}
	acme := s.tls.ACME()

	mux := http.NewServeMux()
	mux.Handle("/.well-known/acme-challenge/", acme.ChallengeHandler())
	mux.Handle("/", httpsRedirect(httpsPort))
	s.challenge = newHTTPServer(net.JoinHostPort(host, strconv.Itoa(httpPort)), mux, 10*time.Second)
	s.api.Addr = net.JoinHostPort(host, strconv.Itoa(httpsPort))

	challengeLn, err := net.Listen("tcp", s.challenge.Addr)
	if err != nil {
		return fmt.Errorf("acme challenge listener %s: %w", s.challenge.Addr, err)
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error { return s.challenge.Serve(challengeLn) })
	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return errors.Join(ignoreClosed(s.challenge.Shutdown(drainCtx)), ignoreClosed(s.api.Shutdown(drainCtx)))
	})
	abort := func(err error) error {
		_ = s.challenge.Close()
		_ = g.Wait()
		return err
	}

	// The challenge listener must be up before Init can obtain a certificate.
	if err := acme.Init(ctx); err != nil {
		return abort(fmt.Errorf("acme init: %w", err))
	}
	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stopRenew = stop
	go acme.RunRenewal(renewCtx, acmeRenewInterval)

	apiLn, err := net.Listen("tcp", s.api.Addr)
	if err != nil {
		stop()
		return abort(fmt.Errorf("https listener %s: %w", s.api.Addr, err))
	}
	g.Go(func() error { return s.api.ServeTLS(apiLn, "", "") })

	s.logger.Info("acme listeners up",
		"http_addr", s.challenge.Addr,
		"https_addr", s.api.Addr,
		"domain", s.cfg.TLS.ACME.Domain)
	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// httpsRedirect answers 308 with the https:// form of the request URL.
func httpsRedirect(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
		switch {
		case httpsPort != 443:
			host = net.JoinHostPort(host, strconv.Itoa(httpsPort))
		case strings.Contains(host, ":"):
			host = "[" + host + "]"
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// Shutdown drains the listeners, then closes services in reverse mount order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if s.stopRenew != nil {
		s.stopRenew()
	}

	var errs []error
	if s.challenge != nil {
		errs = append(errs, s.challenge.Shutdown(ctx))
	}
	errs = append(errs, s.api.Shutdown(ctx))

	for i := len(s.mountedServices) - 1; i >= 0; i-- {
		svc := s.mountedServices[i]
		name := svc.Prefix()
		if name == "" {
			name = "/"
		}
		if err := svc.Close(); err != nil {
			s.logger.Warn("service close failed", "service", name, "error", err)
		}
	}
	return errors.Join(errs...)
}
