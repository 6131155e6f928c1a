package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"proxyhub/internal/admin"
	"proxyhub/internal/audit"
	"proxyhub/internal/auth"
	"proxyhub/internal/channel"
	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/gateway"
	"proxyhub/internal/proxy"
	"proxyhub/internal/security"
	"proxyhub/internal/session"
	"proxyhub/internal/settings"
)

// Server owns every component of a running hub and the HTTP listener that
// exposes them.
type Server struct {
	Bus       *events.Bus
	Store     *session.Store
	Settings  *settings.Registry
	Tokens    auth.TokenStore
	Auth      *auth.Authenticator
	Guard     *security.BruteForceProtector
	Audit     *audit.Trail
	Channel   *channel.Server
	Gateway   *gateway.Gateway
	Connector *proxy.Connector
	UseTLS    bool

	cfg     *config.Config
	handler http.Handler
	httpSrv *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	log zerolog.Logger
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ips, err := security.NewIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	s := &Server{cfg: cfg, log: log.With().Str("component", "server").Logger()}
	s.Bus = events.NewBus(log)
	s.Store = session.NewStore(s.Bus, log)
	s.Settings = settings.NewRegistry(s.Bus, nil, log)
	s.Tokens = auth.NewStore(ctx, cfg.Auth, log)
	s.Auth = auth.NewAuthenticator(cfg.Auth, s.Tokens, log)
	s.Guard = security.NewBruteForceProtector(constants.MaxAuthAttempts, constants.BlockDuration)

	var recorder channel.SecurityRecorder
	if cfg.Audit.Enabled {
		trail, err := audit.Open(cfg.Audit, log)
		if err != nil {
			s.log.Warn().Err(err).Msg("⚠️  audit trail unavailable, continuing without it")
		} else {
			s.Audit = trail
			recorder = trail
			s.Bus.Subscribe("audit", trail.Handle)
		}
	}

	opts := channel.Options{
		Observers:      s.Auth,
		Audit:          recorder,
		IPs:            ips,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if cfg.Ingest.Enabled {
		opts.Ingest = auth.NewStaticVerifier(cfg.Ingest.Tokens)
	}
	s.Channel = channel.NewServer(cfg.Channel, s.Bus, opts, log)

	var gw admin.GatewayStatus
	if cfg.Gateway.Enabled {
		s.Gateway = gateway.New(cfg.Gateway, log)
		s.Bus.Subscribe("gateway", s.Gateway.Handle)
		gw = s.Gateway
	}

	var driver proxy.Driver = proxy.NoopDriver{}
	if cfg.Proxy.DriverPath != "" {
		driver = proxy.NewExecDriver(cfg.Proxy.DriverPath, cfg.Proxy.DriverArgs, log)
	} else {
		s.log.Warn().Msg("⚠️  no proxy driver configured, connects are simulated")
	}
	popts := proxy.Options{
		Flags:          s.Settings,
		MaintenanceKey: settings.KeyMaintenance,
		GeoTimeout:     cfg.Proxy.GeoTimeout,
	}
	if cfg.Proxy.GeoLookupURL != "" {
		popts.Resolver = proxy.NewHTTPResolver(cfg.Proxy.GeoLookupURL, cfg.Proxy.GeoTimeout)
	}
	s.Connector = proxy.NewConnector(s.Store, driver, popts, log)

	api := admin.New(admin.Deps{
		Store:     s.Store,
		Connector: s.Connector,
		Settings:  s.Settings,
		Auth:      s.Auth,
		Guard:     s.Guard,
		IPs:       ips,
		Audit:     s.Audit,
		Observers: s.Channel,
		Gateway:   gw,
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointObservers, s.Channel.ServeObservers)
	mux.HandleFunc(constants.EndpointSync, s.Channel.ServeSync)
	mux.Handle(constants.EndpointAPI, GzipMiddleware(api.Handler()))
	mux.HandleFunc(constants.EndpointHealth, s.handleHealth)

	var handler http.Handler = mux
	handler = security.MaxBodySize(constants.MaxAPIBodySize)(handler)
	handler = RecoveryMiddleware(s.log)(handler)
	handler = CorsMiddleware(cfg.Server.AllowedOrigins)(handler)
	handler = security.SecurityHeaders(handler)
	s.handler = handler

	return s, nil
}

// Handler is the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"sessions":  s.Store.Count(),
		"observers": s.Channel.Count(),
	})
}

// Run serves on the configured address until ctx is cancelled, then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startBackground(runCtx)

	tlsCfg := s.cfg.Server.TLS
	if tlsCfg.Enabled {
		if _, err := os.Stat(tlsCfg.CertFile); err == nil {
			if _, err := os.Stat(tlsCfg.KeyFile); err == nil {
				s.UseTLS = true
			}
		}
		if !s.UseTLS {
			s.log.Warn().Str("cert", tlsCfg.CertFile).Msg("⚠️  TLS enabled but certs not found, serving plain HTTP")
		}
	}

	h := s.handler
	if !s.UseTLS {
		h = h2c.NewHandler(h, &http2.Server{})
	}
	s.httpSrv = &http.Server{
		Handler:           h,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		MaxHeaderBytes:    constants.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.UseTLS {
			s.log.Info().Msg("🔒 HTTPS enabled (HTTP/2)")
			err = s.httpSrv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			s.log.Info().Msg("🌐 HTTP mode (HTTP/2 enabled)")
			err = s.httpSrv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("🚀 proxyhub server starting")
	s.Bus.Publish(events.ServiceStatus(constants.ServiceStarting, "listening on "+ln.Addr().String(), time.Now()))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer done()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("⚠️  server forced to shutdown")
	}
	return serveErr
}

func (s *Server) startBackground(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Guard.Run(ctx, constants.CleanupInterval)
	}()

	if s.Gateway != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Gateway.Run(ctx)
		}()
	}
}

// Shutdown stops the listener, ends every session, closes observers and then
// the gateway, audit trail and grant store. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.log.Info().Msg("🛑 Shutting down server...")
		s.Bus.Publish(events.ServiceStatus(constants.ServiceStopping, "shutting down", time.Now()))

		if s.httpSrv != nil {
			if e := s.httpSrv.Shutdown(ctx); e != nil {
				err = errors.Join(err, fmt.Errorf("http: %w", e))
			}
		}

		// observers are still attached and see the final disconnects
		s.Connector.Shutdown(ctx)

		if e := s.Channel.Shutdown(ctx); e != nil {
			err = errors.Join(err, fmt.Errorf("channel: %w", e))
		}

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()

		if s.Audit != nil {
			if e := s.Audit.Close(); e != nil {
				err = errors.Join(err, fmt.Errorf("audit: %w", e))
			}
		}
		if e := s.Tokens.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("tokens: %w", e))
		}
		s.log.Info().Msg("✅ Server stopped")
	})
	return err
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
