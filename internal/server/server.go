// Package server orchestrates all components: event loop, router, fs and
// platform modules, extension host, COMMS bus bridge, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/native-bridge/internal/config"
	"github.com/morezero/native-bridge/pkg/commsbridge"
	"github.com/morezero/native-bridge/pkg/commsutil"
	"github.com/morezero/native-bridge/pkg/eventloop"
	"github.com/morezero/native-bridge/pkg/events"
	"github.com/morezero/native-bridge/pkg/extension"
	"github.com/morezero/native-bridge/pkg/fsstate"
	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/platform"
)

const logPrefix = "server:server"

// Version is reported by the system extension and the CLI.
var Version = "0.1.0"

// Server is the native-bridge orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	loop       *eventloop.Loop
	router     *ipc.Router
	fs         *fsstate.Table
	platform   *platform.Module
	host       *extension.Host
	bridge     *commsbridge.Bridge
	httpServer *http.Server
}

// Params holds optional collaborators for New.
type Params struct {
	// Conn enables the bus publisher and invoke bridge. Nil runs without a bus.
	Conn *comms.Conn
	// Shims overrides the OS shims of the platform module.
	Shims platform.Shims
}

// New wires the bridge components. Nothing runs until Start.
func New(cfg *config.Config, p *Params) (*Server, error) {
	if p == nil {
		p = &Params{}
	}
	s := &Server{cfg: cfg, nc: p.Conn}

	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if s.nc != nil {
		publisher = events.NewCommsPublisher(s.nc, &events.CommsPublisherOpts{SubjectPrefix: cfg.EventSubjectPrefix})
	}

	s.loop = eventloop.New(cfg.QueueSize)
	s.router = ipc.NewRouter(&ipc.Options{Scheme: cfg.Scheme, Publisher: publisher})

	s.fs = fsstate.NewTable(s.router)
	s.fs.Register(s.router)

	s.platform = platform.New(s.loop, s.fs, &platform.Options{Shims: p.Shims, ShimTimeout: cfg.InvokeTimeout})
	s.platform.Register(s.router)

	host, err := extension.NewHost(s.router, &extension.HostOptions{
		Allowlist:  cfg.AllowedCapabilities,
		ArenaLimit: cfg.ArenaLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create extension host: %w", logPrefix, err)
	}
	s.host = host
	if _, err := host.Load(&systemExtension{version: Version}); err != nil {
		return nil, fmt.Errorf("%s - failed to load system extension: %w", logPrefix, err)
	}

	if s.nc != nil {
		s.bridge = commsbridge.New(s.nc, s.router, &commsbridge.Options{
			Subject: cfg.InvokeSubject,
			Timeout: cfg.InvokeTimeout,
		})
	}
	return s, nil
}

// Router returns the bridge router.
func (s *Server) Router() *ipc.Router { return s.router }

// Host returns the extension host.
func (s *Server) Host() *extension.Host { return s.host }

// Start runs the event loop and subscribes the invoke bridge.
func (s *Server) Start(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s - failed to start event loop: %w", logPrefix, err)
	}
	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			s.loop.Stop()
			return fmt.Errorf("%s - failed to start invoke bridge: %w", logPrefix, err)
		}
	}
	return nil
}

// Close stops components in reverse start order.
func (s *Server) Close() {
	if s.bridge != nil {
		if err := s.bridge.Stop(); err != nil {
			slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
		}
	}
	s.host.UnloadAll()
	s.loop.Stop()
	s.fs.CloseAll()
}

// ExtensionInfo describes one loaded extension in the health report.
type ExtensionInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Routes  []string `json:"routes"`
}

// HealthOutput is the /health body.
type HealthOutput struct {
	Status      string           `json:"status"`
	Timestamp   string           `json:"timestamp"`
	Router      ipc.Stats        `json:"router"`
	Loop        eventloop.Status `json:"loop"`
	Descriptors int              `json:"descriptors"`
	Watchers    int              `json:"watchers"`
	Contexts    int              `json:"contexts"`
	Extensions  []ExtensionInfo  `json:"extensions"`
	Bus         string           `json:"bus"`
}

// Health reports component state. The bridge is healthy while its loop
// runs and, when a bus is configured, the bus is connected.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Router:     s.router.Stats(),
		Loop:       s.loop.Status(),
		Contexts:   s.host.Live(),
		Extensions: []ExtensionInfo{},
		Bus:        "disabled",
	}
	h.Descriptors, h.Watchers = s.fs.Counts()
	for _, inst := range s.host.Instances() {
		h.Extensions = append(h.Extensions, ExtensionInfo{
			ID:      inst.ID,
			Name:    inst.Manifest.Name,
			Version: inst.Manifest.Version,
			Routes:  inst.Routes(),
		})
	}
	if s.nc != nil {
		h.Bus = "connected"
		if !s.nc.IsConnected() {
			h.Bus = "disconnected"
			h.Status = "unhealthy"
		}
	}
	if !h.Loop.Running {
		h.Status = "unhealthy"
	}
	if ctx.Err() != nil {
		h.Status = "unhealthy"
	}
	return h
}

// Handler returns the HTTP mux serving /health and /ready.
func (s *Server) Handler() http.Handler {
	healthTimeout := s.cfg.HealthCheckTimeout
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		h := s.Health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	return mux
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	// Setup structured logging
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Info(fmt.Sprintf("%s - Starting native-bridge %s", logPrefix, Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := &Params{}
	if cfg.BusEnabled() {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		defer nc.Drain()
		params.Conn = nc
	} else {
		slog.Info(fmt.Sprintf("%s - COMMS_URL not set, running without a bus", logPrefix))
	}

	s, err := New(cfg, params)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return err
	}
	defer s.Close()

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info(fmt.Sprintf("%s - Shutting down", logPrefix))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HealthCheckTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	slog.Info(fmt.Sprintf("%s - native-bridge is ready", logPrefix))
	err = g.Wait()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return err
}
