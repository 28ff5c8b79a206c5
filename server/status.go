package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-backend/health"
	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	HealthPath  = "/health"
	VersionPath = "/version"
	MetricsPath = "/metrics"

	routeUserValue = "route"
)

// RegistryProvider is implemented by metrics managers that expose a
// Prometheus registry.
type RegistryProvider interface {
	Registry() *prometheus.Registry
}

// StatusServer serves the health report, build version and metrics of a
// running backend on a local listener.
type StatusServer struct {
	config          *types.StatusConfig
	health          *health.Manager
	logger          types.Logger
	handler         fasthttp.RequestHandler
	server          *fasthttp.Server
	listener        net.Listener
	routes          map[string]fasthttp.RequestHandler
	version         types.VersionInfo
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewStatusServer(config *types.StatusConfig, healthManager *health.Manager, metrics types.MetricsManager, logger types.Logger) *StatusServer {
	s := &StatusServer{
		config:          config,
		health:          healthManager,
		logger:          logger,
		shutdownTimeout: 5 * time.Second,
		version: types.VersionInfo{
			Version:   healthManager.Service().Version,
			BuildInfo: health.ReadBuildInfo().String(),
		},
	}

	s.routes = map[string]fasthttp.RequestHandler{
		routeKey(fasthttp.MethodGet, HealthPath):  s.handleHealth,
		routeKey(fasthttp.MethodGet, VersionPath): s.handleVersion,
	}

	if provider, ok := metrics.(RegistryProvider); ok {
		handler := promhttp.HandlerFor(provider.Registry(), promhttp.HandlerOpts{})
		s.routes[routeKey(fasthttp.MethodGet, MetricsPath)] = fasthttpadaptor.NewFastHTTPHandler(handler)
	}

	s.handler = Chain(s.mainHandler, Recovery(logger), Logging(logger), Instrument(metrics))
	s.state.Store(StateStopped)

	return s
}

func (s *StatusServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to listen for status server")
	}

	s.listener = listener
	s.server = &fasthttp.Server{
		Handler:         s.handler,
		Name:            "sai-backend",
		ReadTimeout:     s.config.ReadTimeout,
		WriteTimeout:    s.config.WriteTimeout,
		CloseOnShutdown: true,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("Status server failed", zap.Error(err))
		}
	}()

	s.setState(StateRunning)

	s.logger.Info("Status server started", zap.String("address", listener.Addr().String()))

	return nil
}

func (s *StatusServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var g errgroup.Group

	g.Go(func() error {
		return s.server.ShutdownWithContext(ctx)
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("Status server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return nil
	}

	s.logger.Info("Status server stopped gracefully")

	return nil
}

func (s *StatusServer) IsRunning() bool {
	return s.getState() == StateRunning
}

// Addr is the bound listener address, or empty before Start.
func (s *StatusServer) Addr() string {
	if s.getState() != StateRunning || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *StatusServer) mainHandler(ctx *fasthttp.RequestCtx) {
	path := strings.TrimSuffix(string(ctx.Path()), "/")
	if path == "" {
		path = "/"
	}

	key := routeKey(string(ctx.Method()), path)
	if handler, ok := s.routes[key]; ok {
		ctx.SetUserValue(routeUserValue, key)
		handler(ctx)
		return
	}

	ctx.Error(types.ErrPathNotFound.Error(), fasthttp.StatusNotFound)
}

func (s *StatusServer) handleHealth(ctx *fasthttp.RequestCtx) {
	if !s.health.IsRunning() {
		ctx.Error(types.ErrHealthIsNotRunning.Error(), fasthttp.StatusServiceUnavailable)
		return
	}

	report := s.health.Check(ctx)

	s.writeJSON(ctx, report, report.Status == types.StatusUnhealthy)
}

func (s *StatusServer) handleVersion(ctx *fasthttp.RequestCtx) {
	s.writeJSON(ctx, s.version, false)
}

func (s *StatusServer) writeJSON(ctx *fasthttp.RequestCtx, value interface{}, unavailable bool) {
	data, err := utils.Marshal(value)
	if err != nil {
		s.logger.Error("Failed to encode status response", zap.Error(err))
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	if unavailable {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	} else {
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
	ctx.SetBody(data)
}

func (s *StatusServer) getState() State {
	return s.state.Load().(State)
}

func (s *StatusServer) setState(newState State) {
	s.state.Store(newState)
}

func (s *StatusServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func routeKey(method, path string) string {
	return method + ":" + path
}
