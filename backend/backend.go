package backend

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-backend/cache"
	"github.com/saiset-co/sai-backend/client"
	"github.com/saiset-co/sai-backend/config"
	"github.com/saiset-co/sai-backend/cron"
	"github.com/saiset-co/sai-backend/dnscheck"
	"github.com/saiset-co/sai-backend/health"
	"github.com/saiset-co/sai-backend/logger"
	"github.com/saiset-co/sai-backend/metrics"
	"github.com/saiset-co/sai-backend/queue"
	"github.com/saiset-co/sai-backend/server"
	"github.com/saiset-co/sai-backend/signing"
	"github.com/saiset-co/sai-backend/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const pruneJobName = "prune_response_cache"

type component struct {
	name    string
	manager types.LifecycleManager
}

// Backend is one client of the subscription backend. Every component it
// uses is owned by the instance; separate instances share nothing.
type Backend struct {
	ctx              context.Context
	cancel           context.CancelFunc
	config           *types.ServiceConfig
	logger           types.Logger
	metrics          types.MetricsManager
	store            types.Store
	cache            *cache.ResponseCache
	verifier         *signing.Verifier
	transport        *client.Transport
	executor         *executor
	backendQueue     *queue.Serial
	diagnosticsQueue *queue.Serial
	dispatcher       *Dispatcher
	cron             *cron.Manager
	health           *health.Manager
	status           *server.StatusServer
	components       []component
	state            atomic.Value
	shutdownTimeout  time.Duration
}

func New(ctx context.Context, cfg *types.ServiceConfig, opts ...Option) (*Backend, error) {
	if err := config.NewLoader().Validate(cfg); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var components []component

	log := o.logger
	if log == nil {
		loggerConfig := cfg.Logger
		if loggerConfig == nil {
			loggerConfig = &types.LoggerConfig{Level: "info"}
		}
		manager, err := logger.NewManager(loggerConfig,
			zap.String("service", cfg.Name),
			zap.String("version", cfg.Version),
		)
		if err != nil {
			return nil, err
		}
		log = manager
		components = append(components, component{name: "logger", manager: manager})
	}

	m := o.metrics
	if m == nil {
		manager, err := metrics.NewManager(cfg.Metrics, log)
		if err != nil {
			return nil, err
		}
		m = manager
	}
	components = append(components, component{name: "metrics", manager: m})

	store := o.store
	if store == nil {
		created, err := cache.NewStore(ctx, cfg.Cache, log, m)
		if err != nil {
			return nil, types.WrapError(err, "failed to create cache store")
		}
		store = created
	}
	components = append(components, component{name: "store", manager: store})

	keys := o.keys
	if keys == nil && cfg.Verification != nil && cfg.Verification.PublicKey != "" {
		provider, err := signing.NewStaticKeyProvider(cfg.Verification.PublicKey)
		if err != nil {
			return nil, err
		}
		keys = provider
	}

	verifier, err := signing.NewVerifier(cfg.Verification, keys, log)
	if err != nil {
		return nil, err
	}

	checker, err := newChecker(cfg.Resolver, o.resolver, log)
	if err != nil {
		return nil, err
	}

	responseCache := cache.NewResponseCache(store, log, m)
	transport := client.NewTransport(cfg.Transport, responseCache, verifier, checker, client.NewTimeoutPolicy(cfg.Transport), log, m)

	backendCtx, cancel := context.WithCancel(ctx)

	backendQueue := queue.NewSerial(backendCtx, "backend", log, m)
	diagnosticsQueue := queue.NewSerial(backendCtx, "diagnostics", log, m)

	b := &Backend{
		ctx:       backendCtx,
		cancel:    cancel,
		config:    cfg,
		logger:    log,
		metrics:   m,
		store:     store,
		cache:     responseCache,
		verifier:  verifier,
		transport: transport,
		executor: &executor{
			builder:   client.NewRequestBuilder(cfg.Backend, responseCache, verifier),
			transport: transport,
			config:    cfg.Backend,
			logger:    log,
			metrics:   m,
		},
		backendQueue:     backendQueue,
		diagnosticsQueue: diagnosticsQueue,
		dispatcher:       NewDispatcher(backendQueue, diagnosticsQueue, cfg.Dispatcher, log, m),
		cron:             cron.NewManager(backendCtx, cfg.Cron, log, m),
		shutdownTimeout:  30 * time.Second,
	}

	components = append(components,
		component{name: "backend_queue", manager: backendQueue},
		component{name: "diagnostics_queue", manager: diagnosticsQueue},
	)

	if cfg.Cron != nil && cfg.Cron.Enabled {
		if err := b.cron.Add(pruneJobName, cfg.Cron.PruneSpec, b.pruneJob); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to schedule cache pruning")
		}
		components = append(components, component{name: "cron", manager: b.cron})
	}

	b.health = b.newHealthManager()
	components = append(components, component{name: "health", manager: b.health})

	if cfg.Status != nil && cfg.Status.Enabled {
		b.status = server.NewStatusServer(cfg.Status, b.health, m, log)
		components = append(components, component{name: "status_server", manager: b.status})
	}

	b.components = components
	b.state.Store(StateStopped)

	return b, nil
}

func newChecker(config *types.ResolverConfig, resolver dnscheck.Resolver, log types.Logger) (*dnscheck.Checker, error) {
	if resolver == nil {
		return dnscheck.NewChecker(config, log)
	}

	timeout := 3 * time.Second
	var extra []string
	if config != nil {
		if config.Timeout > 0 {
			timeout = config.Timeout
		}
		extra = config.BadAddress
	}

	return dnscheck.NewCheckerWithResolver(resolver, log, timeout, extra...), nil
}

func (b *Backend) Start() error {
	if !b.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	for _, c := range b.components {
		if c.manager.IsRunning() {
			continue
		}
		if err := c.manager.Start(); err != nil {
			b.setState(StateStopped)
			return types.WrapError(err, "failed to start "+c.name)
		}
	}

	b.setState(StateRunning)
	b.logger.Info("Backend started",
		zap.String("base_url", b.config.Backend.BaseURL),
		zap.String("verification", string(b.verifier.Mode())))

	return nil
}

// Stop drains both queues, so every pending callback still fires, and then
// releases the store and the transport.
func (b *Backend) Stop() error {
	if !b.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		b.setState(StateStopped)
		b.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for i := len(b.components) - 1; i >= 0; i-- {
			c := b.components[i]

			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}

			if c.name == "store" {
				b.transport.Close()
			}

			if !c.manager.IsRunning() {
				continue
			}

			if err := c.manager.Stop(); err != nil {
				b.logger.Error("Failed to stop component", zap.String("component", c.name), zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		b.logger.Warn("Backend stop timeout", zap.Error(err))
		return err
	}

	return nil
}

func (b *Backend) newHealthManager() *health.Manager {
	var checkTimeout time.Duration
	if b.config.Status != nil {
		checkTimeout = b.config.Status.CheckTimeout
	}

	manager := health.NewManager(types.ServiceInfo{
		Name:    b.config.Name,
		Version: b.config.Version,
		BaseURL: b.config.Backend.BaseURL,
	}, checkTimeout, b.logger)

	manager.RegisterChecker("store", health.ComponentChecker(b.store))
	manager.RegisterChecker("transport", b.transportCheck)
	manager.RegisterChecker("backend_queue", health.ComponentChecker(b.backendQueue))
	manager.RegisterChecker("diagnostics_queue", health.ComponentChecker(b.diagnosticsQueue))
	if b.config.Cron != nil && b.config.Cron.Enabled {
		manager.RegisterChecker("cron", health.ComponentChecker(b.cron))
	}

	return manager
}

// transportCheck degrades to unknown while any fallback-capable path is
// inside its reduced-timeout window.
func (b *Backend) transportCheck(context.Context) types.HealthCheck {
	if !b.transport.IsRunning() {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "transport closed"}
	}

	check := types.HealthCheck{
		Status: types.StatusHealthy,
		Details: map[string]interface{}{
			"in_flight":    b.dispatcher.InFlight(),
			"verification": string(b.verifier.Mode()),
		},
	}

	var reduced []string
	for _, path := range []client.Path{
		client.GetOfferingsPath(""),
		client.GetProductEntitlementMappingPath(),
	} {
		if b.transport.Timeouts().IsReduced(path) {
			reduced = append(reduced, path.Name())
		}
	}

	if len(reduced) > 0 {
		check.Status = types.StatusUnknown
		check.Message = "recent server failures, using reduced timeouts"
		check.Details["reduced"] = reduced
	}

	return check
}

// Health runs the local component checks.
func (b *Backend) Health(ctx context.Context) types.HealthReport {
	return b.health.Check(ctx)
}

// StatusAddr is the status server address, or empty when it is disabled
// or not started.
func (b *Backend) StatusAddr() string {
	if b.status == nil {
		return ""
	}
	return b.status.Addr()
}

func (b *Backend) IsRunning() bool {
	return b.getState() == StateRunning
}

func (b *Backend) Logger() types.Logger {
	return b.logger
}

func (b *Backend) Metrics() types.MetricsManager {
	return b.metrics
}

func (b *Backend) Verifier() *signing.Verifier {
	return b.verifier
}

func (b *Backend) GetCustomerInfo(appUserID string, delay Delay, completion Completion) {
	if missingUserID(appUserID) {
		b.reject(opGetCustomerInfo, completion)
		return
	}

	req := client.NewRequest(types.MethodGet, client.GetCustomerInfoPath(appUserID), nil)
	b.dispatch(NewCacheKey(opGetCustomerInfo, appUserID), req, delay, completion)
}

func (b *Backend) GetOfferings(appUserID string, delay Delay, completion Completion) {
	if missingUserID(appUserID) {
		b.reject(opGetOfferings, completion)
		return
	}

	req := client.NewRequest(types.MethodGet, client.GetOfferingsPath(appUserID), nil)
	b.dispatch(NewCacheKey(opGetOfferings, appUserID), req, delay, completion)
}

func (b *Backend) GetProductEntitlementMapping(delay Delay, completion Completion) {
	req := client.NewRequest(types.MethodGet, client.GetProductEntitlementMappingPath(), nil)
	b.dispatch(NewCacheKey(opGetProductEntitlementMapping), req, delay, completion)
}

// LogIn switches from the current to the new app user id. Both take part in
// the key, so switching to different users never collapses.
func (b *Backend) LogIn(currentAppUserID, newAppUserID string, completion Completion) {
	if missingUserID(currentAppUserID) || missingUserID(newAppUserID) {
		b.reject(opLogIn, completion)
		return
	}

	body := LogInBody{AppUserID: currentAppUserID, NewAppUserID: newAppUserID}
	req := client.NewRequest(types.MethodPost, client.LogInPath(), body)
	b.dispatch(NewCacheKey(opLogIn, currentAppUserID, newAppUserID), req, DelayNone, completion)
}

func (b *Backend) PostReceipt(receipt ReceiptBody, completion Completion) {
	if missingUserID(receipt.AppUserID) {
		b.reject(opPostReceipt, completion)
		return
	}

	receipt.ObserverMode = receipt.ObserverMode || b.config.Backend.ObserverMode

	req := client.NewRequest(types.MethodPost, client.PostReceiptPath(), receipt)
	key, err := bodyCacheKey(opPostReceipt, req, receipt.AppUserID)
	if err != nil {
		completion(nil, err)
		return
	}

	b.dispatch(key, req, DelayNone, completion)
}

func (b *Backend) PostAttributes(appUserID string, attributes SubscriberAttributes, completion Completion) {
	if missingUserID(appUserID) {
		b.reject(opPostAttributes, completion)
		return
	}

	req := client.NewRequest(types.MethodPost, client.PostAttributesPath(appUserID), AttributesBody{Attributes: attributes})
	key, err := bodyCacheKey(opPostAttributes, req, appUserID)
	if err != nil {
		completion(nil, err)
		return
	}

	b.dispatch(key, req, DelayNone, completion)
}

// PostDiagnostics runs on its own queue so diagnostics never delay
// customer-facing requests.
func (b *Backend) PostDiagnostics(entries []DiagnosticsEntry, completion Completion) {
	req := client.NewRequest(types.MethodPost, client.PostDiagnosticsPath(), DiagnosticsBody{Entries: entries})
	key, err := bodyCacheKey(opPostDiagnostics, req)
	if err != nil {
		completion(nil, err)
		return
	}

	b.dispatch(key, req, DelayNone, completion)
}

func (b *Backend) HealthCheck(completion Completion) {
	req := client.NewRequest(types.MethodGet, client.HealthPath(), nil)
	b.dispatch(NewCacheKey(opHealthCheck), req, DelayNone, completion)
}

// ClearCaches drops every cached response, for example after the user
// changed.
func (b *Backend) ClearCaches(ctx context.Context) error {
	if err := b.cache.Clear(ctx); err != nil {
		return err
	}
	b.logger.Info("Response cache cleared")
	return nil
}

// PruneCache drops entries not validated within the configured max age.
func (b *Backend) PruneCache(ctx context.Context) (int, error) {
	return b.cache.Prune(ctx, b.maxAge())
}

func (b *Backend) dispatch(key CacheKey, req *client.Request, delay Delay, completion Completion) {
	if completion == nil {
		completion = func(*types.Response, error) {}
	}

	b.dispatcher.Dispatch(Operation{
		Key:         key,
		Diagnostics: req.Path.IsDiagnostics(),
		Execute: func(ctx context.Context) (*types.Response, error) {
			return b.executor.execute(ctx, req)
		},
	}, delay, completion)
}

func (b *Backend) reject(operation string, completion Completion) {
	b.logger.Warn("Rejected operation without app user id", zap.String("operation", operation))
	if completion != nil {
		completion(nil, types.NewMissingAppUserIDError())
	}
}

func (b *Backend) pruneJob(ctx context.Context) error {
	removed, err := b.PruneCache(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("Response cache pruned", zap.Int("removed", removed))
	return nil
}

func (b *Backend) maxAge() time.Duration {
	if b.config.Cron != nil && b.config.Cron.MaxAge > 0 {
		return b.config.Cron.MaxAge
	}
	return 30 * 24 * time.Hour
}

func missingUserID(appUserID string) bool {
	return strings.TrimSpace(appUserID) == ""
}

func (b *Backend) getState() State {
	return b.state.Load().(State)
}

func (b *Backend) setState(newState State) {
	b.state.Store(newState)
}

func (b *Backend) transitionState(from, to State) bool {
	return b.state.CompareAndSwap(from, to)
}
