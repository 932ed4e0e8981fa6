package health_monitor

import (
	"context"
	"fmt"
	"github.com/creasty/defaults"
	"github.com/jonboulle/clockwork"
	ilog "maglev-hash/x/log"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	ErrChannelNotEnabled = fmt.Errorf("channel not enabled")
)

type HealthMonitor interface {
	// Start starts the health monitor non-blocking.
	// Returns an error if there is a problem starting the health monitor.
	// To stop the health monitor, call Stop.
	Start() (err error)
	// UnhealthyChan returns a channel that receives newly unhealthy backends.
	// Backends that are removed from the health monitor are also sent to this channel,
	// but its timestamp is nil to indicate that the backend is indefinitely unreachable.
	// If initial health is set to "Unhealthy", backends that are newly added are
	// also sent to this channel.
	UnhealthyChan() (<-chan *HealthNoti, error)
	// HealthyChan returns a channel that receives newly healthy backends.
	// If initial health is set to "Healthy", backends that are newly added are
	// also sent to this channel.
	HealthyChan() (<-chan *HealthNoti, error)
	// Stop stops the health monitor. Both channels are closed once it returns.
	Stop()
	// IsHealthy returns true if the given backend is healthy.
	IsHealthy(name string) bool
	// Add adds the given backends to the health monitor.
	// If a backend already exists, it is ignored.
	// If returning an error, the health monitor is unchanged.
	Add(backends ...*BackendConfig) error
	// Remove removes the given backends from the health monitor.
	Remove(backends ...string)
	// Size returns the number of backends in the health monitor.
	Size() int
	// LastCheckedAt returns the last time the health monitor checked the backends.
	LastCheckedAt() time.Time
	// NextCheckAt returns the time the health monitor will check the backends next.
	NextCheckAt() time.Time
}

type healthMonitorImpl struct {
	cfg         Config
	backends    map[string]*Backend
	backendsMtx *sync.RWMutex
	lastChecked time.Time
	outputChans *outputChannels

	ctx           context.Context
	cancelCtx     context.CancelFunc
	started       bool
	tickerStopped chan struct{}
}

type outputChannels struct {
	ctx context.Context
	// mtx guards closed; senders hold it for reading while sending.
	mtx    sync.RWMutex
	closed bool

	enableHealthyChan   bool
	unhealthyChan       chan *HealthNoti
	enableUnhealthyChan bool
	healthyChan         chan *HealthNoti
}

// NewHealthMonitor creates a new HealthMonitor.
// Defaults are applied before the options, so options may set fields back to their zero value.
func NewHealthMonitor(ctx context.Context, opts ...Option) (HealthMonitor, error) {
	cfg := Config{
		clock:  clockwork.NewRealClock(),
		logger: ilog.Component("health_monitor"),
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("check interval must be positive, got %s", cfg.Interval)
	}

	if cfg.Timeout > cfg.Interval*2/3 {
		cfg.logger.Warn().
			Dur("timeout", cfg.Timeout).
			Dur("interval", cfg.Interval).
			Msg("Connection timeout is greater than 2/3 interval. Setting timeout to 2/3 interval.")
		cfg.Timeout = cfg.Interval * 2 / 3
	}

	ctx, cancel := context.WithCancel(ctx)
	return &healthMonitorImpl{
		cfg:           cfg,
		backends:      make(map[string]*Backend),
		backendsMtx:   &sync.RWMutex{},
		outputChans:   newOutputChannels(ctx, cfg.EnableHealthyChannel, cfg.EnableUnhealthyChannel),
		ctx:           ctx,
		cancelCtx:     cancel,
		tickerStopped: make(chan struct{}),
	}, nil
}

func (h *healthMonitorImpl) Start() (err error) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if err, ok = r.(error); !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			h.cfg.logger.Err(err).Msg("Health monitor failed to start")
		}
	}()

	h.backendsMtx.Lock()
	if h.started {
		h.backendsMtx.Unlock()
		return fmt.Errorf("health monitor already started")
	}
	h.started = true
	h.backendsMtx.Unlock()

	if len(h.cfg.Backends) > 0 {
		h.cfg.logger.Info().
			Int("backends", len(h.cfg.Backends)).
			Msgf("Adding %d backends...", len(h.cfg.Backends))

		if err = h.Add(h.cfg.Backends...); err != nil {
			// No ticker will run; let Stop return.
			close(h.tickerStopped)
			return err
		}
	}

	h.cfg.logger.Info().
		Dur("interval", h.cfg.Interval).
		Dur("timeout", h.cfg.Timeout).
		Str("protocol", string(h.cfg.Protocol)).
		Int("unhealthy_threshold", h.cfg.UnhealthyThreshold).
		Int("healthy_threshold", h.cfg.HealthyThreshold).
		Msg("Starting health monitor...")

	ticker := h.cfg.clock.NewTicker(h.cfg.Interval)
	go func() {
		defer close(h.tickerStopped)
		defer ticker.Stop()

		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.Chan():
				h.checkAll()
			}
		}
	}()

	return nil
}

// checkAll probes every backend concurrently, then applies the results.
// Probes run without holding backendsMtx; a backend removed meanwhile is skipped.
func (h *healthMonitorImpl) checkAll() {
	h.backendsMtx.RLock()
	targets := make([]*Backend, 0, len(h.backends))
	for _, backend := range h.backends {
		targets = append(targets, backend)
	}
	h.backendsMtx.RUnlock()

	results := make([]error, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, backend := range targets {
		i, backend := i, backend
		go func() {
			defer wg.Done()
			results[i] = h.probe(backend.Cfg)
		}()
	}
	wg.Wait()

	var healthy, unhealthy []*HealthNoti
	h.backendsMtx.Lock()
	now := h.cfg.clock.Now()
	h.lastChecked = now
	for i, backend := range targets {
		if h.backends[backend.Cfg.Name] != backend {
			continue
		}
		if isHealthy, newly := h.record(backend, results[i]); newly {
			if isHealthy {
				healthy = append(healthy, backend.toNoti(now))
			} else {
				unhealthy = append(unhealthy, backend.toNoti(now))
			}
		}
	}
	h.backendsMtx.Unlock()

	for _, noti := range healthy {
		h.outputChans.sendHealthy(noti)
	}
	for _, noti := range unhealthy {
		h.outputChans.sendUnhealthy(noti)
	}
}

func (h *healthMonitorImpl) Stop() {
	h.cfg.logger.Info().Msg("Stopping health monitor...")
	h.cancelCtx()

	h.backendsMtx.RLock()
	started := h.started
	h.backendsMtx.RUnlock()
	if started {
		<-h.tickerStopped
	}
	h.outputChans.close()
}

func (h *healthMonitorImpl) IsHealthy(name string) bool {
	h.backendsMtx.RLock()
	defer h.backendsMtx.RUnlock()

	if backend, ok := h.backends[name]; ok {
		return backend.healthy
	}
	return false
}

func (h *healthMonitorImpl) Add(beConfigs ...*BackendConfig) error {
	for i := range beConfigs {
		if err := defaults.Set(beConfigs[i]); err != nil {
			return err
		}

		// name and url are required
		if beConfigs[i].Name == "" {
			return fmt.Errorf("backend name is required")
		}
		if beConfigs[i].Url.String() == "" {
			return fmt.Errorf("backend URL is required")
		}
	}

	var notis []*HealthNoti
	h.backendsMtx.Lock()
	now := h.cfg.clock.Now()
	for i := range beConfigs {
		beCfg := h.withGlobalDefaults(*beConfigs[i])
		if backend, ok := h.backends[beCfg.Name]; ok {
			h.cfg.logger.Warn().
				Str("backend", backend.Cfg.Name).
				Str("url", backend.Cfg.Url.String()).
				Bool("healthy", backend.healthy).
				Msg("Backend already exists")
			continue
		}

		// Add BE state to the health monitor
		be := &Backend{
			Cfg:     beCfg,
			healthy: h.cfg.HealthyInitially,
		}
		h.backends[be.Cfg.Name] = be
		notis = append(notis, be.toNoti(now))
	}
	h.backendsMtx.Unlock()

	for _, noti := range notis {
		if noti.Healthy {
			h.outputChans.sendHealthy(noti)
		} else {
			h.outputChans.sendUnhealthy(noti)
		}
	}
	return nil
}

// withGlobalDefaults returns a copy of beCfg with unset fields taken from the global config.
func (h *healthMonitorImpl) withGlobalDefaults(beCfg BackendConfig) *BackendConfig {
	if beCfg.Timeout > h.cfg.Interval*2/3 {
		h.cfg.logger.Warn().
			Str("backend", beCfg.Name).
			Dur("timeout", beCfg.Timeout).
			Dur("interval", h.cfg.Interval).
			Msg("Connection timeout of backend is greater than 2/3 interval. Setting timeout to 2/3 interval.")
		beCfg.Timeout = h.cfg.Interval * 2 / 3
	} else if beCfg.Timeout == 0 {
		beCfg.Timeout = h.cfg.Timeout
	}
	if beCfg.Protocol == "" {
		beCfg.Protocol = h.cfg.Protocol
	}
	if beCfg.AcceptStatusCodes == nil {
		beCfg.AcceptStatusCodes = h.cfg.AcceptStatusCodes
	}
	if beCfg.UnhealthyThreshold == 0 {
		beCfg.UnhealthyThreshold = h.cfg.UnhealthyThreshold
	}
	if beCfg.HealthyThreshold == 0 {
		beCfg.HealthyThreshold = h.cfg.HealthyThreshold
	}
	if (beCfg.Protocol == HTTP || beCfg.Protocol == HTTPS) && h.cfg.HttpPath != "" &&
		(beCfg.Url.Path == "" || beCfg.Url.Path == "/") {
		beCfg.Url.Path = h.cfg.HttpPath
	}
	return &beCfg
}

func (h *healthMonitorImpl) Remove(backends ...string) {
	var notis []*HealthNoti
	h.backendsMtx.Lock()
	now := h.cfg.clock.Now()
	for _, name := range backends {
		backend, ok := h.backends[name]
		if !ok {
			h.cfg.logger.Warn().
				Str("backend", name).
				Msg("Backend does not exist to remove")
			continue
		}
		notis = append(notis, backend.toNoti(now, indefinite()))
		delete(h.backends, name)
	}
	h.backendsMtx.Unlock()

	for _, noti := range notis {
		h.outputChans.sendUnhealthy(noti)
	}
}

func (h *healthMonitorImpl) UnhealthyChan() (<-chan *HealthNoti, error) {
	return h.outputChans.unhealthyChannel()
}

func (h *healthMonitorImpl) HealthyChan() (<-chan *HealthNoti, error) {
	return h.outputChans.healthyChannel()
}

func (h *healthMonitorImpl) Size() int {
	h.backendsMtx.RLock()
	defer h.backendsMtx.RUnlock()
	return len(h.backends)
}

func (h *healthMonitorImpl) LastCheckedAt() time.Time {
	h.backendsMtx.RLock()
	defer h.backendsMtx.RUnlock()
	return h.lastChecked
}

func (h *healthMonitorImpl) NextCheckAt() time.Time {
	return h.LastCheckedAt().Add(h.cfg.Interval)
}

// probe checks the health of the given backend.
// Make a request to the backend according to the protocol: http, https, tcp, icmp
// Returns nil if the backend is healthy.
func (h *healthMonitorImpl) probe(beCfg *BackendConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if err, ok = r.(error); !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			h.cfg.logger.Err(err).
				Str("backend", beCfg.Name).
				Msg("Panic during health check")
		}
	}()

	switch beCfg.Protocol {
	case HTTP, HTTPS:
		var statusCode int
		statusCode, err = doHttp(h.ctx, beCfg.Url, beCfg.Timeout)
		if err != nil {
			return err
		}
		statusStr := fmt.Sprintf("%d", statusCode)
		for _, pattern := range beCfg.AcceptStatusCodes {
			if patternMatch(pattern, statusStr) {
				return nil
			}
		}
		return fmt.Errorf("unexpected status code: %d", statusCode)
	case TCP:
		return doTcp(h.ctx, beCfg.Url, beCfg.Timeout)
	case ICMP:
		return doIcmp(h.ctx, beCfg.Url, beCfg.Timeout)
	default:
		return fmt.Errorf("unsupported protocol: %q", beCfg.Protocol)
	}
}

// record updates the fail/success streak of backend with the probe result.
// Assumes h.backendsMtx is locked.
func (h *healthMonitorImpl) record(backend *Backend, probeErr error) (healthy bool, newly bool) {
	logger := h.cfg.logger.With().
		Str("backend", backend.Cfg.Name).
		Logger()

	if probeErr != nil {
		healthy, newly = backend.fail()
		logger.Debug().
			AnErr("error", probeErr).
			Int("fail_streak", -backend.statusStreak).
			Msg("Health check failed: did not receive response from backend")
	} else {
		healthy, newly = backend.success()
		logger.Debug().
			Int("success_streak", backend.statusStreak).
			Msg("Health check succeeded: received response from backend")
	}

	if healthy && newly {
		logger.Info().Msg("Backend entered healthy state")
	} else if !healthy && newly {
		logger.Warn().Msg("Backend entered unhealthy state")
	}
	return healthy, newly
}

func newOutputChannels(ctx context.Context, enableHealthyChan bool, enableUnhealthyChan bool) *outputChannels {
	o := &outputChannels{
		ctx:                 ctx,
		enableHealthyChan:   enableHealthyChan,
		enableUnhealthyChan: enableUnhealthyChan,
	}
	if o.enableHealthyChan {
		o.healthyChan = make(chan *HealthNoti, 1)
	}
	if o.enableUnhealthyChan {
		o.unhealthyChan = make(chan *HealthNoti, 1)
	}
	return o
}

func (o *outputChannels) sendHealthy(noti *HealthNoti) {
	if o.enableHealthyChan {
		o.send(o.healthyChan, noti)
	}
}

func (o *outputChannels) sendUnhealthy(noti *HealthNoti) {
	if o.enableUnhealthyChan {
		o.send(o.unhealthyChan, noti)
	}
}

// send blocks until the notification is received or the monitor stops.
func (o *outputChannels) send(ch chan *HealthNoti, noti *HealthNoti) {
	o.mtx.RLock()
	defer o.mtx.RUnlock()
	if o.closed {
		return
	}
	select {
	case ch <- noti:
	case <-o.ctx.Done():
	}
}

func (o *outputChannels) healthyChannel() (<-chan *HealthNoti, error) {
	if o.enableHealthyChan {
		return o.healthyChan, nil
	}
	return nil, ErrChannelNotEnabled
}

func (o *outputChannels) unhealthyChannel() (<-chan *HealthNoti, error) {
	if o.enableUnhealthyChan {
		return o.unhealthyChan, nil
	}
	return nil, ErrChannelNotEnabled
}

// close must only be called after ctx is done, so that pending senders give up.
func (o *outputChannels) close() {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	if o.enableHealthyChan {
		close(o.healthyChan)
	}
	if o.enableUnhealthyChan {
		close(o.unhealthyChan)
	}
}

func patternMatch(pattern, str string) bool {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern = pattern + "$"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(str)
}
