// Package balancer keeps a Maglev lookup table in sync with backend health and
// picks a backend for each flow.
package balancer

import (
	"context"

	"github.com/rs/zerolog"

	"maglev-hash/chash"
	"maglev-hash/health_monitor"
	"maglev-hash/tuple_hash"
	ilog "maglev-hash/x/log"
)

// Balancer adds backends to the lookup table when they become healthy and removes
// them when they become unhealthy or leave the health monitor.
type Balancer struct {
	ch        chash.ConsistentHash
	hm        health_monitor.HealthMonitor
	healthy   <-chan *health_monitor.HealthNoti
	unhealthy <-chan *health_monitor.HealthNoti
	logger    zerolog.Logger
	done      chan struct{}
}

// New creates a Balancer. The health monitor must have both notification channels enabled.
func New(ch chash.ConsistentHash, hm health_monitor.HealthMonitor, opts ...Option) (*Balancer, error) {
	healthy, err := hm.HealthyChan()
	if err != nil {
		return nil, err
	}
	unhealthy, err := hm.UnhealthyChan()
	if err != nil {
		return nil, err
	}

	b := &Balancer{
		ch:        ch,
		hm:        hm,
		healthy:   healthy,
		unhealthy: unhealthy,
		logger:    ilog.Component("balancer"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

type Option func(*Balancer)

func WithLogLevel(level zerolog.Level) Option {
	return func(b *Balancer) {
		b.logger = b.logger.Level(level)
	}
}

// Start consumes health notifications, then starts the health monitor.
// Cancelling ctx stops the health monitor as well; Stop must still be called to wait for it.
func (b *Balancer) Start(ctx context.Context) error {
	go b.sync(ctx)
	return b.hm.Start()
}

// Stop stops the health monitor and waits for the pending notifications to be applied.
func (b *Balancer) Stop() {
	b.hm.Stop()
	<-b.done
}

// sync applies notifications until both channels are closed.
// The two channels are read in no particular order, so a notification only says that
// the backend changed; the current state is read back from the health monitor.
func (b *Balancer) sync(ctx context.Context) {
	defer close(b.done)

	healthy, unhealthy := b.healthy, b.unhealthy
	for healthy != nil || unhealthy != nil {
		select {
		case <-ctx.Done():
			b.hm.Stop()
			return
		case noti, ok := <-healthy:
			if !ok {
				healthy = nil
				continue
			}
			b.apply(noti)
		case noti, ok := <-unhealthy:
			if !ok {
				unhealthy = nil
				continue
			}
			b.apply(noti)
		}
	}
}

func (b *Balancer) apply(noti *health_monitor.HealthNoti) {
	logger := b.logger.With().Str("backend", noti.Name).Logger()

	if b.hm.IsHealthy(noti.Name) {
		if err := b.ch.Add(noti.Name); err != nil {
			logger.Err(err).Msg("Failed to add healthy backend")
			return
		}
		logger.Debug().Msg("Backend in lookup table")
		return
	}

	if err := b.ch.Remove(noti.Name); err != nil {
		logger.Err(err).Msg("Failed to remove unhealthy backend")
		return
	}
	logger.Debug().
		Bool("removed", noti.Timestamp == nil).
		Msg("Backend out of lookup table")
}

// Pick returns the backend serving the given flow key.
func (b *Balancer) Pick(flowKey []byte) (string, error) {
	return b.ch.Resolve(flowKey)
}

// PickTuple returns the backend serving the flow identified by t.
func (b *Balancer) PickTuple(t tuple_hash.Tuple) (string, error) {
	return b.ch.Resolve(t.Key())
}
