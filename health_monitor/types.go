package health_monitor

import (
	"maglev-hash/x/ptr"
	"net/url"
	"time"
)

type Backend struct {
	Cfg *BackendConfig

	// runtime state
	healthy bool
	// statusStreak is the number of consecutive health checks that have passed or failed.
	// Positive for passing checks, negative for failing checks.
	statusStreak int
}

type HealthNoti struct {
	Url     url.URL
	Name    string
	Healthy bool
	// Timestamp is the time when the health check was performed.
	// If nil, the result will never change again. For example, when the backend is removed.
	Timestamp *time.Time
}

func (b *Backend) toNoti(now time.Time, opts ...func(noti *HealthNoti)) *HealthNoti {
	noti := &HealthNoti{
		Url:       b.Cfg.Url,
		Name:      b.Cfg.Name,
		Healthy:   b.healthy,
		Timestamp: ptr.ToPtr(now),
	}
	for _, opt := range opts {
		opt(noti)
	}
	return noti
}

// indefinite marks a removed backend: unhealthy, and it stays that way.
func indefinite() func(*HealthNoti) {
	return func(noti *HealthNoti) {
		noti.Healthy = false
		noti.Timestamp = nil
	}
}

func (b *Backend) fail() (healthy bool, newly bool) {
	if b.statusStreak > 0 {
		b.statusStreak = 0
	}
	b.statusStreak--
	if b.healthy && b.statusStreak <= -b.Cfg.UnhealthyThreshold {
		b.healthy = false
		newly = true
	}
	return b.healthy, newly
}

func (b *Backend) success() (healthy bool, newly bool) {
	if b.statusStreak < 0 {
		b.statusStreak = 0
	}
	b.statusStreak++
	if !b.healthy && b.statusStreak >= b.Cfg.HealthyThreshold {
		b.healthy = true
		newly = true
	}
	return b.healthy, newly
}
