package schedule

import (
	"context"
	"sync"
	"time"

	"attendance.service/internal/core/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// entry is never modified after it is stored; a refresh swaps in a new one.
type entry struct {
	config    model.ScheduleConfig
	fetchedAt time.Time
}

// Provider caches schedules per user for a bounded TTL.
// Readers always get a complete schedule, either the previous one or the refreshed one.
// Entries older than two TTLs are swept on refresh, which also bounds how stale a fallback can be.
type Provider struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	entries   map[string]*entry
	lastSweep time.Time
	group     singleflight.Group
}

func NewProvider(source Source, ttl time.Duration) *Provider {
	return &Provider{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// WithClock replaces the wall clock, for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// GetActiveSchedule returns the cached schedule for userID, fetching it when missing or expired.
// When a refresh fails and an expired entry exists, the expired entry is served.
func (p *Provider) GetActiveSchedule(ctx context.Context, userID string) (model.ScheduleConfig, error) {
	p.mu.RLock()
	cached := p.entries[userID]
	p.mu.RUnlock()

	if cached != nil && p.now().Sub(cached.fetchedAt) < p.ttl {
		return freeze(cached.config), nil
	}

	v, err, _ := p.group.Do(userID, func() (interface{}, error) {
		cfg, err := p.source.GetActiveSchedule(ctx, userID)
		if err != nil {
			return nil, err
		}
		fresh := &entry{config: freeze(cfg), fetchedAt: p.now()}

		p.mu.Lock()
		p.entries[userID] = fresh
		p.sweepLocked(fresh.fetchedAt)
		p.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		if cached != nil && p.now().Sub(cached.fetchedAt) < 2*p.ttl {
			log.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Schedule refresh failed, serving expired schedule")
			return freeze(cached.config), nil
		}
		return model.ScheduleConfig{}, err
	}
	return freeze(v.(*entry).config), nil
}

// sweepLocked removes entries too old to be served, at most once per TTL.
func (p *Provider) sweepLocked(now time.Time) {
	if now.Sub(p.lastSweep) < p.ttl {
		return
	}
	p.lastSweep = now
	for userID, e := range p.entries {
		if now.Sub(e.fetchedAt) >= 2*p.ttl {
			delete(p.entries, userID)
		}
	}
}

// Invalidate drops every cached schedule so the next read refetches.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
}

// freeze gives the schedule its own WorkDays map so no caller can reach another's copy.
func freeze(cfg model.ScheduleConfig) model.ScheduleConfig {
	cfg.WorkDays = copyWorkDays(cfg.WorkDays)
	return cfg
}
