package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/go-common/cache"
	"github.com/jonboulle/clockwork"

	"github.com/BrandonDHaskell/Lumen/server/internal/lumen/store"
)

const DefaultConnectivityTTL = 60 * time.Second

// ConnectivityCache remembers recently observed room status so hot paths
// can answer without recomputing from the store.
type ConnectivityCache struct {
	c *cache.Cache[int64, store.Connectivity]
}

func NewConnectivityCache(ttl time.Duration) *ConnectivityCache {
	if ttl <= 0 {
		ttl = DefaultConnectivityTTL
	}
	return &ConnectivityCache{c: cache.New[int64, store.Connectivity](ttl, 2*ttl)}
}

func (c *ConnectivityCache) MarkOnline(roomID int64) {
	c.Set(roomID, store.Online)
}

func (c *ConnectivityCache) Set(roomID int64, status store.Connectivity) {
	c.c.Add(roomID, status)
}

func (c *ConnectivityCache) Status(roomID int64) (store.Connectivity, bool) {
	return c.c.Get(roomID)
}

// Prober actively checks a room controller. Optional.
type Prober interface {
	Probe(ctx context.Context, room store.Room) error
}

type ConnectivityResult struct {
	Checked int
	Online  int
	Offline int
	Unknown int
	Errors  int
	At      time.Time
}

// ConnectivityChecker sweeps every room, derives its connectivity and
// refreshes the cache. Probe failures are counted, never returned.
type ConnectivityChecker struct {
	rooms  store.RoomStore
	cache  *ConnectivityCache
	prober Prober

	clock    clockwork.Clock
	logger   *slog.Logger
	observer Observer
}

func NewConnectivityChecker(rooms store.RoomStore, cache *ConnectivityCache, prober Prober, opts ...Option) *ConnectivityChecker {
	o := newOptions("connectivity", opts)
	return &ConnectivityChecker{
		rooms:    rooms,
		cache:    cache,
		prober:   prober,
		clock:    o.clock,
		logger:   o.logger,
		observer: o.observer,
	}
}

func (c *ConnectivityChecker) Check(ctx context.Context) (ConnectivityResult, error) {
	now := c.clock.Now()
	res := ConnectivityResult{At: now}

	rooms, err := c.rooms.ListRooms(ctx)
	if err != nil {
		return res, fmt.Errorf("list rooms: %w", err)
	}

	for _, r := range rooms {
		res.Checked++
		status := r.ConnectivityAt(now)

		if c.prober != nil && status != store.Online {
			if err := c.prober.Probe(ctx, r); err != nil {
				res.Errors++
				c.logger.Warn("connectivity probe failed", "room_id", r.ID, "address", r.Address, "err", err)
			} else {
				status = store.Online
			}
		}

		switch status {
		case store.Online:
			res.Online++
		case store.Offline:
			res.Offline++
		default:
			res.Unknown++
		}
		if c.cache != nil {
			c.cache.Set(r.ID, status)
		}
	}

	c.observer.ConnectivityChecked(res)
	c.logger.Info("connectivity check complete",
		"checked", res.Checked, "online", res.Online, "offline", res.Offline,
		"unknown", res.Unknown, "errors", res.Errors)
	return res, nil
}
