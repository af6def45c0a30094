// Package broadcast fans room events out to every live subscriber joined to
// that room's group.
package broadcast

import (
	"sync"

	"github.com/clambin/go-common/set"
)

// Subscriber receives broadcast messages. Deliver must not block: a
// subscriber that cannot take the message drops it and returns false.
type Subscriber interface {
	Deliver(msg any) bool
}

// Router maps room ids to the set of subscribers currently joined. Delivery
// is best effort and at most once; late joiners get no replay.
type Router struct {
	mu     sync.RWMutex
	groups map[int64]set.Set[Subscriber]
}

func NewRouter() *Router {
	return &Router{groups: make(map[int64]set.Set[Subscriber])}
}

func (r *Router) Join(room int64, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(room, sub)
}

func (r *Router) Leave(room int64, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, sub)
}

// Move leaves from and joins to as a single step; no broadcast can observe
// the subscriber in both groups or in neither.
func (r *Router) Move(sub Subscriber, from, to int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(from, sub)
	r.joinLocked(to, sub)
}

// LeaveAll removes sub from every group it belongs to.
func (r *Router) LeaveAll(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.groups {
		r.leaveLocked(room, sub)
	}
}

// Broadcast delivers msg to every member of room's group and returns how
// many accepted it.
func (r *Router) Broadcast(room int64, msg any) int {
	r.mu.RLock()
	members := r.groups[room].List()
	r.mu.RUnlock()

	var delivered int
	for _, sub := range members {
		if sub.Deliver(msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) Members(room int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[room])
}

// Groups returns the number of rooms with at least one subscriber.
func (r *Router) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

func (r *Router) joinLocked(room int64, sub Subscriber) {
	g, ok := r.groups[room]
	if !ok {
		g = set.Create[Subscriber]()
		r.groups[room] = g
	}
	g.Add(sub)
}

func (r *Router) leaveLocked(room int64, sub Subscriber) {
	g, ok := r.groups[room]
	if !ok {
		return
	}
	g.Remove(sub)
	if len(g) == 0 {
		delete(r.groups, room)
	}
}
