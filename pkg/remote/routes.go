package remote

import "sync"

// routeTable holds the waiters of a client's in-flight calls per digest.
// Several uncached identical calls can wait on the same digest at once; each
// completion goes to exactly one of them.
type routeTable struct {
	mu      sync.Mutex
	waiters map[string][]chan Envelope
}

func newRouteTable() *routeTable {
	return &routeTable{waiters: make(map[string][]chan Envelope)}
}

func (r *routeTable) add(digest string) chan Envelope {
	route := make(chan Envelope, 1)
	r.mu.Lock()
	r.waiters[digest] = append(r.waiters[digest], route)
	r.mu.Unlock()
	return route
}

// remove drops route. A completion that reached it but was never read is
// handed to another waiter of the same digest.
func (r *routeTable) remove(digest string, route chan Envelope) {
	r.mu.Lock()
	waiters := r.waiters[digest]
	for i, w := range waiters {
		if w == route {
			waiters = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(r.waiters, digest)
	} else {
		r.waiters[digest] = waiters
	}
	r.mu.Unlock()
	select {
	case env := <-route:
		r.deliver(env)
	default:
	}
}

// deliver hands env to the first waiter of its digest with room for it.
func (r *routeTable) deliver(env Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, route := range r.waiters[env.Digest] {
		select {
		case route <- env:
			return true
		default:
		}
	}
	return false
}
