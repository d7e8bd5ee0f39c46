package session

import "sync"

// autoSubscription is one recorded "auto" subscription. The live
// subscription id changes on every replay; publication name and
// params stay fixed.
type autoSubscription struct {
	id          string
	publication string
	params      []any
}

// registry records auto subscriptions so they can be silently
// re-established after every (re)connection. Plain subscriptions are
// not tracked and are lost on reconnect.
type registry struct {
	mu   sync.Mutex
	subs map[string]*autoSubscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]*autoSubscription)}
}

// record stores a subscription under its current live id.
func (r *registry) record(id, publication string, params []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = &autoSubscription{
		id:          id,
		publication: publication,
		params:      params,
	}
}

// remove deletes the entry with the given live id, if present.
// Returns whether an entry was removed.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	return true
}

// rekey replaces an entry's live id after a replay.
func (r *registry) rekey(oldID, newID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[oldID]
	if !ok {
		return
	}
	delete(r.subs, oldID)
	sub.id = newID
	r.subs[newID] = sub
}

// snapshot returns a copy of all entries for replay.
func (r *registry) snapshot() []*autoSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]*autoSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, &autoSubscription{
			id:          sub.id,
			publication: sub.publication,
			params:      sub.params,
		})
	}
	return subs
}

// count returns the number of recorded subscriptions.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
