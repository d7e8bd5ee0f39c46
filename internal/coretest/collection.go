package coretest

import (
	"sync"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
)

// collection is the local cache of one subscribed collection, fed by
// PushDocument/RemoveDocument instead of real subscription traffic.
type collection struct {
	mu        sync.Mutex
	docs      map[string]map[string]any
	nextObsID uint64
	observers map[uint64]connector.Observer
}

var _ connector.Collection = (*collection)(nil)

func newCollection() *collection {
	return &collection{
		docs:      make(map[string]map[string]any),
		observers: make(map[uint64]connector.Observer),
	}
}

// FindOne implements connector.Collection.
func (c *collection) FindOne(id string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return cloneDoc(doc), true
}

// Find implements connector.Collection.
func (c *collection) Find() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]map[string]any, len(c.docs))
	for id, doc := range c.docs {
		out[id] = cloneDoc(doc)
	}
	return out
}

func (c *collection) observe(obs connector.Observer) (stop func()) {
	c.mu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers[id] = obs
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

func (c *collection) push(id string, doc map[string]any) {
	c.mu.Lock()
	_, existed := c.docs[id]
	c.docs[id] = cloneDoc(doc)
	observers := c.snapshotObserversLocked()
	c.mu.Unlock()

	for _, obs := range observers {
		if existed {
			if obs.Changed != nil {
				obs.Changed(id, cloneDoc(doc))
			}
		} else if obs.Added != nil {
			obs.Added(id, cloneDoc(doc))
		}
	}
}

func (c *collection) removeDoc(id string) {
	c.mu.Lock()
	if _, ok := c.docs[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.docs, id)
	observers := c.snapshotObserversLocked()
	c.mu.Unlock()

	for _, obs := range observers {
		if obs.Removed != nil {
			obs.Removed(id)
		}
	}
}

func (c *collection) snapshotObserversLocked() []connector.Observer {
	observers := make([]connector.Observer, 0, len(c.observers))
	for _, obs := range c.observers {
		observers = append(observers, obs)
	}
	return observers
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
