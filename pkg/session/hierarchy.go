package session

import (
	"sync"

	"github.com/corelink-protocol/corelink-go/pkg/connector"
)

// arena indexes the sessions of one connection tree by session id.
// Parent/child relations are stored as ids rather than live object
// back-references, so teardown never has to break reference cycles
// and the delegate-to-root lookup is an iterative walk.
type arena struct {
	mu    sync.Mutex
	nodes map[string]*arenaNode
}

type arenaNode struct {
	sess     *Session
	parent   string
	children map[string]struct{}
}

func newArena() *arena {
	return &arena{nodes: make(map[string]*arenaNode)}
}

// register adds a session to the arena. Re-registering is a no-op.
func (a *arena) register(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.nodes[s.id]; ok {
		return
	}
	a.nodes[s.id] = &arenaNode{
		sess:     s,
		children: make(map[string]struct{}),
	}
}

// unregister removes a session and severs its links in both
// directions.
func (a *arena) unregister(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[id]
	if !ok {
		return
	}
	if parent, ok := a.nodes[node.parent]; ok {
		delete(parent.children, id)
	}
	for childID := range node.children {
		if child, ok := a.nodes[childID]; ok {
			child.parent = ""
		}
	}
	delete(a.nodes, id)
}

// link records child as a child of parent. A session has at most one
// parent; linking replaces an existing link.
func (a *arena) link(parentID, childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	child, ok := a.nodes[childID]
	if !ok {
		return
	}
	if old, ok := a.nodes[child.parent]; ok {
		delete(old.children, childID)
	}
	child.parent = parentID
	if parent, ok := a.nodes[parentID]; ok {
		parent.children[childID] = struct{}{}
	}
}

// unlink severs the child's parent link, if any.
func (a *arena) unlink(childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	child, ok := a.nodes[childID]
	if !ok {
		return
	}
	if parent, ok := a.nodes[child.parent]; ok {
		delete(parent.children, childID)
	}
	child.parent = ""
}

// adoptFrom moves all sessions of other into a, keeping their links.
// Used when a standalone tree is attached under a session of another
// tree.
func (a *arena) adoptFrom(other *arena) {
	if other == nil || other == a {
		return
	}

	other.mu.Lock()
	nodes := other.nodes
	other.nodes = make(map[string]*arenaNode)
	other.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, node := range nodes {
		a.nodes[id] = node
		node.sess.setArena(a)
	}
}

// parentOf returns the parent session, or nil.
func (a *arena) parentOf(id string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[id]
	if !ok {
		return nil
	}
	if parent, ok := a.nodes[node.parent]; ok {
		return parent.sess
	}
	return nil
}

// childrenOf returns the direct child sessions.
func (a *arena) childrenOf(id string) []*Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[id]
	if !ok {
		return nil
	}
	children := make([]*Session, 0, len(node.children))
	for childID := range node.children {
		if child, ok := a.nodes[childID]; ok {
			children = append(children, child.sess)
		}
	}
	return children
}

// transportOf walks up the tree from id and returns the connector of
// the nearest ancestor (or the session itself) that owns one. The
// walk is iterative and bounded by the arena size, so arbitrary
// depths and accidental link cycles both terminate.
func (a *arena) transportOf(id string) connector.Connector {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := id
	for i := 0; i < len(a.nodes)+1; i++ {
		node, ok := a.nodes[cur]
		if !ok {
			return nil
		}
		if conn := node.sess.ownConnector(); conn != nil {
			return conn
		}
		if node.parent == "" {
			return nil
		}
		cur = node.parent
	}
	return nil
}

// rootOf walks up from id and returns the transport-owning ancestor
// session, or nil.
func (a *arena) rootOf(id string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := id
	for i := 0; i < len(a.nodes)+1; i++ {
		node, ok := a.nodes[cur]
		if !ok {
			return nil
		}
		if node.sess.ownConnector() != nil {
			return node.sess
		}
		if node.parent == "" {
			return nil
		}
		cur = node.parent
	}
	return nil
}
