package store

import (
	"context"

	"github.com/google/uuid"
)

type msg interface{ isStoreMsg() }

type writeReq struct {
	path  []string
	value any
	reply chan error
}

func (writeReq) isStoreMsg() {}

type deleteReq struct {
	path  []string
	reply chan error
}

func (deleteReq) isStoreMsg() {}

type readReq struct {
	path  []string
	reply chan any
}

func (readReq) isStoreMsg() {}

type subscribeReq struct {
	id    string
	path  []string
	out   chan any
	reply chan struct{}
}

func (subscribeReq) isStoreMsg() {}

type unsubscribe struct{ id string }

func (unsubscribe) isStoreMsg() {}

type shutdown struct{}

func (shutdown) isStoreMsg() {}

// node is one entry in the tree. A node holds either a leaf value or
// children, never both: writing a map replaces the value with children.
type node struct {
	value    any
	children map[string]*node
}

type subscriber struct {
	path []string
	out  chan any
}

// MemStore is an in-memory Store run as a single goroutine; all access goes
// through the inbox, so there is no shared-state locking.
type MemStore struct {
	inbox  chan msg
	root   *node
	subs   map[string]*subscriber
	ctx    context.Context
	cancel context.CancelFunc
}

func NewMemStore(parent context.Context) *MemStore {
	ctx, cancel := context.WithCancel(parent)
	s := &MemStore{
		inbox:  make(chan msg, 64),
		root:   &node{},
		subs:   make(map[string]*subscriber),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.loop()
	return s
}

func (s *MemStore) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch req := m.(type) {
			case writeReq:
				setNode(s.root, req.path, req.value)
				s.notify(req.path)
				req.reply <- nil

			case deleteReq:
				removeNode(s.root, req.path)
				s.notify(req.path)
				req.reply <- nil

			case readReq:
				req.reply <- materialize(findNode(s.root, req.path))

			case subscribeReq:
				s.subs[req.id] = &subscriber{path: req.path, out: req.out}
				// Initial delivery with the current value.
				req.out <- materialize(findNode(s.root, req.path))
				req.reply <- struct{}{}

			case unsubscribe:
				if sub, ok := s.subs[req.id]; ok {
					close(sub.out)
					delete(s.subs, req.id)
				}

			case shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *MemStore) shutdown() {
	for id, sub := range s.subs {
		close(sub.out)
		delete(s.subs, id)
	}
	s.cancel()
}

// notify re-delivers to every subscriber whose path is related to the
// changed one. A subscriber that cannot keep up is dropped, same rule as a
// slow websocket client.
func (s *MemStore) notify(changed []string) {
	for id, sub := range s.subs {
		if !related(sub.path, changed) {
			continue
		}
		snap := materialize(findNode(s.root, sub.path))
		select {
		case sub.out <- snap:
		default:
			close(sub.out)
			delete(s.subs, id)
		}
	}
}

func (s *MemStore) Write(ctx context.Context, path string, value any) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- writeReq{path: splitPath(path), value: value, reply: reply}:
	case <-s.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- deleteReq{path: splitPath(path), reply: reply}:
	case <-s.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemStore) ReadOnce(ctx context.Context, path string) (any, error) {
	reply := make(chan any, 1)
	select {
	case s.inbox <- readReq{path: splitPath(path), reply: reply}:
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MemStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	id := uuid.NewString()
	out := make(chan any, 8)
	reply := make(chan struct{}, 1)
	select {
	case s.inbox <- subscribeReq{id: id, path: splitPath(path), out: out, reply: reply}:
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
	select {
	case <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Subscription{
		C: out,
		close: func() {
			select {
			case s.inbox <- unsubscribe{id: id}:
			case <-s.ctx.Done():
			}
		},
	}, nil
}

// Shutdown stops the loop and closes every subscription.
func (s *MemStore) Shutdown() {
	select {
	case s.inbox <- shutdown{}:
	case <-s.ctx.Done():
	}
}

func findNode(n *node, path []string) *node {
	for _, seg := range path {
		if n == nil || n.children == nil {
			return nil
		}
		n = n.children[seg]
	}
	return n
}

func setNode(root *node, path []string, value any) {
	n := root
	for _, seg := range path {
		if n.children == nil {
			n.children = make(map[string]*node)
			n.value = nil
		}
		child, ok := n.children[seg]
		if !ok {
			child = &node{}
			n.children[seg] = child
		}
		n = child
	}
	n.children = nil
	n.value = nil
	assign(n, value)
}

// assign decomposes map values into child nodes so nested paths stay
// individually addressable.
func assign(n *node, value any) {
	m, ok := value.(map[string]any)
	if !ok {
		n.value = value
		return
	}
	n.children = make(map[string]*node)
	for k, v := range m {
		child := &node{}
		assign(child, v)
		n.children[k] = child
	}
}

func removeNode(root *node, path []string) {
	if len(path) == 0 {
		root.value = nil
		root.children = nil
		return
	}
	// Walk down remembering the chain so empty branches can be pruned: the
	// tree never keeps an empty object, matching absent semantics.
	chain := make([]*node, 0, len(path))
	n := root
	for _, seg := range path[:len(path)-1] {
		if n.children == nil {
			return
		}
		chain = append(chain, n)
		n = n.children[seg]
		if n == nil {
			return
		}
	}
	if n.children == nil {
		return
	}
	delete(n.children, path[len(path)-1])
	for i := len(chain) - 1; i >= 0; i-- {
		if len(n.children) > 0 || n.value != nil {
			break
		}
		n.children = nil
		delete(chain[i].children, path[i])
		n = chain[i]
	}
}

// materialize converts a subtree back into JSON-shaped values. Nil means
// the path is absent.
func materialize(n *node) any {
	if n == nil {
		return nil
	}
	if n.children == nil {
		return n.value
	}
	if len(n.children) == 0 {
		return nil
	}
	m := make(map[string]any, len(n.children))
	for k, child := range n.children {
		if v := materialize(child); v != nil {
			m[k] = v
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
