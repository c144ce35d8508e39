package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/draftsync/internal/apperr"
)

// Memory is an in-process store shared by any number of clients. Each client is a Store; a client
// can be disconnected to fire its disconnect hooks, the way a dropped websocket would.
type Memory struct {
	mu      sync.Mutex
	values  map[string]json.RawMessage
	lists   map[string][]Entry
	subs    map[*subscription]struct{}
	failing int
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]json.RawMessage),
		lists:  make(map[string][]Entry),
		subs:   make(map[*subscription]struct{}),
	}
}

// FailNext makes the next n operations from any client fail with a transient error.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	m.failing = n
	m.mu.Unlock()
}

// Client returns a new connected client of m.
func (m *Memory) Client() *MemoryClient {
	return &MemoryClient{m: m, hooks: make(map[string]hook)}
}

// must be called with m.mu held.
func (m *Memory) check() error {
	if m.failing > 0 {
		m.failing--
		return apperr.New(apperr.CodeTransient, "memory store: injected failure")
	}
	return nil
}

// must be called with m.mu held.
func (m *Memory) notify(c Change) {
	for s := range m.subs {
		if Match(s.pattern, c.Path) {
			s.enqueue(c)
		}
	}
}

func (m *Memory) merge(path string, patch map[string]any) error {
	merged, err := merge(m.values[path], patch)
	if err != nil {
		return err
	}
	m.values[path] = merged
	m.notify(Change{Path: path, Value: merged})
	return nil
}

type hook struct {
	path  string
	patch map[string]any
}

// MemoryClient is one connection to a Memory backend.
type MemoryClient struct {
	m *Memory

	mu           sync.Mutex
	hooks        map[string]hook
	disconnected bool
}

var _ Store = (*MemoryClient)(nil)

// Disconnect drops the client: its disconnect hooks are applied and every later call fails until
// Reconnect.
func (c *MemoryClient) Disconnect() {
	c.mu.Lock()
	hooks := c.hooks
	c.hooks = make(map[string]hook)
	c.disconnected = true
	c.mu.Unlock()

	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	for _, h := range hooks {
		_ = c.m.merge(h.path, h.patch)
	}
}

// Reconnect restores a disconnected client. Hooks have to be registered again.
func (c *MemoryClient) Reconnect() {
	c.mu.Lock()
	c.disconnected = false
	c.mu.Unlock()
}

// lock acquires the backend lock after checking the client is usable.
func (c *MemoryClient) lock() error {
	c.mu.Lock()
	down := c.disconnected
	c.mu.Unlock()
	if down {
		return apperr.New(apperr.CodeTransient, "memory store: client disconnected")
	}
	c.m.mu.Lock()
	if err := c.m.check(); err != nil {
		c.m.mu.Unlock()
		return err
	}
	return nil
}

func (c *MemoryClient) Set(ctx context.Context, path string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.m.mu.Unlock()
	c.m.values[path] = b
	c.m.notify(Change{Path: path, Value: b})
	return nil
}

func (c *MemoryClient) Claim(ctx context.Context, path string, value any) (bool, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	if err := c.lock(); err != nil {
		return false, err
	}
	defer c.m.mu.Unlock()
	if _, ok := c.m.values[path]; ok {
		return false, nil
	}
	c.m.values[path] = b
	c.m.notify(Change{Path: path, Value: b})
	return true, nil
}

func (c *MemoryClient) Get(ctx context.Context, path string, dst any) (bool, error) {
	if err := c.lock(); err != nil {
		return false, err
	}
	b, ok := c.m.values[path]
	c.m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *MemoryClient) Update(ctx context.Context, path string, patch map[string]any) error {
	// Round-trip the patch so later mutation by the caller can't leak into the store.
	b, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	var own map[string]any
	if err := json.Unmarshal(b, &own); err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.m.mu.Unlock()
	return c.m.merge(path, own)
}

func (c *MemoryClient) Delete(ctx context.Context, path string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.m.mu.Unlock()
	prefix := path + "/"
	for p := range c.m.values {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(c.m.values, p)
			c.m.notify(Change{Path: p, Deleted: true})
		}
	}
	for p := range c.m.lists {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(c.m.lists, p)
		}
	}
	return nil
}

func (c *MemoryClient) Children(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.m.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for p, v := range c.m.values {
		if strings.HasPrefix(p, prefix+"/") {
			out[p] = v
		}
	}
	return out, nil
}

func (c *MemoryClient) Subscribe(ctx context.Context, pattern string, fn func(Change)) (func(), error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.m.mu.Unlock()

	s := newSubscription(pattern, fn)
	var existing []string
	for p := range c.m.values {
		if Match(pattern, p) {
			existing = append(existing, p)
		}
	}
	sort.Strings(existing)
	for _, p := range existing {
		s.enqueue(Change{Path: p, Value: c.m.values[p]})
	}
	c.m.subs[s] = struct{}{}
	go s.loop()

	cancel := func() {
		c.m.mu.Lock()
		delete(c.m.subs, s)
		c.m.mu.Unlock()
		s.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.done:
		}
	}()
	return cancel, nil
}

func (c *MemoryClient) Push(ctx context.Context, path string, value any) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if err := c.lock(); err != nil {
		return "", err
	}
	defer c.m.mu.Unlock()
	e := Entry{ID: uuid.NewString(), Value: b}
	c.m.lists[path] = append(c.m.lists[path], e)
	raw, _ := json.Marshal(e)
	c.m.notify(Change{Path: path, Value: raw})
	return e.ID, nil
}

func (c *MemoryClient) Pop(ctx context.Context, path string) (Entry, bool, error) {
	if err := c.lock(); err != nil {
		return Entry{}, false, err
	}
	defer c.m.mu.Unlock()
	list := c.m.lists[path]
	if len(list) == 0 {
		return Entry{}, false, nil
	}
	e := list[0]
	if len(list) == 1 {
		delete(c.m.lists, path)
	} else {
		c.m.lists[path] = list[1:]
	}
	return e, true, nil
}

func (c *MemoryClient) OnDisconnect(ctx context.Context, path string, patch map[string]any) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, apperr.New(apperr.CodeTransient, "memory store: client disconnected")
	}
	id := uuid.NewString()
	c.hooks[id] = hook{path: path, patch: patch}
	return func() {
		c.mu.Lock()
		delete(c.hooks, id)
		c.mu.Unlock()
	}, nil
}

// subscription delivers changes to fn on its own goroutine, preserving order.
type subscription struct {
	pattern string
	fn      func(Change)

	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscription(pattern string, fn func(Change)) *subscription {
	return &subscription{
		pattern: pattern,
		fn:      fn,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscription) enqueue(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			c := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(c)
		}
	}
}
