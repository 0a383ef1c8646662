// Package identity holds the viewer's identity attributes: who is looking,
// from where, on what device. Sessions read it; a resolver writes it.
package identity

import (
	"strings"
	"sync"
)

// Placeholder values held by fields that have not resolved yet.
const (
	Detecting  = "Detecting..."
	Generating = "Generating..."
)

// Identity is the read-only record the aggregator copies into each flush.
type Identity struct {
	IP       string `json:"ip"`
	Location string `json:"location"`
	UserID   string `json:"userId"`
	Region   string `json:"region"`
	OS       string `json:"os"`
	Device   string `json:"device"`
	Browser  string `json:"browser"`
}

// Pending returns an identity whose fields all hold placeholders.
func Pending() Identity {
	return Identity{
		IP:       Detecting,
		Location: Detecting,
		UserID:   Generating,
		Region:   Detecting,
		OS:       Detecting,
		Device:   Detecting,
		Browser:  Detecting,
	}
}

func (id Identity) fields() []string {
	return []string{id.IP, id.Location, id.UserID, id.Region, id.OS, id.Device, id.Browser}
}

// Stable reports whether every field has resolved to a real value.
func (id Identity) Stable() bool {
	for _, f := range id.fields() {
		if isPlaceholder(f) {
			return false
		}
	}
	return true
}

func isPlaceholder(v string) bool {
	return v == "" || strings.HasPrefix(v, "Detecting") || strings.HasPrefix(v, "Generating")
}

// Merge returns id with every non-empty field of update applied.
func (id Identity) Merge(update Identity) Identity {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&id.IP, update.IP)
	set(&id.Location, update.Location)
	set(&id.UserID, update.UserID)
	set(&id.Region, update.Region)
	set(&id.OS, update.OS)
	set(&id.Device, update.Device)
	set(&id.Browser, update.Browser)
	return id
}

// Context is a single-writer, multi-reader holder for one viewer's
// identity. Subscribers are called synchronously from Update, in
// subscription order.
type Context struct {
	mu     sync.RWMutex
	id     Identity
	nextID int
	subs   map[int]func(Identity)
	order  []int
}

// NewContext returns a Context starting at initial.
func NewContext(initial Identity) *Context {
	return &Context{id: initial, subs: make(map[int]func(Identity))}
}

// Get returns the current identity.
func (c *Context) Get() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Update merges update into the current identity and notifies
// subscribers when anything changed.
func (c *Context) Update(update Identity) {
	c.mu.Lock()
	merged := c.id.Merge(update)
	if merged == c.id {
		c.mu.Unlock()
		return
	}
	c.id = merged
	subs := make([]func(Identity), 0, len(c.order))
	for _, key := range c.order {
		subs = append(subs, c.subs[key])
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(merged)
	}
}

// Subscribe registers fn for identity changes. The returned function
// removes the subscription and is safe to call more than once.
func (c *Context) Subscribe(fn func(Identity)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.nextID
	c.nextID++
	c.subs[key] = fn
	c.order = append(c.order, key)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[key]; !ok {
			return
		}
		delete(c.subs, key)
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}
