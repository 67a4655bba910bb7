package command

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Correlator holds queries waiting for the device to acknowledge them.
type Correlator struct {
	mu      sync.Mutex
	pending map[uuid.UUID]string
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[uuid.UUID]string)}
}

// Register stores text under a fresh random id and returns the id.
func (c *Correlator) Register(text string) string {
	id := uuid.New()
	c.mu.Lock()
	c.pending[id] = text
	c.mu.Unlock()
	return id.String()
}

// Resolve removes and returns the text registered under id. Each id
// resolves at most once.
func (c *Correlator) Resolve(id string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.pending[parsed]
	if ok {
		delete(c.pending, parsed)
	}
	return text, ok
}

// Clear forgets every pending query.
func (c *Correlator) Clear() {
	c.mu.Lock()
	clear(c.pending)
	c.mu.Unlock()
}

// Len returns the number of pending queries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
