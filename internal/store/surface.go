package store

import (
	"encoding/json"
	"errors"
	"sync"
)

// DefaultQuotaBytesPerItem mirrors the per-item budget of extension storage.
const DefaultQuotaBytesPerItem = 8 << 20

var errQuotaExceeded = errors.New("QUOTA_BYTES_PER_ITEM quota exceeded")

// callbacks implements the completion half of Surface shared by the concrete
// surfaces: calls run asynchronously one at a time and lastErr is only set
// while the caller's callback runs.
type callbacks struct {
	mu      sync.Mutex
	errMu   sync.RWMutex
	lastErr error
}

func (c *callbacks) LastError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.lastErr
}

func (c *callbacks) setLastErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

func (c *callbacks) run(op func() error, cb func()) {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		err := op()
		c.setLastErr(err)
		if cb != nil {
			cb()
		}
		c.setLastErr(nil)
	}()
}

func checkQuota(items map[string]json.RawMessage, quota int) error {
	if quota <= 0 {
		return nil
	}
	for k, v := range items {
		if len(k)+len(v) > quota {
			return errQuotaExceeded
		}
	}
	return nil
}
