package referral

import (
	"context"
	"sync"
)

// Watcher streams code changes for a device.
type Watcher interface {
	Watch(ctx context.Context, deviceID string) (<-chan string, error)
}

// Context is the referral code of one checkout. It is passed to the session
// instead of being looked up globally.
type Context struct {
	mu   sync.RWMutex
	code string
}

func NewContext(code string) *Context {
	return &Context{code: code}
}

// Code returns the current code; nil contexts have none.
func (c *Context) Code() string {
	if c == nil {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code
}

func (c *Context) Set(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code = code
}

// Follow applies every change published for deviceID until ctx is done.
func (c *Context) Follow(ctx context.Context, w Watcher, deviceID string) error {
	updates, err := w.Watch(ctx, deviceID)
	if err != nil {
		return err
	}
	go func() {
		for code := range updates {
			c.Set(code)
		}
	}()
	return nil
}
