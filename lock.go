package localbackend

import "sync"

// LockHandle is the token returned by a successful TryWrite, required to
// Release the same lock.
type LockHandle struct {
	dn string
	ch chan struct{}
}

// LockCoordinator hands out exclusive per-DN write locks. Internally each
// DN maps to a buffered chan struct{} of size 1 holding one token:
// receiving the token is the acquire, sending it back is the release, the
// same channel-as-mutex
// idiom go-ldap's Conn uses to gate access to its message-ID counter and
// in-flight request map.
type LockCoordinator struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockCoordinator returns an empty coordinator.
func NewLockCoordinator() *LockCoordinator {
	return &LockCoordinator{locks: map[string]chan struct{}{}}
}

func (c *LockCoordinator) chanFor(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		c.locks[key] = ch
	}
	return ch
}

func normalizedKey(dn *DN) string {
	if dn == nil {
		return ""
	}
	return dn.String()
}

// TryWrite attempts to acquire the exclusive write lock for dn, retrying
// up to retries times with no backoff. It returns nil if every attempt
// fails.
func (c *LockCoordinator) TryWrite(dn *DN, retries int) *LockHandle {
	key := normalizedKey(dn)
	ch := c.chanFor(key)
	for attempt := 0; attempt < retries; attempt++ {
		select {
		case <-ch:
			return &LockHandle{dn: key, ch: ch}
		default:
		}
	}
	return nil
}

// Release returns the lock identified by handle. Calling it with a nil
// handle is a no-op, so cleanup code can release unconditionally.
func (c *LockCoordinator) Release(h *LockHandle) {
	if h == nil {
		return
	}
	h.ch <- struct{}{}
}
