package platform

import "sync"

// UserChangeHandler receives the new user whenever the authenticated user
// changes. A nil user means the session became anonymous.
type UserChangeHandler func(user *User)

// userChangeBus is a minimal in-process publish/subscribe topic for
// authenticated-user changes. Handlers run synchronously on the goroutine
// that called SetAuthenticatedUser, outside the bus lock.
type userChangeBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]UserChangeHandler
}

func newUserChangeBus() *userChangeBus {
	return &userChangeBus{subs: make(map[int]UserChangeHandler)}
}

// subscribe registers a handler and returns its unsubscribe function.
func (b *userChangeBus) subscribe(handler UserChangeHandler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *userChangeBus) publish(user *User) {
	b.mu.Lock()
	handlers := make([]UserChangeHandler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(user)
	}
}
