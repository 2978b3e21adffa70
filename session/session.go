// Package session holds the console's authentication session: the bearer
// token shared by the REST layer and the realtime client, and the signed-in
// user. Logging out notifies listeners so long-lived connections can be torn
// down.
package session

import (
	"sync"

	"github.com/sociomile/realtime-go/realtime"
)

// User is the signed-in console user.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// Store is a concurrency-safe session store. The zero value is not usable;
// create one with NewStore or use Default.
type Store struct {
	lock      sync.RWMutex
	token     string
	user      *User
	nextID    uint64
	listeners map[uint64]func()
}

var _ realtime.TokenProvider = (*Store)(nil)

var defaultStore = NewStore()

// Default returns the process-wide store.
func Default() *Store { return defaultStore }

// NewStore returns an empty, logged-out store.
func NewStore() *Store {
	return &Store{listeners: make(map[uint64]func())}
}

// Token returns the current bearer token, or "" when logged out.
func (store *Store) Token() string {
	store.lock.RLock()
	defer store.lock.RUnlock()
	return store.token
}

// User returns a copy of the signed-in user, or nil.
func (store *Store) User() *User {
	store.lock.RLock()
	defer store.lock.RUnlock()
	if store.user == nil {
		return nil
	}
	user := *store.user
	return &user
}

// LoggedIn reports whether a token is present.
func (store *Store) LoggedIn() bool {
	return store.Token() != ""
}

// Login replaces the session. A refreshed token takes effect on the next
// read; existing connections keep the credential they were opened with.
func (store *Store) Login(token string, user *User) {
	store.lock.Lock()
	store.token = token
	if user != nil {
		copied := *user
		store.user = &copied
	} else {
		store.user = nil
	}
	store.lock.Unlock()
}

// Logout clears the session and runs the logout listeners. Listeners run
// without the store lock held, so they may read or replace the session.
func (store *Store) Logout() {
	store.lock.Lock()
	wasLoggedIn := store.token != "" || store.user != nil
	store.token = ""
	store.user = nil
	listeners := make([]func(), 0, len(store.listeners))
	for _, listener := range store.listeners {
		listeners = append(listeners, listener)
	}
	store.lock.Unlock()

	if !wasLoggedIn {
		return
	}
	for _, listener := range listeners {
		listener()
	}
}

// OnLogout registers listener and returns a function that removes it.
func (store *Store) OnLogout(listener func()) (remove func()) {
	if listener == nil {
		return func() {}
	}
	store.lock.Lock()
	store.nextID++
	id := store.nextID
	store.listeners[id] = listener
	store.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			store.lock.Lock()
			delete(store.listeners, id)
			store.lock.Unlock()
		})
	}
}

// Disconnector is anything that can drop its server connection on logout.
type Disconnector interface {
	Disconnect()
}

// DisconnectOnLogout forces target to disconnect whenever the session ends.
func (store *Store) DisconnectOnLogout(target Disconnector) (remove func()) {
	if target == nil {
		return func() {}
	}
	return store.OnLogout(target.Disconnect)
}
