package credential

import "sync"

// Store holds the current credential. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	current Credential
	present bool

	// notifyMu keeps listener callbacks in mutation order.
	notifyMu  sync.Mutex
	nextID    int
	listeners map[int]func(Credential, bool)
}

func NewStore() *Store {
	return &Store{listeners: map[int]func(Credential, bool){}}
}

func (s *Store) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.present
}

// Token returns the current token, or "" when no credential is stored.
func (s *Store) Token() string {
	cred, _ := s.Get()
	return cred.Token
}

// Set replaces the current credential. An empty token is treated as Clear.
func (s *Store) Set(cred Credential) {
	if cred.IsZero() {
		s.Clear()
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.current = cred
	s.present = true
	s.mu.Unlock()

	s.notify(cred, true)
}

// Clear removes the current credential and reports whether one was present.
func (s *Store) Clear() bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	had := s.present
	s.current = Credential{}
	s.present = false
	s.mu.Unlock()

	if had {
		s.notify(Credential{}, false)
	}
	return had
}

// OnChange registers fn to run after every Set and every effective Clear.
// Callbacks run in mutation order and must not mutate the store.
func (s *Store) OnChange(fn func(cred Credential, present bool)) func() {
	if fn == nil {
		panic("credential.Store.OnChange: callback must not be nil")
	}
	s.notifyMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.notifyMu.Unlock()
	return func() {
		s.notifyMu.Lock()
		delete(s.listeners, id)
		s.notifyMu.Unlock()
	}
}

func (s *Store) notify(cred Credential, present bool) {
	for _, fn := range s.listeners {
		fn(cred, present)
	}
}
