package error_telemetry

import (
	"sync"
)

// BrandHint is one entry of the structured browser-brand capability some
// environments expose alongside the user-agent string.
type BrandHint struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// Environment is the host-environment boundary: everything the pipeline
// reads from the page context goes through it. Implementations are
// expected to be cheap; values are read at capture time, not cached.
type Environment interface {
	UserAgent() string
	Platform() string
	Language() string
	URL() string
	Referrer() string
	CookiesEnabled() bool
	DoNotTrack() bool

	// Brands returns the structured brand hints, or nil when the
	// environment does not expose them.
	Brands() []BrandHint
}

// StaticEnvironment is a value implementation of Environment for
// embedding processes, bridges and tests.
type StaticEnvironment struct {
	Agent      string
	OS         string
	Lang       string
	PageURL    string
	PageRef    string
	Cookies    bool
	DNT        bool
	BrandHints []BrandHint
}

func (e StaticEnvironment) UserAgent() string    { return e.Agent }
func (e StaticEnvironment) Platform() string     { return e.OS }
func (e StaticEnvironment) Language() string     { return e.Lang }
func (e StaticEnvironment) URL() string          { return e.PageURL }
func (e StaticEnvironment) Referrer() string     { return e.PageRef }
func (e StaticEnvironment) CookiesEnabled() bool { return e.Cookies }
func (e StaticEnvironment) DoNotTrack() bool     { return e.DNT }
func (e StaticEnvironment) Brands() []BrandHint  { return e.BrandHints }

// Store is a key-value persistence capability. The client is handed up
// to three of them, in decreasing durability: durable keyed storage, a
// long-lived cookie, and session-only storage.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// MemoryStore is an in-process Store, used for the session tier and in
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}
