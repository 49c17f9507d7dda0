package session

import (
	"sync"

	"firestige.xyz/sniff/internal/config"
)

// Selector holds at most one current session. Selecting a new source closes the previous
// session once the new one is open; a failed open keeps the previous session.
type Selector struct {
	mu      sync.Mutex
	cfg     *config.Config
	current *Session

	openDevice func(name string, cfg *config.Config) (*Session, error)
	openFile   func(path string, cfg *config.Config) (*Session, error)
}

func NewSelector(cfg *config.Config) *Selector {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Selector{
		cfg:        cfg,
		openDevice: NewDeviceSession,
		openFile:   NewFileSession,
	}
}

// SelectDevice replaces the current session with a live capture on name.
func (sel *Selector) SelectDevice(name string) (*Session, error) {
	return sel.replace(func() (*Session, error) { return sel.openDevice(name, sel.cfg) })
}

// SelectFile replaces the current session with a replay of path.
func (sel *Selector) SelectFile(path string) (*Session, error) {
	return sel.replace(func() (*Session, error) { return sel.openFile(path, sel.cfg) })
}

// Use installs an already constructed session.
func (sel *Selector) Use(s *Session) {
	sel.replace(func() (*Session, error) { return s, nil })
}

func (sel *Selector) replace(open func() (*Session, error)) (*Session, error) {
	s, err := open()
	if err != nil {
		return nil, err
	}

	sel.mu.Lock()
	prev := sel.current
	sel.current = s
	sel.mu.Unlock()

	if prev != nil && prev != s {
		prev.Close()
	}
	return s, nil
}

// IsAvailable reports whether a session is currently selected.
func (sel *Selector) IsAvailable() bool {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	return sel.current != nil
}

// Session returns the current session, or nil.
func (sel *Selector) Session() *Session {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	return sel.current
}

// Close closes the current session, if any.
func (sel *Selector) Close() error {
	sel.mu.Lock()
	s := sel.current
	sel.current = nil
	sel.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
