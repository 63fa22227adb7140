// Package nanav models the console's location. Components that need to send
// the operator somewhere else (like to the login page after their session
// expires) ask a Navigator, and the server honors the request on its next
// response.
package nanav

import "sync"

type Navigator interface {
	// Navigate moves to path within the console.
	Navigate(path string)

	// Assign forces a full navigation to path, discarding any in-app state
	// like a pending redirect target.
	Assign(path string)
}

type Navigation struct {
	Full bool
	Path string
}

// History tracks the current location and at most one pending navigation.
// The most recent request wins.
type History struct {
	current string
	mut     sync.Mutex
	pending *Navigation
}

func NewHistory() *History {
	return &History{current: "/"}
}

func (h *History) Navigate(path string) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.pending = &Navigation{Path: path}
}

func (h *History) Assign(path string) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.pending = &Navigation{Full: true, Path: path}
}

// Visit records path as the current location.
func (h *History) Visit(path string) {
	h.mut.Lock()
	defer h.mut.Unlock()

	h.current = path
}

func (h *History) Current() string {
	h.mut.Lock()
	defer h.mut.Unlock()

	return h.current
}

// TakePending returns the pending navigation, if any, and clears it. Taking a
// navigation moves the current location to its path.
func (h *History) TakePending() (*Navigation, bool) {
	h.mut.Lock()
	defer h.mut.Unlock()

	nav := h.pending
	if nav == nil {
		return nil, false
	}

	h.pending = nil
	h.current = nav.Path
	return nav, true
}
