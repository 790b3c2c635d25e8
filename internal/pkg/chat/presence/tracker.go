package presence

import (
	"sync"
)

// Status is the binary presence of a user across all of their sockets.
type Status string

const (
	StatusOnline  Status = "GlobalOnline"
	StatusOffline Status = "GlobalOffline"
)

// Transition is emitted when a user's aggregate presence flips.
type Transition struct {
	UserID int32
	Status Status
}

// Tracker counts live connections per user. A user is online while at least
// one connection is tracked; only the 0->1 and 1->0 edges emit a Transition.
type Tracker struct {
	mu    sync.Mutex
	conns map[int32]map[string]struct{}

	// onTransition, when set, is called outside the lock on each presence flip.
	onTransition func(Transition)
}

func NewTracker(onTransition func(Transition)) *Tracker {
	return &Tracker{
		conns:        make(map[int32]map[string]struct{}),
		onTransition: onTransition,
	}
}

// Join records a connection. Returns true when this is the user's first
// connection, i.e. the user just came online.
func (t *Tracker) Join(userID int32, connID string) bool {
	t.mu.Lock()
	set := t.conns[userID]
	if set == nil {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connID] = struct{}{}
	first := len(set) == 1
	t.mu.Unlock()

	if first && t.onTransition != nil {
		t.onTransition(Transition{UserID: userID, Status: StatusOnline})
	}
	return first
}

// Leave removes a connection. Returns true when it was the user's last
// connection, i.e. the user just went offline. Unknown connections are ignored.
func (t *Tracker) Leave(userID int32, connID string) bool {
	t.mu.Lock()
	set := t.conns[userID]
	if set == nil {
		t.mu.Unlock()
		return false
	}
	if _, ok := set[connID]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(set, connID)
	last := len(set) == 0
	if last {
		delete(t.conns, userID)
	}
	t.mu.Unlock()

	if last && t.onTransition != nil {
		t.onTransition(Transition{UserID: userID, Status: StatusOffline})
	}
	return last
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(userID int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0
}

// OnlineCount returns the number of distinct online users.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
